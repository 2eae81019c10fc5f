// Package commands exposes the emulator core to the outside world as an
// explicit registry of named command handlers built once at startup.
// The registered names are the complete callable surface of the core.
package commands
