// Package emulator wires the conversation engine together: the registry,
// delivery client, history ledger and active bot endpoint live on one
// explicitly constructed Emulator passed down by the application root.
package emulator
