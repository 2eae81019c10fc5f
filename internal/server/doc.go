// Package server exposes the emulator's HTTP callback surface.
//
// Connected bots post asynchronous replies to the v3 conversations routes,
// which converge on the same append path as synchronous replies. UI clients
// read transcripts, ledger history, and HTML exports over plain GET routes,
// and attach over WebSocket for a live event stream.
package server
