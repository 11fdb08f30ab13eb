// Package ws serves interactive terminals over WebSocket.
//
// Each connection runs a small state machine. While initializing it
// resolves the requested project and spawns a shell through the session
// manager; failures are reported with a single error envelope before the
// socket closes. Once connected, inbound input and resize envelopes drive
// the shell and its output is streamed back as data envelopes by a
// single pump goroutine. Whichever side ends first, process or transport,
// closes the other.
package ws
