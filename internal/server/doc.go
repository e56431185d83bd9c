// Package server implements the WebSocket chat engine and HTTP API for GoChat.
//
// A Hub owns the presence registry, the room directory and the set of active
// sessions. Each Client runs one read and one write goroutine; events are
// fanned out by Hub.Dispatch into bounded per-client queues, and a client that
// cannot keep up is disconnected. The HTTP handlers resolve identities before
// upgrading, manage accounts, and serve history, forum and news content.
package server
