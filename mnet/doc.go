// Package mnet contains the message substrate a murmur node runs on.
//
// A [Runtime] receives envelopes from a [Transport],
// dispatches each one to a [Handler] on its own goroutine,
// and gives the handler the [Substrate] primitives
// to reply, send, and issue RPCs.
//
// The runtime owns the node identity handshake (the init message)
// and the default treatment of messages a handler does not handle.
// It knows nothing about broadcast semantics.
package mnet
