// Package mproto contains the wire types exchanged between murmur nodes
// and their clients.
//
// Every message is an [Envelope] whose body is a JSON object
// carrying a [Header] (type, msg_id, in_reply_to)
// plus kind-specific fields.
// The format is the line-delimited JSON used by the Maelstrom workbench.
//
// Inbound requests are decoded exactly once, by [DecodeRequest],
// into the closed set of [Request] variants.
package mproto
