// Package murmur contains the dissemination engine of a gossip broadcast node.
//
// A [Node] handles three kinds of message:
// broadcast, which teaches the node a value;
// read, which returns every value the node has learned;
// and topology, which tells the node which neighbors to gossip to.
//
// A value is forwarded to the node's neighbors only the first time it is seen.
// Every neighbor applies the same rule,
// so on a connected topology every node eventually learns every value,
// and duplicate deliveries stop at the first hop that already knows the value.
//
// The Node is transport-agnostic.
// It runs on any [mnet.Substrate];
// see the [github.com/gordian-engine/murmur/mnet] package for the runtime
// and the cmd/murmur-broadcast command for a complete process.
package murmur
