// Package mstore contains the value store:
// the set of values a node has learned,
// in the order the node first learned them.
//
// The store is the unit of deduplication.
// [*Store.Record] reports whether a value was seen for the first time,
// and only a first sighting should be propagated to neighbors.
//
// Durability is layered on top through the learned-value stream
// returned by [*Store.Learned];
// see the [github.com/gordian-engine/murmur/mstore/mstoreleveldb] package.
package mstore
