// Package mtopo contains the topology table,
// which maps each node ID to the neighbors it gossips to.
package mtopo

import (
	"maps"
	"slices"
	"sync/atomic"
)

// Topology maps a node ID to its ordered list of neighbor node IDs.
type Topology map[string][]string

// Clone returns a deep copy of t.
func (t Topology) Clone() Topology {
	if t == nil {
		return nil
	}

	out := make(Topology, len(t))
	for id, ns := range t {
		out[id] = slices.Clone(ns)
	}
	return out
}

// Table holds the current topology for a node.
//
// A Table is only ever replaced wholesale.
// Readers observe either the previous topology or the new one in full,
// never a mix.
// The zero value is an empty table ready for use.
type Table struct {
	// The pointed-to Topology is never modified after being stored.
	cur atomic.Pointer[Topology]
}

// NewTable returns an empty Table.
func NewTable() *Table {
	return new(Table)
}

// Replace swaps the whole table for a copy of t.
// Neighbor IDs are not validated against cluster membership.
func (tbl *Table) Replace(t Topology) {
	c := t.Clone()
	tbl.cur.Store(&c)
}

// NeighborsOf returns a copy of the configured neighbors of id.
//
// A node may be asked to broadcast before it has received any topology,
// so an unknown id yields an empty fanout rather than an error.
func (tbl *Table) NeighborsOf(id string) []string {
	t := tbl.cur.Load()
	if t == nil {
		return nil
	}
	return slices.Clone((*t)[id])
}

// Snapshot returns a copy of the whole table.
func (tbl *Table) Snapshot() Topology {
	t := tbl.cur.Load()
	if t == nil {
		return Topology{}
	}
	out := t.Clone()
	if out == nil {
		out = Topology{}
	}
	return out
}

// Nodes returns the sorted IDs that have an entry in the table.
func (tbl *Table) Nodes() []string {
	t := tbl.cur.Load()
	if t == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(*t))
}
