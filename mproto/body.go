package mproto

import (
	"github.com/gordian-engine/murmur/mstore"
	"github.com/gordian-engine/murmur/mtopo"
)

// Message types.
const (
	TypeInit   = "init"
	TypeInitOK = "init_ok"

	TypeBroadcast   = "broadcast"
	TypeBroadcastOK = "broadcast_ok"

	TypeRead   = "read"
	TypeReadOK = "read_ok"

	TypeTopology   = "topology"
	TypeTopologyOK = "topology_ok"

	TypeError = "error"
)

// Init is sent once by the workbench to tell a node its identity
// and the identities of every node in the cluster.
type Init struct {
	Header
	NodeID  string   `json:"node_id"`
	NodeIDs []string `json:"node_ids"`
}

type InitOK struct {
	Header
}

func NewInitOK() *InitOK {
	return &InitOK{Header: Header{Type: TypeInitOK}}
}

// Broadcast asks the receiver to learn and disseminate Message.
// Nodes send the same body to their neighbors when fanning out.
type Broadcast struct {
	Header
	Message mstore.Value `json:"message"`
}

func NewBroadcast(v mstore.Value) *Broadcast {
	return &Broadcast{
		Header:  Header{Type: TypeBroadcast},
		Message: v,
	}
}

type BroadcastOK struct {
	Header
}

func NewBroadcastOK() *BroadcastOK {
	return &BroadcastOK{Header: Header{Type: TypeBroadcastOK}}
}

type Read struct {
	Header
}

func NewRead() *Read {
	return &Read{Header: Header{Type: TypeRead}}
}

// ReadOK carries every value the node has learned.
type ReadOK struct {
	Header
	Messages []mstore.Value `json:"messages"`
}

func NewReadOK(vs []mstore.Value) *ReadOK {
	if vs == nil {
		// Encode as [] rather than null.
		vs = []mstore.Value{}
	}
	return &ReadOK{
		Header:   Header{Type: TypeReadOK},
		Messages: vs,
	}
}

// Topology replaces the receiver's topology table.
type Topology struct {
	Header
	Topology mtopo.Topology `json:"topology"`
}

func NewTopology(t mtopo.Topology) *Topology {
	return &Topology{
		Header:   Header{Type: TypeTopology},
		Topology: t,
	}
}

type TopologyOK struct {
	Header
}

func NewTopologyOK() *TopologyOK {
	return &TopologyOK{Header: Header{Type: TypeTopologyOK}}
}

// Error is the body sent in place of a normal reply when a request fails.
// It also satisfies the error interface,
// for callers that receive one as a reply.
type Error struct {
	Header
	Code ErrorCode `json:"code"`
	Text string    `json:"text,omitempty"`
}

func NewError(code ErrorCode, text string) *Error {
	return &Error{
		Header: Header{Type: TypeError},
		Code:   code,
		Text:   text,
	}
}

func (e *Error) Error() string {
	if e.Text == "" {
		return "error " + e.Code.String()
	}
	return "error " + e.Code.String() + ": " + e.Text
}
