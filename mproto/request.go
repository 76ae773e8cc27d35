package mproto

import (
	"encoding/json"

	"github.com/gordian-engine/murmur/mstore"
	"github.com/gordian-engine/murmur/mtopo"
)

// Request is an inbound message decoded by [DecodeRequest].
//
// The set of implementations is closed:
// [*Broadcast], [*Read], [*Topology], and [*Other].
// Handlers should switch over all four.
type Request interface {
	Body

	isRequest()
}

func (*Broadcast) isRequest() {}
func (*Read) isRequest()      {}
func (*Topology) isRequest()  {}
func (*Other) isRequest()     {}

// Other is any message whose type the dissemination engine does not handle,
// including replies to messages the node sent earlier.
type Other struct {
	Header

	// The full, undecoded body.
	Raw json.RawMessage `json:"-"`
}

// DecodeRequest decodes e's body into its Request variant.
//
// A message of a known type with missing or invalid fields
// results in a [*MalformedError].
// An unknown type is not an error; it decodes to [*Other].
func DecodeRequest(e Envelope) (Request, error) {
	h, err := e.Header()
	if err != nil {
		return nil, err
	}

	// Replies are never requests of their own,
	// even if the type string collides.
	if h.IsReply() {
		return &Other{Header: h, Raw: e.Body}, nil
	}

	switch h.Type {
	case TypeBroadcast:
		var raw struct {
			Header
			Message *mstore.Value `json:"message"`
		}
		if err := json.Unmarshal(e.Body, &raw); err != nil {
			return nil, &MalformedError{Type: h.Type, Err: err}
		}
		if raw.Message == nil {
			return nil, &MalformedError{Type: h.Type, Err: MissingFieldError{Field: "message"}}
		}
		return &Broadcast{Header: h, Message: *raw.Message}, nil

	case TypeRead:
		return &Read{Header: h}, nil

	case TypeTopology:
		var raw struct {
			Header
			Topology *mtopo.Topology `json:"topology"`
		}
		if err := json.Unmarshal(e.Body, &raw); err != nil {
			return nil, &MalformedError{Type: h.Type, Err: err}
		}
		if raw.Topology == nil || *raw.Topology == nil {
			return nil, &MalformedError{Type: h.Type, Err: MissingFieldError{Field: "topology"}}
		}
		return &Topology{Header: h, Topology: *raw.Topology}, nil

	default:
		return &Other{Header: h, Raw: e.Body}, nil
	}
}

// DecodeInit decodes an init message.
func DecodeInit(e Envelope) (*Init, error) {
	var in Init
	if err := json.Unmarshal(e.Body, &in); err != nil {
		return nil, &MalformedError{Type: TypeInit, Err: err}
	}
	if in.NodeID == "" {
		return nil, &MalformedError{Type: TypeInit, Err: MissingFieldError{Field: "node_id"}}
	}
	return &in, nil
}
