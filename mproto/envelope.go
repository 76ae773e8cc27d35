package mproto

import (
	"encoding/json"
	"fmt"
)

// Envelope is a single message between two nodes, or a node and a client.
type Envelope struct {
	Src  string          `json:"src"`
	Dest string          `json:"dest"`
	Body json.RawMessage `json:"body"`
}

// Header holds the fields common to every message body.
//
// Header is embedded in every body type,
// so its fields appear at the top level of the encoded body.
type Header struct {
	Type string `json:"type"`

	// Zero means unset.
	// The substrate assigns message IDs starting at 1.
	MsgID     uint64 `json:"msg_id,omitempty"`
	InReplyTo uint64 `json:"in_reply_to,omitempty"`
}

// Hdr returns h itself.
// Through embedding, it gives every body type access to its header.
func (h *Header) Hdr() *Header {
	return h
}

// IsReply reports whether the header marks its message
// as a reply to an earlier message.
func (h Header) IsReply() bool {
	return h.InReplyTo != 0
}

// Body is implemented by pointers to every message body type.
type Body interface {
	Hdr() *Header
}

// NewEnvelope encodes body into an envelope from src to dest.
func NewEnvelope(src, dest string, body Body) (Envelope, error) {
	if body.Hdr().Type == "" {
		return Envelope{}, fmt.Errorf("BUG: message body %T has no type", body)
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to encode %s body: %w", body.Hdr().Type, err)
	}

	return Envelope{
		Src:  src,
		Dest: dest,
		Body: raw,
	}, nil
}

// Header decodes only the header of e's body.
func (e Envelope) Header() (Header, error) {
	var h Header
	if err := json.Unmarshal(e.Body, &h); err != nil {
		return Header{}, &MalformedError{Err: err}
	}
	if h.Type == "" {
		return Header{}, &MalformedError{Err: errMissingType}
	}
	return h, nil
}

// DecodeBody decodes e's body into dst.
func (e Envelope) DecodeBody(dst Body) error {
	if err := json.Unmarshal(e.Body, dst); err != nil {
		return &MalformedError{Type: dst.Hdr().Type, Err: err}
	}
	return nil
}
