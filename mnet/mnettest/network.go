// Package mnettest contains an in-memory network of [mnet.Runtime] values,
// for tests that need several nodes talking to each other.
package mnettest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"testing"

	"github.com/gordian-engine/murmur/internal/mtest"
	"github.com/gordian-engine/murmur/mnet"
	"github.com/gordian-engine/murmur/mproto"
)

// ErrUnreachable is returned from a send to a node
// whose deliveries are failing, per [*Network.FailDeliveriesTo].
var ErrUnreachable = errors.New("destination unreachable")

// Network routes envelopes between a fixed set of runtimes.
// Destinations that are not nodes are treated as clients;
// envelopes to clients are only observed through [*Network.Request].
type Network struct {
	Log *slog.Logger

	// Nodes by ID.
	Nodes map[string]*mnet.Runtime

	ctx context.Context

	mu        sync.Mutex
	failing   map[string]bool
	sent      []mproto.Envelope
	waiters   map[waiterKey]chan mproto.Envelope
	lastMsgID uint64
}

type waiterKey struct {
	Client string
	MsgID  uint64
}

// NewNetwork returns a Network with one runtime per ID in ids.
// Each runtime starts already initialized with its ID and the full ID list.
// newHandler is called once per node.
//
// The runtimes deliver with ctx,
// so it should be canceled before the test ends.
func NewNetwork(
	t *testing.T,
	ctx context.Context,
	ids []string,
	newHandler func(id string) mnet.Handler,
) *Network {
	t.Helper()

	log := mtest.NewLogger(t)

	n := &Network{
		Log:   log,
		Nodes: make(map[string]*mnet.Runtime, len(ids)),

		ctx: ctx,

		failing: map[string]bool{},
		waiters: map[waiterKey]chan mproto.Envelope{},
	}

	for _, id := range ids {
		if _, ok := n.Nodes[id]; ok {
			t.Fatalf("duplicate node ID %q", id)
		}

		n.Nodes[id] = mnet.NewRuntime(log.With("node", id), mnet.Config{
			Transport: transport{net: n},
			Handler:   newHandler(id),

			NodeID:  id,
			NodeIDs: slices.Clone(ids),
		})
	}

	t.Cleanup(n.Wait)

	return n
}

// FailDeliveriesTo controls whether sends to node id fail with [ErrUnreachable].
func (n *Network) FailDeliveriesTo(id string, fail bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failing[id] = fail
}

// Sent returns a copy of every envelope the network accepted,
// in the order accepted.
func (n *Network) Sent() []mproto.Envelope {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.sent)
}

// SentOfType returns the accepted envelopes whose body type is typ.
func (n *Network) SentOfType(typ string) []mproto.Envelope {
	var out []mproto.Envelope
	for _, e := range n.Sent() {
		h, err := e.Header()
		if err != nil {
			panic(fmt.Errorf("BUG: network accepted envelope with bad header: %w", err))
		}
		if h.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

// Request sends body from client to the node dest with a fresh message ID,
// and waits for dest's reply or for ctx to finish.
func (n *Network) Request(
	ctx context.Context, client, dest string, body mproto.Body,
) (mproto.Envelope, error) {
	rt, ok := n.Nodes[dest]
	if !ok {
		return mproto.Envelope{}, fmt.Errorf("no node %q", dest)
	}

	n.mu.Lock()
	n.lastMsgID++
	msgID := n.lastMsgID
	ch := make(chan mproto.Envelope, 1)
	key := waiterKey{Client: client, MsgID: msgID}
	n.waiters[key] = ch
	n.mu.Unlock()

	defer func() {
		n.mu.Lock()
		delete(n.waiters, key)
		n.mu.Unlock()
	}()

	body.Hdr().MsgID = msgID
	e, err := mproto.NewEnvelope(client, dest, body)
	if err != nil {
		return mproto.Envelope{}, err
	}

	rt.Deliver(n.ctx, e)

	select {
	case <-ctx.Done():
		return mproto.Envelope{}, fmt.Errorf(
			"no reply from %s to message %d: %w", dest, msgID, context.Cause(ctx),
		)
	case reply := <-ch:
		return reply, nil
	}
}

// Wait blocks until no node has a message in flight.
func (n *Network) Wait() {
	for {
		before := n.sentCount()
		for _, rt := range n.Nodes {
			rt.Wait()
		}

		// Every new handler is caused by a send,
		// so a full pass without sends means the network is idle.
		if n.sentCount() == before {
			return
		}
	}
}

func (n *Network) sentCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

func (n *Network) route(e mproto.Envelope) error {
	rt, isNode := n.Nodes[e.Dest]

	n.mu.Lock()
	if isNode && n.failing[e.Dest] {
		n.mu.Unlock()
		return ErrUnreachable
	}
	n.sent = append(n.sent, e)

	if isNode {
		n.mu.Unlock()
		rt.Deliver(n.ctx, e)
		return nil
	}

	defer n.mu.Unlock()

	h, err := e.Header()
	if err != nil {
		return err
	}
	if !h.IsReply() {
		// Nothing listens on the client side except for replies.
		return nil
	}

	key := waiterKey{Client: e.Dest, MsgID: h.InReplyTo}
	if ch, ok := n.waiters[key]; ok {
		delete(n.waiters, key)
		ch <- e
	}
	return nil
}

type transport struct {
	net *Network
}

func (t transport) Send(_ context.Context, e mproto.Envelope) error {
	return t.net.route(e)
}
