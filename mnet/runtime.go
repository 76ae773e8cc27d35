package mnet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/gordian-engine/murmur/mproto"
)

// Substrate is the set of primitives a [Handler] uses to talk to other nodes.
//
// Every method blocks only until the message has been handed to the transport;
// none of them waits for the remote node to process it.
type Substrate interface {
	// NodeID returns this node's identity,
	// or the empty string before the init handshake completes.
	NodeID() string

	// Reply sends body to the sender of req,
	// marking it as a reply to req.
	Reply(ctx context.Context, req mproto.Envelope, body mproto.Body) error

	// Send sends body to dest without a message ID.
	Send(ctx context.Context, dest string, body mproto.Body) error

	// RPC sends body to dest with a fresh message ID,
	// so that dest acknowledges it.
	// The acknowledgment is not awaited.
	RPC(ctx context.Context, dest string, body mproto.Body) error
}

// Transport delivers envelopes to their destination.
type Transport interface {
	Send(ctx context.Context, e mproto.Envelope) error
}

// Handler processes one inbound envelope.
//
// HandleMessage is called concurrently.
// Returning [ErrUnhandled] delegates the message
// to the runtime's default behavior.
type Handler interface {
	HandleMessage(ctx context.Context, s Substrate, e mproto.Envelope) error
}

// HandlerFunc adapts a function to the [Handler] interface.
type HandlerFunc func(ctx context.Context, s Substrate, e mproto.Envelope) error

func (f HandlerFunc) HandleMessage(ctx context.Context, s Substrate, e mproto.Envelope) error {
	return f(ctx, s, e)
}

// ErrUnhandled is returned by a [Handler] for message types it does not handle.
var ErrUnhandled = errors.New("unhandled message type")

// Config is the configuration passed to [NewRuntime].
type Config struct {
	Transport Transport
	Handler   Handler

	// Optional identity, for runtimes that skip the init handshake
	// (such as in-memory test networks).
	// If NodeID is empty, the runtime waits for an init message.
	NodeID  string
	NodeIDs []string
}

func (c Config) validate() {
	var panicErrs error

	if c.Transport == nil {
		panicErrs = errors.Join(panicErrs, errors.New("Config.Transport must not be nil"))
	}
	if c.Handler == nil {
		panicErrs = errors.Join(panicErrs, errors.New("Config.Handler must not be nil"))
	}
	if c.NodeID == "" && len(c.NodeIDs) > 0 {
		panicErrs = errors.Join(panicErrs, errors.New("Config.NodeIDs requires Config.NodeID"))
	}

	if panicErrs != nil {
		panic(panicErrs)
	}
}

// Runtime dispatches inbound envelopes to a Handler
// and implements [Substrate] on top of a [Transport].
type Runtime struct {
	log *slog.Logger

	transport Transport
	handler   Handler

	mu      sync.RWMutex
	nodeID  string
	nodeIDs []string

	lastMsgID atomic.Uint64

	// In-flight handler goroutines.
	// Unlike a sync.WaitGroup, the count may go up from zero
	// while another goroutine is in Wait,
	// which happens whenever one runtime's handler delivers to another.
	flightMu sync.Mutex
	idle     *sync.Cond
	inFlight int
}

// NewRuntime returns a new Runtime.
// It panics if cfg is missing required fields.
func NewRuntime(log *slog.Logger, cfg Config) *Runtime {
	cfg.validate()

	r := &Runtime{
		log: log,

		transport: cfg.Transport,
		handler:   cfg.Handler,

		nodeID:  cfg.NodeID,
		nodeIDs: slices.Clone(cfg.NodeIDs),
	}
	r.idle = sync.NewCond(&r.flightMu)
	return r
}

// NodeID implements [Substrate].
func (r *Runtime) NodeID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.nodeID
}

// NodeIDs returns every node ID in the cluster, as given at init.
func (r *Runtime) NodeIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.nodeIDs)
}

// Wait blocks until every in-flight message has been handled.
// It is safe to call concurrently with [*Runtime.Deliver].
func (r *Runtime) Wait() {
	r.flightMu.Lock()
	defer r.flightMu.Unlock()
	for r.inFlight > 0 {
		r.idle.Wait()
	}
}

// Deliver handles e in a new goroutine and returns immediately.
// The context bounds the handling of e.
func (r *Runtime) Deliver(ctx context.Context, e mproto.Envelope) {
	r.flightMu.Lock()
	r.inFlight++
	r.flightMu.Unlock()

	go r.handle(ctx, e)
}

func (r *Runtime) handle(ctx context.Context, e mproto.Envelope) {
	defer r.handled()

	h, err := e.Header()
	if err != nil {
		r.log.Warn(
			"Dropping message with undecodable header",
			"src", e.Src,
			"err", err,
		)
		return
	}

	if h.Type == mproto.TypeInit && !h.IsReply() {
		r.handleInit(ctx, e)
		return
	}

	err = r.handler.HandleMessage(ctx, r, e)
	if err == nil {
		return
	}

	var malformed *mproto.MalformedError
	switch {
	case errors.Is(err, ErrUnhandled):
		if h.IsReply() {
			// Acknowledgments of our RPCs land here.
			r.log.Debug(
				"Dropping unhandled reply",
				"src", e.Src,
				"type", h.Type,
				"in_reply_to", h.InReplyTo,
			)
			return
		}
		r.replyError(ctx, e, mproto.CodeNotSupported, "unsupported message type "+h.Type)

	case errors.As(err, &malformed):
		r.replyError(ctx, e, mproto.CodeMalformedRequest, malformed.Error())

	default:
		// No reply: the sender treats this like a lost message and retries.
		r.log.Warn(
			"Failed to handle message",
			"src", e.Src,
			"type", h.Type,
			"msg_id", h.MsgID,
			"err", err,
		)
	}
}

func (r *Runtime) handled() {
	r.flightMu.Lock()
	defer r.flightMu.Unlock()
	r.inFlight--
	if r.inFlight == 0 {
		r.idle.Broadcast()
	}
}

func (r *Runtime) handleInit(ctx context.Context, e mproto.Envelope) {
	in, err := mproto.DecodeInit(e)
	if err != nil {
		r.replyError(ctx, e, mproto.CodeMalformedRequest, err.Error())
		return
	}

	r.mu.Lock()
	if r.nodeID != "" && r.nodeID != in.NodeID {
		r.mu.Unlock()
		r.log.Warn(
			"Ignoring init for a different node ID",
			"node_id", r.NodeID(),
			"init_node_id", in.NodeID,
		)
		r.replyError(ctx, e, mproto.CodeAbort, "node already initialized")
		return
	}
	r.nodeID = in.NodeID
	r.nodeIDs = slices.Clone(in.NodeIDs)
	r.mu.Unlock()

	r.log.Info(
		"Node initialized",
		"node_id", in.NodeID,
		"n_nodes", len(in.NodeIDs),
	)

	if err := r.Reply(ctx, e, mproto.NewInitOK()); err != nil {
		r.log.Warn("Failed to acknowledge init", "err", err)
	}
}

func (r *Runtime) replyError(
	ctx context.Context, req mproto.Envelope, code mproto.ErrorCode, text string,
) {
	if err := r.Reply(ctx, req, mproto.NewError(code, text)); err != nil {
		r.log.Warn(
			"Failed to send error reply",
			"dest", req.Src,
			"code", code,
			"err", err,
		)
	}
}

// Reply implements [Substrate].
//
// Reply assigns a message ID to body and sets its in_reply_to field,
// so a body must not be shared between concurrent calls.
func (r *Runtime) Reply(ctx context.Context, req mproto.Envelope, body mproto.Body) error {
	h, err := req.Header()
	if err != nil {
		return fmt.Errorf("cannot reply to message: %w", err)
	}

	hdr := body.Hdr()
	hdr.MsgID = r.nextMsgID()
	hdr.InReplyTo = h.MsgID

	return r.send(ctx, req.Src, body)
}

// Send implements [Substrate].
func (r *Runtime) Send(ctx context.Context, dest string, body mproto.Body) error {
	return r.send(ctx, dest, body)
}

// RPC implements [Substrate].
//
// RPC assigns a message ID to body,
// so a body must not be shared between concurrent calls.
func (r *Runtime) RPC(ctx context.Context, dest string, body mproto.Body) error {
	body.Hdr().MsgID = r.nextMsgID()
	return r.send(ctx, dest, body)
}

func (r *Runtime) send(ctx context.Context, dest string, body mproto.Body) error {
	e, err := mproto.NewEnvelope(r.NodeID(), dest, body)
	if err != nil {
		return err
	}

	if err := r.transport.Send(ctx, e); err != nil {
		return fmt.Errorf("failed to send %s to %s: %w", body.Hdr().Type, dest, err)
	}
	return nil
}

func (r *Runtime) nextMsgID() uint64 {
	return r.lastMsgID.Add(1)
}
