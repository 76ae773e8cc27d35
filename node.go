package murmur

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gordian-engine/murmur/internal/mtrace"
	"github.com/gordian-engine/murmur/mmetrics"
	"github.com/gordian-engine/murmur/mnet"
	"github.com/gordian-engine/murmur/mproto"
	"github.com/gordian-engine/murmur/mstore"
	"github.com/gordian-engine/murmur/mtopo"
	"golang.org/x/sync/errgroup"
)

// Node is the dissemination engine for one cluster member.
// It implements [mnet.Handler].
//
// All state lives in the value store and topology table
// given through [NodeConfig];
// the Node itself keeps nothing between messages,
// so HandleMessage is safe to call concurrently.
type Node struct {
	log *slog.Logger

	store *mstore.Store
	topo  *mtopo.Table

	metrics *mmetrics.Metrics
	tracer  mtrace.Tracer

	fanoutConcurrency   int
	stopFanoutOnFailure bool
}

// NodeConfig is the configuration for a [Node].
type NodeConfig struct {
	// The value store and topology table.
	// The Node does not take exclusive ownership of either;
	// other readers (diagnostics, a journal) may share them.
	Store    *mstore.Store
	Topology *mtopo.Table

	// Maximum number of concurrent fanout RPCs for one broadcast.
	// Zero means no limit.
	FanoutConcurrency int

	// By default every neighbor is attempted,
	// and the broadcast fails if any of them failed.
	// With StopFanoutOnFailure, neighbors are attempted one at a time
	// in topology order, and the first failure skips the rest.
	StopFanoutOnFailure bool

	// Optional.
	Metrics *mmetrics.Metrics

	// Optional; defaults to a no-op provider.
	TracerProvider mtrace.TracerProvider
}

// validate panics if there are any illegal settings in the configuration.
func (c NodeConfig) validate() {
	// Collect every problem so the panic is maximally helpful.
	var panicErrs error

	if c.Store == nil {
		panicErrs = errors.Join(
			panicErrs,
			errors.New("NodeConfig.Store must not be nil"),
		)
	}

	if c.Topology == nil {
		panicErrs = errors.Join(
			panicErrs,
			errors.New("NodeConfig.Topology must not be nil"),
		)
	}

	if c.FanoutConcurrency < 0 {
		panicErrs = errors.Join(
			panicErrs,
			fmt.Errorf("NodeConfig.FanoutConcurrency must not be negative (got %d)", c.FanoutConcurrency),
		)
	}

	if c.StopFanoutOnFailure && c.FanoutConcurrency > 1 {
		panicErrs = errors.Join(
			panicErrs,
			errors.New("NodeConfig.StopFanoutOnFailure is sequential; FanoutConcurrency must be 0 or 1"),
		)
	}

	if panicErrs != nil {
		panic(panicErrs)
	}
}

// NewNode returns a new Node.
// It panics if cfg is invalid.
func NewNode(log *slog.Logger, cfg NodeConfig) *Node {
	cfg.validate()

	tp := cfg.TracerProvider
	if tp == nil {
		tp = mtrace.NopTracerProvider()
	}

	return &Node{
		log: log,

		store: cfg.Store,
		topo:  cfg.Topology,

		metrics: cfg.Metrics,
		tracer:  tp.Tracer(mtrace.TracerName),

		fanoutConcurrency:   cfg.FanoutConcurrency,
		stopFanoutOnFailure: cfg.StopFanoutOnFailure,
	}
}

// HandleMessage implements [mnet.Handler].
//
// It returns [mnet.ErrUnhandled] for message types other than
// broadcast, read, and topology;
// a [*mproto.MalformedError] for known types with invalid fields;
// and a [*FanoutError] when a new value could not reach every neighbor.
func (n *Node) HandleMessage(ctx context.Context, s mnet.Substrate, e mproto.Envelope) error {
	req, err := mproto.DecodeRequest(e)
	if err != nil {
		n.metrics.ObserveMessage("malformed")
		return err
	}

	if _, ok := req.(*mproto.Other); ok {
		n.metrics.ObserveMessage("other")
		return mnet.ErrUnhandled
	}

	typ := req.Hdr().Type
	n.metrics.ObserveMessage(typ)

	ctx, span := n.tracer.Start(
		ctx,
		"handle "+typ,
		mtrace.WithAttributes(
			mtrace.NodeAttr(s.NodeID()),
			mtrace.SourceAttr(e.Src),
			mtrace.MessageTypeAttr(typ),
		),
	)
	defer span.End()

	switch req := req.(type) {
	case *mproto.Broadcast:
		err = n.handleBroadcast(ctx, s, e, req.Message)
	case *mproto.Read:
		err = n.handleRead(ctx, s, e)
	case *mproto.Topology:
		err = n.handleTopology(ctx, s, e, req.Topology)
	default:
		panic(fmt.Errorf("BUG: unhandled request variant %T", req))
	}

	if err != nil {
		mtrace.SpanError(span, err)
	}
	return err
}

func (n *Node) handleBroadcast(
	ctx context.Context, s mnet.Substrate, e mproto.Envelope, v mstore.Value,
) error {
	span := mtrace.SpanFromContext(ctx)
	span.SetAttributes(mtrace.ValueAttr(v))

	if !n.store.Record(v) {
		// Already known, so it was already fanned out.
		// Acknowledge so the sender stops retrying.
		n.metrics.ObserveDuplicate()
		span.AddEvent("duplicate value")
		if err := s.Reply(ctx, e, mproto.NewBroadcastOK()); err != nil {
			return fmt.Errorf("failed to acknowledge duplicate broadcast: %w", err)
		}
		return nil
	}

	n.metrics.ObserveRecorded(n.store.Len())

	neighbors := n.topo.NeighborsOf(s.NodeID())
	span.SetAttributes(mtrace.FanoutSizeAttr(len(neighbors)))

	n.log.Debug(
		"Learned new value",
		"value", v,
		"src", e.Src,
		"n_neighbors", len(neighbors),
	)

	// Fan out before acknowledging,
	// so we never acknowledge work that was not attempted.
	if err := n.fanout(ctx, s, v, neighbors); err != nil {
		return err
	}

	if err := s.Reply(ctx, e, mproto.NewBroadcastOK()); err != nil {
		return fmt.Errorf("failed to acknowledge broadcast: %w", err)
	}
	return nil
}

func (n *Node) fanout(
	ctx context.Context, s mnet.Substrate, v mstore.Value, neighbors []string,
) error {
	if len(neighbors) == 0 {
		return nil
	}

	if n.stopFanoutOnFailure {
		return n.fanoutUntilFailure(ctx, s, v, neighbors)
	}
	return n.fanoutAll(ctx, s, v, neighbors)
}

// fanoutAll sends v to every neighbor concurrently
// and reports every failure.
func (n *Node) fanoutAll(
	ctx context.Context, s mnet.Substrate, v mstore.Value, neighbors []string,
) error {
	var g errgroup.Group
	if n.fanoutConcurrency > 0 {
		g.SetLimit(n.fanoutConcurrency)
	}

	errs := make([]error, len(neighbors))
	for i, nb := range neighbors {
		g.Go(func() error {
			// The substrate stamps a message ID into the body,
			// so each RPC needs its own.
			errs[i] = s.RPC(ctx, nb, mproto.NewBroadcast(v))
			return nil
		})
	}
	_ = g.Wait()

	span := mtrace.SpanFromContext(ctx)

	var fe *FanoutError
	for i, err := range errs {
		if err == nil {
			continue
		}
		if fe == nil {
			fe = &FanoutError{Value: v}
		}
		fe.Failures = append(fe.Failures, NeighborFailure{
			Neighbor: neighbors[i],
			Err:      err,
		})
		span.AddEvent("fanout failed", mtrace.WithAttributes(
			mtrace.NeighborAttr(neighbors[i]),
			mtrace.ErrorAttr(err),
		))
		n.log.Info(
			"Failed to forward value to neighbor",
			"value", v,
			"neighbor", neighbors[i],
			"err", err,
		)
	}

	if fe == nil {
		n.metrics.ObserveFanout(mmetrics.FanoutSent, len(neighbors))
		return nil
	}

	n.metrics.ObserveFanout(mmetrics.FanoutSent, len(neighbors)-len(fe.Failures))
	n.metrics.ObserveFanout(mmetrics.FanoutFailed, len(fe.Failures))
	return fe
}

// fanoutUntilFailure sends v to each neighbor in order,
// stopping at the first failure.
func (n *Node) fanoutUntilFailure(
	ctx context.Context, s mnet.Substrate, v mstore.Value, neighbors []string,
) error {
	for i, nb := range neighbors {
		err := s.RPC(ctx, nb, mproto.NewBroadcast(v))
		if err == nil {
			continue
		}

		skipped := neighbors[i+1:]
		mtrace.SpanFromContext(ctx).AddEvent("fanout aborted", mtrace.WithAttributes(
			mtrace.NeighborAttr(nb),
			mtrace.ErrorAttr(err),
		))
		n.log.Info(
			"Failed to forward value to neighbor; skipping remaining neighbors",
			"value", v,
			"neighbor", nb,
			"n_skipped", len(skipped),
			"err", err,
		)

		n.metrics.ObserveFanout(mmetrics.FanoutSent, i)
		n.metrics.ObserveFanout(mmetrics.FanoutFailed, 1)
		n.metrics.ObserveFanout(mmetrics.FanoutAborted, len(skipped))

		return &FanoutError{
			Value:    v,
			Failures: []NeighborFailure{{Neighbor: nb, Err: err}},
			Skipped:  skipped,
		}
	}

	n.metrics.ObserveFanout(mmetrics.FanoutSent, len(neighbors))
	return nil
}

func (n *Node) handleRead(ctx context.Context, s mnet.Substrate, e mproto.Envelope) error {
	if err := s.Reply(ctx, e, mproto.NewReadOK(n.store.Snapshot())); err != nil {
		return fmt.Errorf("failed to reply to read: %w", err)
	}
	return nil
}

func (n *Node) handleTopology(
	ctx context.Context, s mnet.Substrate, e mproto.Envelope, t mtopo.Topology,
) error {
	n.topo.Replace(t)

	n.log.Info(
		"Replaced topology",
		"n_nodes", len(t),
		"neighbors", t[s.NodeID()],
	)

	if err := s.Reply(ctx, e, mproto.NewTopologyOK()); err != nil {
		return fmt.Errorf("failed to acknowledge topology: %w", err)
	}
	return nil
}
