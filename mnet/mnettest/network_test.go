package mnettest_test

import (
	"context"
	"testing"
	"time"

	"github.com/gordian-engine/murmur/mnet"
	"github.com/gordian-engine/murmur/mnet/mnettest"
	"github.com/gordian-engine/murmur/mproto"
	"github.com/stretchr/testify/require"
)

// relayHandler answers read with an empty read_ok,
// and first forwards every request to the next node, if any.
func relayHandler(next string) mnet.Handler {
	return mnet.HandlerFunc(func(ctx context.Context, s mnet.Substrate, e mproto.Envelope) error {
		h, err := e.Header()
		if err != nil {
			return err
		}
		if h.IsReply() || h.Type != mproto.TypeRead {
			return mnet.ErrUnhandled
		}

		if next != "" {
			if err := s.RPC(ctx, next, mproto.NewRead()); err != nil {
				return err
			}
		}
		return s.Reply(ctx, e, mproto.NewReadOK(nil))
	})
}

func TestNetwork_Request(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	next := map[string]string{"n1": "n2", "n2": "n3", "n3": ""}
	net := mnettest.NewNetwork(t, ctx, []string{"n1", "n2", "n3"}, func(id string) mnet.Handler {
		return relayHandler(next[id])
	})

	reqCtx, reqCancel := context.WithTimeout(ctx, time.Second)
	defer reqCancel()

	reply, err := net.Request(reqCtx, "c1", "n1", mproto.NewRead())
	require.NoError(t, err)
	require.Equal(t, "n1", reply.Src)
	require.Equal(t, "c1", reply.Dest)

	var ok mproto.ReadOK
	require.NoError(t, reply.DecodeBody(&ok))
	require.Equal(t, mproto.TypeReadOK, ok.Type)
	require.Equal(t, uint64(1), ok.InReplyTo)

	net.Wait()

	// The chain n1 -> n2 -> n3, plus read_ok from each hop.
	reads := net.SentOfType(mproto.TypeRead)
	require.Len(t, reads, 2)
	require.Equal(t, "n2", reads[0].Dest)
	require.Equal(t, "n3", reads[1].Dest)
	require.Len(t, net.SentOfType(mproto.TypeReadOK), 3)
}

func TestNetwork_FailDeliveriesTo(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	net := mnettest.NewNetwork(t, ctx, []string{"n1", "n2"}, func(id string) mnet.Handler {
		if id == "n1" {
			return relayHandler("n2")
		}
		return relayHandler("")
	})
	net.FailDeliveriesTo("n2", true)

	reqCtx, reqCancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer reqCancel()

	// n1 cannot forward, so it never replies.
	_, err := net.Request(reqCtx, "c1", "n1", mproto.NewRead())
	require.ErrorIs(t, err, context.DeadlineExceeded)

	net.Wait()
	require.Empty(t, net.SentOfType(mproto.TypeRead))

	net.FailDeliveriesTo("n2", false)

	reqCtx2, reqCancel2 := context.WithTimeout(ctx, time.Second)
	defer reqCancel2()
	_, err = net.Request(reqCtx2, "c1", "n1", mproto.NewRead())
	require.NoError(t, err)
}

func TestNetwork_unknownDestination(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	net := mnettest.NewNetwork(t, ctx, []string{"n1"}, func(string) mnet.Handler {
		return relayHandler("")
	})

	_, err := net.Request(ctx, "c1", "n9", mproto.NewRead())
	require.Error(t, err)
}
