package mnet_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gordian-engine/murmur/internal/mtest"
	"github.com/gordian-engine/murmur/mnet"
	"github.com/gordian-engine/murmur/mproto"
	"github.com/stretchr/testify/require"
)

type recordingTransport struct {
	mu   sync.Mutex
	sent []mproto.Envelope
	err  error
}

func (t *recordingTransport) Send(_ context.Context, e mproto.Envelope) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return t.err
	}
	t.sent = append(t.sent, e)
	return nil
}

func (t *recordingTransport) Sent() []mproto.Envelope {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]mproto.Envelope, len(t.sent))
	copy(out, t.sent)
	return out
}

func request(src, dest, body string) mproto.Envelope {
	return mproto.Envelope{Src: src, Dest: dest, Body: json.RawMessage(body)}
}

func unhandled(context.Context, mnet.Substrate, mproto.Envelope) error {
	return mnet.ErrUnhandled
}

func TestRuntime_init(t *testing.T) {
	t.Parallel()

	tr := new(recordingTransport)
	rt := mnet.NewRuntime(mtest.NewLogger(t), mnet.Config{
		Transport: tr,
		Handler:   mnet.HandlerFunc(unhandled),
	})
	require.Empty(t, rt.NodeID())

	rt.Deliver(context.Background(), request(
		"c0", "n1",
		`{"type":"init","msg_id":1,"node_id":"n1","node_ids":["n1","n2","n3"]}`,
	))
	rt.Wait()

	require.Equal(t, "n1", rt.NodeID())
	require.Equal(t, []string{"n1", "n2", "n3"}, rt.NodeIDs())

	sent := tr.Sent()
	require.Len(t, sent, 1)
	require.Equal(t, "n1", sent[0].Src)
	require.Equal(t, "c0", sent[0].Dest)
	require.JSONEq(t, `{"type":"init_ok","msg_id":1,"in_reply_to":1}`, string(sent[0].Body))
}

func TestRuntime_init_malformed(t *testing.T) {
	t.Parallel()

	tr := new(recordingTransport)
	rt := mnet.NewRuntime(mtest.NewLogger(t), mnet.Config{
		Transport: tr,
		Handler:   mnet.HandlerFunc(unhandled),
	})

	rt.Deliver(context.Background(), request("c0", "n1", `{"type":"init","msg_id":1}`))
	rt.Wait()

	require.Empty(t, rt.NodeID())
	sent := tr.Sent()
	require.Len(t, sent, 1)

	var e mproto.Error
	require.NoError(t, sent[0].DecodeBody(&e))
	require.Equal(t, mproto.CodeMalformedRequest, e.Code)
}

func TestRuntime_Reply(t *testing.T) {
	t.Parallel()

	tr := new(recordingTransport)
	rt := mnet.NewRuntime(mtest.NewLogger(t), mnet.Config{
		Transport: tr,
		Handler: mnet.HandlerFunc(func(ctx context.Context, s mnet.Substrate, e mproto.Envelope) error {
			if err := s.RPC(ctx, "n2", mproto.NewBroadcast(5)); err != nil {
				return err
			}
			return s.Reply(ctx, e, mproto.NewBroadcastOK())
		}),
		NodeID: "n1",
	})

	rt.Deliver(context.Background(), request("c1", "n1", `{"type":"broadcast","msg_id":40,"message":5}`))
	rt.Wait()

	sent := tr.Sent()
	require.Len(t, sent, 2)

	require.Equal(t, "n2", sent[0].Dest)
	require.JSONEq(t, `{"type":"broadcast","msg_id":1,"message":5}`, string(sent[0].Body))

	require.Equal(t, "c1", sent[1].Dest)
	require.JSONEq(t, `{"type":"broadcast_ok","msg_id":2,"in_reply_to":40}`, string(sent[1].Body))
}

func TestRuntime_Send_noMsgID(t *testing.T) {
	t.Parallel()

	tr := new(recordingTransport)
	rt := mnet.NewRuntime(mtest.NewLogger(t), mnet.Config{
		Transport: tr,
		Handler:   mnet.HandlerFunc(unhandled),
		NodeID:    "n1",
	})

	require.NoError(t, rt.Send(context.Background(), "n2", mproto.NewBroadcast(9)))

	sent := tr.Sent()
	require.Len(t, sent, 1)
	require.JSONEq(t, `{"type":"broadcast","message":9}`, string(sent[0].Body))
}

func TestRuntime_transportError(t *testing.T) {
	t.Parallel()

	errDown := errors.New("link down")
	tr := &recordingTransport{err: errDown}
	rt := mnet.NewRuntime(mtest.NewLogger(t), mnet.Config{
		Transport: tr,
		Handler:   mnet.HandlerFunc(unhandled),
		NodeID:    "n1",
	})

	err := rt.RPC(context.Background(), "n2", mproto.NewBroadcast(9))
	require.ErrorIs(t, err, errDown)
}

func TestRuntime_defaultBehavior(t *testing.T) {
	t.Parallel()

	errOther := errors.New("fanout failed")

	for _, tc := range []struct {
		name     string
		body     string
		err      error
		wantCode *mproto.ErrorCode
	}{
		{
			name:     "unhandled request",
			body:     `{"type":"echo","msg_id":1}`,
			err:      mnet.ErrUnhandled,
			wantCode: ptr(mproto.CodeNotSupported),
		},
		{
			name: "unhandled reply",
			body: `{"type":"broadcast_ok","msg_id":1,"in_reply_to":3}`,
			err:  mnet.ErrUnhandled,
		},
		{
			name:     "malformed",
			body:     `{"type":"broadcast","msg_id":1}`,
			err:      &mproto.MalformedError{Type: "broadcast", Err: mproto.MissingFieldError{Field: "message"}},
			wantCode: ptr(mproto.CodeMalformedRequest),
		},
		{
			name: "other error",
			body: `{"type":"broadcast","msg_id":1,"message":3}`,
			err:  errOther,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			tr := new(recordingTransport)
			rt := mnet.NewRuntime(mtest.NewLogger(t), mnet.Config{
				Transport: tr,
				Handler: mnet.HandlerFunc(func(context.Context, mnet.Substrate, mproto.Envelope) error {
					return tc.err
				}),
				NodeID: "n1",
			})

			rt.Deliver(context.Background(), request("c1", "n1", tc.body))
			rt.Wait()

			sent := tr.Sent()
			if tc.wantCode == nil {
				require.Empty(t, sent)
				return
			}

			require.Len(t, sent, 1)
			require.Equal(t, "c1", sent[0].Dest)

			var e mproto.Error
			require.NoError(t, sent[0].DecodeBody(&e))
			require.Equal(t, mproto.TypeError, e.Type)
			require.Equal(t, *tc.wantCode, e.Code)
			require.Equal(t, uint64(1), e.InReplyTo)
		})
	}
}

func TestNewRuntime_panicsOnMissingFields(t *testing.T) {
	t.Parallel()

	require.Panics(t, func() {
		_ = mnet.NewRuntime(mtest.NewLogger(t), mnet.Config{})
	})
}

func TestReadEnvelopes_stdio(t *testing.T) {
	t.Parallel()

	in := strings.Join([]string{
		`{"src":"c0","dest":"n1","body":{"type":"init","msg_id":1,"node_id":"n1","node_ids":["n1"]}}`,
		`not json`,
		``,
	}, "\n")

	var out bytes.Buffer
	log := mtest.NewLogger(t)
	rt := mnet.NewRuntime(log, mnet.Config{
		Transport: mnet.NewStdioTransport(&out),
		Handler:   mnet.HandlerFunc(unhandled),
	})

	require.NoError(t, mnet.ReadEnvelopes(context.Background(), log, strings.NewReader(in), rt))
	rt.Wait()

	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	require.Len(t, lines, 1)

	var e mproto.Envelope
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &e))
	require.Equal(t, "n1", e.Src)
	require.Equal(t, "c0", e.Dest)
	require.JSONEq(t, `{"type":"init_ok","msg_id":1,"in_reply_to":1}`, string(e.Body))
}

func ptr[T any](v T) *T {
	return &v
}

func TestRuntime_Wait_concurrentWithDeliver(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := mtest.NewLogger(t)

	var handled atomic.Int32
	sink := mnet.NewRuntime(log, mnet.Config{
		Transport: new(recordingTransport),
		Handler: mnet.HandlerFunc(func(context.Context, mnet.Substrate, mproto.Envelope) error {
			handled.Add(1)
			return nil
		}),
		NodeID: "n2",
	})

	// Every message to src is passed along to sink from src's handler goroutine,
	// so sink's count goes up from zero while sink.Wait is running.
	src := mnet.NewRuntime(log, mnet.Config{
		Transport: new(recordingTransport),
		Handler: mnet.HandlerFunc(func(ctx context.Context, _ mnet.Substrate, e mproto.Envelope) error {
			sink.Deliver(ctx, e)
			return nil
		}),
		NodeID: "n1",
	})

	stop := make(chan struct{})
	waiterDone := make(chan struct{})
	go func() {
		defer close(waiterDone)
		for {
			select {
			case <-stop:
				return
			default:
				sink.Wait()
			}
		}
	}()

	const nMsgs = 50
	for i := range nMsgs {
		src.Deliver(ctx, request("c1", "n1", fmt.Sprintf(`{"type":"read","msg_id":%d}`, i+1)))
	}

	src.Wait()
	sink.Wait()
	close(stop)
	mtest.ReceiveSoon(t, waiterDone)

	require.Equal(t, int32(nMsgs), handled.Load())
}

func TestReadEnvelopes_cancelUnblocksRead(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := mtest.NewLogger(t)
	rt := mnet.NewRuntime(log, mnet.Config{
		Transport: new(recordingTransport),
		Handler:   mnet.HandlerFunc(unhandled),
	})

	// Nothing is ever written, so the scanner blocks in Read.
	pr, pw := io.Pipe()
	defer pw.Close()

	errCh := make(chan error, 1)
	go func() {
		errCh <- mnet.ReadEnvelopes(ctx, log, pr, rt)
	}()

	mtest.NotSending(t, errCh)

	cancel()
	err := mtest.ReceiveSoon(t, errCh)
	require.ErrorIs(t, err, context.Canceled)
}

func TestReadEnvelopes_unknownTypeDoesNotStopInput(t *testing.T) {
	t.Parallel()

	log := mtest.NewLogger(t)
	var out bytes.Buffer
	tr := mnet.NewStdioTransport(&out)
	rt := mnet.NewRuntime(log, mnet.Config{
		Transport: tr,
		Handler:   mnet.HandlerFunc(unhandled),
		NodeID:    "n1",
	})

	in := strings.NewReader(
		`{"src":"c1","dest":"n1","body":{"type":"echo","msg_id":1,"echo":"a"}}` + "\n" +
			`{"src":"c1","dest":"n1","body":{"type":"echo","msg_id":2,"echo":"b"}}` + "\n",
	)
	require.NoError(t, mnet.ReadEnvelopes(context.Background(), log, in, rt))
	rt.Wait()

	// Both got a not-supported error; the first did not end the input loop.
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	for _, line := range lines {
		var e mproto.Envelope
		require.NoError(t, json.Unmarshal([]byte(line), &e))
		var body mproto.Error
		require.NoError(t, e.DecodeBody(&body))
		require.Equal(t, mproto.CodeNotSupported, body.Code)
	}
}
