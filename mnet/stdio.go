package mnet

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/gordian-engine/murmur/mproto"
)

// MaxLineSize bounds a single inbound envelope read by [ReadEnvelopes].
const MaxLineSize = 16 * 1024 * 1024

// StdioTransport writes each envelope as one line of JSON.
// Despite the name, it works with any writer;
// the process entry point gives it stdout.
type StdioTransport struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewStdioTransport returns a StdioTransport writing to w.
func NewStdioTransport(w io.Writer) *StdioTransport {
	return &StdioTransport{
		enc: json.NewEncoder(w),
	}
}

// Send implements [Transport].
// Writes are serialized so concurrent envelopes never interleave.
func (t *StdioTransport) Send(_ context.Context, e mproto.Envelope) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Encode appends the newline.
	if err := t.enc.Encode(e); err != nil {
		return fmt.Errorf("failed to write envelope: %w", err)
	}
	return nil
}

// ReadEnvelopes reads line-delimited envelopes from r
// and delivers each to rt, until r is exhausted or ctx is canceled.
//
// If r is also an [io.Closer], it is closed when ctx is canceled,
// so that a read blocked waiting for input returns promptly.
// Otherwise ReadEnvelopes only notices cancellation
// once the next line arrives.
//
// Lines that are not valid envelopes are logged and skipped.
// ReadEnvelopes does not wait for delivered messages to be handled;
// call [*Runtime.Wait] for that.
func ReadEnvelopes(ctx context.Context, log *slog.Logger, r io.Reader, rt *Runtime) error {
	if c, ok := r.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() {
			if err := c.Close(); err != nil {
				log.Debug("Failed to close input after cancellation", "err", err)
			}
		})
		defer stop()
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), MaxLineSize)

	for sc.Scan() {
		if err := context.Cause(ctx); err != nil {
			return err
		}

		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}

		var e mproto.Envelope
		if err := json.Unmarshal(line, &e); err != nil {
			log.Warn("Skipping undecodable envelope", "err", err)
			continue
		}

		rt.Deliver(ctx, e)
	}

	// A read interrupted by the close above reports the cancellation,
	// not the closed reader.
	if err := context.Cause(ctx); err != nil {
		return err
	}

	if err := sc.Err(); err != nil {
		return fmt.Errorf("failed to read envelopes: %w", err)
	}
	return nil
}
