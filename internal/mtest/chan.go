package mtest

import (
	"testing"
	"time"
)

// ScheduleDuration is how long the channel helpers wait
// for another goroutine to make progress.
const ScheduleDuration = 250 * time.Millisecond

// ReceiveSoon returns the next value from ch,
// failing the test if none arrives within [ScheduleDuration].
func ReceiveSoon[T any](t testing.TB, ch <-chan T) T {
	t.Helper()

	timer := time.NewTimer(ScheduleDuration)
	defer timer.Stop()

	select {
	case v := <-ch:
		return v
	case <-timer.C:
		t.Fatalf("no value received within %s", ScheduleDuration)
	}

	panic("unreachable")
}

// IsSending fails the test if a receive from ch would block.
func IsSending[T any](t testing.TB, ch <-chan T) {
	t.Helper()

	select {
	case <-ch:
		// Okay.
	default:
		t.Fatal("channel was not ready to receive")
	}
}

// NotSending fails the test if a receive from ch would succeed immediately.
func NotSending[T any](t testing.TB, ch <-chan T) {
	t.Helper()

	select {
	case <-ch:
		t.Fatal("channel was unexpectedly ready to receive")
	default:
		// Okay.
	}
}
