package ttest

import (
	"testing"
	"time"
)

// ScheduleDuration is the time the channel helpers wait
// for another goroutine to make progress.
// It is long enough for a loaded CI machine
// but short enough to keep a failing test fast.
const ScheduleDuration = 250 * time.Millisecond

// ReceiveSoon returns the next value from ch,
// failing the test if nothing arrives within [ScheduleDuration].
func ReceiveSoon[T any](t testing.TB, ch <-chan T) T {
	t.Helper()

	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed while waiting to receive")
		}
		return v
	case <-time.After(ScheduleDuration):
		t.Fatalf("no value received within %s", ScheduleDuration)
	}

	panic("unreachable")
}

// SendSoon sends v on ch,
// failing the test if the send does not complete within [ScheduleDuration].
func SendSoon[T any](t testing.TB, ch chan<- T, v T) {
	t.Helper()

	select {
	case ch <- v:
	case <-time.After(ScheduleDuration):
		t.Fatalf("value not sent within %s", ScheduleDuration)
	}
}

// NotSending asserts that ch has no value ready right now.
func NotSending[T any](t testing.TB, ch <-chan T) {
	t.Helper()

	select {
	case v := <-ch:
		t.Fatalf("expected no value, got %v", v)
	default:
	}
}

// IsSending asserts that ch is readable right now
// (it has a buffered value or it is closed).
func IsSending[T any](t testing.TB, ch <-chan T) {
	t.Helper()

	select {
	case <-ch:
	default:
		t.Fatalf("expected channel to be readable")
	}
}

// ClosedSoon asserts that ch is closed within [ScheduleDuration].
// Values received before the close are discarded.
func ClosedSoon[T any](t testing.TB, ch <-chan T) {
	t.Helper()

	timer := time.NewTimer(ScheduleDuration)
	defer timer.Stop()

	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-timer.C:
			t.Fatalf("channel not closed within %s", ScheduleDuration)
		}
	}
}
