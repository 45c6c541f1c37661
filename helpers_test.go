package piper

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testTimeout = 5 * time.Second

// withTimeout wraps a channel receive with a timeout
func withTimeout[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case val := <-ch:
		return val
	case <-time.After(testTimeout):
		t.Fatal("Test timed out waiting for channel receive")
		var zero T
		return zero
	}
}

// async runs fn on a goroutine and returns a channel carrying its result.
func async[T any](fn func() T) <-chan T {
	ch := make(chan T, 1)
	go func() {
		ch <- fn()
	}()
	return ch
}

func newTestManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	m, err := NewManager(filepath.Join(t.TempDir(), "pipes"), opts...)
	require.NoError(t, err)
	return m
}

// newTestPair returns a connected Sender and Receiver that are torn down
// when the test ends.
func newTestPair(t *testing.T, opts ...Option) (*Sender, *Receiver) {
	t.Helper()
	m := newTestManager(t)
	path, err := m.MakePipe()
	require.NoError(t, err)
	r := NewReceiver(path, opts...)
	s := NewSender(path, opts...)
	withTimeout(t, r.Opened())
	t.Cleanup(func() {
		s.Terminate()
		select {
		case <-r.Done():
		case <-time.After(testTimeout):
			t.Error("receiver did not exit after sender terminated")
		}
	})
	return s, r
}
