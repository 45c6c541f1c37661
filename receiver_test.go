package piper

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openRawWriter opens the write end directly so tests can put arbitrary bytes on the wire.
func openRawWriter(t *testing.T, path string) *os.File {
	t.Helper()
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	require.NoError(t, err)
	return f
}

func TestReceiveNonBlockingWhenEmpty(t *testing.T) {
	_, r := newTestPair(t)

	got, ok := r.Receive(false)
	assert.False(t, ok)
	assert.Nil(t, got)
	assert.Equal(t, 0, r.Len())
}

func TestBlockedReceiveUnblocksOnSend(t *testing.T) {
	m := newTestManager(t)
	path, err := m.MakePipe()
	require.NoError(t, err)

	r := NewReceiver(path)
	pending := async(func() []byte {
		msg, _ := r.Receive(true)
		return msg
	})

	time.Sleep(20 * time.Millisecond)
	select {
	case <-pending:
		t.Fatal("Receive returned before anything was sent")
	default:
	}

	s := NewSender(path)
	defer s.Terminate()
	require.NoError(t, s.Send([]byte("wake up")))
	assert.Equal(t, "wake up", string(withTimeout(t, pending)))
}

func TestBlockedReceiveReturnsEmptyOnPeerClose(t *testing.T) {
	s, r := newTestPair(t)
	require.NoError(t, s.Send([]byte("only")))
	got, ok := r.Receive(true)
	require.True(t, ok)
	assert.Equal(t, "only", string(got))

	pending := async(func() bool {
		_, ok := r.Receive(true)
		return ok
	})
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, s.Terminate())

	assert.False(t, withTimeout(t, pending))
	assert.NoError(t, withTimeout(t, async(r.Wait)))
	assert.Equal(t, StatusPeerClosed, r.Status())
	assert.Equal(t, ReceiverClosed, r.State())

	// wait is idempotent
	assert.NoError(t, withTimeout(t, async(r.Wait)))
}

func TestQueuedMessagesSurvivePeerClose(t *testing.T) {
	s, r := newTestPair(t)
	for _, m := range []string{"a", "b", "c"} {
		require.NoError(t, s.Send([]byte(m)))
	}
	require.NoError(t, s.Terminate())
	require.NoError(t, withTimeout(t, async(r.Wait)))

	assert.Equal(t, 3, r.Len())
	for _, want := range []string{"a", "b", "c"} {
		got, ok := r.Receive(false)
		require.True(t, ok)
		assert.Equal(t, want, string(got))
	}
	_, err := r.ReceiveContext(context.Background())
	assert.ErrorIs(t, err, ErrPeerClosed)
}

func TestReceiveContextCancel(t *testing.T) {
	_, r := newTestPair(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := r.ReceiveContext(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, r.IsRunning())
}

func TestReceiverProtocolViolationIsFatal(t *testing.T) {
	m := newTestManager(t)
	path, err := m.MakePipe()
	require.NoError(t, err)

	r := NewReceiver(path)
	w := openRawWriter(t, path)
	defer w.Close()

	_, err = w.Write([]byte("00000003abc" + "00000000" + "00000003def"))
	require.NoError(t, err)

	got, ok := r.Receive(true)
	require.True(t, ok)
	assert.Equal(t, "abc", string(got))

	err = withTimeout(t, async(r.Wait))
	assert.ErrorIs(t, err, ErrProtocolViolation)
	assert.Equal(t, StatusProtocolViolation, r.Status())

	// the frame after the bad header is never delivered
	_, ok = r.Receive(true)
	assert.False(t, ok)
	_, err = r.ReceiveContext(context.Background())
	assert.ErrorIs(t, err, ErrProtocolViolation)
}

func TestReceiverTruncatedFrame(t *testing.T) {
	m := newTestManager(t)
	path, err := m.MakePipe()
	require.NoError(t, err)

	r := NewReceiver(path)
	w := openRawWriter(t, path)
	_, err = w.Write([]byte("0000000ahalf"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	assert.ErrorIs(t, withTimeout(t, async(r.Wait)), ErrProtocolViolation)
	assert.Equal(t, 0, r.Len())
}

func TestReceiverMaxMessageSize(t *testing.T) {
	s, r := newTestPair(t, WithMaxMessageSize(4))
	require.NoError(t, s.Send([]byte("tiny")))
	got, ok := r.Receive(true)
	require.True(t, ok)
	assert.Equal(t, "tiny", string(got))

	// the sender does not know the receiver's limit
	_ = s.Send([]byte("too large"))
	assert.ErrorIs(t, withTimeout(t, async(r.Wait)), ErrProtocolViolation)
}

func TestReceiverSetupFailure(t *testing.T) {
	tests := []struct {
		name string
		path func(t *testing.T) string
	}{
		{"missing", func(t *testing.T) string { return filepath.Join(t.TempDir(), "missing") }},
		{"regular file", func(t *testing.T) string {
			p := filepath.Join(t.TempDir(), "regular")
			require.NoError(t, os.WriteFile(p, []byte("00000001x"), 0o644))
			return p
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReceiver(tt.path(t))
			assert.Equal(t, StatusSetupFailed, r.Status())
			assert.False(t, r.IsRunning())

			got := withTimeout(t, async(func() bool {
				_, ok := r.Receive(true)
				return ok
			}))
			assert.False(t, got)
			assert.ErrorIs(t, r.Wait(), ErrSetupFailed)
		})
	}
}

func TestReceiverWithChunkedReads(t *testing.T) {
	s, r := newTestPair(t, WithChunkSize(3))
	msg := []byte("a message longer than one chunk")
	require.NoError(t, s.Send(msg))
	got, ok := r.Receive(true)
	require.True(t, ok)
	assert.Equal(t, msg, got)
}
