package piper

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/panyam/piper/internal/fifo"
)

// ReceiverState describes the lifecycle of a Receiver's reader goroutine.
type ReceiverState int

const (
	ReceiverOpening ReceiverState = iota
	ReceiverRunning
	ReceiverClosed
)

// String returns the string representation of the state
func (s ReceiverState) String() string {
	switch s {
	case ReceiverOpening:
		return "opening"
	case ReceiverRunning:
		return "running"
	case ReceiverClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Receiver owns the read end of one FIFO. A single reader goroutine, started
// by NewReceiver, decodes frames and appends them to an unbounded queue that
// callers drain with Receive. The goroutine exits when the peer closes the
// write end, on a read error, or on a malformed frame; blocked Receive calls
// then return without a message.
type Receiver struct {
	name    string
	path    string
	opts    options
	logger  *zap.Logger
	metrics *Metrics

	mu     sync.Mutex
	queue  [][]byte
	state  ReceiverState
	status Status
	err    error

	// ready holds a token while the queue may be non-empty
	ready      chan struct{}
	opened     chan struct{}
	openedOnce sync.Once
	done       chan struct{}
}

// NewReceiver creates a receiver for path and starts its reader goroutine.
// If path does not name a FIFO the receiver is closed from the start: Status
// reports StatusSetupFailed and Receive never returns a message.
//
// Opening the read end waits for a writer, so it happens on the reader goroutine.
func NewReceiver(path string, opts ...Option) *Receiver {
	o := newOptions(path, opts)
	r := &Receiver{
		name:    o.name,
		path:    path,
		opts:    o,
		logger:  endpointLogger(o.logger, roleReceiver, o.name, path),
		metrics: o.metrics,
		ready:   make(chan struct{}, 1),
		opened:  make(chan struct{}),
		done:    make(chan struct{}),
	}

	isFIFO, err := fifo.IsFIFO(path)
	if err == nil && !isFIFO {
		err = fmt.Errorf("%s is not a fifo pipe", path)
	}
	if err != nil {
		r.logger.Error("Failed to open receiver pipe", zap.Error(err))
		r.metrics.recordError(roleReceiver, StatusSetupFailed)
		r.finish(StatusSetupFailed, fmt.Errorf("%w: %w", ErrSetupFailed, err))
		return r
	}

	r.metrics.endpointOpened(roleReceiver)
	go r.run()
	r.logger.Info("Constructed receiver instance")
	return r
}

// Name returns the receiver's name.
func (r *Receiver) Name() string {
	return r.name
}

// Path returns the FIFO path.
func (r *Receiver) Path() string {
	return r.path
}

// Status returns the reader's status. After a clean close it is StatusPeerClosed.
func (r *Receiver) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Err returns the error that stopped the reader, or nil if it is still
// running or stopped because the peer closed cleanly.
func (r *Receiver) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// State returns the reader's lifecycle state.
func (r *Receiver) State() ReceiverState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// IsRunning returns true until the reader goroutine has exited.
func (r *Receiver) IsRunning() bool {
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}

// Done returns a channel that is closed once the reader goroutine has exited.
func (r *Receiver) Done() <-chan struct{} {
	return r.done
}

// Opened returns a channel that is closed once a writer has connected and
// the reader is running, or once the reader has given up.
func (r *Receiver) Opened() <-chan struct{} {
	return r.opened
}

func (r *Receiver) markOpened() {
	r.openedOnce.Do(func() { close(r.opened) })
}

// Len returns the number of decoded messages waiting to be received.
func (r *Receiver) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// Receive returns the oldest queued message. With block set it waits until a
// message arrives or the reader exits; otherwise it returns immediately. ok is
// false when no message is available.
func (r *Receiver) Receive(block bool) (msg []byte, ok bool) {
	if !block {
		return r.pop()
	}
	msg, err := r.ReceiveContext(context.Background())
	return msg, err == nil
}

// ReceiveContext waits for the oldest queued message. Once the reader has
// exited and the queue is drained it returns ErrPeerClosed, or the error that
// stopped the reader.
func (r *Receiver) ReceiveContext(ctx context.Context) ([]byte, error) {
	for {
		if msg, ok := r.pop(); ok {
			return msg, nil
		}
		select {
		case <-r.ready:
		case <-r.done:
			if msg, ok := r.pop(); ok {
				return msg, nil
			}
			if err := r.Err(); err != nil {
				return nil, err
			}
			return nil, ErrPeerClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Wait blocks until the reader goroutine has exited and returns the error
// that stopped it, or nil after a clean close.
func (r *Receiver) Wait() error {
	<-r.done
	return r.Err()
}

func (r *Receiver) pop() ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) == 0 {
		return nil, false
	}
	msg := r.queue[0]
	r.queue[0] = nil
	r.queue = r.queue[1:]
	if len(r.queue) == 0 {
		r.queue = nil
	} else {
		r.signal()
	}
	return msg, true
}

func (r *Receiver) push(msg []byte) {
	r.mu.Lock()
	r.queue = append(r.queue, msg)
	r.signal()
	r.mu.Unlock()
}

// signal leaves at most one wake-up token for a waiting Receive.
func (r *Receiver) signal() {
	select {
	case r.ready <- struct{}{}:
	default:
	}
}

func (r *Receiver) run() {
	f, err := fifo.OpenReader(r.path)
	if err != nil {
		r.logger.Error("Failed to open receiver pipe", zap.Error(err))
		r.metrics.recordError(roleReceiver, StatusSetupFailed)
		r.metrics.endpointClosed(roleReceiver)
		r.finish(StatusSetupFailed, fmt.Errorf("%w: %w", ErrSetupFailed, err))
		return
	}

	r.mu.Lock()
	r.state = ReceiverRunning
	r.mu.Unlock()
	r.markOpened()

	status, err := r.loop(f)
	if cerr := f.Close(); cerr != nil {
		r.logger.Error("Failed to close receiver end of pipe", zap.Error(cerr))
		if err == nil {
			status, err = StatusIOTransient, fmt.Errorf("%w: close: %w", ErrIOTransient, cerr)
		}
	} else {
		r.logger.Debug("Closed receiver end of pipe")
	}
	r.metrics.endpointClosed(roleReceiver)
	r.finish(status, err)
}

// loop reads frames until the stream ends. A clean close yields
// StatusPeerClosed with a nil error.
func (r *Receiver) loop(f *os.File) (Status, error) {
	fr := NewFrameReader(f, r.opts.chunkSize, r.opts.maxMessageSize)
	r.logger.Debug("Entering receiver loop")
	for {
		msg, err := fr.ReadFrame()
		if err != nil {
			if errors.Is(err, ErrPeerClosed) {
				r.logger.Debug("Breaking from receiver loop")
				return StatusPeerClosed, nil
			}
			status := StatusOf(err)
			r.logger.Error("Failed to read frame", zap.Stringer("status", status), zap.Error(err))
			r.metrics.recordError(roleReceiver, status)
			return status, err
		}
		r.logger.Debug("Received message", zap.Int("bytes", len(msg)))
		r.metrics.recordReceived(len(msg))
		r.push(msg)
	}
}

// finish records the final status and wakes every blocked Receive.
func (r *Receiver) finish(status Status, err error) {
	r.mu.Lock()
	r.state = ReceiverClosed
	r.status = status
	r.err = err
	r.mu.Unlock()
	if r.opts.onClose != nil {
		r.opts.onClose(r.name, status)
	}
	r.markOpened()
	close(r.done)
	r.logger.Info("Cleaned up receiver instance", zap.Stringer("status", status))
}
