package piper

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/panyam/piper/internal/fifo"
)

// SenderState describes what a Sender's writer goroutine is doing.
type SenderState int

const (
	SenderIdle SenderState = iota
	SenderMessageQueued
	SenderWriting
	SenderStopped
)

// String returns the string representation of the state
func (s SenderState) String() string {
	switch s {
	case SenderIdle:
		return "idle"
	case SenderMessageQueued:
		return "message-queued"
	case SenderWriting:
		return "writing"
	case SenderStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// outbound is one message handed from a Send caller to the writer goroutine.
// result is buffered so the writer never blocks on a departed caller.
type outbound struct {
	payload []byte
	result  chan error
}

// errStopRequested ends the open loop when Terminate is called first.
var errStopRequested = errors.New("stop requested")

// Sender owns the write end of one FIFO. A single writer goroutine, started
// by NewSender, takes messages from a single-slot mailbox and writes each one
// as a frame. Send blocks until its message has been written or has failed.
type Sender struct {
	name    string
	path    string
	opts    options
	logger  *zap.Logger
	metrics *Metrics

	mailbox  chan *outbound
	stopChan chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	mu       sync.Mutex
	status   Status
	err      error
	writing  bool
	closeErr error
}

// NewSender creates a sender for path and starts its writer goroutine. The
// FIFO is created if the path does not exist. If the path is not a FIFO, or
// cannot be created, the sender is inert: Status reports StatusSetupFailed and
// every Send fails immediately.
//
// The write end is opened on the writer goroutine, which waits for a reader to
// appear, so constructing a Sender never blocks.
func NewSender(path string, opts ...Option) *Sender {
	o := newOptions(path, opts)
	s := &Sender{
		name:     o.name,
		path:     path,
		opts:     o,
		logger:   endpointLogger(o.logger, roleSender, o.name, path),
		metrics:  o.metrics,
		mailbox:  make(chan *outbound, 1),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}

	if err := ensureFIFO(path, o.pipePerm); err != nil {
		s.logger.Error("Failed to set up sender pipe", zap.Error(err))
		s.setStatus(StatusSetupFailed, fmt.Errorf("%w: %w", ErrSetupFailed, err))
		s.metrics.recordError(roleSender, StatusSetupFailed)
		s.notifyClosed()
		close(s.done)
		return s
	}

	s.metrics.endpointOpened(roleSender)
	go s.run()
	s.logger.Info("Constructed sender instance")
	return s
}

func ensureFIFO(path string, perm os.FileMode) error {
	isFIFO, err := fifo.IsFIFO(path)
	if errors.Is(err, fs.ErrNotExist) {
		if err := fifo.Make(path, uint32(perm.Perm())); err != nil && !errors.Is(err, fs.ErrExist) {
			return err
		}
		isFIFO, err = fifo.IsFIFO(path)
	}
	if err != nil {
		return err
	}
	if !isFIFO {
		return fmt.Errorf("%s is not a fifo pipe", path)
	}
	return nil
}

// Name returns the sender's name.
func (s *Sender) Name() string {
	return s.name
}

// Path returns the FIFO path.
func (s *Sender) Path() string {
	return s.path
}

// Status returns the outcome of the most recent write, or of setup if it failed.
func (s *Sender) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Err returns the error behind Status, or nil.
func (s *Sender) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// State returns a snapshot of the writer's state.
func (s *Sender) State() SenderState {
	select {
	case <-s.done:
		return SenderStopped
	case <-s.stopChan:
		return SenderStopped
	default:
	}
	s.mu.Lock()
	writing := s.writing
	s.mu.Unlock()
	switch {
	case writing:
		return SenderWriting
	case len(s.mailbox) > 0:
		return SenderMessageQueued
	default:
		return SenderIdle
	}
}

// IsRunning returns true until the writer goroutine has exited.
func (s *Sender) IsRunning() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Done returns a channel that is closed once the writer goroutine has exited.
func (s *Sender) Done() <-chan struct{} {
	return s.done
}

// Send writes msg as one frame and blocks until the writer has finished with
// it. It fails immediately for an empty message, after Terminate, or when
// setup failed. A write failure is returned but does not stop the sender;
// a later Send may succeed.
//
// Concurrent callers are served one at a time through the mailbox.
func (s *Sender) Send(msg []byte) error {
	if len(msg) == 0 {
		return ErrEmptyMessage
	}
	if uint64(len(msg)) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(msg))
	}
	select {
	case <-s.stopChan:
		return s.terminatedErr()
	case <-s.done:
		return s.deadErr()
	default:
	}

	s.logger.Debug("Sending message", zap.Int("bytes", len(msg)))
	start := time.Now()
	req := &outbound{payload: msg, result: make(chan error, 1)}
	select {
	case s.mailbox <- req:
	case <-s.stopChan:
		return s.terminatedErr()
	case <-s.done:
		return s.deadErr()
	}

	var err error
	select {
	case err = <-req.result:
	case <-s.done:
		// the writer may have replied just before exiting
		select {
		case err = <-req.result:
		default:
			err = s.deadErr()
		}
	}
	if err != nil {
		s.logger.Error("Message failed to send", zap.Error(err))
		return err
	}
	s.metrics.recordSent(len(msg), time.Since(start))
	s.logger.Debug("Message sent", zap.Int("bytes", len(msg)))
	return nil
}

// Terminate stops the writer goroutine and closes the write end, which lets
// the peer Receiver observe a clean close. A write already in progress is
// allowed to finish. Only the first call does any work; later calls return
// nil immediately.
func (s *Sender) Terminate() error {
	first := false
	s.stopOnce.Do(func() {
		first = true
		close(s.stopChan)
	})
	if !first {
		return nil
	}
	s.logger.Debug("Terminating sender instance")
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeErr
}

func (s *Sender) terminatedErr() error {
	return fmt.Errorf("sender %s: %w", s.name, ErrAlreadyTerminated)
}

func (s *Sender) deadErr() error {
	if err := s.Err(); err != nil && s.Status() == StatusSetupFailed {
		return err
	}
	return s.terminatedErr()
}

func (s *Sender) setStatus(status Status, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	s.err = err
}

func (s *Sender) setWriting(writing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writing = writing
}

func (s *Sender) run() {
	defer s.cleanup()

	f, err := s.open()
	if err != nil {
		if errors.Is(err, errStopRequested) {
			return
		}
		s.logger.Error("Failed to open sender pipe", zap.Error(err))
		s.setStatus(StatusSetupFailed, fmt.Errorf("%w: %w", ErrSetupFailed, err))
		s.metrics.recordError(roleSender, StatusSetupFailed)
		return
	}
	defer s.closeFile(f)

	fw := NewFrameWriter(f, s.opts.chunkSize)
	s.logger.Debug("Entering sender loop")
	for {
		select {
		case <-s.stopChan:
			s.logger.Debug("Breaking from sender loop")
			return
		case req := <-s.mailbox:
			s.setWriting(true)
			err := fw.WriteFrame(req.payload)
			status := StatusOf(err)
			s.setStatus(status, err)
			s.setWriting(false)
			if err != nil {
				s.metrics.recordError(roleSender, status)
			}
			req.result <- err
		}
	}
}

// open retries a non-blocking open until a reader shows up or Terminate is
// called. A reader that is already waiting when Terminate arrives still gets
// connected, so it observes a clean close instead of blocking in open.
func (s *Sender) open() (*os.File, error) {
	s.logger.Debug("Opening sender end of pipe")
	timer := time.NewTimer(s.opts.openRetryInterval)
	defer timer.Stop()
	for {
		f, err := fifo.OpenWriter(s.path)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, fifo.ErrNoReader) {
			return nil, err
		}
		select {
		case <-s.stopChan:
			if f, err := fifo.OpenWriter(s.path); err == nil {
				return f, nil
			}
			return nil, errStopRequested
		case <-timer.C:
			timer.Reset(s.opts.openRetryInterval)
		}
	}
}

func (s *Sender) closeFile(f *os.File) {
	if err := f.Close(); err != nil {
		s.logger.Error("Failed to close sender end of pipe", zap.Error(err))
		s.mu.Lock()
		s.closeErr = fmt.Errorf("%w: close: %w", ErrIOTransient, err)
		s.mu.Unlock()
		return
	}
	s.logger.Debug("Closed sender end of pipe")
}

func (s *Sender) cleanup() {
	// fail whatever is still parked in the mailbox
	for drained := false; !drained; {
		select {
		case req := <-s.mailbox:
			req.result <- s.deadErr()
		default:
			drained = true
		}
	}
	s.metrics.endpointClosed(roleSender)
	s.notifyClosed()
	close(s.done)
	s.logger.Info("Cleaned up sender instance")
}

func (s *Sender) notifyClosed() {
	if s.opts.onClose != nil {
		s.opts.onClose(s.name, s.Status())
	}
}
