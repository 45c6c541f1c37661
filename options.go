package piper

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultOpenRetryInterval is how long a Sender waits between attempts to
	// open a FIFO that has no reader yet.
	DefaultOpenRetryInterval = 5 * time.Millisecond

	// DefaultPipePerm is the permission requested for new FIFOs (before umask).
	DefaultPipePerm os.FileMode = 0o666
)

// Option configures a Manager, Sender, Receiver or Pipe. Settings that do not
// apply to the component being built are ignored.
type Option func(*options)

type options struct {
	name              string
	logger            *zap.Logger
	metrics           *Metrics
	chunkSize         int
	maxMessageSize    int
	openRetryInterval time.Duration
	onClose           func(name string, status Status)

	// Manager only
	random   io.Reader
	pipePerm os.FileMode
}

func newOptions(path string, opts []Option) options {
	o := options{
		name:              filepath.Base(path),
		logger:            zap.NewNop(),
		chunkSize:         DefaultChunkSize,
		openRetryInterval: DefaultOpenRetryInterval,
		pipePerm:          DefaultPipePerm,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o
}

// WithName sets the endpoint name used in log lines. Defaults to the FIFO's base name.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithLogger sets the diagnostic sink. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics records activity on the given collectors.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithChunkSize bounds the bytes passed to a single read or write syscall.
func WithChunkSize(size int) Option {
	return func(o *options) {
		if size > 0 {
			o.chunkSize = size
		}
	}
}

// WithMaxMessageSize makes a Receiver treat larger frames as protocol violations.
// Zero leaves frames unbounded.
func WithMaxMessageSize(size int) Option {
	return func(o *options) {
		o.maxMessageSize = size
	}
}

// WithOpenRetryInterval sets how often a Sender retries opening a reader-less FIFO.
func WithOpenRetryInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.openRetryInterval = d
		}
	}
}

// WithOnClose sets a callback invoked once when an endpoint's background
// goroutine exits, with the endpoint's name and final status. It runs
// before Done is closed.
func WithOnClose(fn func(name string, status Status)) Option {
	return func(o *options) {
		o.onClose = fn
	}
}

// WithRandomSource sets the entropy used by a Manager to name pipes.
// Defaults to crypto/rand.
func WithRandomSource(r io.Reader) Option {
	return func(o *options) {
		o.random = r
	}
}

// WithPipePerm sets the permission bits requested for new FIFOs, both those
// made by a Manager and those a Sender creates for a missing path.
func WithPipePerm(perm os.FileMode) Option {
	return func(o *options) {
		o.pipePerm = perm
	}
}
