package piper

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/panyam/piper/internal/fifo"
)

const (
	// NameLength is the number of hexadecimal characters in a generated pipe name.
	NameLength = 32

	// LockFileName is the advisory lock file kept inside the pipe directory.
	// Managers in different processes take it while naming pipes, and Clear
	// leaves it in place.
	LockFileName = ".piper.lock"
)

// Manager creates and removes named pipes inside one directory.
// It is safe for concurrent use.
type Manager struct {
	dir      string
	random   io.Reader
	pipePerm os.FileMode
	logger   *zap.Logger
	metrics  *Metrics

	mu    sync.Mutex
	flock *flock.Flock
}

// NewManager creates a manager for dir, creating the directory and its
// parents if missing. It fails if dir exists but is not a directory.
func NewManager(dir string, opts ...Option) (*Manager, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve pipe directory %q: %w", dir, err)
	}
	o := newOptions(abs, opts)
	if o.random == nil {
		o.random = rand.Reader
	}

	info, err := os.Stat(abs)
	switch {
	case err == nil && !info.IsDir():
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, abs)
	case errors.Is(err, fs.ErrNotExist):
		o.logger.Debug("Creating pipe directory", zap.String("dir", abs))
		if err := os.MkdirAll(abs, 0o755); err != nil {
			return nil, fmt.Errorf("create pipe directory: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("stat pipe directory: %w", err)
	}

	m := &Manager{
		dir:      abs,
		random:   o.random,
		pipePerm: o.pipePerm,
		logger:   o.logger.Named("manager").With(zap.String("dir", abs)),
		metrics:  o.metrics,
		flock:    flock.New(filepath.Join(abs, LockFileName)),
	}
	m.logger.Info("Constructed pipe manager")
	return m, nil
}

// Dir returns the absolute path of the managed directory.
func (m *Manager) Dir() string {
	return m.dir
}

// MakePipe creates a FIFO with a random 32 character hexadecimal name and
// returns its absolute path. Names already taken are skipped.
func (m *Manager) MakePipe() (string, error) {
	unlock, err := m.lock()
	if err != nil {
		return "", err
	}
	defer unlock()

	for {
		name, err := m.randomName()
		if err != nil {
			return "", fmt.Errorf("generate pipe name: %w", err)
		}
		path := filepath.Join(m.dir, name)
		if _, err := os.Lstat(path); err == nil {
			m.logger.Debug("Pipe miss", zap.String("pipe", name))
			continue
		} else if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("stat pipe %s: %w", name, err)
		}
		if err := fifo.Make(path, uint32(m.pipePerm.Perm())); err != nil {
			if errors.Is(err, fs.ErrExist) {
				m.logger.Debug("Pipe miss", zap.String("pipe", name))
				continue
			}
			return "", fmt.Errorf("create pipe: %w", err)
		}
		m.metrics.pipeCreated()
		m.logger.Debug("New pipe created", zap.String("pipe", name))
		return path, nil
	}
}

// MakeNamedPipe creates a FIFO with the given name inside the directory and
// returns its absolute path. It fails with ErrAlreadyExists if the name is taken.
func (m *Manager) MakeNamedPipe(name string) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	unlock, err := m.lock()
	if err != nil {
		return "", err
	}
	defer unlock()

	path := filepath.Join(m.dir, name)
	if err := fifo.Make(path, uint32(m.pipePerm.Perm())); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("%w: %s", ErrAlreadyExists, path)
		}
		return "", fmt.Errorf("create pipe: %w", err)
	}
	m.metrics.pipeCreated()
	m.logger.Debug("New pipe created", zap.String("pipe", name))
	return path, nil
}

// RemovePipe deletes the named pipe. name may be a bare name or a path inside
// the managed directory. It returns false, and logs a warning, if there is
// nothing to remove or removal fails.
func (m *Manager) RemovePipe(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	path, ok := m.resolve(name)
	if !ok {
		m.logger.Warn("Pipe is outside the managed directory", zap.String("pipe", name))
		return false
	}
	if _, err := os.Lstat(path); err != nil {
		m.logger.Warn("Pipe does not exist", zap.String("pipe", path), zap.Error(err))
		return false
	}
	if err := os.Remove(path); err != nil {
		m.logger.Warn("Failed to remove pipe", zap.String("pipe", path), zap.Error(err))
		return false
	}
	m.metrics.pipeRemoved()
	m.logger.Debug("Removed pipe", zap.String("pipe", filepath.Base(path)))
	return true
}

// Clear removes every entry in the managed directory except the lock file.
// A missing directory is logged and otherwise ignored; failures to remove
// individual entries are joined into the returned error.
func (m *Manager) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.Debug("Clearing pipes")
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			m.logger.Error("Attempt to clear non-existent pipe directory", zap.Error(err))
			return nil
		}
		return fmt.Errorf("read pipe directory: %w", err)
	}

	var errs []error
	for _, entry := range entries {
		if entry.Name() == LockFileName {
			continue
		}
		path := filepath.Join(m.dir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			m.logger.Warn("Failed to remove entry", zap.String("pipe", path), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		m.metrics.pipeRemoved()
		m.logger.Debug("Removed pipe", zap.String("pipe", entry.Name()))
	}
	return errors.Join(errs...)
}

// lock serialises naming within this manager and, through the lock file,
// across managers of the same directory in other processes.
func (m *Manager) lock() (func(), error) {
	m.mu.Lock()
	if err := m.flock.Lock(); err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("lock pipe directory: %w", err)
	}
	return func() {
		if err := m.flock.Unlock(); err != nil {
			m.logger.Warn("Failed to unlock pipe directory", zap.Error(err))
		}
		m.mu.Unlock()
	}, nil
}

func (m *Manager) randomName() (string, error) {
	u, err := uuid.NewRandomFromReader(m.random)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(u[:]), nil
}

func (m *Manager) resolve(name string) (string, bool) {
	if filepath.IsAbs(name) {
		path := filepath.Clean(name)
		return path, filepath.Dir(path) == m.dir
	}
	if validateName(name) != nil {
		return "", false
	}
	return filepath.Join(m.dir, name), true
}

func validateName(name string) error {
	if name == "" || name == "." || name == ".." || name == LockFileName || filepath.Base(name) != name {
		return fmt.Errorf("invalid pipe name %q", name)
	}
	return nil
}
