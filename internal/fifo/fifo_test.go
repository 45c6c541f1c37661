package fifo

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestMakeAndIsFIFO(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p")
	require.NoError(t, Make(path, 0o666))

	ok, err := IsFIFO(path)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.ErrorIs(t, Make(path, 0o666), fs.ErrExist)
}

func TestIsFIFORegularFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "regular")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	ok, err := IsFIFO(path)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIsFIFOMissing(t *testing.T) {
	_, err := IsFIFO(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestOpenWriterWithoutReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p")
	require.NoError(t, Make(path, 0o666))

	_, err := OpenWriter(path)
	assert.ErrorIs(t, err, ErrNoReader)
}

func TestOpenWriterWithReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p")
	require.NoError(t, Make(path, 0o666))

	// a non-blocking read end counts as a reader
	rf, err := os.OpenFile(path, os.O_RDONLY|unix.O_NONBLOCK, 0)
	require.NoError(t, err)
	defer rf.Close()

	wf, err := OpenWriter(path)
	require.NoError(t, err)
	defer wf.Close()

	_, err = wf.Write([]byte("ping"))
	require.NoError(t, err)
	buf := make([]byte, 4)
	n, err := rf.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf[:n]))
}
