package piper

import (
	"bytes"
	"errors"
	"io"
	"runtime"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// trickleReader hands out at most n bytes per Read.
type trickleReader struct {
	r io.Reader
	n int
}

func (t *trickleReader) Read(p []byte) (int, error) {
	if len(p) > t.n {
		p = p[:t.n]
	}
	return t.r.Read(p)
}

// trickleWriter accepts at most n bytes per Write and records call sizes.
type trickleWriter struct {
	buf   bytes.Buffer
	n     int
	calls []int
}

func (t *trickleWriter) Write(p []byte) (int, error) {
	t.calls = append(t.calls, len(p))
	if len(p) > t.n {
		p = p[:t.n]
	}
	return t.buf.Write(p)
}

type failingWriter struct{ err error }

func (f failingWriter) Write([]byte) (int, error) { return 0, f.err }

func TestEncodeHeader(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{1, "00000001"},
		{5, "00000005"},
		{255, "000000ff"},
		{1 << 20, "00100000"},
		{MaxFrameSize, "ffffffff"},
	}
	for _, tt := range tests {
		h, err := EncodeHeader(tt.n)
		require.NoError(t, err)
		assert.Equal(t, tt.want, string(h[:]))
	}

	_, err := EncodeHeader(0)
	assert.ErrorIs(t, err, ErrEmptyMessage)
	_, err = EncodeHeader(-3)
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestDecodeHeader(t *testing.T) {
	n, err := DecodeHeader([]byte("000000ff"))
	require.NoError(t, err)
	assert.Equal(t, 255, n)

	n, err = DecodeHeader([]byte("000000FF"))
	require.NoError(t, err)
	assert.Equal(t, 255, n)

	for _, bad := range []string{"00000000", "0000zz01", "   12345", "-0000001", "0000001", "000000001"} {
		_, err := DecodeHeader([]byte(bad))
		assert.ErrorIs(t, err, ErrProtocolViolation, "header %q", bad)
	}
}

func TestFrameRoundTripWithEmbeddedZeros(t *testing.T) {
	var buf bytes.Buffer
	fw := NewFrameWriter(&buf, 0)
	msgs := [][]byte{
		[]byte("AAA\x00AA"),
		{0},
		bytes.Repeat([]byte{0, 1, 2, 3}, 1000),
	}
	for _, m := range msgs {
		require.NoError(t, fw.WriteFrame(m))
	}
	assert.Equal(t, "00000006AAA\x00AA", buf.String()[:14])

	fr := NewFrameReader(&buf, 0, 0)
	for _, m := range msgs {
		got, err := fr.ReadFrame()
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	_, err := fr.ReadFrame()
	assert.ErrorIs(t, err, ErrPeerClosed)
}

func TestFrameWriterRetriesShortWrites(t *testing.T) {
	tw := &trickleWriter{n: 3}
	fw := NewFrameWriter(tw, 16)
	payload := bytes.Repeat([]byte("x"), 40)
	require.NoError(t, fw.WriteFrame(payload))

	assert.Equal(t, "00000028"+strings.Repeat("x", 40), tw.buf.String())
	for _, c := range tw.calls {
		assert.LessOrEqual(t, c, 16)
	}
}

func TestFrameWriterReportsFailure(t *testing.T) {
	fw := NewFrameWriter(failingWriter{err: errors.New("broken pipe")}, 0)
	err := fw.WriteFrame([]byte("hi"))
	assert.ErrorIs(t, err, ErrIOTransient)
	assert.Contains(t, err.Error(), "broken pipe")

	assert.ErrorIs(t, fw.WriteFrame(nil), ErrEmptyMessage)
}

func TestFrameReaderRetriesShortReads(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB}, 1000)
	var buf bytes.Buffer
	require.NoError(t, NewFrameWriter(&buf, 0).WriteFrame(payload))

	fr := NewFrameReader(&trickleReader{r: &buf, n: 7}, 64, 0)
	got, err := fr.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestFrameReaderProtocolViolations(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"zero length", "00000000"},
		{"not hex", "hello!!!payload"},
		{"truncated header", "0000"},
		{"truncated payload", "00000010short"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fr := NewFrameReader(strings.NewReader(tt.input), 0, 0)
			_, err := fr.ReadFrame()
			assert.ErrorIs(t, err, ErrProtocolViolation)
			assert.Equal(t, StatusProtocolViolation, StatusOf(err))
		})
	}
}

func TestFrameReaderMaxMessageSize(t *testing.T) {
	fr := NewFrameReader(strings.NewReader("00000010"+strings.Repeat("y", 16)), 0, 8)
	_, err := fr.ReadFrame()
	assert.ErrorIs(t, err, ErrProtocolViolation)
}

func TestFrameReaderBogusLengthAllocatesLazily(t *testing.T) {
	fr := NewFrameReader(strings.NewReader("ffffffffabc"), 0, 0)

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	_, err := fr.ReadFrame()
	runtime.ReadMemStats(&after)

	assert.ErrorIs(t, err, ErrProtocolViolation)
	assert.Contains(t, err.Error(), "3 of 4294967295")
	assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(16<<20))
}

func TestDecodeHeaderPlatformLimit(t *testing.T) {
	n, err := DecodeHeader([]byte("ffffffff"))
	if strconv.IntSize == 32 {
		assert.ErrorIs(t, err, ErrProtocolViolation)
		return
	}
	require.NoError(t, err)
	assert.Equal(t, int64(MaxFrameSize), int64(n))
}

func TestFrameReaderIOError(t *testing.T) {
	fr := NewFrameReader(io.MultiReader(strings.NewReader("0000"), iotestErrReader{}), 0, 0)
	_, err := fr.ReadFrame()
	assert.ErrorIs(t, err, ErrIOTransient)
}

type iotestErrReader struct{}

func (iotestErrReader) Read([]byte) (int, error) { return 0, errors.New("read failed") }
