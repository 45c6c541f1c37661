package piper

import (
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
)

const (
	// HeaderSize is the width of the hexadecimal length field preceding every payload.
	HeaderSize = 8

	// MaxFrameSize is the largest payload an 8 digit hexadecimal header can describe.
	MaxFrameSize = 0xFFFFFFFF

	// DefaultChunkSize bounds the number of bytes handed to a single read or write call.
	DefaultChunkSize = 64 * 1024
)

// maxEmptyReads mirrors bufio's guard against readers that keep returning 0, nil.
const maxEmptyReads = 100

// EncodeHeader renders a payload length as an 8 character, zero padded,
// lowercase hexadecimal header.
func EncodeHeader(n int) ([HeaderSize]byte, error) {
	var h [HeaderSize]byte
	if n < 1 {
		return h, ErrEmptyMessage
	}
	if uint64(n) > MaxFrameSize {
		return h, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, n)
	}
	copy(h[:], fmt.Sprintf("%08x", n))
	return h, nil
}

// DecodeHeader parses a length header. Upper and lower case digits are
// accepted. Anything that is not exactly 8 hex digits, or decodes to zero,
// is a protocol violation.
func DecodeHeader(h []byte) (int, error) {
	if len(h) != HeaderSize {
		return 0, fmt.Errorf("%w: header is %d bytes, want %d", ErrProtocolViolation, len(h), HeaderSize)
	}
	n, err := strconv.ParseUint(string(h), 16, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: malformed length header %q", ErrProtocolViolation, h)
	}
	if n < 1 {
		return 0, fmt.Errorf("%w: zero length frame", ErrProtocolViolation)
	}
	if n > math.MaxInt {
		return 0, fmt.Errorf("%w: frame of %d bytes exceeds the platform limit", ErrProtocolViolation, n)
	}
	return int(n), nil
}

// FrameWriter writes length-prefixed frames to an underlying stream, never
// handing more than chunkSize bytes to one Write call and retrying short writes.
type FrameWriter struct {
	w         io.Writer
	chunkSize int
}

// NewFrameWriter creates a frame writer. A chunkSize below 1 selects DefaultChunkSize.
func NewFrameWriter(w io.Writer, chunkSize int) *FrameWriter {
	if chunkSize < 1 {
		chunkSize = DefaultChunkSize
	}
	return &FrameWriter{w: w, chunkSize: chunkSize}
}

// WriteFrame writes the header and then the payload.
func (fw *FrameWriter) WriteFrame(payload []byte) error {
	h, err := EncodeHeader(len(payload))
	if err != nil {
		return err
	}
	if err := fw.writeAll(h[:]); err != nil {
		return fmt.Errorf("%w: write length header: %w", ErrIOTransient, err)
	}
	if err := fw.writeAll(payload); err != nil {
		return fmt.Errorf("%w: write payload: %w", ErrIOTransient, err)
	}
	return nil
}

func (fw *FrameWriter) writeAll(buf []byte) error {
	for len(buf) > 0 {
		n, err := fw.w.Write(buf[:min(len(buf), fw.chunkSize)])
		buf = buf[n:]
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
	}
	return nil
}

// FrameReader decodes length-prefixed frames from an underlying stream,
// never asking for more than chunkSize bytes per Read call and retrying short
// reads until the frame is complete.
type FrameReader struct {
	r              io.Reader
	chunkSize      int
	maxMessageSize int
	header         [HeaderSize]byte
}

// NewFrameReader creates a frame reader. A chunkSize below 1 selects
// DefaultChunkSize; a maxMessageSize below 1 leaves frame sizes unbounded.
func NewFrameReader(r io.Reader, chunkSize, maxMessageSize int) *FrameReader {
	if chunkSize < 1 {
		chunkSize = DefaultChunkSize
	}
	return &FrameReader{r: r, chunkSize: chunkSize, maxMessageSize: maxMessageSize}
}

// ReadFrame returns the next payload. It returns ErrPeerClosed when the
// stream ends exactly on a frame boundary and ErrProtocolViolation when a
// frame is malformed or cut short.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	n, err := fr.readFull(fr.header[:])
	if err != nil {
		if errors.Is(err, io.EOF) {
			if n == 0 {
				return nil, ErrPeerClosed
			}
			return nil, fmt.Errorf("%w: truncated length header (%d of %d bytes)", ErrProtocolViolation, n, HeaderSize)
		}
		return nil, fmt.Errorf("%w: read length header: %w", ErrIOTransient, err)
	}

	size, err := DecodeHeader(fr.header[:])
	if err != nil {
		return nil, err
	}
	if fr.maxMessageSize > 0 && size > fr.maxMessageSize {
		return nil, fmt.Errorf("%w: frame of %d bytes exceeds limit of %d", ErrProtocolViolation, size, fr.maxMessageSize)
	}

	// The buffer grows with the bytes that actually arrive, so a bogus
	// header cannot allocate its whole declared size up front.
	payload := make([]byte, 0, min(size, fr.chunkSize))
	for len(payload) < size {
		step := min(size-len(payload), fr.chunkSize)
		payload = slices.Grow(payload, step)
		n, err := fr.readFull(payload[len(payload) : len(payload)+step])
		payload = payload[:len(payload)+n]
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("%w: truncated payload (%d of %d bytes)", ErrProtocolViolation, len(payload), size)
			}
			return nil, fmt.Errorf("%w: read payload: %w", ErrIOTransient, err)
		}
	}
	return payload, nil
}

// readFull returns io.EOF, together with the byte count, when the stream ends
// before buf is filled.
func (fr *FrameReader) readFull(buf []byte) (int, error) {
	total, empty := 0, 0
	for total < len(buf) {
		n, err := fr.r.Read(buf[total:min(len(buf), total+fr.chunkSize)])
		total += n
		if err != nil {
			if errors.Is(err, io.EOF) && total == len(buf) {
				return total, nil
			}
			return total, err
		}
		if n == 0 {
			if empty++; empty >= maxEmptyReads {
				return total, io.ErrNoProgress
			}
			continue
		}
		empty = 0
	}
	return total, nil
}
