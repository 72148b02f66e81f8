package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Framing constants.
const (
	// LengthPrefixSize is the size of the stream frame length prefix.
	LengthPrefixSize = 4

	// DefaultMaxFrameSize bounds a single stream frame.
	DefaultMaxFrameSize = 16 << 20
)

// FrameWriter wraps an io.Writer to add length-prefix framing.
type FrameWriter struct {
	w io.Writer
}

// NewFrameWriter creates a frame writer.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

// Write writes frame with a 4-byte little-endian length prefix in a
// single call to the underlying writer.
func (fw *FrameWriter) Write(frame []byte) (int, error) {
	_, err := fw.w.Write(EncodeWithLengthPrefix(frame))
	if err != nil {
		return 0, err
	}
	return len(frame), nil
}

// FrameReader wraps an io.Reader to read length-prefixed frames.
type FrameReader struct {
	r   io.Reader
	max uint32
}

// NewFrameReader creates a frame reader. A limit of 0 uses DefaultMaxFrameSize.
func NewFrameReader(r io.Reader, limit uint32) *FrameReader {
	if limit == 0 {
		limit = DefaultMaxFrameSize
	}
	return &FrameReader{r: r, max: limit}
}

// Read reads one frame and returns it without the length prefix.
// A clean end of stream before a prefix is returned as io.EOF.
func (fr *FrameReader) Read() ([]byte, error) {
	var lenBuf [LengthPrefixSize]byte
	if _, err := io.ReadFull(fr.r, lenBuf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: %w", ErrStreamReadFailed, err)
	}

	frameLen := binary.LittleEndian.Uint32(lenBuf[:])
	if frameLen == 0 {
		return nil, ErrInvalidLengthPrefix
	}
	if frameLen > fr.max {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, frameLen, fr.max)
	}

	frame := make([]byte, frameLen)
	if _, err := io.ReadFull(fr.r, frame); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStreamReadFailed, err)
	}
	return frame, nil
}

// EncodeWithLengthPrefix adds a 4-byte length prefix to frame.
func EncodeWithLengthPrefix(frame []byte) []byte {
	buf := make([]byte, LengthPrefixSize+len(frame))
	binary.LittleEndian.PutUint32(buf[:LengthPrefixSize], uint32(len(frame)))
	copy(buf[LengthPrefixSize:], frame)
	return buf
}
