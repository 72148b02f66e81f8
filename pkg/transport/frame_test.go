package transport

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"testing"
)

func TestFrameStream(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	writer := NewFrameWriter(clientConn)
	reader := NewFrameReader(serverConn, 0)

	frames := [][]byte{
		{0x01, 0x02, 0x03},
		{0x04, 0x05, 0x06, 0x07, 0x08},
		bytes.Repeat([]byte{0xFF}, 100),
	}

	go func() {
		for _, frame := range frames {
			if _, err := writer.Write(frame); err != nil {
				return
			}
		}
	}()

	for i, expected := range frames {
		got, err := reader.Read()
		if err != nil {
			t.Fatalf("Frame %d: Read() error: %v", i, err)
		}
		if !bytes.Equal(got, expected) {
			t.Errorf("Frame %d: got %x, want %x", i, got, expected)
		}
	}
}

func TestEncodeWithLengthPrefix(t *testing.T) {
	frame := []byte{0x01, 0x02, 0x03, 0x04}
	prefixed := EncodeWithLengthPrefix(frame)

	if len(prefixed) != LengthPrefixSize+len(frame) {
		t.Fatalf("len = %d, want %d", len(prefixed), LengthPrefixSize+len(frame))
	}
	if n := binary.LittleEndian.Uint32(prefixed); n != 4 {
		t.Errorf("prefix = %d, want 4", n)
	}
	if !bytes.Equal(prefixed[LengthPrefixSize:], frame) {
		t.Errorf("payload = %x, want %x", prefixed[LengthPrefixSize:], frame)
	}
}

func TestFrameReaderErrors(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		limit uint32
		want  error
	}{
		{"empty stream", nil, 0, io.EOF},
		{"short prefix", []byte{0x01, 0x00}, 0, ErrStreamReadFailed},
		{"zero length", []byte{0, 0, 0, 0}, 0, ErrInvalidLengthPrefix},
		{"too large", []byte{0x09, 0, 0, 0}, 8, ErrFrameTooLarge},
		{"truncated body", []byte{0x05, 0, 0, 0, 0xAA}, 0, ErrStreamReadFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewFrameReader(bytes.NewReader(tt.input), tt.limit)
			if _, err := r.Read(); !errors.Is(err, tt.want) {
				t.Errorf("Read() error = %v, want %v", err, tt.want)
			}
		})
	}
}
