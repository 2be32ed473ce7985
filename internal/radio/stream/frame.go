package stream

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

// Frame header bytes. A frame is start1 start2 len_hi len_lo payload.
const (
	start1 = 0x94
	start2 = 0xc3
)

// MaxPayload is the largest payload the radio sends or accepts.
const MaxPayload = 512

// ErrFrameTooLarge is returned by WriteFrame for oversize payloads.
var ErrFrameTooLarge = errors.New("stream: frame too large")

// WriteFrame writes payload as a single frame.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxPayload {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	buf := make([]byte, 0, 4+len(payload))
	buf = append(buf, start1, start2, byte(len(payload)>>8), byte(len(payload)))
	buf = append(buf, payload...)
	_, err := w.Write(buf)
	return err
}

// FrameReader splits a radio byte stream into frames. Bytes outside a frame
// (the radio's debug console shares the stream) are skipped, as is any
// header announcing more than MaxPayload bytes.
type FrameReader struct {
	r *bufio.Reader
	// Skipped counts bytes discarded while hunting for a header.
	Skipped int
}

// NewFrameReader wraps r.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: bufio.NewReaderSize(r, 1024)}
}

// Next returns the next frame's payload.
func (f *FrameReader) Next() ([]byte, error) {
	for {
		b, err := f.r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b != start1 {
			f.Skipped++
			continue
		}
		b, err = f.r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b != start2 {
			f.Skipped++
			if b == start1 {
				_ = f.r.UnreadByte()
			} else {
				f.Skipped++
			}
			continue
		}

		var hdr [2]byte
		if _, err := io.ReadFull(f.r, hdr[:]); err != nil {
			return nil, err
		}
		n := int(hdr[0])<<8 | int(hdr[1])
		if n > MaxPayload {
			f.Skipped += 4
			continue
		}
		payload := make([]byte, n)
		if _, err := io.ReadFull(f.r, payload); err != nil {
			return nil, err
		}
		return payload, nil
	}
}
