package stream

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/MKTCOACH-eng/IASCHOOL-sub001/internal/domain"
)

const (
	readSize = 4096

	// MaxLineSize bounds a single unterminated line (1MB).
	MaxLineSize = 1 << 20
)

var (
	// ErrUnexpectedEOF is returned when the body ends before the sentinel.
	ErrUnexpectedEOF = errors.New("stream: body ended before done sentinel")
	// ErrLineTooLong is returned when a peer never terminates a line.
	ErrLineTooLong = errors.New("stream: line exceeds maximum size")
)

// ReadFrames reads r until the sentinel, handing every frame to fn in arrival
// order. The Done frame is delivered to fn before ReadFrames returns nil. A
// non-nil error from fn stops the loop and is returned unchanged.
func ReadFrames(ctx context.Context, r io.Reader, fn func(domain.Frame) error) error {
	if r == nil {
		return errors.New("stream: reader must not be nil")
	}
	dec := NewDecoder()
	buf := make([]byte, readSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, readErr := r.Read(buf)
		if n > 0 {
			for _, f := range dec.Feed(buf[:n]) {
				if err := fn(f); err != nil {
					return err
				}
			}
			if dec.Done() {
				return nil
			}
			if dec.Buffered() > MaxLineSize {
				return ErrLineTooLong
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return ErrUnexpectedEOF
			}
			return fmt.Errorf("stream: read body: %w", readErr)
		}
	}
}
