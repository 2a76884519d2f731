package stream

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/require"

	"github.com/MKTCOACH-eng/IASCHOOL-sub001/internal/domain"
)

func collect(t *testing.T, r io.Reader) ([]domain.Frame, error) {
	t.Helper()
	var frames []domain.Frame
	err := ReadFrames(context.Background(), r, func(f domain.Frame) error {
		frames = append(frames, f)
		return nil
	})
	return frames, err
}

func TestReadFrames_HappyPath(t *testing.T) {
	frames, err := collect(t, iotest.OneByteReader(strings.NewReader(exampleStream)))
	require.NoError(t, err)
	require.Len(t, frames, 3)
	require.Equal(t, domain.FrameDone, frames[2].Kind)
}

func TestReadFrames_StopsAtSentinel(t *testing.T) {
	r := io.MultiReader(
		strings.NewReader("data: {\"content\":\"a\"}\n\ndata: [DONE]\n\n"),
		iotest.ErrReader(errors.New("must not be read")),
	)
	frames, err := collect(t, r)
	require.NoError(t, err)
	require.Len(t, frames, 2)
}

func TestReadFrames_EOFBeforeSentinel(t *testing.T) {
	frames, err := collect(t, strings.NewReader("data: {\"content\":\"a\"}\n\n"))
	require.ErrorIs(t, err, ErrUnexpectedEOF)
	require.Len(t, frames, 1)
}

func TestReadFrames_ReadError(t *testing.T) {
	_, err := collect(t, iotest.ErrReader(errors.New("connection reset")))
	require.Error(t, err)
	require.Contains(t, err.Error(), "connection reset")
}

func TestReadFrames_CallbackErrorStops(t *testing.T) {
	stop := errors.New("stop")
	calls := 0
	err := ReadFrames(context.Background(), strings.NewReader(exampleStream), func(domain.Frame) error {
		calls++
		return stop
	})
	require.ErrorIs(t, err, stop)
	require.Equal(t, 1, calls)
}

func TestReadFrames_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := ReadFrames(ctx, strings.NewReader(exampleStream), func(domain.Frame) error { return nil })
	require.ErrorIs(t, err, context.Canceled)
}

func TestReadFrames_NilReader(t *testing.T) {
	err := ReadFrames(context.Background(), nil, func(domain.Frame) error { return nil })
	require.Error(t, err)
}

func TestReadFrames_LineTooLong(t *testing.T) {
	r := io.LimitReader(repeatReader('x'), MaxLineSize+2*readSize)
	_, err := collect(t, r)
	require.ErrorIs(t, err, ErrLineTooLong)
}

type repeatReader byte

func (b repeatReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = byte(b)
	}
	return len(p), nil
}
