package station

import (
	"context"
	"io"
	"sync"

	"infothon/internal/scanner"
)

// ManualCamera is used when no scanner device is attached. It never yields a code;
// the operator types ticket ids instead.
type ManualCamera struct{}

func (ManualCamera) Open(context.Context) (scanner.Feed, error) {
	return &idleFeed{done: make(chan struct{})}, nil
}

type idleFeed struct {
	done chan struct{}
	once sync.Once
}

func (f *idleFeed) Next(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-f.done:
		return "", io.EOF
	}
}

func (f *idleFeed) Close() error {
	f.once.Do(func() { close(f.done) })
	return nil
}
