package scanner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

var ErrCameraUnavailable = errors.New("camera unavailable")

// Camera hands out a decode feed. Each Open must be paired with Feed.Close.
type Camera interface {
	Open(ctx context.Context) (Feed, error)
}

// Feed yields decoded code contents, one per call.
type Feed interface {
	Next(ctx context.Context) (string, error)
	Close() error
}

// ScanSession owns an open feed for the span of one scan. Close is safe to call any
// number of times from any exit path.
type ScanSession struct {
	feed     Feed
	once     sync.Once
	closeErr error
	closed   chan struct{}
}

func Acquire(ctx context.Context, cam Camera) (*ScanSession, error) {
	if cam == nil {
		return nil, fmt.Errorf("%w: no camera configured", ErrCameraUnavailable)
	}
	feed, err := cam.Open(ctx)
	if err != nil {
		if errors.Is(err, ErrCameraUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrCameraUnavailable, err)
	}
	return &ScanSession{feed: feed, closed: make(chan struct{})}, nil
}

func (s *ScanSession) Next(ctx context.Context) (string, error) {
	select {
	case <-s.closed:
		return "", io.EOF
	default:
	}
	return s.feed.Next(ctx)
}

func (s *ScanSession) Close() error {
	s.once.Do(func() {
		close(s.closed)
		s.closeErr = s.feed.Close()
	})
	return s.closeErr
}

// Closed reports whether the session released its feed.
func (s *ScanSession) Closed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// LineCamera reads codes from a keyboard-wedge or serial scanner that emits one code
// per line, either from a device path or from an already open reader.
type LineCamera struct {
	Path   string
	Reader io.Reader
}

func (c LineCamera) Open(context.Context) (Feed, error) {
	var (
		r      io.Reader = c.Reader
		closer io.Closer
	)
	if r == nil {
		f, err := os.Open(c.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCameraUnavailable, err)
		}
		r, closer = f, f
	}
	feed := &lineFeed{lines: make(chan string), done: make(chan struct{}), closer: closer}
	go feed.pump(r)
	return feed, nil
}

type lineFeed struct {
	lines  chan string
	done   chan struct{}
	once   sync.Once
	closer io.Closer
	err    error
}

func (f *lineFeed) pump(r io.Reader) {
	defer close(f.lines)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		select {
		case f.lines <- line:
		case <-f.done:
			return
		}
	}
	f.err = sc.Err()
}

func (f *lineFeed) Next(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-f.done:
		return "", io.EOF
	case line, ok := <-f.lines:
		if !ok {
			if f.err != nil {
				return "", f.err
			}
			return "", io.EOF
		}
		return line, nil
	}
}

func (f *lineFeed) Close() error {
	var err error
	f.once.Do(func() {
		close(f.done)
		if f.closer != nil {
			err = f.closer.Close()
		}
	})
	return err
}
