package cli

import (
	"bufio"
	"context"
	"io"
	"sync"
)

// LineReader reads input lines on a background goroutine so that a wait
// for the user can be abandoned when ctx ends. Chat and the confirmation
// prompter share one reader and therefore one view of stdin.
type LineReader struct {
	in    io.Reader
	once  sync.Once
	lines chan string
	err   error
}

// NewLineReader wraps in. Reading starts with the first call to Next.
func NewLineReader(in io.Reader) *LineReader {
	return &LineReader{in: in, lines: make(chan string)}
}

func (r *LineReader) start() {
	go func() {
		scanner := bufio.NewScanner(r.in)
		for scanner.Scan() {
			r.lines <- scanner.Text()
		}
		r.err = scanner.Err()
		if r.err == nil {
			r.err = io.EOF
		}
		close(r.lines)
	}()
}

// Next returns the next line without its terminator. A line that arrives
// after ctx ended is delivered to the following call.
func (r *LineReader) Next(ctx context.Context) (string, error) {
	r.once.Do(r.start)
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-r.lines:
		if !ok {
			return "", r.err
		}
		return line, nil
	}
}
