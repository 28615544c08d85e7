package stream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
)

// ErrClosed is returned by Cursor.Await when the stream ended before the marker appeared.
var ErrClosed = errors.New("stream closed before marker was observed")

const readChunk = 4096

// Stream accumulates everything written to it and lets cursors wait for
// substrings in the concatenated output. Matching against the whole buffer
// rather than individual writes makes markers split across OS-level reads
// match reliably.
type Stream struct {
	mu     sync.Mutex
	buf    []byte
	closed bool
	err    error
	tee    []io.Writer
	notify *Broadcaster[struct{}]
	done   chan struct{}
}

// New returns an open stream. Every write is forwarded to tee writers as well.
func New(tee ...io.Writer) *Stream {
	ws := make([]io.Writer, 0, len(tee))
	for _, w := range tee {
		if w != nil {
			ws = append(ws, w)
		}
	}
	return &Stream{
		tee:    ws,
		notify: NewBroadcaster[struct{}](),
		done:   make(chan struct{}),
	}
}

// Write implements io.Writer. Tee write errors are ignored; the buffer is authoritative.
func (s *Stream) Write(p []byte) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	s.buf = append(s.buf, p...)
	tee := s.tee
	s.mu.Unlock()

	for _, w := range tee {
		_, _ = w.Write(p)
	}
	s.notify.Publish(struct{}{})
	return len(p), nil
}

// Pump reads r until EOF or error, appending to the stream, then closes it.
// It is meant to run in its own goroutine, one per pipe.
func (s *Stream) Pump(r io.Reader) {
	chunk := make([]byte, readChunk)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			_, _ = s.Write(chunk[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				err = nil
			}
			s.CloseWithError(err)
			return
		}
	}
}

// Close marks the stream finished.
func (s *Stream) Close() error {
	s.CloseWithError(nil)
	return nil
}

// CloseWithError marks the stream finished and records the read error, if any.
// Only the first call has an effect.
func (s *Stream) CloseWithError(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.err = err
	close(s.done)
	s.mu.Unlock()
	s.notify.Stop()
}

// Done is closed once the stream has been closed.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Err returns the read error that closed the stream, if any.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Len returns the number of bytes accumulated so far.
func (s *Stream) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

// String returns a copy of everything accumulated so far.
func (s *Stream) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.buf)
}

// Contains reports whether sub appears anywhere in the accumulated output.
func (s *Stream) Contains(sub string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return bytes.Contains(s.buf, []byte(sub))
}

// Subscribe returns a cursor positioned at the start of the stream, so output
// written before the subscription is still matched.
func (s *Stream) Subscribe() *Cursor {
	ch, err := s.notify.Subscribe()
	if err != nil {
		// Already closed: a nil channel never fires and Await sees closed.
		ch = nil
	}
	return &Cursor{s: s, ch: ch}
}

// Event reports a readiness marker observed in the stream.
type Event struct {
	// Chunk is the output consumed by this match: everything after the
	// previous match up to and including the marker.
	Chunk   string
	Matched bool
	// Offset is the byte offset just past the marker.
	Offset int
}

// Cursor is a position in a Stream. Successive Await calls match successive
// occurrences of a marker, so one cursor can follow several listening sessions
// of a restarting server.
type Cursor struct {
	s        *Stream
	ch       chan struct{}
	off      int // start of unconsumed output
	scanFrom int // bytes before this offset cannot start a match
}

// Await blocks until marker appears in the unconsumed part of the stream, the
// stream closes (ErrClosed), or ctx ends (ctx.Err()).
func (c *Cursor) Await(ctx context.Context, marker string) (Event, error) {
	if marker == "" {
		return Event{Matched: true, Offset: c.off}, nil
	}
	m := []byte(marker)
	for {
		ev, closed, ok := c.scan(m)
		if ok {
			return ev, nil
		}
		if closed {
			return Event{}, ErrClosed
		}
		select {
		case <-c.ch:
		case <-c.s.done:
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}

func (c *Cursor) scan(m []byte) (Event, bool, bool) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	buf := c.s.buf
	if i := bytes.Index(buf[c.scanFrom:], m); i >= 0 {
		end := c.scanFrom + i + len(m)
		ev := Event{Chunk: string(buf[c.off:end]), Matched: true, Offset: end}
		c.off = end
		c.scanFrom = end
		return ev, false, true
	}
	// Keep the last len(m)-1 bytes: a marker may straddle the next write.
	if next := len(buf) - len(m) + 1; next > c.scanFrom {
		c.scanFrom = next
	}
	return Event{}, c.s.closed, false
}

// Pending returns the output after the last match.
func (c *Cursor) Pending() string {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	return string(c.s.buf[c.off:])
}

// Close detaches the cursor from the stream.
func (c *Cursor) Close() {
	if c.ch != nil {
		c.s.notify.Unsubscribe(c.ch)
		c.ch = nil
	}
}
