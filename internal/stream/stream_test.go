package stream

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestAwait_MarkerSplitAcrossWrites(t *testing.T) {
	const marker = "Listening at http://localhost:3333"
	for split := 1; split < len(marker); split++ {
		s := New()
		c := s.Subscribe()

		_, _ = s.Write([]byte("booting\n" + marker[:split]))
		_, _ = s.Write([]byte(marker[split:] + "\n"))

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		ev, err := c.Await(ctx, marker)
		cancel()
		if err != nil {
			t.Fatalf("split %d: await: %v", split, err)
		}
		if !ev.Matched || !strings.HasSuffix(ev.Chunk, marker) {
			t.Fatalf("split %d: unexpected event %+v", split, ev)
		}
		c.Close()
	}
}

func TestAwait_ManySmallChunks(t *testing.T) {
	const marker = "DONE"
	s := New()
	c := s.Subscribe()
	defer c.Close()

	go func() {
		for _, b := range []byte("...waiting...DONE") {
			_, _ = s.Write([]byte{b})
			time.Sleep(time.Millisecond)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := c.Await(ctx, marker); err != nil {
		t.Fatalf("await: %v", err)
	}
}

func TestAwait_RepeatedSessions(t *testing.T) {
	const marker = "Listening"
	s := New()
	c := s.Subscribe()
	defer c.Close()

	_, _ = s.Write([]byte("a Listening b Listening"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	first, err := c.Await(ctx, marker)
	if err != nil {
		t.Fatal(err)
	}
	second, err := c.Await(ctx, marker)
	if err != nil {
		t.Fatal(err)
	}
	if first.Chunk != "a Listening" || second.Chunk != " b Listening" {
		t.Fatalf("chunks = %q, %q", first.Chunk, second.Chunk)
	}

	// A third session needs a third marker.
	short, cancelShort := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancelShort()
	if _, err := c.Await(short, marker); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
}

func TestAwait_Timeout(t *testing.T) {
	s := New()
	c := s.Subscribe()
	defer c.Close()
	_, _ = s.Write([]byte("nothing to see"))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := c.Await(ctx, "ready")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestAwait_StreamClosed(t *testing.T) {
	s := New()
	c := s.Subscribe()
	defer c.Close()

	go func() {
		_, _ = s.Write([]byte("exiting"))
		_ = s.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := c.Await(ctx, "ready"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestAwait_MarkerBeforeClose(t *testing.T) {
	s := New()
	_, _ = s.Write([]byte("ready"))
	_ = s.Close()

	// Subscribing after close still sees buffered output.
	c := s.Subscribe()
	defer c.Close()
	ev, err := c.Await(context.Background(), "ready")
	if err != nil || !ev.Matched {
		t.Fatalf("got %+v, %v", ev, err)
	}
}

func TestPump_TeeAndClose(t *testing.T) {
	pr, pw := io.Pipe()
	var tee strings.Builder
	var mu sync.Mutex
	s := New(writerFunc(func(p []byte) (int, error) {
		mu.Lock()
		defer mu.Unlock()
		return tee.Write(p)
	}))

	go s.Pump(pr)
	_, _ = pw.Write([]byte("hello "))
	_, _ = pw.Write([]byte("world"))
	_ = pw.Close()

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("stream not closed after EOF")
	}
	if s.Err() != nil {
		t.Fatalf("unexpected err: %v", s.Err())
	}
	if s.String() != "hello world" {
		t.Fatalf("buffer = %q", s.String())
	}
	mu.Lock()
	defer mu.Unlock()
	if tee.String() != "hello world" {
		t.Fatalf("tee = %q", tee.String())
	}
	if _, err := s.Write([]byte("late")); err == nil {
		t.Fatal("write after close should fail")
	}
}

func TestBroadcaster_DropsStale(t *testing.T) {
	b := NewBroadcaster[int]()
	ch, err := b.Subscribe()
	if err != nil {
		t.Fatal(err)
	}
	b.Publish(1)
	b.Publish(2)
	if got := <-ch; got != 2 {
		t.Fatalf("got %d, want latest value 2", got)
	}
	b.Stop()
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after Stop")
	}
	if _, err := b.Subscribe(); err == nil {
		t.Fatal("subscribe after stop should fail")
	}
	b.Unsubscribe(ch) // no double close
}

type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
