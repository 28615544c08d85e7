package logger

import (
	"bytes"
	"strings"
	"sync"
)

// Ring keeps the last N lines written to it. It implements io.Writer so it
// can sit next to a process output stream and supply a short tail for error
// reports.
type Ring struct {
	mu      sync.Mutex
	lines   []string
	size    int
	pos     int
	full    bool
	partial bytes.Buffer // incomplete trailing line
}

// NewRing creates a ring that stores the last n lines (n < 1 is treated as 1).
func NewRing(n int) *Ring {
	if n < 1 {
		n = 1
	}
	return &Ring{lines: make([]string, n), size: n}
}

func (r *Ring) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.partial.Write(p)
	for {
		line, err := r.partial.ReadString('\n')
		if err != nil {
			r.partial.Reset()
			r.partial.WriteString(line)
			break
		}
		r.add(strings.TrimRight(line, "\r\n"))
	}
	return len(p), nil
}

func (r *Ring) add(line string) {
	r.lines[r.pos] = line
	r.pos = (r.pos + 1) % r.size
	if r.pos == 0 {
		r.full = true
	}
}

// Lines returns the stored lines oldest first, followed by the pending
// partial line if there is one.
func (r *Ring) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []string
	if r.full {
		out = make([]string, 0, r.size+1)
		out = append(out, r.lines[r.pos:]...)
		out = append(out, r.lines[:r.pos]...)
	} else {
		out = make([]string, 0, r.pos+1)
		out = append(out, r.lines[:r.pos]...)
	}
	if r.partial.Len() > 0 {
		out = append(out, r.partial.String())
	}
	return out
}
