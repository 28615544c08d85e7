// Package portlock serializes use of a TCP port across processes. Scenarios
// that bind the same port take the lock for the whole session so that two
// runs never race for the listener.
package portlock

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const retryDelay = 100 * time.Millisecond

// ErrInvalidPort is returned for ports outside 1..65535.
var ErrInvalidPort = errors.New("invalid port")

// Lock is a held port lock.
type Lock struct {
	port int
	fl   *flock.Flock
	once sync.Once
	err  error
}

// Dir returns the default lock directory.
func Dir() string {
	return filepath.Join(os.TempDir(), "readyprobe-locks")
}

// Path returns the lock file used for port under dir.
func Path(dir string, port int) string {
	return filepath.Join(dir, "port-"+strconv.Itoa(port)+".lock")
}

// Acquire blocks until the lock for port is held or ctx ends. An empty dir
// uses Dir().
func Acquire(ctx context.Context, dir string, port int) (*Lock, error) {
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}
	if dir == "" {
		dir = Dir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}
	path := Path(dir, port)
	fl := flock.New(path)
	locked, err := fl.TryLockContext(ctx, retryDelay)
	if err != nil {
		return nil, fmt.Errorf("lock port %d: %w", port, err)
	}
	if !locked {
		return nil, fmt.Errorf("lock port %d: held elsewhere (%s)", port, path)
	}
	return &Lock{port: port, fl: fl}, nil
}

// TryAcquire takes the lock without waiting. ok is false when another holder has it.
func TryAcquire(dir string, port int) (l *Lock, ok bool, err error) {
	if port <= 0 || port > 65535 {
		return nil, false, fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}
	if dir == "" {
		dir = Dir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, false, fmt.Errorf("creating lock directory: %w", err)
	}
	fl := flock.New(Path(dir, port))
	locked, err := fl.TryLock()
	if err != nil || !locked {
		return nil, false, err
	}
	return &Lock{port: port, fl: fl}, true, nil
}

// Port returns the locked port.
func (l *Lock) Port() int { return l.port }

// Release drops the lock. Calling it more than once is safe.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	l.once.Do(func() { l.err = l.fl.Unlock() })
	return l.err
}

// Available reports whether port can be bound on all interfaces right now.
func Available(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}

// WaitFree polls until port is bindable or ctx ends. It is used after
// terminating a server so the next session does not hit EADDRINUSE.
func WaitFree(ctx context.Context, port int) error {
	t := time.NewTicker(retryDelay / 2)
	defer t.Stop()
	for !Available(port) {
		select {
		case <-ctx.Done():
			return fmt.Errorf("port %d still in use: %w", port, ctx.Err())
		case <-t.C:
		}
	}
	return nil
}

// Free asks the kernel for an unused port on the loopback interface.
func Free() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer func() { _ = ln.Close() }()
	return ln.Addr().(*net.TCPAddr).Port, nil
}
