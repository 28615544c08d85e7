//go:build !windows

package process

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"syscall"

	gopsproc "github.com/shirou/gopsutil/v4/process"
	"golang.org/x/sys/unix"
)

// ParseSignal accepts "SIGTERM", "TERM", "term" or a number. Empty means SIGTERM.
func ParseSignal(name string) (syscall.Signal, error) {
	n := strings.ToUpper(strings.TrimSpace(name))
	if n == "" {
		return syscall.SIGTERM, nil
	}
	if v, err := strconv.Atoi(n); err == nil {
		if v <= 0 {
			return 0, fmt.Errorf("invalid signal number %d", v)
		}
		return syscall.Signal(v), nil
	}
	if !strings.HasPrefix(n, "SIG") {
		n = "SIG" + n
	}
	s := unix.SignalNum(n)
	if s == 0 {
		return 0, fmt.Errorf("unknown signal %q", name)
	}
	return s, nil
}

// signalGroup signals every member of the process group led by pgid.
// A group with no members left is not an error.
func signalGroup(pgid int, sig syscall.Signal) error {
	return ignoreGone(syscall.Kill(-pgid, sig))
}

func signalPID(pid int, sig syscall.Signal) error {
	return ignoreGone(syscall.Kill(pid, sig))
}

func ignoreGone(err error) error {
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

// Alive reports whether pid exists and is not a zombie.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	if err := syscall.Kill(pid, 0); err != nil && !errors.Is(err, syscall.EPERM) {
		return false
	}
	return !isZombie(pid)
}

func isGroupLeader(pid int) bool {
	pgid, err := syscall.Getpgid(pid)
	return err == nil && pgid == pid
}

// groupAlive reports whether any live, non-zombie process still belongs to
// the process group pgid. Members reparented after the leader exited count.
func groupAlive(pgid int) bool {
	if pgid <= 0 {
		return false
	}
	err := syscall.Kill(-pgid, 0)
	if errors.Is(err, syscall.ESRCH) {
		return false
	}
	pids, lerr := gopsproc.Pids()
	if lerr != nil {
		return err == nil || errors.Is(err, syscall.EPERM)
	}
	for _, pid := range pids {
		if g, gerr := syscall.Getpgid(int(pid)); gerr == nil && g == pgid && !isZombie(int(pid)) {
			return true
		}
	}
	return false
}
