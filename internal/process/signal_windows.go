//go:build windows

package process

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
)

// ParseSignal accepts the Unix names for compatibility. Windows only
// distinguishes "terminate tree" and "force terminate tree".
func ParseSignal(name string) (syscall.Signal, error) {
	switch strings.ToUpper(strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(name)), "SIG")) {
	case "", "TERM", "INT", "15", "2":
		return syscall.SIGTERM, nil
	case "KILL", "9":
		return syscall.SIGKILL, nil
	default:
		return 0, fmt.Errorf("unsupported signal %q on windows", name)
	}
}

// signalGroup uses taskkill /T, which walks the tree by parent pid.
func signalGroup(pgid int, sig syscall.Signal) error {
	args := []string{"/T", "/PID", strconv.Itoa(pgid)}
	if sig == syscall.SIGKILL {
		args = append([]string{"/F"}, args...)
	}
	out, err := exec.Command("taskkill", args...).CombinedOutput()
	if err != nil && Alive(pgid) {
		return fmt.Errorf("taskkill: %v: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func signalPID(pid int, sig syscall.Signal) error {
	return signalGroup(pid, sig)
}

func isGroupLeader(int) bool { return false }

func groupAlive(int) bool { return false }

// Alive reports whether pid can still be opened for querying.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	const processQueryLimitedInformation = 0x1000
	h, err := syscall.OpenProcess(processQueryLimitedInformation, false, uint32(pid))
	if err != nil {
		return false
	}
	defer func() { _ = syscall.CloseHandle(h) }()
	var code uint32
	if err := syscall.GetExitCodeProcess(h, &code); err != nil {
		return false
	}
	const stillActive = 259
	return code == stillActive
}
