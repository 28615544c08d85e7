//go:build !windows

package process

import (
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"

	gopsproc "github.com/shirou/gopsutil/v4/process"
	sysconf "github.com/tklauser/go-sysconf"
)

var (
	clkTckOnce sync.Once
	clkTck     int64 = 100
)

func clockTicks() int64 {
	clkTckOnce.Do(func() {
		if v, err := sysconf.Sysconf(sysconf.SC_CLK_TCK); err == nil && v > 0 {
			clkTck = v
		}
	})
	return clkTck
}

// procStat reads the state letter and start time (clock ticks since boot)
// from /proc/<pid>/stat.
func procStat(pid int) (state byte, startTicks int64, ok bool) {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return 0, 0, false
	}
	line := string(b)
	// comm may contain spaces; it is terminated by the last ") ".
	end := strings.LastIndex(line, ") ")
	if end == -1 {
		return 0, 0, false
	}
	fields := strings.Fields(line[end+2:])
	// fields[0] is state (field 3); starttime is field 22.
	if len(fields) < 20 || len(fields[0]) == 0 {
		return 0, 0, false
	}
	st, err := strconv.ParseInt(fields[19], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return fields[0][0], st, true
}

// procStart returns the process start time in milliseconds, 0 if unknown.
// On Linux it is relative to boot; elsewhere it is the Unix time.
func procStart(pid int) int64 {
	if pid <= 0 {
		return 0
	}
	if runtime.GOOS == "linux" {
		_, ticks, ok := procStat(pid)
		if !ok {
			return 0
		}
		return ticks * 1000 / clockTicks()
	}
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return 0
	}
	ms, err := p.CreateTime()
	if err != nil {
		return 0
	}
	return ms
}

// isZombie reports whether pid has exited but not been reaped.
func isZombie(pid int) bool {
	if runtime.GOOS == "linux" {
		st, _, ok := procStat(pid)
		return ok && (st == 'Z' || st == 'X')
	}
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	states, err := p.Status()
	if err != nil {
		return false
	}
	for _, s := range states {
		if s == gopsproc.Zombie {
			return true
		}
	}
	return false
}
