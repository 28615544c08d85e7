package process

import (
	"context"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// member is a process observed in a tree, identified by pid and start time
// so that a recycled pid is never signalled by mistake.
type member struct {
	pid   int
	start int64
}

// Descendants returns the pids of every transitive child of root found in
// the process table. Processes reparented away from the tree (for example
// daemons whose parent already exited) are not found here; callers rely on
// process-group signalling for those.
func Descendants(ctx context.Context, root int) ([]int, error) {
	ms, err := descendants(ctx, root)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(ms))
	for i, m := range ms {
		out[i] = m.pid
	}
	return out, nil
}

func descendants(ctx context.Context, root int) ([]member, error) {
	procs, err := gopsproc.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	children := make(map[int][]int, len(procs))
	for _, p := range procs {
		ppid, err := p.PpidWithContext(ctx)
		if err != nil {
			continue
		}
		children[int(ppid)] = append(children[int(ppid)], int(p.Pid))
	}

	var out []member
	seen := map[int]bool{root: true}
	queue := []int{root}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, c := range children[cur] {
			if seen[c] {
				continue
			}
			seen[c] = true
			out = append(out, member{pid: c, start: procStart(c)})
			queue = append(queue, c)
		}
	}
	return out, nil
}

// same reports whether m still refers to the process it was recorded from.
func (m member) same() bool {
	if m.start == 0 {
		return true
	}
	return procStart(m.pid) == m.start
}
