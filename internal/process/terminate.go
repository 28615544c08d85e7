package process

import (
	"context"
	"errors"
	"syscall"
	"time"
)

const (
	killWait     = 2 * time.Second
	pollInterval = 20 * time.Millisecond
	treeLookup   = 2 * time.Second
)

// Terminate sends sig to the process group and to every descendant found in
// the process table, then waits for the leader to be reaped and for the
// descendants and every remaining group member to disappear. Group members
// count even after the leader exited and they were reparented. If anything
// is still alive when Spec.StopGrace elapses or ctx ends, the tree is sent
// SIGKILL and the state becomes StateKilled. Terminating an exited or
// already terminated process is not an error; only the first call does any
// work.
func (p *Process) Terminate(ctx context.Context, sig syscall.Signal) error {
	p.termMu.Lock()
	defer p.termMu.Unlock()

	if p.State() != StateRunning {
		return nil
	}
	if sig == 0 {
		sig = syscall.SIGTERM
	}

	tree := p.snapshotTree()
	if err := p.signalTree(tree, sig); err != nil {
		return &TerminationError{PID: p.pid, Signal: sig, Err: err}
	}
	if p.awaitGone(ctx, tree, p.spec.grace()) {
		p.setState(StateTerminated)
		return nil
	}

	// Children forked during the grace period are picked up here.
	tree = mergeMembers(tree, p.snapshotTree())
	if err := p.signalTree(tree, syscall.SIGKILL); err != nil {
		return &TerminationError{PID: p.pid, Signal: syscall.SIGKILL, Err: err}
	}
	// ctx may already be done; the kill wait is bounded on its own.
	if p.awaitGone(context.Background(), tree, killWait) {
		p.setState(StateKilled)
		return nil
	}
	return &TerminationError{PID: p.pid, Signal: syscall.SIGKILL, Err: ErrStillRunning}
}

// Kill is Terminate with SIGKILL.
func (p *Process) Kill(ctx context.Context) error {
	return p.Terminate(ctx, syscall.SIGKILL)
}

func (p *Process) snapshotTree() []member {
	ctx, cancel := context.WithTimeout(context.Background(), treeLookup)
	defer cancel()
	tree, err := descendants(ctx, p.pid)
	if err != nil {
		return nil
	}
	return tree
}

func (p *Process) signalTree(tree []member, sig syscall.Signal) error {
	var errs []error
	if err := signalGroup(p.pid, sig); err != nil {
		errs = append(errs, err)
	}
	for _, m := range tree {
		if !m.same() {
			continue
		}
		if err := signalPID(m.pid, sig); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Process) awaitGone(ctx context.Context, tree []member, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		if p.treeGone(tree) {
			return true
		}
		select {
		case <-ticker.C:
		case <-timer.C:
			return p.treeGone(tree)
		case <-ctx.Done():
			return p.treeGone(tree)
		}
	}
}

func (p *Process) treeGone(tree []member) bool {
	select {
	case <-p.waitDone:
	default:
		return false
	}
	for _, m := range tree {
		if m.same() && Alive(m.pid) {
			return false
		}
	}
	return !groupAlive(p.pid)
}

func mergeMembers(a, b []member) []member {
	seen := make(map[int]bool, len(a))
	for _, m := range a {
		seen[m.pid] = true
	}
	for _, m := range b {
		if !seen[m.pid] {
			a = append(a, m)
			seen[m.pid] = true
		}
	}
	return a
}

// TerminatePID terminates the tree rooted at an arbitrary pid that this
// process did not spawn. It signals the pid's process group when pid leads
// one, otherwise only the pid and its descendants. It waits up to grace
// before escalating to SIGKILL. A pid that no longer exists is not an error.
func TerminatePID(ctx context.Context, pid int, sig syscall.Signal, grace time.Duration) error {
	if pid <= 0 {
		return &TerminationError{PID: pid, Signal: sig, Err: errors.New("invalid pid")}
	}
	if !Alive(pid) {
		return nil
	}
	if sig == 0 {
		sig = syscall.SIGTERM
	}
	if grace <= 0 {
		grace = DefaultStopGrace
	}
	lookup, cancel := context.WithTimeout(ctx, treeLookup)
	tree, _ := descendants(lookup, pid)
	cancel()
	root := member{pid: pid, start: procStart(pid)}
	tree = append([]member{root}, tree...)
	leader := isGroupLeader(pid)

	send := func(s syscall.Signal) error {
		var errs []error
		if leader {
			if err := signalGroup(pid, s); err != nil {
				errs = append(errs, err)
			}
		}
		for _, m := range tree {
			if m.same() {
				if err := signalPID(m.pid, s); err != nil {
					errs = append(errs, err)
				}
			}
		}
		return errors.Join(errs...)
	}
	gone := func(d time.Duration, c context.Context) bool {
		deadline := time.Now().Add(d)
		for {
			alive := false
			for _, m := range tree {
				if m.same() && Alive(m.pid) {
					alive = true
					break
				}
			}
			if !alive && !(leader && groupAlive(pid)) {
				return true
			}
			if time.Now().After(deadline) || c.Err() != nil {
				return false
			}
			time.Sleep(pollInterval)
		}
	}

	if err := send(sig); err != nil {
		return &TerminationError{PID: pid, Signal: sig, Err: err}
	}
	if gone(grace, ctx) {
		return nil
	}
	if err := send(syscall.SIGKILL); err != nil {
		return &TerminationError{PID: pid, Signal: syscall.SIGKILL, Err: err}
	}
	if gone(killWait, context.Background()) {
		return nil
	}
	return &TerminationError{PID: pid, Signal: syscall.SIGKILL, Err: ErrStillRunning}
}
