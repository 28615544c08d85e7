package process

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/h3xium/nx/internal/stream"
)

// Process is a spawned child with captured output. It is owned by whoever
// called Spawn; Terminate must be called to release the process tree.
type Process struct {
	spec Spec
	cmd  *exec.Cmd
	pid  int

	stdout *stream.Stream
	stderr *stream.Stream

	mu        sync.Mutex
	state     TermState
	startedAt time.Time
	stoppedAt time.Time
	exitErr   error
	exited    bool
	onExit    []func(error)
	waitDone  chan struct{}
	closers   []io.Closer

	termMu sync.Mutex // serializes Terminate
}

// Spawn starts spec in its own process group. Stdout and stderr are read by
// dedicated goroutines into streams available through Stdout and Stderr.
// The context only bounds the launch; it does not own the child's lifetime.
func Spawn(ctx context.Context, spec Spec) (*Process, error) {
	if err := spec.Validate(); err != nil {
		return nil, &SpawnError{Command: spec.Command, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, &SpawnError{Command: spec.Command, Err: err}
	}

	cmd := spec.BuildCommand()
	if spec.WorkDir != "" {
		cmd.Dir = spec.WorkDir
	}
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	configureSysProcAttr(cmd)

	p := &Process{spec: spec, cmd: cmd, waitDone: make(chan struct{})}

	var outTee, errTee io.Writer
	if spec.Log.Enabled() {
		ow, ew, err := spec.Log.ProcessWriters(spec.DisplayName())
		if err != nil {
			return nil, &SpawnError{Command: spec.Command, Err: err}
		}
		if ow != nil {
			outTee = ow
			p.closers = append(p.closers, ow)
		}
		if ew != nil {
			errTee = ew
			p.closers = append(p.closers, ew)
		}
	}
	p.stdout = stream.New(outTee, spec.Stdout)
	p.stderr = stream.New(errTee, spec.Stderr)

	outR, outW, err := os.Pipe()
	if err != nil {
		p.closeWriters()
		return nil, &SpawnError{Command: spec.Command, Err: err}
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		_ = outR.Close()
		_ = outW.Close()
		p.closeWriters()
		return nil, &SpawnError{Command: spec.Command, Err: err}
	}
	cmd.Stdout = outW
	cmd.Stderr = errW

	if err := cmd.Start(); err != nil {
		for _, f := range []*os.File{outR, outW, errR, errW} {
			_ = f.Close()
		}
		p.closeWriters()
		return nil, &SpawnError{Command: spec.Command, Err: err}
	}
	// The child holds its own copies of the write ends.
	_ = outW.Close()
	_ = errW.Close()

	p.pid = cmd.Process.Pid
	p.startedAt = time.Now()

	var pumps sync.WaitGroup
	pumps.Add(2)
	go func() { defer pumps.Done(); p.stdout.Pump(outR); _ = outR.Close() }()
	go func() { defer pumps.Done(); p.stderr.Pump(errR); _ = errR.Close() }()
	go func() {
		pumps.Wait()
		p.closeWriters()
	}()
	go p.wait()
	return p, nil
}

func (p *Process) wait() {
	err := p.cmd.Wait()
	p.mu.Lock()
	p.exited = true
	p.exitErr = err
	p.stoppedAt = time.Now()
	callbacks := p.onExit
	p.onExit = nil
	close(p.waitDone)
	p.mu.Unlock()
	for _, fn := range callbacks {
		fn(err)
	}
}

func (p *Process) closeWriters() {
	p.mu.Lock()
	cs := p.closers
	p.closers = nil
	p.mu.Unlock()
	for _, c := range cs {
		_ = c.Close()
	}
}

// PID returns the process id of the group leader.
func (p *Process) PID() int { return p.pid }

// Spec returns the spec the process was spawned from.
func (p *Process) Spec() Spec { return p.spec }

// Stdout returns the stream fed from the child's standard output.
func (p *Process) Stdout() *stream.Stream { return p.stdout }

// Stderr returns the stream fed from the child's standard error.
func (p *Process) Stderr() *stream.Stream { return p.stderr }

// Signal delivers sig to the group leader only. A leader that already exited is not an error.
func (p *Process) Signal(sig syscall.Signal) error {
	select {
	case <-p.waitDone:
		return nil
	default:
	}
	if err := signalPID(p.pid, sig); err != nil {
		return &TerminationError{PID: p.pid, Signal: sig, Err: err}
	}
	return nil
}

// Tree returns the leader pid followed by its live descendants.
func (p *Process) Tree(ctx context.Context) []int {
	select {
	case <-p.waitDone:
		return nil
	default:
	}
	out := []int{p.pid}
	if ds, err := Descendants(ctx, p.pid); err == nil {
		out = append(out, ds...)
	}
	return out
}

// Done is closed once the group leader has exited and been reaped.
func (p *Process) Done() <-chan struct{} { return p.waitDone }

// OnExit registers fn to run after the group leader exits. If it already
// exited fn runs immediately in the caller's goroutine.
func (p *Process) OnExit(fn func(error)) {
	p.mu.Lock()
	if !p.exited {
		p.onExit = append(p.onExit, fn)
		p.mu.Unlock()
		return
	}
	err := p.exitErr
	p.mu.Unlock()
	fn(err)
}

// Wait blocks until the group leader exits or ctx ends.
func (p *Process) Wait(ctx context.Context) error {
	select {
	case <-p.waitDone:
		return p.ExitErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ExitErr returns the error from cmd.Wait, nil while running or on a clean exit.
func (p *Process) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

// State returns the termination state.
func (p *Process) State() TermState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Snapshot returns the current status.
func (p *Process) Snapshot() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := Status{
		Name:      p.spec.DisplayName(),
		PID:       p.pid,
		State:     p.state.String(),
		Exited:    p.exited,
		StartedAt: p.startedAt,
		StoppedAt: p.stoppedAt,
	}
	if p.exited {
		st.ExitCode = exitCode(p.exitErr)
	}
	if p.exitErr != nil {
		st.ExitErr = p.exitErr.Error()
	}
	return st
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}

func (p *Process) setState(s TermState) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}
