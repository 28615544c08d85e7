//go:build !windows

package process

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/h3xium/nx/internal/logger"
)

func spawn(t *testing.T, spec Spec) *Process {
	t.Helper()
	p, err := Spawn(context.Background(), spec)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Kill(context.Background()) })
	return p
}

func awaitOut(t *testing.T, p *Process, marker string) {
	t.Helper()
	c := p.Stdout().Subscribe()
	defer c.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := c.Await(ctx, marker)
	require.NoError(t, err, "output so far: %q", p.Stdout().String())
}

func TestSpawn_MissingExecutable(t *testing.T) {
	_, err := Spawn(context.Background(), Spec{Command: "/definitely/not/here", Args: []string{"x"}})
	var se *SpawnError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "/definitely/not/here", se.Command)
	assert.True(t, errors.Is(err, os.ErrNotExist) || errors.Is(err, exec.ErrNotFound), "got %v", err)
}

func TestSpawn_InvalidSpec(t *testing.T) {
	_, err := Spawn(context.Background(), Spec{})
	var se *SpawnError
	require.ErrorAs(t, err, &se)
}

func TestSpawn_CapturesStdoutAndStderr(t *testing.T) {
	p := spawn(t, Spec{Name: "echo", Command: "sh -c 'echo to-out; echo to-err 1>&2'"})
	require.NoError(t, p.Wait(context.Background()))
	select {
	case <-p.Stdout().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("stdout not closed after exit")
	}
	<-p.Stderr().Done()
	assert.Equal(t, "to-out\n", p.Stdout().String())
	assert.Equal(t, "to-err\n", p.Stderr().String())

	st := p.Snapshot()
	assert.True(t, st.Exited)
	assert.Equal(t, 0, st.ExitCode)
	assert.Equal(t, "running", st.State, "exit on its own is not a termination")
}

func TestSpawn_WorkDirAndEnv(t *testing.T) {
	dir := t.TempDir()
	p := spawn(t, Spec{Command: "sh -c 'pwd; echo $GREETING'", WorkDir: dir, Env: []string{"GREETING=hello"}})
	require.NoError(t, p.Wait(context.Background()))
	<-p.Stdout().Done()
	real, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	out := p.Stdout().String()
	assert.True(t, strings.Contains(out, dir) || strings.Contains(out, real), "pwd output %q", out)
	assert.Contains(t, out, "hello")
}

func TestSpawn_TeesOutputToLogFiles(t *testing.T) {
	dir := t.TempDir()
	p := spawn(t, Spec{Name: "tee", Command: "sh -c 'echo logged'", Log: logger.FileConfig{Dir: dir}})
	require.NoError(t, p.Wait(context.Background()))
	<-p.Stdout().Done()
	require.Eventually(t, func() bool {
		b, err := os.ReadFile(filepath.Join(dir, "tee.stdout.log"))
		return err == nil && strings.Contains(string(b), "logged")
	}, 2*time.Second, 20*time.Millisecond)
}

func TestOnExit_Callbacks(t *testing.T) {
	p := spawn(t, Spec{Command: "sh -c 'exit 3'"})
	got := make(chan error, 1)
	p.OnExit(func(err error) { got <- err })
	select {
	case err := <-got:
		var ee *exec.ExitError
		require.ErrorAs(t, err, &ee)
		assert.Equal(t, 3, ee.ExitCode())
	case <-time.After(5 * time.Second):
		t.Fatal("exit callback not called")
	}

	// Registering after exit runs immediately.
	called := false
	p.OnExit(func(error) { called = true })
	assert.True(t, called)
}

func TestTerminate_TwiceIsNoop(t *testing.T) {
	p := spawn(t, Spec{Command: "sh -c 'echo up; sleep 30'"})
	awaitOut(t, p, "up")

	require.NoError(t, p.Terminate(context.Background(), syscall.SIGTERM))
	assert.Equal(t, StateTerminated, p.State())
	require.NoError(t, p.Terminate(context.Background(), syscall.SIGTERM))
	assert.Equal(t, StateTerminated, p.State())
}

func TestTerminate_AlreadyExited(t *testing.T) {
	p := spawn(t, Spec{Command: "true"})
	_ = p.Wait(context.Background())
	require.NoError(t, p.Terminate(context.Background(), syscall.SIGTERM))
}

func TestTerminate_KillsDescendants(t *testing.T) {
	// Two background sleeps, plus one that leaves the process group when setsid exists.
	script := "sleep 30 & sleep 30 & echo started; wait"
	want := 2
	if _, err := exec.LookPath("setsid"); err == nil {
		script = "sleep 30 & sleep 30 & setsid sleep 30 & echo started; wait"
		want = 3
	}
	p := spawn(t, Spec{Command: "/bin/sh", Args: []string{"-c", script}})
	awaitOut(t, p, "started")

	var kids []int
	require.Eventually(t, func() bool {
		var err error
		kids, err = Descendants(context.Background(), p.PID())
		return err == nil && len(kids) >= want
	}, 3*time.Second, 20*time.Millisecond, "descendants: %v", kids)

	require.NoError(t, p.Terminate(context.Background(), syscall.SIGTERM))
	assert.False(t, Alive(p.PID()))
	for _, pid := range kids {
		assert.False(t, Alive(pid), "descendant %d survived", pid)
	}
}

func TestTerminate_LeaderExitedGroupSurvives(t *testing.T) {
	// The launcher exits while its child, which ignores TERM, stays in the group.
	p := spawn(t, Spec{
		Command:   "/bin/sh",
		Args:      []string{"-c", `sh -c 'trap "" TERM; sleep 30' & echo "child $!"; sleep 0.3; exit 0`},
		StopGrace: 300 * time.Millisecond,
	})
	awaitOut(t, p, "child ")
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("launcher did not exit")
	}
	require.True(t, groupAlive(p.PID()), "group should outlive its leader")

	require.NoError(t, p.Terminate(context.Background(), syscall.SIGTERM))
	assert.Equal(t, StateKilled, p.State())
	assert.False(t, groupAlive(p.PID()), "group %d has live members", p.PID())
	assert.ErrorIs(t, syscall.Kill(-p.PID(), 0), syscall.ESRCH)
}

func TestTerminatePID_GroupLeaderWithOrphans(t *testing.T) {
	cmd := exec.Command("sh", "-c", `sh -c 'trap "" TERM; sleep 30' & sleep 30`)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	require.NoError(t, cmd.Start())
	go func() { _ = cmd.Wait() }()
	pgid := cmd.Process.Pid
	require.Eventually(t, func() bool {
		kids, err := Descendants(context.Background(), pgid)
		return err == nil && len(kids) >= 2
	}, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, TerminatePID(context.Background(), pgid, syscall.SIGTERM, 200*time.Millisecond))
	require.Eventually(t, func() bool { return !groupAlive(pgid) }, 2*time.Second, 20*time.Millisecond)
}

func TestTerminate_EscalatesToKill(t *testing.T) {
	p := spawn(t, Spec{
		Command:   `sh -c 'trap "" TERM; echo ready; while true; do sleep 0.1; done'`,
		StopGrace: 200 * time.Millisecond,
	})
	awaitOut(t, p, "ready")

	start := time.Now()
	require.NoError(t, p.Terminate(context.Background(), syscall.SIGTERM))
	assert.Equal(t, StateKilled, p.State())
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
	assert.False(t, Alive(p.PID()))
}

func TestTerminate_ContextDoneEscalates(t *testing.T) {
	p := spawn(t, Spec{Command: `sh -c 'trap "" TERM; echo ready; sleep 30'`})
	awaitOut(t, p, "ready")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, p.Terminate(ctx, syscall.SIGTERM))
	assert.Equal(t, StateKilled, p.State())
}

func TestTerminatePID_ForeignProcess(t *testing.T) {
	cmd := exec.Command("sh", "-c", "sleep 30 & wait")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	require.NoError(t, cmd.Start())
	go func() { _ = cmd.Wait() }()

	ctx := context.Background()
	require.NoError(t, TerminatePID(ctx, cmd.Process.Pid, syscall.SIGTERM, time.Second))
	require.Eventually(t, func() bool { return !Alive(cmd.Process.Pid) }, 2*time.Second, 20*time.Millisecond)

	// Gone already: still fine.
	require.NoError(t, TerminatePID(ctx, cmd.Process.Pid, syscall.SIGTERM, time.Second))
}

func TestTerminatePID_InvalidPID(t *testing.T) {
	var te *TerminationError
	require.ErrorAs(t, TerminatePID(context.Background(), 0, syscall.SIGTERM, time.Second), &te)
}

func TestParseSignal(t *testing.T) {
	cases := map[string]syscall.Signal{
		"":        syscall.SIGTERM,
		"SIGTERM": syscall.SIGTERM,
		"term":    syscall.SIGTERM,
		"KILL":    syscall.SIGKILL,
		"SIGINT":  syscall.SIGINT,
		"9":       syscall.SIGKILL,
	}
	for in, want := range cases {
		got, err := ParseSignal(in)
		if err != nil || got != want {
			t.Errorf("ParseSignal(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	for _, bad := range []string{"SIGNOPE", "-1", "0"} {
		if _, err := ParseSignal(bad); err == nil {
			t.Errorf("ParseSignal(%q) should fail", bad)
		}
	}
}
