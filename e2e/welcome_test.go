//go:build e2e

package e2e

import (
	"context"
	"encoding/json"
	"os/exec"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/h3xium/nx/internal/fixture"
	"github.com/h3xium/nx/internal/portlock"
)

type report struct {
	State    string `json:"state"`
	Sessions []struct {
		Probe *struct {
			Payload map[string]any `json:"payload"`
		} `json:"probe"`
	} `json:"sessions"`
	Error string `json:"error"`
}

func runReadyprobe(t *testing.T, args ...string) (report, error) {
	t.Helper()
	bin := buildBinary(t, "readyprobe")
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	out, err := exec.CommandContext(ctx, bin, args...).Output()
	var r report
	require.NoError(t, json.Unmarshal(out, &r), "output: %s", out)
	return r, err
}

func TestWelcomeApp_Frameworks(t *testing.T) {
	app := buildBinary(t, "welcomeapp")
	for _, fw := range []string{"gin", "echo"} {
		t.Run(fw, func(t *testing.T) {
			port, err := portlock.Free()
			require.NoError(t, err)
			p := strconv.Itoa(port)
			r, err := runReadyprobe(t, "run", "--json",
				"--cmd", app,
				"--marker", fixture.Marker("localhost", port),
				"--probe-url", "http://localhost:"+p+"/api",
				"--expect", fixture.Message(fw+"app"),
				"--", "--framework", fw, "--name", fw+"app", "--port", p, "--delay", "300ms")
			require.NoError(t, err)
			assert.Equal(t, "terminated", r.State)
			require.Len(t, r.Sessions, 1)
			require.NotNil(t, r.Sessions[0].Probe)
			assert.Equal(t, fixture.Message(fw+"app"), r.Sessions[0].Probe.Payload["message"])
		})
	}
}

func TestWelcomeApp_WaitTargetThenRestart(t *testing.T) {
	app := buildBinary(t, "welcomeapp")
	port, err := portlock.Free()
	require.NoError(t, err)
	p := strconv.Itoa(port)
	r, err := runReadyprobe(t, "--lock-dir", t.TempDir(), "run", "--json",
		"--cmd", app,
		"--marker", fixture.Marker("localhost", port),
		"--probe-url", "http://localhost:"+p+"/api",
		"--expect", fixture.Message("nodeapp"),
		"--sessions", "2", "--restart-signal", "SIGHUP",
		"--expect-output", "DONE",
		"--", "--name", "nodeapp", "--port", p, "--before", "DONE")
	require.NoError(t, err)
	assert.Equal(t, "terminated", r.State)
	assert.Len(t, r.Sessions, 2)
}

func TestWelcomeApp_WrongMessageFails(t *testing.T) {
	app := buildBinary(t, "welcomeapp")
	port, err := portlock.Free()
	require.NoError(t, err)
	p := strconv.Itoa(port)
	r, err := runReadyprobe(t, "run", "--json",
		"--cmd", app,
		"--marker", "Listening at",
		"--probe-url", "http://localhost:"+p+"/api",
		"--expect", "Welcome to someone else!",
		"--", "--name", "nodeapp", "--port", p)
	require.Error(t, err)
	assert.Equal(t, "failed", r.State)
	assert.Contains(t, r.Error, "probe")
}
