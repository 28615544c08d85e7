//go:build e2e

// Package e2e runs readiness scenarios against real binaries. Tests that need
// a generated JavaScript workspace are skipped unless NX_E2E_WORKSPACE points
// at one with node_modules installed.
package e2e

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/h3xium/nx/internal/portlock"
	"github.com/h3xium/nx/internal/workspace"
)

const workspaceEnv = "NX_E2E_WORKSPACE"

var binDir string

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "readyprobe-e2e-")
	if err != nil {
		panic(err)
	}
	binDir = dir
	code := m.Run()
	_ = os.RemoveAll(dir)
	os.Exit(code)
}

// buildBinary compiles ./cmd/<name> once per test binary.
func buildBinary(t *testing.T, name string) string {
	t.Helper()
	out := filepath.Join(binDir, name)
	if _, err := os.Stat(out); err == nil {
		return out
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()
	cmd := exec.CommandContext(ctx, "go", "build", "-o", out, "../cmd/"+name)
	if b, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("build %s: %v\n%s", name, err, b)
	}
	return out
}

func nxWorkspace(t *testing.T) workspace.CLI {
	t.Helper()
	root := os.Getenv(workspaceEnv)
	if root == "" {
		t.Skipf("%s not set", workspaceEnv)
	}
	return workspace.CLI{Bin: "node", Args: []string{"./node_modules/.bin/nx"}, Dir: root}
}

// lockDir is shared by every scenario binding port 3333 so they run one at a time.
func lockDir() string { return portlock.Dir() }
