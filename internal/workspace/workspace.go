// Package workspace drives a project's command line tool and inspects the
// files it produces. It is the setup half of an end-to-end scenario: generate,
// build and edit a project before the harness launches the result.
package workspace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// CLI runs Bin with a fixed argument prefix inside Dir.
type CLI struct {
	Bin    string
	Args   []string // prepended to every invocation
	Dir    string
	Env    []string // appended to the parent environment
	Logger *slog.Logger
}

// Output holds both captured streams of a finished command.
type Output struct {
	Stdout string
	Stderr string
}

// CommandError is returned when a command ran but exited non-zero.
type CommandError struct {
	Args     []string
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s: exit code %d", strings.Join(e.Args, " "), e.ExitCode)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + lastLine(s)
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

// Run executes the command and returns its stdout. A non-zero exit yields a
// *CommandError carrying both streams.
func (c CLI) Run(ctx context.Context, args ...string) (string, error) {
	out, err := c.RunAsync(ctx, args...)
	return out.Stdout, err
}

// RunAsync executes the command and returns both streams. Tools that report
// through stderr (test runners, bundlers) are checked through Output.Stderr.
func (c CLI) RunAsync(ctx context.Context, args ...string) (Output, error) {
	if c.Bin == "" {
		return Output{}, errors.New("workspace: empty binary")
	}
	full := append(append([]string(nil), c.Args...), args...)
	cmd := exec.CommandContext(ctx, c.Bin, full...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	c.logger().Debug("workspace command", "bin", c.Bin, "args", full, "dir", c.Dir)
	err := cmd.Run()
	out := Output{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return out, nil
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return out, &CommandError{
			Args:     append([]string{c.Bin}, full...),
			Stdout:   out.Stdout,
			Stderr:   out.Stderr,
			ExitCode: ee.ExitCode(),
			Err:      err,
		}
	}
	return out, fmt.Errorf("workspace: run %s: %w", c.Bin, err)
}

func (c CLI) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// Path joins rel onto the workspace directory.
func (c CLI) Path(rel ...string) string {
	return filepath.Join(append([]string{c.Dir}, rel...)...)
}

// CheckFilesExist returns an error naming every path under root that is missing.
func CheckFilesExist(root string, paths ...string) error {
	var missing []string
	for _, p := range paths {
		if _, err := os.Stat(filepath.Join(root, p)); err != nil {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing files: %s", strings.Join(missing, ", "))
	}
	return nil
}

// ReadJSON decodes root/rel into v.
func ReadJSON(root, rel string, v any) error {
	b, err := os.ReadFile(filepath.Join(root, rel))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %s: %w", rel, err)
	}
	return nil
}

// UpdateFile writes content to root/rel, creating parent directories.
func UpdateFile(root, rel, content string) error {
	p := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	return os.WriteFile(p, []byte(content), 0o644)
}

// WriteJSON encodes v as indented JSON into root/rel.
func WriteJSON(root, rel string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return UpdateFile(root, rel, string(b))
}

// Uniq returns prefix followed by a short random suffix, for project names
// that must not collide between runs.
func Uniq(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + id[:7]
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
