package process

import (
	"errors"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/h3xium/nx/internal/logger"
)

// DefaultStopGrace is how long Terminate waits after the first signal before escalating to SIGKILL.
const DefaultStopGrace = 5 * time.Second

// Spec describes a process to spawn.
type Spec struct {
	Name string `json:"name" mapstructure:"name"`
	// Command is the executable. When Args is empty Command may also be a
	// full command line, which is split or handed to /bin/sh as needed.
	Command   string            `json:"command" mapstructure:"command"`
	Args      []string          `json:"args" mapstructure:"args"`
	WorkDir   string            `json:"work_dir" mapstructure:"workdir"`
	Env       []string          `json:"env" mapstructure:"env"` // appended to the parent environment
	StopGrace time.Duration     `json:"stop_grace" mapstructure:"stop_grace"`
	Log       logger.FileConfig `json:"log" mapstructure:"log"`

	// Stdout and Stderr, when set, receive a copy of the child's output.
	Stdout io.Writer `json:"-" mapstructure:"-"`
	Stderr io.Writer `json:"-" mapstructure:"-"`
}

// Validate checks the fields required to spawn.
func (s Spec) Validate() error {
	if strings.TrimSpace(s.Command) == "" {
		return errors.New("command is required")
	}
	if strings.ContainsAny(s.Name, "/\\") {
		return errors.New("name must not contain path separators")
	}
	return nil
}

// DisplayName returns Name, or the executable when Name is empty.
func (s Spec) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	if f := strings.Fields(s.Command); len(f) > 0 {
		return f[0]
	}
	return "process"
}

func (s Spec) grace() time.Duration {
	if s.StopGrace > 0 {
		return s.StopGrace
	}
	return DefaultStopGrace
}

// BuildCommand constructs an *exec.Cmd for the spec. With explicit Args the
// command is executed directly. A bare command line avoids a shell unless it
// contains shell metacharacters, and an explicit "sh -c '...'" prefix is
// honored without wrapping it in a second shell.
func (s Spec) BuildCommand() *exec.Cmd {
	if len(s.Args) > 0 {
		// #nosec G204
		return exec.Command(s.Command, s.Args...)
	}
	cmdStr := strings.TrimSpace(s.Command)
	if script, ok := parseExplicitShell(cmdStr); ok {
		return shellCommand(script)
	}
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		return shellCommand(cmdStr)
	}
	parts := strings.Fields(cmdStr)
	// #nosec G204
	return exec.Command(parts[0], parts[1:]...)
}

// parseExplicitShell detects "sh -c <ARG>" style prefixes and returns ARG
// with one pair of surrounding quotes stripped.
func parseExplicitShell(cmdStr string) (string, bool) {
	for _, p := range []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "} {
		if !strings.HasPrefix(cmdStr, p) {
			continue
		}
		after := strings.TrimSpace(cmdStr[len(p):])
		if n := len(after); n >= 2 {
			if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
				after = after[1 : n-1]
			}
		}
		return after, true
	}
	return "", false
}
