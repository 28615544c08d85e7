// Command readyprobe launches applications, waits for their readiness
// marker, probes their HTTP endpoint and tears their process tree down.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	// Interrupting a run still tears the process tree down before exit.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	root := buildRoot(newCommand(os.Stdout, os.Stderr))
	err := root.ExecuteContext(ctx)
	stop()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command with its subcommands.
func buildRoot(c *command) *cobra.Command {
	root := createRootCommand(c)
	root.AddCommand(
		createRunCommand(c, &RunFlags{}),
		createSuiteCommand(c, &SuiteFlags{}),
		createProbeCommand(c, &ProbeFlags{}),
		createKillCommand(c, &KillFlags{}),
	)
	return root
}

// createRootCommand creates the root command with the persistent flags shared by every subcommand.
func createRootCommand(c *command) *cobra.Command {
	flags := c.global
	root := &cobra.Command{
		Use:   "readyprobe",
		Short: "Process readiness harness",
		Long: `readyprobe spawns a process, waits for a marker on its stdout, checks an
HTTP endpoint for the expected JSON message and terminates the whole process
tree, whatever the outcome.

Examples:
  readyprobe run --cmd="node dist/apps/nodeapp/main.js" --marker="Listening at http://localhost:3333" \
      --probe-url=http://localhost:3333/api --expect="Welcome to nodeapp!"
  readyprobe suite --config=suite.toml
  readyprobe probe --url=http://localhost:3333/api
  readyprobe kill --pid=4242 --signal=SIGTERM`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return c.teardown()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.LogLevel, "log-level", "info", "log level: debug, info, warn, error")
	pf.StringVar(&flags.LogFormat, "log-format", "text", "log format: text, json, color")
	pf.StringVar(&flags.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9102)")
	pf.StringSliceVar(&flags.HistoryDSN, "history-dsn", nil, "record stage history to these sinks (sqlite path, postgres:// or clickhouse:// DSN)")
	pf.StringVar(&flags.LockDir, "lock-dir", "", "directory for per-port lock files (empty disables port locking)")
	pf.DurationVar(&flags.SampleInterval, "sample-interval", 0, "sample CPU and memory of the process tree at this interval")
	return root
}

// createRunCommand creates the run subcommand for a single ad-hoc scenario.
func createRunCommand(c *command, f *RunFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [-- args...]",
		Short: "Run one readiness scenario",
		Long: `Run one scenario described by flags. Arguments after -- are passed to the command.

Examples:
  readyprobe run --cmd=welcomeapp --marker="Listening at" --probe-url=http://localhost:3333/api
  readyprobe run --cmd=node --marker=Listening --sessions=2 --restart-signal=SIGHUP -- server.js`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Args = args
			return c.Run(cmd.Context(), *f)
		},
	}
	cmd.Flags().StringVar(&f.Name, "name", "", "scenario name (defaults to the command)")
	cmd.Flags().StringVar(&f.Cmd, "cmd", "", "command to run (required)")
	cmd.Flags().StringVar(&f.WorkDir, "work-dir", "", "working directory")
	cmd.Flags().StringArrayVar(&f.Env, "env", nil, "extra KEY=VALUE environment entries")
	cmd.Flags().StringVar(&f.Marker, "marker", "", "stdout substring that signals readiness (required)")
	cmd.Flags().DurationVar(&f.ReadyTimeout, "ready-timeout", 0, "how long to wait for the marker (default 30s)")
	cmd.Flags().StringVar(&f.ProbeURL, "probe-url", "", "URL to GET after readiness")
	cmd.Flags().DurationVar(&f.ProbeTimeout, "probe-timeout", 0, "per-request probe timeout (default 5s)")
	cmd.Flags().DurationVar(&f.ProbeRetry, "probe-retry", 0, "retry connection failures for this long")
	cmd.Flags().StringVar(&f.Expect, "expect", "", "expected JSON message field")
	cmd.Flags().StringVar(&f.Signal, "signal", "SIGTERM", "termination signal")
	cmd.Flags().DurationVar(&f.StopGrace, "stop-grace", 0, "wait after the signal before SIGKILL (default 5s)")
	cmd.Flags().IntVar(&f.Sessions, "sessions", 1, "listening sessions to observe")
	cmd.Flags().StringVar(&f.RestartSignal, "restart-signal", "", "signal sent between sessions")
	cmd.Flags().StringSliceVar(&f.ExpectOutput, "expect-output", nil, "substrings that must appear in the output before termination")
	cmd.Flags().IntVar(&f.Port, "port", 0, "port to lock (defaults to the probe URL port)")
	cmd.Flags().BoolVar(&f.JSON, "json", false, "print the report as JSON")
	if err := cmd.MarkFlagRequired("cmd"); err != nil {
		panic(err)
	}
	if err := cmd.MarkFlagRequired("marker"); err != nil {
		panic(err)
	}
	return cmd
}

// createSuiteCommand creates the suite subcommand that runs scenarios from a TOML file.
func createSuiteCommand(c *command, f *SuiteFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "suite",
		Short: "Run scenarios from a TOML suite file",
		Long: `Run every scenario of a suite sequentially. Suite-level settings apply
unless the matching global flag is given on the command line.

Examples:
  readyprobe suite --config=suite.toml
  readyprobe suite --config=suite.toml --only=express --only=nest --stop-on-fail`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Suite(cmd.Context(), *f, cmd.Flags().Changed)
		},
	}
	cmd.Flags().StringVar(&f.ConfigPath, "config", "", "path to the suite TOML file (required)")
	cmd.Flags().StringSliceVar(&f.Only, "only", nil, "run only these scenarios")
	cmd.Flags().BoolVar(&f.StopOnFail, "stop-on-fail", false, "stop at the first failing scenario")
	cmd.Flags().BoolVar(&f.JSON, "json", false, "print the reports as JSON")
	if err := cmd.MarkFlagRequired("config"); err != nil {
		panic(err)
	}
	return cmd
}

// createProbeCommand creates the probe subcommand.
func createProbeCommand(c *command, f *ProbeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "GET a URL and print its JSON message",
		Long: `Probe an already running service once, or retry until it answers.

Examples:
  readyprobe probe --url=http://localhost:3333/api
  readyprobe probe --url=http://localhost:3333/api --retry=10s --expect="Welcome to nodeapp!"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Probe(cmd.Context(), *f)
		},
	}
	cmd.Flags().StringVar(&f.URL, "url", "", "URL to probe (required)")
	cmd.Flags().DurationVar(&f.Timeout, "timeout", 5*time.Second, "request timeout")
	cmd.Flags().DurationVar(&f.Retry, "retry", 0, "retry connection failures for this long")
	cmd.Flags().StringVar(&f.Expect, "expect", "", "expected JSON message field")
	cmd.Flags().BoolVar(&f.JSON, "json", false, "print the result as JSON")
	if err := cmd.MarkFlagRequired("url"); err != nil {
		panic(err)
	}
	return cmd
}

// createKillCommand creates the kill subcommand.
func createKillCommand(c *command, f *KillFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kill",
		Short: "Terminate a process tree by pid",
		Long: `Signal a process and every descendant, escalating to SIGKILL after the grace period.

Examples:
  readyprobe kill --pid=4242
  readyprobe kill --pid=4242 --signal=SIGINT --grace=2s`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Kill(cmd.Context(), *f)
		},
	}
	cmd.Flags().IntVar(&f.PID, "pid", 0, "root pid (required)")
	cmd.Flags().StringVar(&f.Signal, "signal", "SIGTERM", "first signal to send")
	cmd.Flags().DurationVar(&f.Grace, "grace", 0, "wait before SIGKILL (default 5s)")
	if err := cmd.MarkFlagRequired("pid"); err != nil {
		panic(err)
	}
	return cmd
}
