// Command welcomeapp is a tiny welcome service used as the launched
// application in readiness suites. It prints "Listening at http://host:port"
// once bound and answers GET /api with {"message":"Welcome to <name>!"}.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/h3xium/nx/internal/fixture"
	"github.com/h3xium/nx/internal/logger"
)

func main() {
	root := buildRoot(os.Stdout)
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// ServeFlags holds the fixture server flags.
type ServeFlags struct {
	Name         string
	Framework    string
	Host         string
	Port         int
	BasePath     string
	Delay        time.Duration
	Before       []string
	RestartDelay time.Duration
	LogLevel     string
}

func buildRoot(out io.Writer) *cobra.Command {
	flags := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "welcomeapp",
		Short: "Welcome service for readiness checks",
		Long: `welcomeapp binds an HTTP listener, prints a readiness line and serves
a JSON welcome message. SIGHUP rebinds the listener and prints the line again.

Examples:
  welcomeapp --name=nodeapp --port=3333
  welcomeapp --framework=echo --name=nestapp --delay=1s --before=DONE`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, os.Interrupt)
			defer stop()
			return runServe(ctx, *flags, out, hangups(ctx))
		},
	}
	cmd.Flags().StringVar(&flags.Name, "name", "app", "application name used in the welcome message")
	cmd.Flags().StringVar(&flags.Framework, "framework", fixture.FrameworkGin, "router: gin (express) or echo (nest)")
	cmd.Flags().StringVar(&flags.Host, "host", "localhost", "host to bind and print in the readiness line")
	cmd.Flags().IntVar(&flags.Port, "port", 3333, "port to listen on (0 picks a free port)")
	cmd.Flags().StringVar(&flags.BasePath, "base-path", "/api", "path of the welcome endpoint")
	cmd.Flags().DurationVar(&flags.Delay, "delay", 0, "wait before binding")
	cmd.Flags().StringSliceVar(&flags.Before, "before", nil, "lines printed before listening")
	cmd.Flags().DurationVar(&flags.RestartDelay, "restart-delay", 0, "pause between unbinding and rebinding on SIGHUP")
	cmd.Flags().StringVar(&flags.LogLevel, "log-level", "info", "log level for stderr diagnostics")
	cmd.SetContext(context.Background())
	return cmd
}

func runServe(ctx context.Context, f ServeFlags, out io.Writer, reload <-chan struct{}) error {
	return fixture.Serve(ctx, fixture.Config{
		Name:         f.Name,
		Framework:    f.Framework,
		Host:         f.Host,
		Port:         f.Port,
		BasePath:     f.BasePath,
		Delay:        f.Delay,
		Before:       f.Before,
		Reload:       reload,
		RestartDelay: f.RestartDelay,
		Logger:       logger.New(logger.Config{Level: f.LogLevel}, os.Stderr),
	}, out)
}

// hangups turns SIGHUP into reload requests until ctx ends.
func hangups(ctx context.Context) <-chan struct{} {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	reload := make(chan struct{})
	go func() {
		defer signal.Stop(hup)
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				select {
				case reload <- struct{}{}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return reload
}
