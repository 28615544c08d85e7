// Package fixture is a small welcome service used as the child process in
// readiness scenarios. It stands in for generated express and nest
// applications: it prints a "Listening at" line once the listener is bound
// and answers GET {base} with {"message":"Welcome to <name>!"}.
package fixture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	FrameworkGin  = "gin"  // express analogue
	FrameworkEcho = "echo" // nest analogue
)

// Config describes one fixture server.
type Config struct {
	Name      string
	Framework string
	Host      string // printed in the marker and bound; default "localhost"
	Port      int    // 0 picks a free port
	BasePath  string // default "/api"

	// Delay postpones binding the listener.
	Delay time.Duration
	// Before lines are printed, in order, after Delay and before listening.
	Before []string
	// Reload, when non-nil, makes the server close its listener and bind
	// again on every receive, printing the marker once per session.
	Reload <-chan struct{}
	// RestartDelay is the pause between closing and re-binding on reload.
	RestartDelay time.Duration

	Logger *slog.Logger
}

// Marker returns the readiness line printed for host and port, without newline.
func Marker(host string, port int) string {
	return "Listening at http://" + net.JoinHostPort(host, strconv.Itoa(port))
}

// Message returns the payload message served for name.
func Message(name string) string { return "Welcome to " + name + "!" }

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "app"
	}
	if c.Framework == "" {
		c.Framework = FrameworkGin
	}
	if c.Host == "" {
		c.Host = "localhost"
	}
	c.BasePath = sanitizeBase(c.BasePath)
	if c.BasePath == "" {
		c.BasePath = "/api"
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return c
}

// Handler returns the HTTP handler for cfg's framework.
func Handler(cfg Config) (http.Handler, error) {
	cfg = cfg.withDefaults()
	switch strings.ToLower(cfg.Framework) {
	case FrameworkGin, "express":
		return ginHandler(cfg), nil
	case FrameworkEcho, "nest":
		return echoHandler(cfg), nil
	default:
		return nil, fmt.Errorf("unknown framework %q", cfg.Framework)
	}
}

// Serve runs the fixture until ctx ends. The readiness marker is written to
// out after each successful bind.
func Serve(ctx context.Context, cfg Config, out io.Writer) error {
	cfg = cfg.withDefaults()
	h, err := Handler(cfg)
	if err != nil {
		return err
	}

	if cfg.Delay > 0 {
		select {
		case <-time.After(cfg.Delay):
		case <-ctx.Done():
			return nil
		}
	}
	for _, line := range cfg.Before {
		if _, err := fmt.Fprintln(out, line); err != nil {
			return err
		}
	}

	port := cfg.Port
	for session := 1; ; session++ {
		ln, err := net.Listen("tcp", net.JoinHostPort(cfg.Host, strconv.Itoa(port)))
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		port = ln.Addr().(*net.TCPAddr).Port
		srv := &http.Server{
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		errCh := make(chan error, 1)
		go func() { errCh <- srv.Serve(ln) }()

		cfg.Logger.Debug("fixture listening", "name", cfg.Name, "framework", cfg.Framework, "port", port, "session", session)
		if _, err := fmt.Fprintln(out, Marker(cfg.Host, port)); err != nil {
			_ = srv.Close()
			return err
		}

		reload := false
		select {
		case <-ctx.Done():
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-cfg.Reload:
			reload = true
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = srv.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			_ = srv.Close()
		}
		if !reload {
			return nil
		}
		if cfg.RestartDelay > 0 {
			time.Sleep(cfg.RestartDelay)
		}
	}
}

func sanitizeBase(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || p == "/" {
		return ""
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return strings.TrimRight(p, "/")
}
