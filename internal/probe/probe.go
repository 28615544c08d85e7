package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// DefaultTimeout bounds a single probe request.
	DefaultTimeout = 5 * time.Second
	// maxBody caps how much of a response body is read.
	maxBody = 1 << 20
)

// Result is the outcome of a probe.
type Result struct {
	URL        string         `json:"url"`
	StatusCode int            `json:"status_code"`
	Payload    map[string]any `json:"payload,omitempty"`
	Body       []byte         `json:"-"`
	Duration   time.Duration  `json:"duration"`
	Attempts   int            `json:"attempts"`
}

// Message returns the payload's "message" field, or "" when absent or not a string.
func (r Result) Message() string {
	s, _ := r.Payload["message"].(string)
	return s
}

// Error reports a failed probe. StatusCode is zero for transport failures.
type Error struct {
	URL        string
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("probe %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("probe %s: %v", e.URL, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

var (
	// ErrStatus is wrapped when the endpoint answers with a non-2xx status.
	ErrStatus = errors.New("unexpected status")
	// ErrPayload is wrapped when the body is not a JSON object.
	ErrPayload = errors.New("malformed payload")
)

// Prober issues HTTP GET probes.
type Prober struct {
	client  *http.Client
	timeout time.Duration
}

// New returns a Prober whose requests time out after timeout (DefaultTimeout when <= 0).
func New(timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Prober{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:             nil,
				DisableKeepAlives: true,
				DialContext:       (&net.Dialer{Timeout: timeout}).DialContext,
			},
		},
		timeout: timeout,
	}
}

// NewWithClient wraps an existing client, mainly for tests.
func NewWithClient(c *http.Client) *Prober {
	return &Prober{client: c, timeout: c.Timeout}
}

// Probe performs one GET against url, reads the whole body and decodes it as
// a JSON object. Any failure is returned as *Error and no payload is returned.
func (p *Prober) Probe(ctx context.Context, url string) (Result, error) {
	start := time.Now()
	res := Result{URL: url, Attempts: 1}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return res, &Error{URL: url, Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return res, &Error{URL: url, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	res.Duration = time.Since(start)
	if err != nil {
		return res, &Error{URL: url, StatusCode: resp.StatusCode, Err: fmt.Errorf("reading body: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{URL: url, StatusCode: resp.StatusCode, Attempts: 1, Duration: res.Duration},
			&Error{URL: url, StatusCode: resp.StatusCode, Body: truncate(body), Err: ErrStatus}
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil || payload == nil {
		if err == nil {
			err = errors.New("null")
		}
		return Result{URL: url, StatusCode: resp.StatusCode, Attempts: 1, Duration: res.Duration},
			&Error{URL: url, StatusCode: resp.StatusCode, Body: truncate(body), Err: fmt.Errorf("%w: %v", ErrPayload, err)}
	}
	res.StatusCode = resp.StatusCode
	res.Payload = payload
	res.Body = body
	return res, nil
}

// ProbeRetry repeats Probe with exponential backoff until it succeeds, window
// elapses or ctx ends. Status and payload errors from a responding server are
// not retried. The last error is returned.
func (p *Prober) ProbeRetry(ctx context.Context, url string, window time.Duration) (Result, error) {
	if window <= 0 {
		return p.Probe(ctx, url)
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxInterval = time.Second
	bo.MaxElapsedTime = window

	var res Result
	attempts := 0
	op := func() error {
		attempts++
		var err error
		res, err = p.Probe(ctx, url)
		if err == nil {
			return nil
		}
		var pe *Error
		if errors.As(err, &pe) && pe.StatusCode != 0 {
			return backoff.Permanent(err)
		}
		return err
	}
	err := backoff.Retry(op, backoff.WithContext(bo, ctx))
	res.Attempts = attempts
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Err
	}
	return res, err
}

// Port extracts the TCP port from a probe URL, using the scheme default when absent.
func Port(rawURL string) (int, error) {
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, err
	}
	if ps := req.URL.Port(); ps != "" {
		return strconv.Atoi(ps)
	}
	switch req.URL.Scheme {
	case "https":
		return 443, nil
	case "http":
		return 80, nil
	}
	return 0, fmt.Errorf("no port in %q", rawURL)
}

// ExplicitPort returns the port written in a probe URL. Scheme defaults do
// not count: a server listening on 80 or 443 is not one the harness owns.
func ExplicitPort(rawURL string) (int, bool) {
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil || req.URL.Port() == "" {
		return 0, false
	}
	n, err := strconv.Atoi(req.URL.Port())
	return n, err == nil
}

func truncate(b []byte) string {
	const n = 256
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
