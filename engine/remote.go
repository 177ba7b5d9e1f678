package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hazyhaar/a11ypanel/report"
)

// Remote calls a rule engine served over HTTP:
//
//	POST {base}/scan      {"url", "archive_id", "policy_id"} -> report
//	GET  {base}/rulesets?archive_id=...                     -> []ruleset
//
// Error bodies are {"error": "..."}. Transport failures and 5xx statuses
// are retried with exponential backoff; 4xx statuses are not.
type Remote struct {
	base       string
	client     *http.Client
	maxRetries int
	backoff    time.Duration
	logger     *slog.Logger
}

// RemoteOption configures a Remote engine.
type RemoteOption func(*Remote)

// WithRetries sets the maximum number of retries. Default: 3.
func WithRetries(n int) RemoteOption {
	return func(r *Remote) { r.maxRetries = n }
}

// WithBackoff sets the first retry delay, doubled on each attempt.
// Default: 1s.
func WithBackoff(d time.Duration) RemoteOption {
	return func(r *Remote) { r.backoff = d }
}

// WithHTTPClient replaces the default client (30s timeout).
func WithHTTPClient(c *http.Client) RemoteOption {
	return func(r *Remote) { r.client = c }
}

// WithRemoteLogger sets the logger.
func WithRemoteLogger(l *slog.Logger) RemoteOption {
	return func(r *Remote) { r.logger = l }
}

// NewRemote creates a Remote engine rooted at base.
func NewRemote(base string, opts ...RemoteOption) *Remote {
	r := &Remote{
		base:       strings.TrimRight(base, "/"),
		client:     &http.Client{Timeout: 30 * time.Second},
		maxRetries: 3,
		backoff:    time.Second,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// remoteError is a non-2xx reply.
type remoteError struct {
	status int
	msg    string
}

func (e *remoteError) Error() string {
	if e.msg != "" {
		return e.msg
	}
	return fmt.Sprintf("engine: status %d", e.status)
}

func (r *Remote) Scan(ctx context.Context, t Target) (*report.Report, error) {
	body, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("engine: marshal target: %w", err)
	}
	var rep report.Report
	if err := r.do(ctx, http.MethodPost, r.base+"/scan", body, &rep); err != nil {
		return nil, err
	}
	return stamp(&rep, t), nil
}

func (r *Remote) Rulesets(ctx context.Context, t Target) ([]report.Ruleset, error) {
	u := r.base + "/rulesets?" + url.Values{"archive_id": {t.ArchiveID}, "url": {t.URL}}.Encode()
	var rs []report.Ruleset
	if err := r.do(ctx, http.MethodGet, u, nil, &rs); err != nil {
		return nil, err
	}
	return rs, nil
}

func (r *Remote) do(ctx context.Context, method, u string, body []byte, out any) error {
	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := r.backoff * time.Duration(1<<uint(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("engine: new request: %w", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := r.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			r.logger.Warn("engine: request failed", "attempt", attempt+1, "error", err)
			continue
		}
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if err := json.Unmarshal(data, out); err != nil {
				return fmt.Errorf("engine: decode %s: %w", u, err)
			}
			return nil
		}

		rerr := &remoteError{status: resp.StatusCode}
		var e report.ErrorReply
		if json.Unmarshal(data, &e) == nil {
			rerr.msg = e.Error
		}
		if resp.StatusCode < 500 {
			return rerr
		}
		lastErr = rerr
		r.logger.Warn("engine: bad status", "attempt", attempt+1, "status", resp.StatusCode)
	}
	return fmt.Errorf("engine: all retries exhausted: %w", lastErr)
}

// StatusCode returns the HTTP status carried by err, 0 if none.
func StatusCode(err error) int {
	var re *remoteError
	if errors.As(err, &re) {
		return re.status
	}
	return 0
}
