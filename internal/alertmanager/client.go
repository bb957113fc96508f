package alertmanager

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"alarm-sync/internal/faults"
	"alarm-sync/internal/logger"
	"alarm-sync/internal/observability/metrics"
)

const (
	pathAlerts   = "/api/v2/alerts"
	pathSilences = "/api/v2/silences"
	pathSilence  = "/api/v2/silence/"
	pathStatus   = "/api/v2/status"
	pathHealthy  = "/-/healthy"

	maxBodyLog = 4000
)

var errNotFound = errors.New("alertmanager: not found")

// HTTPError is a non-2xx gateway response.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("alertmanager: http %d", e.StatusCode)
	}
	return fmt.Sprintf("alertmanager: http %d: %s", e.StatusCode, e.Body)
}

// Config configures the gateway client.
type Config struct {
	URL           string
	Username      string
	Password      string
	Timeout       time.Duration
	RetryCount    int
	RetryInterval time.Duration
}

// Client talks to an Alertmanager-compatible v2 API.
type Client struct {
	baseURL  string
	username string
	password string
	client   *http.Client
	retries  int
	interval time.Duration
	logger   *zap.Logger
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.client = hc
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logger.OrNop(l)
	}
}

// NewClient constructs a gateway client.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("alertmanager: empty base url")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("alertmanager: invalid base url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	retries := cfg.RetryCount
	if retries < 0 {
		retries = 0
	}
	c := &Client{
		baseURL:  strings.TrimRight(cfg.URL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		client:   &http.Client{Timeout: timeout},
		retries:  retries,
		interval: cfg.RetryInterval,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// AlertsURL is the endpoint alerts are pushed to.
func (c *Client) AlertsURL() string {
	return c.baseURL + pathAlerts
}

// PushAlerts posts a batch of firing or resolved alerts.
func (c *Client) PushAlerts(ctx context.Context, alerts []Alert) (Result, error) {
	if len(alerts) == 0 {
		return Result{}, nil
	}
	body, err := json.Marshal(alerts)
	if err != nil {
		return Result{}, faults.Fatal("push alerts", err)
	}
	return c.do(ctx, http.MethodPost, pathAlerts, "alerts", body, nil)
}

// CreateSilence posts a silence and returns its id.
func (c *Client) CreateSilence(ctx context.Context, silence Silence) (string, Result, error) {
	if len(silence.Matchers) == 0 {
		return "", Result{}, faults.Fatal("create silence", errors.New("alertmanager: silence without matchers"))
	}
	body, err := json.Marshal(silence)
	if err != nil {
		return "", Result{}, faults.Fatal("create silence", err)
	}
	var out silenceCreated
	res, err := c.do(ctx, http.MethodPost, pathSilences, "silences", body, &out)
	if err != nil {
		return "", res, err
	}
	if out.SilenceID == "" {
		return "", res, faults.Fatal("create silence", errors.New("alertmanager: empty silence id"))
	}
	return out.SilenceID, res, nil
}

// DeleteSilence expires a silence. A missing silence counts as deleted.
func (c *Client) DeleteSilence(ctx context.Context, id string) (Result, error) {
	if id == "" {
		return Result{}, faults.Fatal("delete silence", errors.New("alertmanager: empty silence id"))
	}
	res, err := c.do(ctx, http.MethodDelete, pathSilence+url.PathEscape(id), "silence", nil, nil)
	if errors.Is(err, errNotFound) {
		return res, nil
	}
	return res, err
}

// HealthCheck probes /-/healthy and reads version details from /api/v2/status.
func (c *Client) HealthCheck(ctx context.Context) Health {
	if _, err := c.once(ctx, http.MethodGet, pathHealthy, "healthy", nil); err != nil {
		return Health{Healthy: false, Error: err.Error()}
	}
	health := Health{Healthy: true}
	var status statusResponse
	raw, err := c.Status(ctx)
	if err == nil && json.Unmarshal(raw, &status) == nil {
		health.Version = status.VersionInfo.Version
		health.ClusterStatus = status.Cluster.Status
		health.Uptime = status.Uptime
	}
	return health
}

// Status returns the raw /api/v2/status document.
func (c *Client) Status(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	if _, err := c.do(ctx, http.MethodGet, pathStatus, "status", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListAlerts returns the raw alert list, optionally filtered by label matchers like `event_id="1"`.
func (c *Client) ListAlerts(ctx context.Context, filters []string) (json.RawMessage, error) {
	path := pathAlerts
	if len(filters) > 0 {
		q := url.Values{}
		for _, f := range filters {
			q.Add("filter", f)
		}
		path += "?" + q.Encode()
	}
	var out json.RawMessage
	if _, err := c.do(ctx, http.MethodGet, path, "alerts", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListSilences returns the raw silence list.
func (c *Client) ListSilences(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	if _, err := c.do(ctx, http.MethodGet, pathSilences, "silences", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// do sends a request, retrying transient failures with linear backoff.
func (c *Client) do(ctx context.Context, method, path, endpoint string, body []byte, out any) (Result, error) {
	start := time.Now()
	res := Result{Method: method, URL: c.baseURL + path}
	op := method + " " + endpoint

	var lastErr error
	for attempt := 1; attempt <= c.retries+1; attempt++ {
		res.Attempts = attempt
		resp, err := c.once(ctx, method, path, endpoint, body)
		res.StatusCode = resp.status
		res.Body = truncate(resp.body, maxBodyLog)
		if err == nil {
			res.Duration = time.Since(start)
			if out != nil && len(resp.body) > 0 {
				if err := json.Unmarshal([]byte(resp.body), out); err != nil {
					return res, faults.Fatal(op, fmt.Errorf("decode response: %w", err))
				}
			}
			return res, nil
		}
		lastErr = err
		if !faults.IsTransient(err) || attempt > c.retries {
			break
		}

		wait := c.interval * time.Duration(attempt)
		c.logger.Debug("alertmanager request retry",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			res.Duration = time.Since(start)
			return res, faults.Transient(op, ctx.Err())
		case <-timer.C:
		}
	}
	res.Duration = time.Since(start)
	metrics.IncError("alertmanager", string(faults.KindOf(lastErr)))
	return res, lastErr
}

type response struct {
	status int
	body   string
}

func (c *Client) once(ctx context.Context, method, path, endpoint string, body []byte) (response, error) {
	op := method + " " + endpoint
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return response{}, faults.Fatal(op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	metrics.ObserveGatewayRequest(method, endpoint, time.Since(start))
	if err != nil {
		return response{}, faults.Transient(op, err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	out := response{status: resp.StatusCode, body: string(data)}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return out, faults.Fatal(op, errNotFound)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return out, faults.Transient(op, &HTTPError{StatusCode: resp.StatusCode, Body: truncate(out.body, 512)})
	case resp.StatusCode >= 300:
		return out, faults.Fatal(op, &HTTPError{StatusCode: resp.StatusCode, Body: truncate(out.body, 512)})
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
