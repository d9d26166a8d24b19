// Package solver implements the HTTP client for the external captcha
// solving service (classic in.php/res.php API).
package solver

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/litigio/casefile-monitor/internal/monitor"
)

const (
	defaultBaseURL      = "https://2captcha.com"
	defaultPollInterval = 5 * time.Second
	defaultTimeout      = 90 * time.Second
)

// Client talks to the solver service. It implements both
// monitor.ImageSolver and monitor.TokenSolver.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	apiKey       string
	pollInterval time.Duration
	timeout      time.Duration
}

// Option tweaks client construction.
type Option func(*Client)

// WithBaseURL overrides the service endpoint (tests).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithPollInterval overrides the answer poll cadence.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) { c.pollInterval = d }
}

// WithTimeout bounds one full solve round-trip.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// New constructs a Client for the given API key.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		baseURL:      defaultBaseURL,
		apiKey:       apiKey,
		pollInterval: defaultPollInterval,
		timeout:      defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SolveImage submits a captcha image and polls for its text.
func (c *Client) SolveImage(ctx context.Context, image []byte) (string, error) {
	form := url.Values{
		"key":    {c.apiKey},
		"method": {"base64"},
		"body":   {base64.StdEncoding.EncodeToString(image)},
	}
	return c.solve(ctx, form)
}

// SolveChallenge submits an interactive challenge and polls for a token.
func (c *Client) SolveChallenge(ctx context.Context, siteKey, pageURL string) (string, error) {
	form := url.Values{
		"key":       {c.apiKey},
		"method":    {"userrecaptcha"},
		"googlekey": {siteKey},
		"pageurl":   {pageURL},
	}
	return c.solve(ctx, form)
}

func (c *Client) solve(ctx context.Context, form url.Values) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	taskID, err := c.submit(ctx, form)
	if err != nil {
		return "", err
	}
	return c.poll(ctx, taskID)
}

func (c *Client) submit(ctx context.Context, form url.Values) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/in.php", strings.NewReader(form.Encode()))
	if err != nil {
		return "", monitor.Scrapef(monitor.KindSolverAPI, "build submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := c.do(req)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(body, "OK|") {
		return "", monitor.Scrapef(monitor.KindSolverAPI, "solver rejected task: %s", body)
	}
	return strings.TrimPrefix(body, "OK|"), nil
}

func (c *Client) poll(ctx context.Context, taskID string) (string, error) {
	query := url.Values{
		"key":    {c.apiKey},
		"action": {"get"},
		"id":     {taskID},
	}
	pollURL := c.baseURL + "/res.php?" + query.Encode()

	for {
		select {
		case <-ctx.Done():
			return "", monitor.Scrapef(monitor.KindSolverAPI, "solver poll: %w", ctx.Err())
		case <-time.After(c.pollInterval):
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pollURL, nil)
		if err != nil {
			return "", monitor.Scrapef(monitor.KindSolverAPI, "build poll request: %w", err)
		}
		body, err := c.do(req)
		if err != nil {
			return "", err
		}
		switch {
		case body == "CAPCHA_NOT_READY":
			continue
		case strings.HasPrefix(body, "OK|"):
			return strings.TrimPrefix(body, "OK|"), nil
		default:
			return "", monitor.Scrapef(monitor.KindSolverAPI, "solver error: %s", body)
		}
	}
}

func (c *Client) do(req *http.Request) (string, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", monitor.Scrapef(monitor.KindSolverAPI, "solver request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", monitor.Scrapef(monitor.KindSolverAPI, "read solver response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", monitor.Scrapef(monitor.KindSolverAPI, "solver status %d: %s", resp.StatusCode, raw)
	}
	return strings.TrimSpace(string(raw)), nil
}
