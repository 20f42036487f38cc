// Package brim is the client for the external abstraction engine. The
// engine accepts three CSV files, runs an extraction job and returns two
// CSV files. A job that fails or times out is retried from the upload; the
// engine has no partial-result API.
package brim

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/avast/retry-go"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

var (
	ErrEngineTimeout = errors.New("abstraction engine did not finish before the timeout")
	ErrEngineFailed  = errors.New("abstraction engine job failed")
)

// RetryableError marks a failure the caller may retry by resubmitting the
// whole package.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return "retryable: " + e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is marked retryable.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// Package is the engine input.
type Package struct {
	Variables []byte
	Decisions []byte
	Project   []byte
}

// Results is the engine output.
type Results struct {
	JobID      string
	Extraction []byte
	Decisions  []byte
}

// Job status values reported by the engine.
const (
	StatusPending  = "pending"
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

type jobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Client talks to one engine project.
type Client struct {
	http         *resty.Client
	projectID    string
	timeout      time.Duration
	pollInterval time.Duration
	maxAttempts  uint
	retryDelay   time.Duration
	logger       zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds each submission attempt.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithPollInterval sets the job status polling interval.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) { c.pollInterval = d }
}

// WithMaxAttempts sets the number of wholesale submission attempts.
func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxAttempts = uint(n)
		}
	}
}

// WithRetryDelay sets the base delay between attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) { c.retryDelay = d }
}

// WithLogger sets the client logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient returns a Client for baseURL and projectID.
func NewClient(baseURL, apiKey, projectID string, opts ...Option) *Client {
	h := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Accept", "application/json")
	if apiKey != "" {
		h.SetAuthToken(apiKey)
	}
	c := &Client{
		http:         h,
		projectID:    projectID,
		timeout:      30 * time.Minute,
		pollInterval: 10 * time.Second,
		maxAttempts:  3,
		retryDelay:   5 * time.Second,
		logger:       zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Submit uploads the package, runs an extraction job and downloads the
// results. Retryable failures are retried wholesale up to the configured
// number of attempts; the last error is returned.
func (c *Client) Submit(ctx context.Context, pkg Package) (*Results, error) {
	var res *Results
	err := retry.Do(
		func() error {
			r, err := c.submitOnce(ctx, pkg)
			if err != nil {
				return err
			}
			res = r
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(c.maxAttempts),
		retry.Delay(c.retryDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(IsRetryable),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn().Err(err).Uint("attempt", n+1).Str("project_id", c.projectID).Msg("engine submission failed; retrying")
		}),
	)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Client) submitOnce(parent context.Context, pkg Package) (*Results, error) {
	ctx, cancel := context.WithTimeout(parent, c.timeout)
	defer cancel()

	res, err := c.run(ctx, pkg)
	if err != nil && parent.Err() == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, &RetryableError{Err: fmt.Errorf("%w after %s", ErrEngineTimeout, c.timeout)}
	}
	return res, err
}

func (c *Client) run(ctx context.Context, pkg Package) (*Results, error) {
	for _, f := range []struct {
		kind string
		name string
		data []byte
	}{
		{"variables", "variables.csv", pkg.Variables},
		{"decisions", "decisions.csv", pkg.Decisions},
		{"project", "project.csv", pkg.Project},
	} {
		if err := c.upload(ctx, f.kind, f.name, f.data); err != nil {
			return nil, err
		}
	}

	var job jobResponse
	resp, err := c.http.R().SetContext(ctx).SetResult(&job).
		Post("/api/v1/projects/" + c.projectID + "/extractions")
	if err := check(resp, err, "start extraction"); err != nil {
		return nil, err
	}
	if job.JobID == "" {
		return nil, fmt.Errorf("%w: start extraction returned no job id", ErrEngineFailed)
	}
	c.logger.Info().Str("project_id", c.projectID).Str("job_id", job.JobID).Msg("engine job started")

	if err := c.wait(ctx, job.JobID); err != nil {
		return nil, err
	}

	out := &Results{JobID: job.JobID}
	if out.Extraction, err = c.download(ctx, job.JobID, "extraction"); err != nil {
		return nil, err
	}
	if out.Decisions, err = c.download(ctx, job.JobID, "decisions"); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) upload(ctx context.Context, kind, name string, data []byte) error {
	resp, err := c.http.R().SetContext(ctx).
		SetFormData(map[string]string{"type": kind}).
		SetFileReader("file", name, bytes.NewReader(data)).
		Post("/api/v1/projects/" + c.projectID + "/files")
	return check(resp, err, "upload "+name)
}

func (c *Client) wait(ctx context.Context, jobID string) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		var job jobResponse
		resp, err := c.http.R().SetContext(ctx).SetResult(&job).
			Get("/api/v1/projects/" + c.projectID + "/extractions/" + jobID)
		if err := check(resp, err, "poll job "+jobID); err != nil {
			return err
		}
		switch job.Status {
		case StatusComplete:
			return nil
		case StatusFailed:
			return &RetryableError{Err: fmt.Errorf("%w: job %s: %s", ErrEngineFailed, jobID, job.Error)}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) download(ctx context.Context, jobID, kind string) ([]byte, error) {
	resp, err := c.http.R().SetContext(ctx).
		SetHeader("Accept", "text/csv").
		SetQueryParam("kind", kind).
		Get("/api/v1/projects/" + c.projectID + "/extractions/" + jobID + "/results")
	if err := check(resp, err, "download "+kind); err != nil {
		return nil, err
	}
	return resp.Body(), nil
}

// check maps transport errors and 5xx responses to retryable errors and
// other non-2xx responses to permanent ones.
func check(resp *resty.Response, err error, op string) error {
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%s: %w", op, err)
		}
		return &RetryableError{Err: fmt.Errorf("%s: %w", op, err)}
	}
	if resp.IsSuccess() {
		return nil
	}
	e := fmt.Errorf("%w: %s: status %d: %s", ErrEngineFailed, op, resp.StatusCode(), bytes.TrimSpace(resp.Body()))
	if resp.StatusCode() >= http.StatusInternalServerError || resp.StatusCode() == http.StatusTooManyRequests {
		return &RetryableError{Err: e}
	}
	return e
}
