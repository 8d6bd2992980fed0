package cds

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rtm0/era5daily/internal/era5"
)

// ErrJobFailed is returned when the Climate Data Store reports that a
// retrieval job did not succeed.
var ErrJobFailed = errors.New("retrieval job failed")

// APIError is a non-2xx response from the Climate Data Store.
type APIError struct {
	StatusCode int    `json:"-"`
	Title      string `json:"title"`
	Detail     string `json:"detail"`
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("cds: status %d", e.StatusCode)
	if e.Title != "" {
		msg += ": " + e.Title
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Client retrieves data from the Climate Data Store retrieve API. A
// retrieval is submitted as an asynchronous job which is polled until it
// finishes; its result is then downloaded.
type Client struct {
	logger          *slog.Logger
	httpCli         *http.Client
	baseURL         *url.URL
	key             string
	pollInterval    time.Duration
	maxPollInterval time.Duration
}

// Options configures a Client.
type Options struct {
	URL             string
	Key             string
	PollInterval    time.Duration
	MaxPollInterval time.Duration
}

// NewClient creates a new CDS client.
func NewClient(logger *slog.Logger, opts Options) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(opts.URL, "/"))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported CDS API URL %q", opts.URL)
	}

	// Legacy keys have the form "<uid>:<key>"; the retrieve API only
	// wants the key.
	key := opts.Key
	if _, k, ok := strings.Cut(key, ":"); ok {
		key = k
	}
	if _, err := uuid.Parse(key); err != nil {
		return nil, fmt.Errorf("CDS API key is not a valid key: %w", err)
	}
	if opts.PollInterval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %s", opts.PollInterval)
	}
	if opts.MaxPollInterval < opts.PollInterval {
		opts.MaxPollInterval = opts.PollInterval
	}

	return &Client{
		logger: logger,
		httpCli: &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   30 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:          2,
				IdleConnTimeout:       30 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: 2 * time.Minute,
			},
		},
		baseURL:         u,
		key:             key,
		pollInterval:    opts.PollInterval,
		maxPollInterval: opts.MaxPollInterval,
	}, nil
}

// Job states reported by the retrieve API.
const (
	statusAccepted   = "accepted"
	statusRunning    = "running"
	statusSuccessful = "successful"
	statusFailed     = "failed"
	statusRejected   = "rejected"
	statusDismissed  = "dismissed"
)

type job struct {
	ID     string `json:"jobID"`
	Status string `json:"status"`
}

type results struct {
	Asset struct {
		Value struct {
			Href string `json:"href"`
			Size int64  `json:"file:size"`
		} `json:"value"`
	} `json:"asset"`
}

// Retrieve submits req, blocks until the data is ready and writes it to
// target. Nothing is written at target unless the whole download succeeded.
func (c *Client) Retrieve(ctx context.Context, req era5.Request, target string) error {
	j, err := c.submit(ctx, req)
	if err != nil {
		return err
	}
	logger := c.logger.With("job", j.ID, "dataset", req.Dataset)
	logger.Info("Job submitted", "status", j.Status)

	if err := c.wait(ctx, logger, j); err != nil {
		return err
	}

	var res results
	if err := c.doJSON(ctx, http.MethodGet, c.endpoint("jobs", j.ID, "results"), nil, &res); err != nil {
		return err
	}
	href, err := c.baseURL.Parse(res.Asset.Value.Href)
	if err != nil || res.Asset.Value.Href == "" {
		return fmt.Errorf("job %s: no result location", j.ID)
	}
	logger.Info("Downloading result", "size", res.Asset.Value.Size)
	return c.download(ctx, href.String(), res.Asset.Value.Size, target)
}

func (c *Client) submit(ctx context.Context, req era5.Request) (*job, error) {
	body := map[string]any{"inputs": req.Payload()}
	var j job
	if err := c.doJSON(ctx, http.MethodPost, c.endpoint("processes", req.Dataset, "execution"), body, &j); err != nil {
		return nil, err
	}
	if j.ID == "" {
		return nil, errors.New("cds: job submission returned no job id")
	}
	return &j, nil
}

func (c *Client) wait(ctx context.Context, logger *slog.Logger, j *job) error {
	delay := c.pollInterval
	for {
		switch j.Status {
		case statusSuccessful:
			return nil
		case statusFailed, statusRejected, statusDismissed:
			return c.jobError(ctx, j)
		case statusAccepted, statusRunning:
		default:
			logger.Warn("Unknown job status", "status", j.Status)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay = min(delay*3/2, c.maxPollInterval)

		status := j.Status
		if err := c.doJSON(ctx, http.MethodGet, c.endpoint("jobs", j.ID), nil, j); err != nil {
			return err
		}
		if j.Status != status {
			logger.Info("Job status changed", "status", j.Status)
		}
	}
}

// jobError asks for the results of a finished job, which for failed jobs
// carries the reason.
func (c *Client) jobError(ctx context.Context, j *job) error {
	err := c.doJSON(ctx, http.MethodGet, c.endpoint("jobs", j.ID, "results"), nil, &results{})
	if err != nil {
		return fmt.Errorf("%w: job %s %s: %w", ErrJobFailed, j.ID, j.Status, err)
	}
	return fmt.Errorf("%w: job %s %s", ErrJobFailed, j.ID, j.Status)
}

func (c *Client) endpoint(elems ...string) string {
	return c.baseURL.JoinPath(append([]string{"retrieve", "v1"}, elems...)...).String()
}

func (c *Client) doJSON(ctx context.Context, method, u string, body, out any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return err
	}
	req.Header.Set("PRIVATE-TOKEN", c.key)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.httpCli.Do(req)
	if err != nil {
		return err
	}
	defer closeBody(c.logger, res)

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return apiError(res)
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s: %w", method, u, err)
	}
	return nil
}

func (c *Client) download(ctx context.Context, href string, size int64, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, href, nil)
	if err != nil {
		return err
	}
	res, err := c.httpCli.Do(req)
	if err != nil {
		return err
	}
	defer closeBody(c.logger, res)
	if res.StatusCode != http.StatusOK {
		return apiError(res)
	}

	part := target + ".part"
	f, err := os.Create(part)
	if err != nil {
		return err
	}
	n, err := io.Copy(f, res.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && size > 0 && n != size {
		err = fmt.Errorf("downloaded %d bytes, expected %d", n, size)
	}
	if err != nil {
		os.Remove(part)
		return fmt.Errorf("downloading %s: %w", href, err)
	}
	return os.Rename(part, target)
}

func apiError(res *http.Response) error {
	e := &APIError{StatusCode: res.StatusCode}
	b, _ := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	if json.Unmarshal(b, e) != nil && len(b) > 0 {
		e.Detail = strings.TrimSpace(string(b))
	}
	return e
}

func closeBody(logger *slog.Logger, res *http.Response) {
	if _, err := io.Copy(io.Discard, res.Body); err != nil {
		logger.Error("Failed to drain response body", "err", err)
	}
	res.Body.Close()
}
