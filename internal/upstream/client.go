package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Observer receives one call per upstream HTTP request.
type Observer func(api string, category Category, elapsed time.Duration)

// Options configure a Client.
type Options struct {
	BaseURL       string
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
	Retry         RetryConfig
	HTTPClient    *http.Client
	Observer      Observer
	// Header names the request header carrying the credential; empty means Bearer authorization.
	Header string
	Extra  map[string]string
}

// Client is a paced JSON-over-HTTP client with retries and error classification.
type Client struct {
	base     string
	http     *http.Client
	limiter  *rate.Limiter
	retry    RetryConfig
	observer Observer
	header   string
	extra    map[string]string
}

func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 5
	}
	return &Client{
		base:     strings.TrimRight(opts.BaseURL, "/"),
		http:     httpClient,
		limiter:  rate.NewLimiter(limit, burst),
		retry:    opts.Retry,
		observer: opts.Observer,
		header:   opts.Header,
		extra:    opts.Extra,
	}
}

// Post sends body to path with the credential and returns the raw response body.
// Transient failures are retried; every returned error is an *Error.
func (c *Client) Post(ctx context.Context, api, path, credential, contentType string, body []byte) ([]byte, error) {
	var out []byte
	err := DoWithRetry(ctx, c.retry, func(ctx context.Context) error {
		resp, err := c.once(ctx, api, path, credential, contentType, body)
		if err != nil {
			return err
		}
		out = resp
		return nil
	})
	return out, err
}

func (c *Client) once(ctx context.Context, api, path, credential, contentType string, body []byte) ([]byte, error) {
	start := time.Now()
	category := Category("ok")
	defer func() {
		if c.observer != nil {
			c.observer(api, category, time.Since(start))
		}
	}()

	if err := c.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		} else {
			err = context.DeadlineExceeded
		}
		e := Classify(0, nil, err)
		category = e.Category
		return nil, e
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		category = CategoryGeneric
		return nil, &Error{Category: CategoryGeneric, Err: fmt.Errorf("build request: %w", err)}
	}
	if contentType == "" {
		contentType = "application/json"
	}
	req.Header.Set("Content-Type", contentType)
	if credential != "" {
		if c.header != "" {
			req.Header.Set(c.header, credential)
		} else {
			req.Header.Set("Authorization", "Bearer "+credential)
		}
	}
	for k, v := range c.extra {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		e := Classify(0, nil, err)
		category = e.Category
		return nil, e
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		e := Classify(0, nil, err)
		category = e.Category
		return nil, e
	}
	if resp.StatusCode >= 300 {
		e := Classify(resp.StatusCode, data, nil)
		category = e.Category
		return nil, e
	}
	return data, nil
}
