// Package verifier provides a client for identity-verification backends.
// Each backend exposes a verify endpoint that accepts a multipart image
// upload and replies with a confidence score.
package verifier

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Result is the parsed reply from a verify endpoint. Score is a pointer so
// a missing field can be told apart from zero; the caller decides validity.
type Result struct {
	Score        *float64 `json:"score"`
	IsMatch      bool     `json:"is_me"`
	Name         string   `json:"name"`
	ModelVersion string   `json:"model_version"`
}

// Client posts an image to a backend's verify endpoint. The int return is
// the HTTP status code when a response was received (0 otherwise).
type Client interface {
	Verify(ctx context.Context, endpointURL string, image []byte) (*Result, int, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit caps outbound verify calls across all backends.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *httpClient) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

type httpClient struct {
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a verify client. Per-call deadlines come from the
// caller's context, so the underlying http.Client carries no timeout of
// its own.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Verify(ctx context.Context, endpointURL string, image []byte) (*Result, int, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, 0, err
		}
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("image", "img.jpg")
	if err != nil {
		return nil, 0, eris.Wrap(err, "verifier: create form file")
	}
	if _, err := part.Write(image); err != nil {
		return nil, 0, eris.Wrap(err, "verifier: write image part")
	}
	if err := w.Close(); err != nil {
		return nil, 0, eris.Wrap(err, "verifier: close multipart writer")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, &buf)
	if err != nil {
		return nil, 0, eris.Wrap(err, "verifier: create request")
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, eris.Wrap(err, "verifier: read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode, eris.Errorf("verifier: status %d: %s", resp.StatusCode, string(body))
	}

	var result Result
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, resp.StatusCode, eris.Wrap(err, "verifier: unmarshal response")
	}

	return &result, resp.StatusCode, nil
}
