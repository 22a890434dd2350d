package qa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Option configures the HTTP client.
type Option func(*httpClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithProvider selects the remote service's answer provider.
func WithProvider(provider string) Option {
	return func(c *httpClient) {
		c.provider = provider
	}
}

// WithRetrievalCount sets how many documents the remote service retrieves
// per question (clamped to 1..10 by the service contract).
func WithRetrievalCount(k int) Option {
	return func(c *httpClient) {
		c.k = k
	}
}

type httpClient struct {
	baseURL  string
	provider string
	k        int
	http     *http.Client
}

// NewClient creates a client for a remote retrieval-augmented QA service.
func NewClient(baseURL string, opts ...Option) Service {
	c := &httpClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		provider: "deepseek",
		k:        5,
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// chatResponse mirrors the remote service's reply shape.
type chatResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Result  struct {
		Answer  string `json:"answer"`
		Sources []struct {
			Title string `json:"title"`
			Page  any    `json:"page"`
		} `json:"sources"`
	} `json:"result"`
}

func (c *httpClient) Ask(ctx context.Context, question, requestID string) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, eris.New("qa: empty question")
	}

	k := c.k
	if k < 1 {
		k = 1
	}
	if k > 10 {
		k = 10
	}
	payload, err := json.Marshal(map[string]any{
		"message":  question,
		"provider": c.provider,
		"k":        k,
	})
	if err != nil {
		return nil, eris.Wrap(err, "qa: marshal request")
	}

	body, statusCode, err := c.retryDo(ctx, c.baseURL+"/api/chat", payload, requestID)
	if err != nil {
		return nil, eris.Wrap(err, "qa: request failed")
	}
	if statusCode != http.StatusOK {
		return nil, eris.Errorf("qa: unexpected status %d: %s", statusCode, string(body))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, eris.Wrap(err, "qa: unmarshal response")
	}
	if !parsed.Success {
		return nil, eris.Errorf("qa: service error: %s", parsed.Error)
	}
	if parsed.Result.Answer == "" {
		return nil, eris.New("qa: empty answer")
	}

	answer := &Answer{Text: parsed.Result.Answer}
	for _, src := range parsed.Result.Sources {
		citation := Citation{Doc: src.Title}
		if citation.Doc == "" {
			citation.Doc = "Unknown Document"
		}
		citation.Page = pageString(src.Page)
		answer.Citations = append(answer.Citations, citation)
	}

	zap.L().Debug("qa: answered",
		zap.String("request_id", requestID),
		zap.Int("citations", len(answer.Citations)),
	)
	return answer, nil
}

// pageString renders a page reference that may arrive as number or string.
func pageString(v any) string {
	switch p := v.(type) {
	case nil:
		return ""
	case string:
		return p
	case float64:
		return strconv.Itoa(int(p))
	default:
		return fmt.Sprint(p)
	}
}

// Health probes GET /health, falling back to a minimal chat request for
// deployments that do not expose a health route.
func (c *httpClient) Health(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err == nil {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			return true
		}
	}

	probe, err := json.Marshal(map[string]any{"message": "ping", "provider": c.provider, "k": 1})
	if err != nil {
		return false
	}
	preq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(probe))
	if err != nil {
		return false
	}
	preq.Header.Set("Content-Type", "application/json")
	presp, err := c.http.Do(preq)
	if err != nil {
		return false
	}
	presp.Body.Close()
	return presp.StatusCode < 500
}

// retryableStatusCode returns true if the HTTP status should trigger a retry.
func retryableStatusCode(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusInternalServerError ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable
}

// retryDo posts the payload with exponential backoff on transient failures.
func (c *httpClient) retryDo(ctx context.Context, url string, payload []byte, requestID string) ([]byte, int, error) {
	const maxAttempts = 3
	backoff := 500 * time.Millisecond

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, 0, eris.Wrap(err, "qa: create request")
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Request-ID", requestID)

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			if attempt < maxAttempts {
				select {
				case <-ctx.Done():
					return nil, 0, ctx.Err()
				case <-time.After(backoff):
				}
				backoff *= 2
				continue
			}
			return nil, 0, lastErr
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, resp.StatusCode, eris.Wrap(readErr, "qa: read response body")
		}

		if retryableStatusCode(resp.StatusCode) && attempt < maxAttempts {
			lastErr = eris.Errorf("qa: status %d: %s", resp.StatusCode, string(body))
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			continue
		}

		return body, resp.StatusCode, nil
	}

	return nil, 0, lastErr
}
