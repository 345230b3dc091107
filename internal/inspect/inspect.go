// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package inspect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// ErrNotConfigured is returned by Disabled.
var ErrNotConfigured = errors.New("structure inspection service is not configured")

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 8 << 20

// Inspector asks a generative inspection service to describe an uploaded sample.
// The returned bytes are JSON that should, but is not guaranteed to, follow shape.
type Inspector interface {
	Inspect(ctx context.Context, fileURL, prompt string, shape map[string]any) ([]byte, error)
}

// Disabled is an Inspector that always fails with ErrNotConfigured.
type Disabled struct{}

func (Disabled) Inspect(context.Context, string, string, map[string]any) ([]byte, error) {
	return nil, ErrNotConfigured
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// Options configures a Client.
type Options struct {
	Endpoint     string
	APIKey       string
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// Client calls an HTTP inspection endpoint.
type Client struct {
	http     *retryablehttp.Client
	endpoint string
	apiKey   string
	logger   *zap.Logger
}

type request struct {
	Prompt             string         `json:"prompt"`
	FileURLs           []string       `json:"file_urls"`
	ResponseJSONSchema map[string]any `json:"response_json_schema"`
}

// NewClient creates a new inspection client.
func NewClient(opts Options, logger *zap.Logger) *Client {
	client := retryablehttp.NewClient()
	client.HTTPClient = &http.Client{Timeout: opts.Timeout}
	client.Logger = nil
	client.RetryMax = opts.RetryMax
	if opts.RetryWaitMin > 0 {
		client.RetryWaitMin = opts.RetryWaitMin
	}
	if opts.RetryWaitMax > 0 {
		client.RetryWaitMax = opts.RetryWaitMax
	}

	return &Client{
		http:     client,
		endpoint: opts.Endpoint,
		apiKey:   opts.APIKey,
		logger:   logger,
	}
}

// Inspect implements Inspector.
func (c *Client) Inspect(ctx context.Context, fileURL, prompt string, shape map[string]any) ([]byte, error) {
	payload, err := json.Marshal(request{
		Prompt:             prompt,
		FileURLs:           []string{fileURL},
		ResponseJSONSchema: shape,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 512)}
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("decode response: invalid JSON")
	}

	c.logger.Debug("Inspection completed",
		zap.String("file_url", fileURL),
		zap.Int("response_bytes", len(body)),
		zap.Duration("elapsed", time.Since(start)))

	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
