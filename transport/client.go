// Package transport is the shared HTTP/SSE boundary every OpenAI-compatible
// and Mistral adapter issues requests through. Anthropic and Gemini adapters
// use their own SDKs' transports and bypass this package (see
// provider/anthropic and provider/gemini), producing canonical events
// directly instead of through streamnorm.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// StatusClassifier maps an HTTP status code to a provider-specific error
// kind, since different providers attach different meaning to the same
// status code (OpenAI's 429 always means rate_limited; some self-hosted
// backends return 429 for a full queue instead).
type StatusClassifier func(status int) ErrorKind

// Client issues chat-completion requests through one connection pool
// shared by every Client that New builds, so every provider adapter reuses
// it: a host process building several Agents for different providers
// does not pay for a new connection pool per agent.
type Client struct {
	HTTP       *http.Client
	BaseURL    string
	APIKey     string
	Headers    map[string]string
	Classifier StatusClassifier
}

// sharedTransport is the one connection pool every Client built by New
// issues its requests through.
var sharedTransport = &http.Transport{
	MaxIdleConns:        100,
	MaxIdleConnsPerHost: 20,
	IdleConnTimeout:     90 * time.Second,
}

// New builds a Client whose *http.Client uses the shared, tuned connection
// pool.
func New(baseURL, apiKey string, classifier StatusClassifier) *Client {
	return &Client{
		HTTP: &http.Client{
			Timeout:   120 * time.Second,
			Transport: sharedTransport,
		},
		BaseURL:    baseURL,
		APIKey:     apiKey,
		Classifier: classifier,
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	for k, v := range c.Headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

// Do sends a single non-streaming JSON request and unmarshals the response
// body into out.
func (c *Client) Do(ctx context.Context, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return &Error{Kind: ErrorKindNetwork, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Kind: ErrorKindNetwork, Message: err.Error(), Err: err}
	}

	if resp.StatusCode >= 400 {
		return c.classify(resp.StatusCode, respBody)
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// DoStream sends a streaming JSON request and returns an EventStream the
// caller pulls frames from one at a time.
func (c *Client) DoStream(ctx context.Context, path string, payload interface{}) (*EventStream, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, &Error{Kind: ErrorKindNetwork, Message: err.Error(), Err: err}
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		return nil, c.classify(resp.StatusCode, respBody)
	}

	return newEventStream(resp.Body), nil
}

func (c *Client) classify(status int, body []byte) error {
	kind := ErrorKindServer
	if c.Classifier != nil {
		kind = c.Classifier(status)
	} else {
		kind = defaultClassify(status)
	}
	return &Error{Kind: kind, Status: status, Message: string(body)}
}

func defaultClassify(status int) ErrorKind {
	switch {
	case status == 401 || status == 403:
		return ErrorKindAuth
	case status == 429:
		return ErrorKindRateLimited
	case status >= 500:
		return ErrorKindServer
	default:
		return ErrorKindBadRequest
	}
}
