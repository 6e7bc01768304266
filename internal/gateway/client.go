// Package gateway issues authenticated calls to external REST APIs.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"agentdesk/internal/domain"
)

// TokenSource is satisfied by credentials.Cache and credentials.Static.
type TokenSource interface {
	GetToken(ctx context.Context) (string, error)
	Invalidate()
}

type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Client attaches a bearer token to every request. A 401 invalidates the
// token, re-authenticates and retries exactly once.
type Client struct {
	name    string
	baseURL string
	tokens  TokenSource
	http    *http.Client
	logger  *zap.Logger
}

func New(name, baseURL string, tokens TokenSource, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		http:    httpClient,
		logger:  logger,
	}
}

func (c *Client) Name() string    { return c.name }
func (c *Client) BaseURL() string { return c.baseURL }

// Request sends body (JSON-encoded when not nil) and returns the raw 2xx
// response.
func (c *Client) Request(ctx context.Context, method, path string, body any) (*Response, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
	}

	resp, err := c.send(ctx, method, path, payload)
	if err != nil {
		return nil, err
	}
	if resp.Status == http.StatusUnauthorized {
		c.logger.Info("gateway unauthorized, re-authenticating",
			zap.String("system", c.name), zap.String("method", method), zap.String("path", path))
		c.tokens.Invalidate()
		resp, err = c.send(ctx, method, path, payload)
		if err != nil {
			return nil, err
		}
		if resp.Status == http.StatusUnauthorized {
			c.tokens.Invalidate()
			return nil, fmt.Errorf("%s %s: %w", method, path, domain.ErrSessionExpired)
		}
	}
	if resp.Status < 200 || resp.Status > 299 {
		return nil, &domain.GatewayError{Status: resp.Status, Body: string(resp.Body)}
	}
	return resp, nil
}

// DoJSON is Request followed by decoding the body into out (when not nil).
func (c *Client) DoJSON(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.Request(ctx, method, path, body)
	if err != nil {
		return err
	}
	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte) (*Response, error) {
	token, err := c.tokens.GetToken(ctx)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url(path), reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("gateway request failed",
			zap.String("system", c.name), zap.String("method", method), zap.String("path", path), zap.Error(err))
		return nil, &domain.BackendUnavailableError{
			Endpoint: c.baseURL,
			Hint:     fmt.Sprintf("check that the %s API or its local proxy is listening at %s", c.name, c.baseURL),
			Err:      err,
		}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.BackendUnavailableError{
			Endpoint: c.baseURL,
			Hint:     "connection dropped while reading the response",
			Err:      err,
		}
	}
	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

func (c *Client) url(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}
