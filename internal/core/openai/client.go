package openai

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// ErrNoAPIKey is returned before any network call when the server secret is absent.
var ErrNoAPIKey = errors.New("openai: api key not configured")

const maxBody = 1 << 20

// StatusError is a non-2xx reply from the upstream API.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("openai %s: status %d", e.Op, e.Status)
}

// Client talks to the realtime REST endpoints with the server-held key.
// The key never leaves this type.
type Client struct {
	apiKey  string
	baseURL string
	hc      *http.Client
}

func New(apiKey, baseURL string, timeout time.Duration) *Client {
	tr := &http.Transport{
		Proxy:             http.ProxyFromEnvironment,
		TLSClientConfig:   &tls.Config{MinVersion: tls.VersionTLS12},
		ForceAttemptHTTP2: true,
		MaxIdleConns:      100,
		IdleConnTimeout:   90 * time.Second,
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      &http.Client{Transport: tr, Timeout: timeout},
	}
}

func (c *Client) Configured() bool { return c != nil && c.apiKey != "" }

// CreateClientSecret posts body to /v1/realtime/client_secrets and returns the raw reply.
func (c *Client) CreateClientSecret(ctx context.Context, body any) ([]byte, error) {
	if !c.Configured() {
		return nil, ErrNoAPIKey
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode client secret request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/realtime/client_secrets", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, "client_secrets")
}

// CreateCall sends an SDP offer plus session JSON as multipart form fields
// to /v1/realtime/calls. The reply body is the SDP answer, untouched.
func (c *Client) CreateCall(ctx context.Context, offerSDP string, session any) ([]byte, error) {
	if !c.Configured() {
		return nil, ErrNoAPIKey
	}
	sess, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("sdp", offerSDP); err != nil {
		return nil, err
	}
	if err := mw.WriteField("session", string(sess)); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/realtime/calls", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.do(req, "calls")
}

func (c *Client) do(req *http.Request, op string) ([]byte, error) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai %s: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("openai %s: read body: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Op: op, Status: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}
