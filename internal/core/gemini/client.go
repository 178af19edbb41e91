package gemini

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"
)

var ErrEmptyToken = errors.New("gemini: auth token without name")

const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com"

	// Live API tokens expire after 30 minutes unless told otherwise and must
	// open their session within the first minute.
	DefaultTTL       = 30 * time.Minute
	newSessionWindow = time.Minute

	maxBody        = 1 << 20
	authTokensPath = "/v1alpha/auth_tokens"
	modelsPrefix   = "models/"
)

// StatusError is a non-2xx reply from the token endpoint.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gemini auth_tokens: status %d", e.Status)
}

// Client mints single-use Live API tokens. Ephemeral tokens exist only on v1alpha.
type Client struct {
	apiKey  string
	baseURL string
	hc      *http.Client
	Now     func() time.Time
}

func New(apiKey, baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	tr := &http.Transport{
		Proxy:             http.ProxyFromEnvironment,
		TLSClientConfig:   &tls.Config{MinVersion: tls.VersionTLS12},
		ForceAttemptHTTP2: false,
		MaxIdleConns:      100,
		IdleConnTimeout:   90 * time.Second,
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      &http.Client{Transport: tr, Timeout: timeout},
		Now:     time.Now,
	}
}

// TokenRequest locks the token to one model and, when set, one system instruction.
type TokenRequest struct {
	Model        string
	Instructions string
}

type Token struct {
	Name      string
	ExpiresAt time.Time
}

type authTokenRequest struct {
	Uses                 int32      `json:"uses"`
	ExpireTime           string     `json:"expireTime"`
	NewSessionExpireTime string     `json:"newSessionExpireTime"`
	Constraints          *liveSetup `json:"bidiGenerateContentSetup,omitempty"`
}

type liveSetup struct {
	Setup setup `json:"setup"`
}

type setup struct {
	Model             string                  `json:"model"`
	GenerationConfig  *genai.GenerationConfig `json:"generationConfig,omitempty"`
	SystemInstruction *genai.Content          `json:"systemInstruction,omitempty"`
}

// Body is the auth_tokens request for req at now.
func Body(req TokenRequest, now time.Time) any {
	body := authTokenRequest{
		Uses:                 1,
		ExpireTime:           now.Add(DefaultTTL).UTC().Format(time.RFC3339),
		NewSessionExpireTime: now.Add(newSessionWindow).UTC().Format(time.RFC3339),
	}
	if req.Model == "" {
		return body
	}
	model := req.Model
	if !strings.HasPrefix(model, modelsPrefix) {
		model = modelsPrefix + model
	}
	s := setup{
		Model:            model,
		GenerationConfig: &genai.GenerationConfig{ResponseModalities: []genai.Modality{genai.ModalityAudio}},
	}
	if req.Instructions != "" {
		s.SystemInstruction = &genai.Content{Parts: []*genai.Part{genai.NewPartFromText(req.Instructions)}}
	}
	body.Constraints = &liveSetup{Setup: s}
	return body
}

// CreateToken returns the token name the browser presents to the Live API.
// One request per call; retrying is the caller's decision.
func (g *Client) CreateToken(ctx context.Context, req TokenRequest) (Token, error) {
	now := g.Now()
	b, err := json.Marshal(Body(req, now))
	if err != nil {
		return Token{}, fmt.Errorf("encode auth token request: %w", err)
	}
	hr, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+authTokensPath, bytes.NewReader(b))
	if err != nil {
		return Token{}, err
	}
	hr.Header.Set("Content-Type", "application/json")
	hr.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.hc.Do(hr)
	if err != nil {
		return Token{}, fmt.Errorf("gemini auth_tokens: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return Token{}, fmt.Errorf("read auth token reply: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Token{}, &StatusError{Status: resp.StatusCode, Body: string(raw)}
	}

	var tok struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &tok); err != nil || strings.TrimSpace(tok.Name) == "" {
		return Token{}, ErrEmptyToken
	}
	return Token{Name: tok.Name, ExpiresAt: now.Add(DefaultTTL)}, nil
}
