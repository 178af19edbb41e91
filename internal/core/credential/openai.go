package credential

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/steveyiyo/voicebridge/internal/core/openai"
	"github.com/steveyiyo/voicebridge/internal/logging"
	"github.com/steveyiyo/voicebridge/internal/metrics"

	"github.com/openai/openai-go/v3/realtime"
)

type SecretCreator interface {
	CreateClientSecret(ctx context.Context, body any) ([]byte, error)
}

type OpenAIIssuer struct {
	Upstream SecretCreator
	Model    string
	Log      *slog.Logger
	Now      func() time.Time
}

func NewOpenAIIssuer(up SecretCreator, model string, log *slog.Logger) *OpenAIIssuer {
	return &OpenAIIssuer{Upstream: up, Model: model, Log: log, Now: time.Now}
}

type secretRequest struct {
	Session *realtime.RealtimeSessionCreateRequestParam `json:"session"`
}

type secretValue struct {
	Value     string          `json:"value"`
	ExpiresAt json.RawMessage `json:"expires_at"`
}

// Both the GA (top-level value) and beta (client_secret.value) shapes are accepted.
type secretResponse struct {
	secretValue
	ClientSecret *secretValue `json:"client_secret"`
}

func (i *OpenAIIssuer) Issue(ctx context.Context, opts Options) (Credential, error) {
	req := secretRequest{Session: openai.SessionParams(i.Model, opts.Instructions, opts.Voice)}

	start := time.Now()
	raw, err := i.Upstream.CreateClientSecret(ctx, req)
	metrics.ObserveUpstream("client_secrets", start)
	if err != nil {
		var se *openai.StatusError
		switch {
		case errors.Is(err, openai.ErrNoAPIKey):
			return Credential{}, ErrConfig
		case errors.As(err, &se):
			body := logging.RedactString(se.Body)
			i.Log.Error("credential upstream rejected request", "status", se.Status, "body", body)
			return Credential{}, &UpstreamError{Status: se.Status, Body: body}
		default:
			return Credential{}, err
		}
	}

	cred, ok := i.parse(raw)
	if !ok {
		i.Log.Error("credential upstream returned unexpected payload", "raw", logging.RedactString(string(raw)))
		return Credential{}, &MalformedResponseError{Raw: logging.RedactString(string(raw))}
	}
	return cred, nil
}

func (i *OpenAIIssuer) parse(raw []byte) (Credential, bool) {
	var resp secretResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Credential{}, false
	}
	v := resp.secretValue
	if v.Value == "" && resp.ClientSecret != nil {
		v = *resp.ClientSecret
	}
	if strings.TrimSpace(v.Value) == "" {
		return Credential{}, false
	}
	now := i.Now()
	exp, ok := ParseExpiry(v.ExpiresAt)
	if !ok {
		exp = now.Add(FallbackTTL)
	}
	return Credential{Token: v.Value, ExpiresAt: exp}, true
}

// ParseExpiry accepts epoch seconds, epoch milliseconds, or an RFC3339 string,
// bare or quoted.
func ParseExpiry(raw json.RawMessage) (time.Time, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, false
	}
	s := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, false
		}
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t, true
		}
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || n <= 0 {
		return time.Time{}, false
	}
	if n > 1e12 {
		return time.UnixMilli(int64(n)), true
	}
	return time.Unix(int64(n), 0), true
}
