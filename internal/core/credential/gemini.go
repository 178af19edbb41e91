package credential

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/steveyiyo/voicebridge/internal/core/gemini"
	"github.com/steveyiyo/voicebridge/internal/logging"
	"github.com/steveyiyo/voicebridge/internal/metrics"
)

type TokenMinter interface {
	CreateToken(ctx context.Context, req gemini.TokenRequest) (gemini.Token, error)
}

// GeminiIssuer mints Live API auth tokens locked to Model.
type GeminiIssuer struct {
	Minter TokenMinter
	Model  string
	Log    *slog.Logger
	Now    func() time.Time
}

func NewGeminiIssuer(m TokenMinter, model string, log *slog.Logger) *GeminiIssuer {
	return &GeminiIssuer{Minter: m, Model: model, Log: log, Now: time.Now}
}

func (g *GeminiIssuer) Issue(ctx context.Context, opts Options) (Credential, error) {
	if g.Minter == nil {
		return Credential{}, ErrConfig
	}
	start := time.Now()
	tok, err := g.Minter.CreateToken(ctx, gemini.TokenRequest{Model: g.Model, Instructions: opts.Instructions})
	metrics.ObserveUpstream("auth_tokens", start)

	var se *gemini.StatusError
	switch {
	case errors.Is(err, gemini.ErrEmptyToken):
		g.Log.Error("gemini token reply had no name")
		return Credential{}, &MalformedResponseError{}
	case errors.As(err, &se):
		body := logging.RedactString(se.Body)
		g.Log.Error("gemini token request rejected", "status", se.Status, "body", body)
		return Credential{}, &UpstreamError{Status: se.Status, Body: body}
	case err != nil:
		g.Log.Error("gemini token request failed", "err", logging.RedactString(err.Error()))
		return Credential{}, &UpstreamError{Status: http.StatusBadGateway, Body: logging.RedactString(err.Error())}
	}

	exp := tok.ExpiresAt
	if exp.IsZero() {
		exp = g.Now().Add(FallbackTTL)
	}
	return Credential{Token: tok.Name, ExpiresAt: exp}, nil
}
