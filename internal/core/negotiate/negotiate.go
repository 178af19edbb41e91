// Package negotiate relays a browser SDP offer to the realtime calls endpoint
// with persona configuration attached, and hands the SDP answer back untouched.
package negotiate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/steveyiyo/voicebridge/internal/core/openai"
	"github.com/steveyiyo/voicebridge/internal/logging"
	"github.com/steveyiyo/voicebridge/internal/metrics"
	"github.com/steveyiyo/voicebridge/internal/persona"

	"github.com/openai/openai-go/v3/realtime"
)

var (
	ErrBadRequest = errors.New("missing SDP in request body")
	ErrConfig     = errors.New("upstream secret not configured")
)

// NegotiationError carries the upstream status so the caller can relay it as-is.
type NegotiationError struct {
	Status int
	Body   string
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("realtime negotiation failed: status %d", e.Status)
}

type CallCreator interface {
	CreateCall(ctx context.Context, offerSDP string, session any) ([]byte, error)
}

type Request struct {
	OfferSDP  string
	PersonaID string
	Voice     string
}

type Result struct {
	AnswerSDP []byte
	Params    persona.Params
}

type Negotiator struct {
	Upstream CallCreator
	Model    string
	Log      *slog.Logger
}

func New(up CallCreator, model string, log *slog.Logger) *Negotiator {
	return &Negotiator{Upstream: up, Model: model, Log: log}
}

// SessionFor is the session part sent next to the offer.
func SessionFor(p persona.Params) *realtime.RealtimeSessionCreateRequestParam {
	return openai.SessionParams(p.Model, p.Instructions, p.Voice)
}

// Negotiate creates one upstream call per invocation; replays create new sessions.
func (n *Negotiator) Negotiate(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.OfferSDP) == "" {
		return Result{}, ErrBadRequest
	}
	params := persona.Bind(persona.Resolve(req.PersonaID), req.Voice, n.Model)

	start := time.Now()
	answer, err := n.Upstream.CreateCall(ctx, req.OfferSDP, SessionFor(params))
	metrics.ObserveUpstream("calls", start)
	if err != nil {
		var se *openai.StatusError
		switch {
		case errors.Is(err, openai.ErrNoAPIKey):
			return Result{Params: params}, ErrConfig
		case errors.As(err, &se):
			body := logging.RedactString(se.Body)
			n.Log.Error("realtime negotiation rejected", "status", se.Status, "body", body, "persona", params.PersonaID)
			return Result{Params: params}, &NegotiationError{Status: se.Status, Body: body}
		default:
			return Result{Params: params}, fmt.Errorf("create call: %w", err)
		}
	}
	return Result{AnswerSDP: answer, Params: params}, nil
}
