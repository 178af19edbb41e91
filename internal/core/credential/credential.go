// Package credential mints short-lived session credentials in exchange for
// the server-held upstream secret.
package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/steveyiyo/voicebridge/pkg/types"
)

// FallbackTTL applies when the upstream reply carries no expiry.
const FallbackTTL = 60 * time.Second

var ErrConfig = errors.New("upstream secret not configured")

// Credential is handed to exactly one client for one connection attempt.
// Token is never logged.
type Credential struct {
	Token     string
	ExpiresAt time.Time
}

func (c Credential) String() string {
	return fmt.Sprintf("Credential{token=[REDACTED] expires_at=%s}", c.ExpiresAt.Format(time.RFC3339))
}

func (c Credential) LogValue() slog.Value {
	return slog.GroupValue(slog.Time("expires_at", c.ExpiresAt))
}

// Options optionally scope the credential to a voice and instruction set.
type Options struct {
	Voice        types.VoiceID
	Instructions string
}

type Issuer interface {
	Issue(ctx context.Context, opts Options) (Credential, error)
}

// UpstreamError is a rejected credential request. Body has been redacted.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("credential upstream rejected request: status %d", e.Status)
}

// MalformedResponseError means the upstream reply had no usable token.
type MalformedResponseError struct {
	Raw string
}

func (e *MalformedResponseError) Error() string {
	return "credential upstream returned an unexpected response"
}
