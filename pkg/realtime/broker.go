package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/steveyiyo/voicebridge/internal/core/credential"
)

// SDPExchanger trades a local offer for the remote answer.
type SDPExchanger interface {
	Exchange(ctx context.Context, offerSDP string, opts ConnectOptions) (string, error)
}

// Credential is a short-lived upstream token for one socket connection.
type Credential struct {
	Token     string
	ExpiresAt time.Time
}

type CredentialSource interface {
	Credential(ctx context.Context, opts ConnectOptions) (Credential, error)
}

// BrokerError is a non-2xx reply from the broker. Message and Details come
// from its {error, details} body.
type BrokerError struct {
	Status  int
	Message string
	Details string
}

func (e *BrokerError) Error() string {
	msg := fmt.Sprintf("realtime broker error: %d", e.Status)
	if e.Message != "" {
		msg += " - " + e.Message
	}
	if e.Details != "" {
		msg += ": " + e.Details
	}
	return msg
}

// Broker is the HTTP client for the voicebridge server.
type Broker struct {
	BaseURL string
	HTTP    *http.Client
}

func NewBroker(baseURL string) *Broker {
	return &Broker{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 20 * time.Second},
	}
}

func (b *Broker) endpoint(path string, opts ConnectOptions) string {
	q := url.Values{}
	if opts.Voice != "" {
		q.Set("voice", opts.Voice)
	}
	if opts.Persona != "" {
		q.Set("persona", opts.Persona)
	}
	u := b.BaseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

// Exchange posts the raw offer to /v1/realtime and returns the answer byte for byte.
func (b *Broker) Exchange(ctx context.Context, offerSDP string, opts ConnectOptions) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint("/v1/realtime", opts), strings.NewReader(offerSDP))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/sdp")
	body, err := b.do(req)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

type credentialReply struct {
	Token     string          `json:"token"`
	ExpiresAt json.RawMessage `json:"expires_at"`
}

// Credential fetches a fresh token from /v1/session.
func (b *Broker) Credential(ctx context.Context, opts ConnectOptions) (Credential, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.endpoint("/v1/session", opts), nil)
	if err != nil {
		return Credential{}, err
	}
	body, err := b.do(req)
	if err != nil {
		return Credential{}, err
	}
	var r credentialReply
	if err := json.Unmarshal(body, &r); err != nil {
		return Credential{}, fmt.Errorf("decode credential: %w", err)
	}
	if r.Token == "" {
		return Credential{}, fmt.Errorf("credential reply without token")
	}
	// The zero time means the server sent no usable expiry.
	exp, _ := credential.ParseExpiry(r.ExpiresAt)
	return Credential{Token: r.Token, ExpiresAt: exp}, nil
}

func (b *Broker) do(req *http.Request) ([]byte, error) {
	resp, err := b.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		be := &BrokerError{Status: resp.StatusCode}
		var eb struct {
			Error   string `json:"error"`
			Details string `json:"details"`
		}
		if json.Unmarshal(body, &eb) == nil && eb.Error != "" {
			be.Message, be.Details = eb.Error, eb.Details
		} else {
			be.Message = strings.TrimSpace(string(body))
		}
		return nil, be
	}
	return body, nil
}
