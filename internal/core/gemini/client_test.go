package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var fixedNow = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	c := New("gk-test", ts.URL+"/", 5*time.Second)
	c.Now = func() time.Time { return fixedNow }
	return c
}

func TestCreateTokenLocksModelAndInstructions(t *testing.T) {
	var body struct {
		Uses                 int    `json:"uses"`
		ExpireTime           string `json:"expireTime"`
		NewSessionExpireTime string `json:"newSessionExpireTime"`
		Setup                struct {
			Setup struct {
				Model            string `json:"model"`
				GenerationConfig struct {
					ResponseModalities []string `json:"responseModalities"`
				} `json:"generationConfig"`
				SystemInstruction struct {
					Parts []struct {
						Text string `json:"text"`
					} `json:"parts"`
				} `json:"systemInstruction"`
			} `json:"setup"`
		} `json:"bidiGenerateContentSetup"`
	}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1alpha/auth_tokens" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("x-goog-api-key"); got != "gk-test" {
			t.Errorf("x-goog-api-key = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_, _ = io.WriteString(w, `{"name":"auth_tokens/abc"}`)
	})

	tok, err := c.CreateToken(context.Background(), TokenRequest{Model: "gemini-live-2.5-flash-preview", Instructions: "be brief"})
	if err != nil {
		t.Fatalf("CreateToken() error = %v", err)
	}
	if tok.Name != "auth_tokens/abc" || !tok.ExpiresAt.Equal(fixedNow.Add(DefaultTTL)) {
		t.Fatalf("token = %+v", tok)
	}
	if body.Uses != 1 {
		t.Fatalf("uses = %d, want 1", body.Uses)
	}
	if body.ExpireTime != "2025-01-02T03:34:05Z" || body.NewSessionExpireTime != "2025-01-02T03:05:05Z" {
		t.Fatalf("expiry = %q / %q", body.ExpireTime, body.NewSessionExpireTime)
	}
	s := body.Setup.Setup
	if s.Model != "models/gemini-live-2.5-flash-preview" {
		t.Fatalf("model = %q", s.Model)
	}
	if len(s.GenerationConfig.ResponseModalities) != 1 || s.GenerationConfig.ResponseModalities[0] != "AUDIO" {
		t.Fatalf("responseModalities = %v", s.GenerationConfig.ResponseModalities)
	}
	if len(s.SystemInstruction.Parts) != 1 || s.SystemInstruction.Parts[0].Text != "be brief" {
		t.Fatalf("systemInstruction = %+v", s.SystemInstruction)
	}
}

func TestBodyWithoutModelHasNoConstraints(t *testing.T) {
	b, err := json.Marshal(Body(TokenRequest{}, fixedNow))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var m map[string]any
	_ = json.Unmarshal(b, &m)
	if _, ok := m["bidiGenerateContentSetup"]; ok {
		t.Fatalf("constraints without a model: %s", b)
	}

	body, _ := Body(TokenRequest{Model: "models/x"}, fixedNow).(authTokenRequest)
	if body.Constraints == nil || body.Constraints.Setup.Model != "models/x" {
		t.Fatalf("prefixed model rewritten: %+v", body)
	}
	if body.Constraints.Setup.SystemInstruction != nil {
		t.Fatalf("empty instructions set: %+v", body.Constraints.Setup)
	}
}

func TestCreateTokenErrors(t *testing.T) {
	cases := map[string]struct {
		status int
		reply  string
		check  func(error) bool
	}{
		"rejected key": {http.StatusUnauthorized, `{"error":{"code":401}}`, func(err error) bool {
			var se *StatusError
			return errors.As(err, &se) && se.Status == http.StatusUnauthorized && se.Body != ""
		}},
		"empty name": {http.StatusOK, `{"name":""}`, func(err error) bool { return errors.Is(err, ErrEmptyToken) }},
		"not json":   {http.StatusOK, `<html>`, func(err error) bool { return errors.Is(err, ErrEmptyToken) }},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.reply)
			})
			_, err := c.CreateToken(context.Background(), TokenRequest{Model: "m"})
			if !tc.check(err) {
				t.Fatalf("CreateToken() error = %v", err)
			}
		})
	}
}
