package handlers

import (
	"log/slog"
	"net/http"

	"github.com/steveyiyo/voicebridge/internal/core/credential"
	"github.com/steveyiyo/voicebridge/internal/core/session"
	"github.com/steveyiyo/voicebridge/internal/metrics"
	"github.com/steveyiyo/voicebridge/internal/persona"
	"github.com/steveyiyo/voicebridge/pkg/types"

	"github.com/gin-gonic/gin"
)

type SessionsHandler struct {
	Issuer credential.Issuer
	Svc    *session.Service
	Model  string
	Log    *slog.Logger
}

func NewSessionsHandler(iss credential.Issuer, svc *session.Service, model string, log *slog.Logger) *SessionsHandler {
	return &SessionsHandler{Issuer: iss, Svc: svc, Model: model, Log: log}
}

// Credential mints one ephemeral credential. With ?persona= the credential is
// scoped to that persona's instructions; ?voice= overrides its voice.
func (h *SessionsHandler) Credential(c *gin.Context) {
	p := persona.Bind(persona.Resolve(c.Query("persona")), c.Query("voice"), h.Model)
	opts := credential.Options{Voice: p.Voice}
	if c.Query("persona") != "" {
		opts.Instructions = p.Instructions
	}

	id := h.Svc.Open(types.TransportWebSocket, p)
	cred, err := h.Issuer.Issue(c.Request.Context(), opts)
	if err != nil {
		status, _ := statusFor(err)
		h.Svc.Fail(id, status)
		metrics.Credentials.WithLabelValues("error").Inc()
		writeError(c, h.Log, err)
		return
	}
	metrics.Credentials.WithLabelValues("ok").Inc()
	h.Log.Info("credential issued", "session_id", id, "persona", p.PersonaID, "credential", cred)

	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, types.CredentialResp{
		SessionID: id,
		Token:     cred.Token,
		ExpiresAt: cred.ExpiresAt.UnixMilli(),
	})
}

func (h *SessionsHandler) Summary(c *gin.Context) {
	id := c.Param("id")
	sum, ok := h.Svc.Summary(id)
	if !ok {
		c.JSON(http.StatusNotFound, types.ErrorResp{Error: "not_found"})
		return
	}
	c.JSON(http.StatusOK, sum)
}
