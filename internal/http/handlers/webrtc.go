package handlers

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/steveyiyo/voicebridge/internal/core/negotiate"
	"github.com/steveyiyo/voicebridge/internal/core/session"
	"github.com/steveyiyo/voicebridge/internal/metrics"
	"github.com/steveyiyo/voicebridge/pkg/types"

	"github.com/gin-gonic/gin"
)

const maxOfferBytes = 256 << 10

type WebRTCHandler struct {
	Neg *negotiate.Negotiator
	Svc *session.Service
	Log *slog.Logger
}

func NewWebRTCHandler(n *negotiate.Negotiator, svc *session.Service, log *slog.Logger) *WebRTCHandler {
	return &WebRTCHandler{Neg: n, Svc: svc, Log: log}
}

// Offer takes a raw SDP offer body and answers with the upstream SDP as-is.
func (h *WebRTCHandler) Offer(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxOfferBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorResp{Error: "unreadable request body"})
		return
	}

	res, err := h.Neg.Negotiate(c.Request.Context(), negotiate.Request{
		OfferSDP:  string(body),
		PersonaID: c.Query("persona"),
		Voice:     c.Query("voice"),
	})
	if err != nil {
		metrics.Negotiations.WithLabelValues("error").Inc()
		if res.Params.PersonaID != "" {
			status, _ := statusFor(err)
			h.Svc.Fail(h.Svc.Open(types.TransportWebRTC, res.Params), status)
		}
		writeError(c, h.Log, err)
		return
	}
	metrics.Negotiations.WithLabelValues("ok").Inc()

	id := h.Svc.Open(types.TransportWebRTC, res.Params)
	h.Log.Info("realtime call negotiated", "session_id", id, "persona", res.Params.PersonaID, "voice", res.Params.Voice)
	c.Header("X-Session-ID", id)
	c.Data(http.StatusOK, "application/sdp", res.AnswerSDP)
}
