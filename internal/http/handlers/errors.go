package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/steveyiyo/voicebridge/internal/core/credential"
	"github.com/steveyiyo/voicebridge/internal/core/negotiate"
	"github.com/steveyiyo/voicebridge/pkg/types"

	"github.com/gin-gonic/gin"
)

// statusFor maps a service error to the HTTP status and body sent to the client.
// Upstream statuses are passed through; details are already redacted.
func statusFor(err error) (int, types.ErrorResp) {
	var (
		ue *credential.UpstreamError
		ne *negotiate.NegotiationError
		me *credential.MalformedResponseError
	)
	switch {
	case errors.Is(err, negotiate.ErrBadRequest):
		return http.StatusBadRequest, types.ErrorResp{Error: err.Error()}
	case errors.Is(err, credential.ErrConfig), errors.Is(err, negotiate.ErrConfig):
		return http.StatusInternalServerError, types.ErrorResp{Error: "server misconfigured"}
	case errors.As(err, &ue):
		return passthrough(ue.Status), types.ErrorResp{Error: "upstream rejected credential request", Details: ue.Body}
	case errors.As(err, &ne):
		return passthrough(ne.Status), types.ErrorResp{Error: "upstream rejected session", Details: ne.Body}
	case errors.As(err, &me):
		return http.StatusBadGateway, types.ErrorResp{Error: "unexpected response"}
	default:
		return http.StatusInternalServerError, types.ErrorResp{Error: "internal error"}
	}
}

func passthrough(status int) int {
	if status < 400 || status > 599 {
		return http.StatusBadGateway
	}
	return status
}

func writeError(c *gin.Context, log *slog.Logger, err error) {
	status, body := statusFor(err)
	if status >= 500 {
		log.Error("request failed", "path", c.FullPath(), "status", status, "err", err)
	} else {
		log.Warn("request rejected", "path", c.FullPath(), "status", status, "err", err)
	}
	c.JSON(status, body)
}
