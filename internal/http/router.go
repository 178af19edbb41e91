package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/steveyiyo/voicebridge/internal/config"
	"github.com/steveyiyo/voicebridge/internal/core/credential"
	"github.com/steveyiyo/voicebridge/internal/core/gemini"
	"github.com/steveyiyo/voicebridge/internal/core/negotiate"
	"github.com/steveyiyo/voicebridge/internal/core/openai"
	"github.com/steveyiyo/voicebridge/internal/core/session"
	"github.com/steveyiyo/voicebridge/internal/http/handlers"
	"github.com/steveyiyo/voicebridge/internal/metrics"
	"github.com/steveyiyo/voicebridge/internal/repo/memory"
	"github.com/steveyiyo/voicebridge/pkg/ws"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Deps are the services behind the routes. Tests swap in fakes.
type Deps struct {
	Issuer          credential.Issuer
	Negotiator      *negotiate.Negotiator
	Dial            handlers.LiveDialer
	Sessions        *session.Service
	Hub             *ws.Hub
	CredentialModel string
}

// NewDeps wires the upstream clients selected by cfg.
func NewDeps(ctx context.Context, cfg config.Config, log *slog.Logger) (Deps, error) {
	oc := openai.New(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.UpstreamTimeout)
	d := Deps{
		Negotiator: negotiate.New(oc, cfg.RealtimeModel, log),
		Dial: func(ctx context.Context) (handlers.LiveConn, error) {
			l, err := oc.DialLive(ctx, cfg.RealtimeModel, log)
			if err != nil {
				return nil, err
			}
			return l, nil
		},
		Sessions: session.NewService(memory.NewSessionRepo(0)),
		Hub:      ws.NewHub(),
	}

	switch cfg.Provider {
	case config.ProviderGemini:
		var minter credential.TokenMinter
		if cfg.GeminiKey != "" {
			minter = gemini.New(cfg.GeminiKey, cfg.GeminiBaseURL, cfg.UpstreamTimeout)
		}
		d.Issuer = credential.NewGeminiIssuer(minter, cfg.GeminiModel, log)
		d.CredentialModel = cfg.GeminiModel
	default:
		d.Issuer = credential.NewOpenAIIssuer(oc, cfg.CredentialModel, log)
		d.CredentialModel = cfg.CredentialModel
	}
	return d, nil
}

func NewRouter(cfg config.Config, d Deps, log *slog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))

	sh := handlers.NewSessionsHandler(d.Issuer, d.Sessions, d.CredentialModel, log)
	wh := handlers.NewWebRTCHandler(d.Negotiator, d.Sessions, log)
	wsh := handlers.NewStreamHandler(d.Hub, d.Sessions, d.Dial, cfg.RealtimeModel, cfg.AllowAnyOrigin, log)
	ch := handlers.NewCatalogHandler()

	api := r.Group("/v1")
	api.GET("/session", sh.Credential)
	api.GET("/sessions/:id", sh.Summary)
	api.POST("/realtime", wh.Offer)
	api.GET("/personas", ch.Personas)
	api.GET("/voices", ch.Voices)
	r.GET("/v1/stream", wsh.WS)

	r.GET("/healthz", ch.Health)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	return r
}

func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Header("X-Request-ID", id)
		start := time.Now()
		c.Next()

		lvl := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			lvl = slog.LevelError
		}
		log.LogAttrs(c.Request.Context(), lvl, "http request",
			slog.String("request_id", id),
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)),
		)
	}
}
