package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/steveyiyo/voicebridge/internal/config"
	h "github.com/steveyiyo/voicebridge/internal/http"
	"github.com/steveyiyo/voicebridge/internal/logging"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "voicebridge:", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, closer := logging.New(cfg.LogLevel, cfg.LogFile)
	defer closer.Close()
	if os.Getenv(gin.EnvGinMode) == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := h.NewDeps(ctx, cfg, log)
	if err != nil {
		return err
	}
	go deps.Sessions.RunJanitor(ctx, time.Minute, cfg.SessionRetention)
	if cfg.OpenAIKey == "" {
		log.Warn("OPENAI_API_KEY is not set; credential and negotiation requests will fail")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           h.NewRouter(cfg, deps, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", srv.Addr, "provider", cfg.Provider, "model", cfg.RealtimeModel)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down", "relays", deps.Hub.Len())
	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	deps.Hub.CloseAll("server shutting down")
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
