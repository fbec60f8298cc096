package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"inquirydesk/internal/app/session"
	"inquirydesk/internal/app/transcripts"
	"inquirydesk/internal/app/views"
	"inquirydesk/internal/infra/config"
	ginserver "inquirydesk/internal/infra/http/gin"
	"inquirydesk/internal/infra/obs"
	"inquirydesk/internal/infra/realtime"
	"inquirydesk/internal/infra/rest"
	"inquirydesk/internal/infra/storage/bolt"
	"inquirydesk/internal/infra/storage/s3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := config.LoadDotEnv(os.Getenv("DOTENV_PATH")); err != nil {
		obs.NewLogger("dev", "").Warn("dotenv load failed", "error", err)
	}
	cfg, err := config.LoadDesk()
	if err != nil {
		obs.NewLogger("dev", "").Error("config load failed", "error", err)
		os.Exit(1)
	}
	logger := obs.NewLogger(cfg.Env, cfg.LogFile)

	tokens, err := bolt.OpenTokenStore(cfg.SessionDBPath)
	if err != nil {
		logger.Error("session store open failed", "error", err, "path", cfg.SessionDBPath)
		os.Exit(1)
	}
	defer func() {
		if err := tokens.Close(); err != nil {
			logger.Warn("session store close failed", "error", err)
		}
	}()

	api := &rest.Client{
		HTTP:    &http.Client{Timeout: cfg.HTTPTimeout},
		BaseURL: cfg.APIBaseURL,
		Tokens:  tokens,
		Logger:  logger,
	}
	sessions := &session.Service{Store: tokens, Auth: api, Logger: logger}

	handshake := &realtime.Handshake{Tokens: tokens}
	gateway := realtime.NewGateway(realtime.GatewayOptions{
		URL:     cfg.SocketURL,
		Dialer:  &websocket.Dialer{HandshakeTimeout: cfg.DialTimeout, Proxy: http.ProxyFromEnvironment},
		Header:  handshake.Header,
		Backoff: cfg.RetryBackoff,
		Logger:  logger,
	})

	registry := &views.Registry{
		Viewers: sessions,
		API:     api,
		Gateway: gateway,
		// a guest's rooms are only joinable once the handshake carries its email
		OnGuest: func(email string) {
			if handshake.SetGuest(email) {
				gateway.Reconnect()
			}
		},
		Logger: logger,
	}
	defer registry.CloseAll()

	handler := ginserver.DeskHandler{
		Session: sessions,
		Views:   registry,
		Monitor: gateway,
		Logger:  logger,
	}
	if exporter := newExporter(cfg, logger); exporter != nil {
		handler.Transcripts = exporter
	}

	server := ginserver.NewDeskServer(ginserver.ServerOptions{
		Addr:           cfg.HTTPAddr,
		Env:            cfg.Env,
		AllowedOrigins: cfg.AllowedOrigins,
	}, obs.Middleware{Logger: logger}, obs.HealthHandlers{Checks: []obs.ReadinessCheck{
		{Name: "session_store", Check: tokens.Ready},
		{Name: "socket", Check: gateway.Ready},
	}}, handler)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
	}()

	logger.Info("inquirydesk starting", "addr", cfg.HTTPAddr, "api", cfg.APIBaseURL, "socket", cfg.SocketURL, "env", cfg.Env)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("inquirydesk stopped")
}

func newExporter(cfg config.Desk, logger *slog.Logger) *transcripts.Exporter {
	if cfg.S3Endpoint == "" {
		logger.Info("transcript archive disabled", "reason", "S3_ENDPOINT not set")
		return nil
	}
	archive, err := s3.NewArchive(s3.ArchiveOptions{
		Endpoint:  cfg.S3Endpoint,
		UseSSL:    cfg.S3UseSSL,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Bucket:    cfg.S3Bucket,
		Logger:    logger,
	})
	if err != nil {
		logger.Warn("transcript archive unavailable", "error", err)
		return nil
	}
	return &transcripts.Exporter{Archive: archive, Logger: logger}
}
