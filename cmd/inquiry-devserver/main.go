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

	"inquirydesk/internal/app/inquiries"
	appoutbox "inquirydesk/internal/app/outbox"
	"inquirydesk/internal/domain/thread"
	"inquirydesk/internal/infra/broker/kafka"
	"inquirydesk/internal/infra/config"
	mongostore "inquirydesk/internal/infra/db/mongo"
	ginserver "inquirydesk/internal/infra/http/gin"
	"inquirydesk/internal/infra/obs"
	infraoutbox "inquirydesk/internal/infra/outbox"
	"inquirydesk/internal/infra/security"
	"inquirydesk/internal/infra/storage/memory"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := config.LoadDotEnv(os.Getenv("DOTENV_PATH")); err != nil {
		obs.NewLogger("dev", "").Warn("dotenv load failed", "error", err)
	}
	cfg, err := config.LoadDevServer()
	if err != nil {
		obs.NewLogger("dev", "").Error("config load failed", "error", err)
		os.Exit(1)
	}
	logger := obs.NewLogger(cfg.Env, cfg.LogFile)

	var checks []obs.ReadinessCheck
	var threads thread.Repository = memory.NewThreadRepository()
	var events infraoutbox.Store = infraoutbox.NewMemoryStore()
	if cfg.MongoURI != "" {
		client, err := mongostore.New(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			logger.Error("mongo connect failed", "error", err)
			os.Exit(1)
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := client.Close(closeCtx); err != nil {
				logger.Warn("mongo disconnect failed", "error", err)
			}
		}()
		repo := mongostore.NewThreadRepository(client.DB)
		if err := repo.EnsureIndexes(ctx); err != nil {
			logger.Error("mongo index setup failed", "error", err)
			os.Exit(1)
		}
		store, err := infraoutbox.NewMongoStore(ctx, client.DB)
		if err != nil {
			logger.Error("outbox index setup failed", "error", err)
			os.Exit(1)
		}
		threads, events = repo, store
		checks = append(checks, obs.ReadinessCheck{Name: "mongo", Check: client.Ping})
		logger.Info("conversations stored in mongo", "db", cfg.MongoDB)
	} else {
		logger.Info("conversations stored in memory")
	}

	svc := &inquiries.Service{
		Threads:   threads,
		Users:     memory.NewUserRepository(),
		Passwords: security.BcryptHasher{},
		Tokens:    security.JWTIssuer{Secret: []byte(cfg.JWTSecret), TTL: cfg.TokenTTL, Issuer: "inquiry-devserver"},
		Encoder:   appoutbox.JSONEventEncoder{},
		Logger:    logger,
	}
	if err := seedUsers(ctx, svc, cfg.UsersFixtures); err != nil {
		logger.Error("user seeding failed", "error", err, "path", cfg.UsersFixtures)
		os.Exit(1)
	}

	if producer := newProducer(cfg, logger); producer != nil {
		defer func() {
			if err := producer.Close(); err != nil {
				logger.Warn("kafka producer close failed", "error", err)
			}
		}()
		svc.Outbox = events
		worker := &infraoutbox.Worker{
			Store:       events,
			Producer:    producer,
			TopicPrefix: cfg.KafkaTopicPrefix,
			Logger:      logger,
		}
		go func() {
			if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("outbox worker stopped", "error", err)
			}
		}()
	}

	hub := ginserver.NewSocketHub(svc, logger)
	svc.Broadcaster = hub

	auth := ginserver.AuthMiddleware{Service: svc, Logger: logger}
	server := ginserver.NewBackendServer(ginserver.ServerOptions{
		Addr: cfg.HTTPAddr,
		Env:  cfg.Env,
	}, obs.Middleware{Logger: logger}, obs.HealthHandlers{Checks: checks}, auth.Handle, ginserver.BackendHandler{Service: svc, Logger: logger}, hub)

	go func() {
		<-ctx.Done()
		hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
	}()

	logger.Info("inquiry-devserver starting", "addr", cfg.HTTPAddr, "env", cfg.Env, "kafka", len(cfg.KafkaBrokers) > 0)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("inquiry-devserver stopped")
}

func seedUsers(ctx context.Context, svc *inquiries.Service, path string) error {
	fixtures, err := memory.LoadUserFixtures(path)
	if err != nil {
		return err
	}
	seeds := make([]inquiries.SeedUser, 0, len(fixtures))
	for _, f := range fixtures {
		seeds = append(seeds, inquiries.SeedUser{ID: f.ID, Email: f.Email, Name: f.Name, Phone: f.Phone, Password: f.Password, Role: f.Role})
	}
	return svc.Seed(ctx, seeds)
}

// newProducer returns nil when no brokers are configured; domain events are then not recorded.
func newProducer(cfg config.DevServer, logger *slog.Logger) *kafka.Producer {
	if len(cfg.KafkaBrokers) == 0 {
		return nil
	}
	producer, err := kafka.NewProducer(cfg.KafkaBrokers, "inquiry-devserver", logger)
	if err != nil {
		logger.Warn("kafka producer unavailable, domain events disabled", "error", err)
		return nil
	}
	return producer
}
