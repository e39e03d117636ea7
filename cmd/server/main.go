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

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/addispay/telebirr-service/internal/adapters/events"
	"github.com/addispay/telebirr-service/internal/adapters/postgres"
	"github.com/addispay/telebirr-service/internal/adapters/secrets"
	"github.com/addispay/telebirr-service/internal/adapters/telebirr"
	"github.com/addispay/telebirr-service/internal/config"
	"github.com/addispay/telebirr-service/internal/handlers/payment"
	"github.com/addispay/telebirr-service/internal/middleware"
	"github.com/addispay/telebirr-service/internal/services/merchant"
	"github.com/addispay/telebirr-service/internal/services/token"
	"github.com/addispay/telebirr-service/internal/services/verification"
	"github.com/addispay/telebirr-service/pkg/crypto"
	"github.com/addispay/telebirr-service/pkg/logger"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(cfg.Logger.Level, cfg.Logger.Development)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	secretManager, err := secrets.New(ctx, cfg.Secrets, log)
	if err != nil {
		return fmt.Errorf("init secrets backend: %w", err)
	}
	if err := cfg.ResolveSecretRefs(ctx, secretManager); err != nil {
		return err
	}

	resolver, cleanup, err := buildResolver(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	signer := crypto.NewSigner(log, cfg.Signer.AllowPKCS1Fallback)
	if cfg.Webhook.NotifyURL == "" {
		log.Warn("TELEBIRR_NOTIFY_URL not set, preorders will carry no callback URL")
	}

	client := telebirr.NewClient(cfg.API, cfg.Webhook.NotifyURL, signer, resolver, log)
	tokenCache := token.NewCache(client, cfg.Cache, log)
	client.SetTokenSource(tokenCache)

	sink := events.NewLogSink(log)

	worker := verification.NewWorker(client, sink, cfg.Verify, log)
	worker.Start(ctx)
	defer worker.Stop()

	authenticator := middleware.NewWebhookAuthenticator(cfg.Webhook, log)
	handler := payment.NewHandler(client, sink, worker, log)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux, cfg.Webhook.Path, authenticator)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	metricsServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info("server listening",
			zap.String("addr", server.Addr),
			zap.String("mode", cfg.Mode),
			zap.String("webhook_path", cfg.Webhook.Path),
		)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		log.Info("metrics listening", zap.String("addr", metricsServer.Addr))
		if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("server shutdown incomplete", zap.Error(err))
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("metrics shutdown incomplete", zap.Error(err))
	}
	return nil
}

// buildResolver selects the merchant resolution strategy for the configured
// mode and returns a cleanup for any backing resources.
func buildResolver(ctx context.Context, cfg *config.Config, log *zap.Logger) (merchant.Resolver, func(), error) {
	if cfg.Mode == config.ModeSingle {
		resolver, err := merchant.NewStaticResolver(cfg.Merchant)
		if err != nil {
			return nil, nil, fmt.Errorf("static merchant config: %w", err)
		}
		return resolver, func() {}, nil
	}

	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	store := postgres.NewMerchantStore(pool, cfg.Resolver, log)
	return merchant.NewStoreResolver(store, cfg.Merchant, cfg.Resolver, log), pool.Close, nil
}
