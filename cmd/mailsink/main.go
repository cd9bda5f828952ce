// Command mailsink runs the captured-mail inspection service: an SMTP
// sink that stores every inbound mail and an HTTP API to search, page,
// stream and delete the capture.
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

	"github.com/mailsink/mailsink/internal/api"
	"github.com/mailsink/mailsink/internal/blob"
	"github.com/mailsink/mailsink/internal/bus"
	"github.com/mailsink/mailsink/internal/config"
	"github.com/mailsink/mailsink/internal/intake"
	"github.com/mailsink/mailsink/internal/logger"
	"github.com/mailsink/mailsink/internal/metrics"
	"github.com/mailsink/mailsink/internal/parser"
	"github.com/mailsink/mailsink/internal/query"
	"github.com/mailsink/mailsink/internal/smtp"
	"github.com/mailsink/mailsink/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Output:    cfg.Logging.Output,
		AddSource: cfg.Logging.AddSource,
	})
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mails, blobs, err := buildStores(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize stores", slog.String("error", err.Error()))
		os.Exit(1)
	}

	notifications := bus.New()
	notifications.OnDrop(metrics.EventsDropped.Inc)

	pipeline := intake.New(parser.New(), mails, blobs, notifications, log)
	engine := query.New(mails, blobs, notifications, log)

	smtpServer := smtp.New(smtp.Config{
		Addr:            cfg.SMTP.Addr,
		Domain:          cfg.SMTP.Domain,
		MaxMessageBytes: cfg.SMTP.MaxMessageBytes,
		Username:        cfg.SMTP.Username,
		Password:        cfg.SMTP.Password,
	}, pipeline, log)

	httpServer := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: api.New(engine, blobs, notifications, log).Router(),
	}

	errCh := make(chan error, 2)
	go func() {
		if err := smtpServer.ListenAndServe(); err != nil {
			errCh <- err
		}
	}()
	go func() {
		log.Info("http server listening", slog.String("addr", cfg.HTTP.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		log.Error("server failed", slog.String("error", err.Error()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := smtpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("smtp shutdown", slog.String("error", err.Error()))
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", slog.String("error", err.Error()))
	}
}

// buildStores selects the persistence backends. With DATABASE_URL unset
// everything lives in memory, the zero-setup dev mode.
func buildStores(ctx context.Context, cfg *config.Config, log *slog.Logger) (store.MailStore, blob.Store, error) {
	if cfg.Store.DatabaseURL == "" {
		log.Info("running with in-memory stores; captured mail is lost on restart")
		return store.NewMemory(), blob.NewMemory(), nil
	}

	db, err := store.Open(ctx, cfg.Store.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}

	blobs, err := blob.NewS3(blob.S3Config{
		Endpoint:        cfg.Blob.Endpoint,
		Region:          cfg.Blob.Region,
		Bucket:          cfg.Blob.Bucket,
		AccessKeyID:     cfg.Blob.AccessKeyID,
		SecretAccessKey: cfg.Blob.SecretAccessKey,
		UseSSL:          cfg.Blob.UseSSL,
	})
	if err != nil {
		return nil, nil, err
	}

	return store.NewPostgres(db), blobs, nil
}
