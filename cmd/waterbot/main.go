// Package main запускает HTTP-сервер сервиса доставки воды.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/temirlan-k/water-microservice/internal/config"
	"github.com/temirlan-k/water-microservice/internal/handler"
	"github.com/temirlan-k/water-microservice/internal/middleware"
	"github.com/temirlan-k/water-microservice/internal/notifier"
	"github.com/temirlan-k/water-microservice/internal/repository"
	"github.com/temirlan-k/water-microservice/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	var tgNotifier service.Notifier
	if cfg.TelegramToken != "" {
		tg, err := notifier.NewTelegramNotifier(cfg.TelegramToken, cfg.SupportChatID, logger)
		if err != nil {
			sugar.Fatalw("telegram notifier initialization error", "error", err.Error())
		}
		tgNotifier = tg
	} else {
		sugar.Info("telegram token is not set, outgoing notifications disabled")
	}

	svc := service.NewService(repo, tgNotifier, cfg.CodeTTL)
	defer svc.Close()

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	h := handler.NewHandler(svc, logger, authMiddleware)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting water delivery server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
