// Package main запускает HTTP-сервер SMM-панели.
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

	"github.com/instaboost/smmpanel/internal/config"
	"github.com/instaboost/smmpanel/internal/handler"
	"github.com/instaboost/smmpanel/internal/middleware"
	"github.com/instaboost/smmpanel/internal/notifier"
	"github.com/instaboost/smmpanel/internal/repository"
	"github.com/instaboost/smmpanel/internal/service"
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

	svc := service.NewService(repo, nil)
	defer svc.Close()

	// Без учётных данных бота панель работает, уведомления отключены.
	var tg *notifier.Telegram
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != 0 {
		tg, err = notifier.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID, svc, logger)
		if err != nil {
			sugar.Fatalw("telegram bot initialization error", "error", err.Error())
		}
		svc.SetNotifier(tg)
	} else {
		sugar.Info("telegram credentials missing, admin notifications disabled")
	}

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	h := handler.NewHandler(svc, logger, authMiddleware, cfg.AuthSecret)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск обработчика уведомлений и callback-запросов Telegram
	if tg != nil {
		g.Go(func() error {
			tg.Run(ctx)
			return nil
		})
	}

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting smm panel server", "addr", cfg.RunAddress)
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
