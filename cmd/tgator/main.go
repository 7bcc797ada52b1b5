package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fow830/tgator/internal/adminbot"
	"github.com/fow830/tgator/internal/api"
	"github.com/fow830/tgator/internal/config"
	"github.com/fow830/tgator/internal/monitor"
	"github.com/fow830/tgator/internal/notifier"
	"github.com/fow830/tgator/internal/storage"
	"github.com/fow830/tgator/internal/telegram"
	"github.com/fow830/tgator/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.Log.Level, cfg.Log.File); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	startTime := time.Now()
	logger.Info().Msg("Starting tgator keyword monitor")

	db, err := storage.NewDatabase(cfg.Database.Path)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()
	logger.Info().Str("path", cfg.Database.Path).Msg("Database initialized")

	chats := storage.NewChatStore(db)
	keywords := storage.NewKeywordStore(db)
	alerts := storage.NewAlertStore(db)

	bot := telegram.NewBot(cfg.Telegram.Token, cfg.Telegram.Debug, cfg.Telegram.BufferSize)

	if cfg.Telegram.AlertChannelID == "" {
		logger.Warn().Msg("No alert channel configured, alerts will be stored but not delivered")
	}
	notify := notifier.NewNotifier(bot, cfg.Telegram.AlertChannelID, cfg.Notifier.RatePerMinute)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mon := monitor.New(monitor.Config{
		Interval:     cfg.Monitor.Interval,
		Window:       cfg.Monitor.Window,
		PageSize:     cfg.Monitor.PageSize,
		CacheSize:    cfg.Monitor.CacheSize,
		AlertChannel: cfg.Telegram.AlertChannelID,
		Excluded:     cfg.Monitor.ExcludedChats,
	}, monitor.Deps{
		Chats:    chats,
		Keywords: keywords,
		Alerts:   alerts,
		Source:   bot,
		Notifier: notify,
		Users:    bot.Users(),
		Metrics:  monitor.NewMetrics(registry),
	})

	handlers := adminbot.NewHandlers(bot, keywords, chats, alerts, mon, cfg.Telegram.AdminIDs)
	handlers.SetStartTime(startTime)
	bot.SetCommandHandler(handlers)

	// Start receiving updates right away so the message buffer fills before
	// the first cycle. A missing token is retried by every cycle.
	connectCtx, cancelConnect := context.WithTimeout(context.Background(), 30*time.Second)
	if err := bot.Connect(connectCtx); err != nil {
		logger.Warn().Err(err).Msg("Telegram bot not connected yet")
	}
	cancelConnect()

	srv := &api.Server{
		Auth:     api.NewAuthenticator(cfg.Auth.Username, cfg.Auth.Password, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
		Chats:    chats,
		Keywords: keywords,
		Alerts:   alerts,
		Joiner:   bot,
		Monitor:  mon,
	}
	server := &http.Server{
		Addr:              cfg.ServerAddress(),
		Handler:           api.NewRouter(srv, promhttp.HandlerFor(registry, promhttp.HandlerOpts{})),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("address", cfg.ServerAddress()).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	// Let the HTTP layer bind before the first scan.
	startTimer := time.AfterFunc(cfg.Monitor.StartupDelay, mon.Start)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	startTimer.Stop()
	mon.Stop()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}

	mon.Wait()
	bot.Stop()

	logger.Info().Msg("Shutdown complete")
}
