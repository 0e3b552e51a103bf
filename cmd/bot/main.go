package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/xaenox/persona-relay/internal/ai"
	"github.com/xaenox/persona-relay/internal/bot"
	"github.com/xaenox/persona-relay/internal/metrics"
	"github.com/xaenox/persona-relay/internal/persona"
	"github.com/xaenox/persona-relay/internal/pipeline"
	"github.com/xaenox/persona-relay/internal/session"
	"github.com/xaenox/persona-relay/internal/storage"
	"github.com/xaenox/persona-relay/internal/thread"
	"github.com/xaenox/persona-relay/pkg/config"
	"go.uber.org/zap"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err), zap.String("path", "config.yaml"))
	}

	// Initialize storage
	var store storage.Storage
	switch cfg.Database.Backend {
	case "postgres":
		logger.Info("Using PostgreSQL storage")
		store, err = storage.NewPostgresStorage(storage.DatabaseConfig{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
		})
	case "bolt":
		logger.Info("Using bolt storage", zap.String("path", cfg.Database.BoltPath))
		store, err = storage.NewBoltStorage(cfg.Database.BoltPath)
	default:
		logger.Info("Using in-memory storage")
		store = storage.NewMemoryStorage()
	}
	if err != nil {
		logger.Fatal("Failed to initialize storage", zap.Error(err))
	}
	defer store.Close()

	m := metrics.New(prometheus.DefaultRegisterer)
	threads := thread.NewStore(cfg.Thread.HistoryLimit, cfg.Thread.TopicLimit)
	resolver := persona.NewResolver(store, store, logger)
	responder := ai.NewOpenAIResponder(cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.OpenAI.Temperature, logger)

	proc := pipeline.New(store, store, resolver, threads, responder, m, cfg.OpenAI.MaxResponseLength, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := proc.Initialize(ctx); err != nil {
		logger.Fatal("Failed to initialize pipeline", zap.Error(err))
	}

	factory := func() (session.Client, error) {
		return bot.NewTelegramClient(cfg.Telegram.Token, logger)
	}

	var manager *session.Manager
	handler := bot.NewHandler(proc, senderFunc(func(address, text string) error {
		return manager.Send(address, text)
	}), func() session.Status {
		return manager.Status()
	}, logger)

	manager = session.NewManager(session.Config{
		Enabled:           cfg.Session.Enabled,
		ReconnectCeiling:  cfg.Session.ReconnectCeiling,
		DisconnectBackoff: cfg.Session.DisconnectBackoff(),
		ErrorBackoff:      cfg.Session.ErrorBackoff(),
		QRValidity:        cfg.Session.QRValidity(),
	}, factory, handler.HandleInbound, proc.Ready, m, logger)

	if err := manager.Run(ctx); err != nil {
		logger.Fatal("Session error", zap.Error(err))
	}
}

// senderFunc adapts a closure to the handler's Sender interface.
type senderFunc func(address, text string) error

func (f senderFunc) Send(address, text string) error { return f(address, text) }
