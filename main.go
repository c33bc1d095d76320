package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/dkalashnik/doctor-ai-bot/pkg/ai"
	"github.com/dkalashnik/doctor-ai-bot/pkg/bot"
	"github.com/dkalashnik/doctor-ai-bot/pkg/bot/telegramadapter"
	"github.com/dkalashnik/doctor-ai-bot/pkg/config"
	"github.com/dkalashnik/doctor-ai-bot/pkg/export"
	"github.com/dkalashnik/doctor-ai-bot/pkg/feedback"
	"github.com/dkalashnik/doctor-ai-bot/pkg/fsm"
	"github.com/dkalashnik/doctor-ai-bot/pkg/httpapi"
	"github.com/dkalashnik/doctor-ai-bot/pkg/logging"
	"github.com/dkalashnik/doctor-ai-bot/pkg/quota"
	"github.com/dkalashnik/doctor-ai-bot/pkg/scheduler"
	"github.com/dkalashnik/doctor-ai-bot/pkg/state"
	"github.com/dkalashnik/doctor-ai-bot/pkg/stats"
	"github.com/dkalashnik/doctor-ai-bot/pkg/storage"
)

func main() {
	cfgPath := config.Path()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration from %s: %v\n", cfgPath, err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)
	logger.Info("configuration loaded",
		"path", cfgPath,
		"gemini_model", cfg.Gemini.Model,
		"postgres", storage.IsPostgresDSN(cfg.Database.URL),
		"timezone", cfg.Timezone,
		"daily_limit", cfg.Quota.DailyLimit,
		"http_enabled", cfg.HTTP.Addr != "")

	if err := run(cfg, logger); err != nil {
		logger.Error("bot stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("bot stopped")
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loc := cfg.Location()
	export.RegisterBuiltins(loc)

	store, err := storage.Open(cfg.Database.URL, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("closing store", "error", err)
		}
	}()
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	gemini, err := ai.NewGeminiClient(ctx, ai.GeminiConfig{
		APIKey:      cfg.Gemini.APIKey,
		Model:       cfg.Gemini.Model,
		Temperature: cfg.Gemini.Temperature,
		MaxRetries:  cfg.Gemini.MaxRetries,
		RetryDelay:  cfg.Gemini.RetryDelay,
	}, log)
	if err != nil {
		return err
	}

	botClient, err := bot.NewClient(cfg.Bot.Token, log)
	if err != nil {
		return err
	}
	botPort, err := telegramadapter.New(botClient, log)
	if err != nil {
		return err
	}

	sessions := state.NewStore(fsm.NewFSMCreator(), state.WithLogger(log))
	enforcer := quota.NewEnforcer(store.Profiles(),
		quota.WithLimit(cfg.Quota.DailyLimit),
		quota.WithLocation(loc))
	engine := fsm.NewEngine(store, enforcer, gemini,
		fsm.WithAITimeout(cfg.AI.Timeout),
		fsm.WithEngineLogger(log))
	aggregator := stats.NewAggregator(store.Consultations(), loc)

	handler := fsm.NewHandler(fsm.HandlerDeps{
		Bot:      botPort,
		Sessions: sessions,
		Engine:   engine,
		Store:    store,
		Feedback: feedback.NewRecorder(store, log),
		Stats:    aggregator,
		Location: loc,
		Logger:   log,
	})

	sched, err := scheduler.New(loc, log)
	if err != nil {
		return err
	}
	if err := sched.AddSessionSweep(sessions, cfg.Session.SweepInterval, cfg.Session.IdleTTL); err != nil {
		return err
	}
	sched.Start()
	defer func() {
		if err := sched.Shutdown(); err != nil {
			log.Warn("stopping scheduler", "error", err)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return pollUpdates(gctx, botClient, handler, cfg.Bot.PollTimeout, log)
	})
	if cfg.HTTP.Addr != "" {
		gin.SetMode(gin.ReleaseMode)
		router := httpapi.NewRouter(httpapi.Deps{
			Store:  store,
			Stats:  aggregator,
			Token:  cfg.HTTP.Token,
			Logger: log,
		})
		g.Go(func() error {
			return httpapi.Serve(gctx, cfg.HTTP.Addr, router, log)
		})
	}
	return g.Wait()
}

// pollUpdates dispatches every update to its own goroutine and waits for the
// in-flight ones before returning.
func pollUpdates(ctx context.Context, client *bot.Client, handler *fsm.Handler, timeout int, log *slog.Logger) error {
	updates := client.GetUpdatesChan(timeout)
	log.Info("starting update processing")

	var wg sync.WaitGroup
	defer wg.Wait()
	defer client.StopReceivingUpdates()

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.UpdateID == 0 {
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				handler.HandleUpdate(ctx, update)
			}()
		case <-ctx.Done():
			log.Info("stopping update processing loop")
			return nil
		}
	}
}
