package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stupiduntilnot/gpttg/internal/access"
	cmdpkg "github.com/stupiduntilnot/gpttg/internal/commander"
	"github.com/stupiduntilnot/gpttg/internal/completion"
	"github.com/stupiduntilnot/gpttg/internal/config"
	"github.com/stupiduntilnot/gpttg/internal/db"
	"github.com/stupiduntilnot/gpttg/internal/dummy"
	"github.com/stupiduntilnot/gpttg/internal/logging"
	modelpkg "github.com/stupiduntilnot/gpttg/internal/model"
	"github.com/stupiduntilnot/gpttg/internal/openai"
	"github.com/stupiduntilnot/gpttg/internal/router"
	"github.com/stupiduntilnot/gpttg/internal/session"
	"github.com/stupiduntilnot/gpttg/internal/telegram"
)

func newServeCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	if err != nil {
		return err
	}
	log := logger.WithField("instance_id", cfg.Bot.InstanceID)

	var journal *db.Journal
	if cfg.DBPath != "" {
		database, err := openJournal(cfg.DBPath)
		if err != nil {
			return err
		}
		defer database.Close()
		journal = db.NewJournal(database, log)
	}

	commander, err := newCommander(cfg, log)
	if err != nil {
		return fmt.Errorf("init commander: %w", err)
	}

	gate := access.NewGate(cfg.Telegram.AllowedUserIDs)
	if gate.AllowsEveryone() {
		log.Warn("ALLOWED_TELEGRAM_USER_IDS is \"*\"; every Telegram user may use the bot")
	} else if gate.Size() == 0 {
		log.Warn("allow-list is empty; every sender will be denied")
	}

	var invoker *completion.Invoker
	if cfg.Features.Completion {
		provider, err := newModelProvider(cfg)
		if err != nil {
			return fmt.Errorf("init model provider: %w", err)
		}
		store := session.New(cfg.Session.MaxHistorySize, cfg.Session.MaxAge())
		janitor := session.NewJanitor(store, cfg.Session.CleanupInterval, log)
		janitor.Start(ctx)
		defer janitor.Stop()

		invoker = completion.New(provider, store, completion.Config{
			AssistantPrompt: cfg.OpenAI.AssistantPrompt,
			Params: modelpkg.Params{
				Model:            cfg.OpenAI.Model,
				MaxTokens:        cfg.OpenAI.MaxTokens,
				Temperature:      cfg.OpenAI.Temperature,
				N:                cfg.OpenAI.NChoices,
				PresencePenalty:  cfg.OpenAI.PresencePenalty,
				FrequencyPenalty: cfg.OpenAI.FrequencyPenalty,
			},
			Timeout: cfg.OpenAI.RequestTimeout,
		}, log)
	}

	rt := router.New(commander, gate, invoker, journal, router.Options{
		Features: router.Features{
			Completion: cfg.Features.Completion,
			Profile:    cfg.Features.Profile,
		},
		PollTimeout:    cfg.Telegram.PollTimeout,
		SleepInterval:  time.Duration(cfg.Telegram.SleepSeconds) * time.Second,
		MaxConcurrency: cfg.Bot.MaxConcurrency,
		ShowUsage:      cfg.OpenAI.ShowUsage,
		ShutdownGrace:  cfg.Bot.ShutdownGrace,
	}, log)

	startedAt := time.Now()
	journal.Start(map[string]any{
		"pid":         os.Getpid(),
		"instance_id": cfg.Bot.InstanceID,
		"commander":   cfg.Bot.Commander,
		"provider":    cfg.Bot.Provider,
		"completion":  cfg.Features.Completion,
		"profile":     cfg.Features.Profile,
		"version":     version,
	})
	log.WithFields(logrus.Fields{
		"commander":  cfg.Bot.Commander,
		"provider":   cfg.Bot.Provider,
		"model":      cfg.OpenAI.Model,
		"completion": cfg.Features.Completion,
		"profile":    cfg.Features.Profile,
		"version":    version,
	}).Info("gpttg starting")

	runErr := rt.Run(ctx)

	journal.Record(db.EventProcessStopped, map[string]any{
		"uptime_seconds": int64(time.Since(startedAt).Seconds()),
	})
	log.Info("gpttg stopped")
	return runErr
}

func openJournal(path string) (*sql.DB, error) {
	database, err := db.OpenDB(path)
	if err != nil {
		return nil, err
	}
	if err := db.InitSchema(database); err != nil {
		database.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return database, nil
}

func newCommander(cfg config.Config, log logrus.FieldLogger) (cmdpkg.Commander, error) {
	switch cfg.Bot.Commander {
	case config.CommanderTelegram:
		if err := telegram.UseLogger(log.WithField("component", "telegram")); err != nil {
			return nil, err
		}
		return telegram.NewClient(cfg.Telegram.Token, cfg.Telegram.APIEndpoint, cfg.Telegram.RequestTimeout(), cfg.Telegram.Debug)
	case config.CommanderDummy:
		return dummy.NewCommander(cfg.Bot.DummyCommanderScript, cfg.Bot.DummySendScript)
	default:
		return nil, fmt.Errorf("unsupported commander: %s", cfg.Bot.Commander)
	}
}

func newModelProvider(cfg config.Config) (modelpkg.Provider, error) {
	switch cfg.Bot.Provider {
	case config.ProviderOpenAI:
		return openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.RequestTimeout), nil
	case config.ProviderDummy:
		return dummy.NewProvider(cfg.Bot.DummyProviderScript)
	default:
		return nil, fmt.Errorf("unsupported model provider: %s", cfg.Bot.Provider)
	}
}
