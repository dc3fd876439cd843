package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ent0n29/retrotalk/internal/assistant"
	"github.com/ent0n29/retrotalk/internal/config"
	"github.com/ent0n29/retrotalk/internal/httpapi"
	"github.com/ent0n29/retrotalk/internal/lock"
	"github.com/ent0n29/retrotalk/internal/observability"
	"github.com/ent0n29/retrotalk/internal/retroruntime"
	"github.com/ent0n29/retrotalk/internal/retrospect"
	"github.com/ent0n29/retrotalk/internal/store"
)

type BuildResult struct {
	Config  config.Config
	API     *httpapi.Server
	Service *retroruntime.Service
	Metrics *observability.Metrics

	// Cleanup should be called on shutdown to release external resources (DB, Redis).
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	retroStore, err := store.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("retrospect store init failed: %w", err)
	}
	storeMode := "in-memory"
	if cfg.DatabaseURL != "" {
		storeMode = "postgres"
	}

	base, err := assistant.New(assistant.Config{
		Mode:          cfg.AssistantMode,
		HTTPURL:       cfg.AssistantHTTPURL,
		OpenAIKey:     cfg.OpenAIAPIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
		OpenAIModel:   cfg.OpenAIModel,
		PromptsPath:   cfg.AssistantPrompts,
		Timeout:       cfg.AssistantTimeout,
		MaxRetries:    cfg.AssistantMaxRetries,
		RetryBase:     cfg.AssistantRetryBase,
		RedactPII:     cfg.AssistantRedactPII,
	})
	if err != nil {
		_ = retroStore.Close()
		return nil, fmt.Errorf("assistant init failed: %w", err)
	}
	var asst retrospect.Assistant = assistant.NewInstrumentedAssistant(base, metrics, logger)

	locker, err := lock.NewLocker(ctx, cfg.RedisURL, cfg.LockTTL, logger)
	if err != nil {
		_ = retroStore.Close()
		return nil, fmt.Errorf("retrospect locker init failed: %w", err)
	}

	service, err := retroruntime.New(retroruntime.Config{
		ManagerCacheSize: cfg.ManagerCacheSize,
		StoreMode:        storeMode,
	}, retroStore, asst, locker, metrics, logger)
	if err != nil {
		_ = locker.Close()
		_ = retroStore.Close()
		return nil, fmt.Errorf("retrospect service init failed: %w", err)
	}

	logger.Info().
		Str("store_mode", service.StoreMode()).
		Str("lock_mode", service.LockMode()).
		Str("assistant_provider", service.AssistantProvider()).
		Msg("retrospect service ready")

	api := httpapi.New(cfg, service, metrics, logger)

	cleanup := func() error {
		var errs []string
		if err := service.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if err := locker.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if err := retroStore.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:  cfg,
		API:     api,
		Service: service,
		Metrics: metrics,
		Cleanup: cleanup,
	}, nil
}
