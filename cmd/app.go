package cmd

import (
	"errors"
	"fmt"
	"io"

	"respguard/circuitbreaker"
	"respguard/config"
	"respguard/logger"
	"respguard/metrics"
	"respguard/parser"
	"respguard/processor"
	"respguard/provider"
	"respguard/retry"
)

// app is the component graph shared by the commands
type app struct {
	config    *config.Config
	logger    *logger.ObservabilityLogger
	collector *metrics.Collector
	processor *processor.Processor
	breaker   *circuitbreaker.Breaker
	client    *provider.Client
	analyzer  *processor.Analyzer
	audit     *logger.AuditLogger
}

// newApp loads the configuration and wires every component. Provider pieces
// are only built when endpoints are configured.
func newApp(configPath string, logOut io.Writer) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	obs := logger.NewObservabilityLogger(logOut, level)
	obs.SetService(cfg.Service)
	if cfg.LokiURL != "" {
		obs.AddHook(logger.NewLokiHook(cfg.LokiURL, level))
	}
	obs.Info(logger.ComponentConfig, logger.CategoryRequest, "", "Configuration loaded", cfg.LogFields())

	a := &app{
		config:    cfg,
		logger:    obs,
		collector: metrics.NewCollector(cfg.Processing.MaxEvents),
	}

	cleaner := parser.NewCleaner(
		parser.WithProseConverter(parser.NewProseConverter(cfg.Processing.ProseMarkerThreshold, cfg.Processing.MaxSuggestions)),
		parser.WithCleanerLogger(obs),
	)
	a.processor = processor.New(
		processor.WithCleaner(cleaner),
		processor.WithMetrics(a.collector),
		processor.WithLogger(obs),
	)

	if cfg.Audit.Dir != "" {
		a.audit, err = logger.NewAuditLogger(logger.AuditConfig{
			LogDir:        cfg.Audit.Dir,
			MaskSensitive: cfg.Audit.MaskSensitive,
			Truncation:    cfg.Audit.Truncation,
		})
		if err != nil {
			return nil, err
		}
	}

	if len(cfg.Provider.Endpoints) > 0 {
		a.breaker = circuitbreaker.New(cfg.CircuitBreaker, obs)
		a.client, err = provider.NewClient(provider.Options{
			Endpoints:    cfg.Provider.Endpoints,
			APIKey:       cfg.Provider.APIKey,
			Model:        cfg.Provider.Model,
			SystemPrompt: cfg.Provider.SystemPrompt,
			MaxTokens:    cfg.Provider.MaxTokens,
			Temperature:  cfg.Provider.Temperature,
			Timeout:      cfg.Provider.Timeout,
			Stream:       cfg.Provider.Stream,
		}, a.breaker, obs)
		if err != nil {
			return nil, err
		}
		executor := retry.NewExecutor(cfg.Retry, retry.WithMetrics(a.collector), retry.WithLogger(obs))
		a.analyzer = processor.NewAnalyzer(a.processor, a.client, executor, cfg.PromptOverrides.Apply)
	}
	return a, nil
}

// requireAnalyzer reports why analysis is unavailable
func (a *app) requireAnalyzer() error {
	if err := a.config.RequireProvider(); err != nil {
		return fmt.Errorf("analysis needs a model provider: %w", err)
	}
	if a.analyzer == nil {
		return errors.New("analysis needs a model provider")
	}
	return nil
}

func (a *app) close() error {
	return errors.Join(a.audit.Close(), a.logger.Close())
}
