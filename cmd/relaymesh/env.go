package main

import (
	"context"
	"fmt"

	"relaymesh/pkg/config"
	"relaymesh/pkg/relay"
	"relaymesh/pkg/store"
	"relaymesh/pkg/transport"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// env bundles the wired-up components a subcommand needs.
type env struct {
	cfg      *config.Config
	kv       store.KV
	resolver *relay.Resolver
	engine   *relay.Engine
	logger   *zap.Logger
	closer   func()
}

func (e *env) close() {
	e.logger.Sync()
	e.closer()
}

func openEnv(ctx context.Context) (*env, error) {
	logger := setupLogger(verbose)

	var (
		kv     store.KV
		closer = func() {}
	)
	if dbPath != "" {
		s, err := store.NewSQLite(dbPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open store: %w", err)
		}
		kv = s
		closer = func() { s.Close() }
	} else {
		dir := configDir
		if dir == "" {
			dir = config.DefaultDir()
		}
		kv = store.NewFile(dir)
	}

	cfg, err := config.Load(ctx, kv)
	if err != nil {
		closer()
		return nil, err
	}

	metrics := relay.NewMetrics(prometheus.NewRegistry())
	tr := transport.NewHTTP(logger)
	resolver := relay.NewResolver(cfg, kv, tr, logger, metrics)
	engine := relay.NewEngine(resolver, tr, logger, metrics)
	engine.SetDispatchTimeout(cfg.QueryTimeout())

	return &env{
		cfg:      cfg,
		kv:       kv,
		resolver: resolver,
		engine:   engine,
		logger:   logger,
		closer:   closer,
	}, nil
}
