package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/ibeckermayer/tootrank/internal/app"
	"github.com/ibeckermayer/tootrank/internal/auth"
	"github.com/ibeckermayer/tootrank/internal/cache"
	"github.com/ibeckermayer/tootrank/internal/config"
	"github.com/ibeckermayer/tootrank/internal/mastodon"
	"github.com/ibeckermayer/tootrank/internal/metrics"
	"github.com/ibeckermayer/tootrank/internal/notifier"
	"github.com/ibeckermayer/tootrank/internal/ranking"
	"github.com/ibeckermayer/tootrank/internal/store"
)

// env is everything a command needs, wired from config and credentials.
type env struct {
	app      *app.App
	store    *store.Store
	client   *mastodon.Client
	registry *prometheus.Registry
}

func newAuthManager() (*auth.Manager, error) {
	path, err := auth.DefaultStorePath()
	if err != nil {
		return nil, err
	}
	return auth.NewManager(auth.NewStore(path), func(instance, token string) auth.Verifier {
		return mastodon.NewClient(instance, token, nil, mastodon.WithLogger(logger))
	}), nil
}

func newEnv() (*env, error) {
	manager, err := newAuthManager()
	if err != nil {
		return nil, err
	}
	creds, err := manager.Current()
	if errors.Is(err, auth.ErrNotLoggedIn) {
		return nil, fmt.Errorf("%w: run `tootrank login` first", err)
	}
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	dbPath, err := config.DBPath()
	if err != nil {
		return nil, err
	}
	st, err := store.New(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	cacheDir, err := config.CacheDir()
	if err != nil {
		st.Close()
		return nil, err
	}

	client := mastodon.NewClient(creds.Instance, creds.AccessToken, nil,
		mastodon.WithMetrics(m),
		mastodon.WithLogger(logger),
	)

	var mailer app.Mailer
	switch n, err := notifier.NewFromConfig(cfg.Email); {
	case err == nil:
		mailer = n
	case !errors.Is(err, notifier.ErrDisabled):
		logger.Warn().Err(err).Msg("email delivery disabled")
	}

	a, err := app.New(app.Deps{
		Config:     cfg,
		ConfigPath: configPath,
		Ranking:    ranking.New(st, ranking.WithMetrics(m), ranking.WithLogger(logger)),
		Candidates: st,
		Fetcher:    client,
		Performer:  client,
		AccountID:  creds.AccountID,
		Cache:      cache.New(filepath.Join(cacheDir, "timeline")),
		DigestDir:  filepath.Join(cacheDir, "digests"),
		Mailer:     mailer,
		Metrics:    m,
		Log:        logger,
	})
	if err != nil {
		client.Close()
		st.Close()
		return nil, err
	}

	return &env{app: a, store: st, client: client, registry: registry}, nil
}

func (e *env) Close() {
	e.client.Close()
	if err := e.store.Close(); err != nil {
		logger.Warn().Err(err).Msg("failed to close database")
	}
}
