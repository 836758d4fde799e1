// Package builder wires configuration into the trainer's runtime graph:
// model store, run ledger, accelerator batcher, fusion policy, message
// catalog, narrative client, trainer service and task runner.
package builder

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/park285/runenkrieg/internal/bandit"
	"github.com/park285/runenkrieg/internal/config"
	"github.com/park285/runenkrieg/internal/modelstore"
	"github.com/park285/runenkrieg/internal/msgcat"
	"github.com/park285/runenkrieg/internal/narrative"
	"github.com/park285/runenkrieg/internal/repository"
	"github.com/park285/runenkrieg/internal/service/trainer"
	"github.com/park285/runenkrieg/internal/stats"
	"github.com/park285/runenkrieg/internal/task"
	"go.uber.org/zap"
)

type Deps struct {
	Service *trainer.Service
	Runner  *task.Runner
	Models  *modelstore.Models
	Repo    repository.Repository
	Catalog *msgcat.Catalog

	redis *modelstore.RedisStore
	db    *sql.DB
}

// New builds the graph. Without REDIS_URL models live in memory; without
// DATABASE_URL the run ledger does.
func New(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (*Deps, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Deps{}

	catalog, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	d.Catalog = catalog

	// Model store (Redis optional)
	var store modelstore.Store
	if cfg.RedisURL != "" {
		if err := validateRedisURL(cfg.RedisURL); err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		rs, err := modelstore.Dial(ctx, cfg.RedisURL, cfg.ModelKeyPrefix, cfg.ModelTTL)
		if err != nil {
			return nil, fmt.Errorf("init model store: %w", err)
		}
		d.redis = rs
		store = rs
	} else {
		logger.Warn("model_store_in_memory", zap.String("reason", "REDIS_URL not set"))
		store = modelstore.NewMemoryStore()
	}
	d.Models = modelstore.NewModels(store, logger)

	// Run ledger (Postgres optional)
	if cfg.DatabaseURL != "" {
		db, err := repository.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.db = db
		if err := repository.EnsureSchema(ctx, db); err != nil {
			d.Close()
			return nil, err
		}
		d.Repo = repository.NewPostgres(db)
	} else {
		logger.Warn("run_ledger_in_memory", zap.String("reason", "DATABASE_URL not set"))
		d.Repo = repository.NewMemory()
	}

	policy := bandit.New(bandit.WithEpsilon(cfg.Tuning.BanditEpsilon), bandit.WithLogger(logger))
	restored, err := d.Models.LoadPolicy(ctx, policy)
	if err != nil {
		d.Close()
		return nil, err
	}
	logger.Info("bandit_policy_loaded", zap.Bool("restored", restored), zap.Int("arms", policy.Len()))

	var narrator *narrative.Client
	if cfg.NarrativeURL != "" {
		opts := []narrative.Option{
			narrative.WithTimeout(cfg.NarrativeTimeout),
			narrative.WithRetry(cfg.NarrativeRetry),
			narrative.WithFallback(catalog.Text("narrative.fallback", nil, narrative.DefaultFallback)),
			narrative.WithLogger(logger),
		}
		if key := cfg.NarrativeAPIKey; key != "" {
			opts = append(opts, narrative.WithHeaderProvider(func() map[string]string {
				return map[string]string{"X-API-Key": key}
			}))
		}
		narrator = narrative.NewClient(cfg.NarrativeURL, opts...)
	}

	svc, err := trainer.New(trainer.Deps{
		Models:    d.Models,
		Repo:      d.Repo,
		Batcher:   stats.NewBatcher(nil, logger),
		Policy:    policy,
		Tuning:    cfg.Tuning,
		Catalog:   catalog,
		Narrative: narrator,
		Logger:    logger,
	})
	if err != nil {
		d.Close()
		return nil, err
	}
	d.Service = svc
	d.Runner = task.NewRunner(logger)
	svc.Register(d.Runner)
	return d, nil
}

// Close stops running tasks and releases the store and database handles.
func (d *Deps) Close() error {
	if d == nil {
		return nil
	}
	if d.Runner != nil {
		d.Runner.Close()
	}
	var errs []error
	if d.redis != nil {
		errs = append(errs, d.redis.Close())
	}
	if d.db != nil {
		errs = append(errs, d.db.Close())
	}
	return errors.Join(errs...)
}

func validateRedisURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Hostname()) == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}
