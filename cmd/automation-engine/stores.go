package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"maintenance-automation/config"
	"maintenance-automation/internal/execution"
	"maintenance-automation/internal/logger"
	"maintenance-automation/internal/metrics"
	"maintenance-automation/internal/rule"
	"maintenance-automation/internal/storage/postgres"
	"maintenance-automation/internal/storage/sqlite"
)

// ruleWriter is implemented by the SQL stores.
type ruleWriter interface {
	UpsertRule(ctx context.Context, r rule.Rule) error
}

// stores holds the rule store and execution log selected by config.
type stores struct {
	rules rule.Store
	log   execution.Log
	// reload re-reads the rules directory into the rule store.
	reload func(ctx context.Context) (int, error)
	close  func()
}

func openStores(ctx context.Context, cfg *config.Config, rulesPath string, loader *rule.RulesLoader, log *logger.Logger, m *metrics.Metrics) (*stores, error) {
	switch cfg.Storage.Driver {
	case "sqlite":
		db, err := sqlite.Open(cfg.Storage.Path, log)
		if err != nil {
			return nil, err
		}
		s := &stores{
			rules: db,
			log:   db,
			close: func() {
				if err := db.Close(); err != nil {
					log.Error("failed to close sqlite store", "error", err)
				}
			},
		}
		s.reload = func(ctx context.Context) (int, error) {
			return seedRules(ctx, db, loader, rulesPath, log)
		}
		return s, nil

	case "postgres":
		db, err := postgres.NewStore(ctx, cfg.Storage.DSN, log)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
		s := &stores{rules: db, log: db, close: db.Close}
		s.reload = func(ctx context.Context) (int, error) {
			return seedRules(ctx, db, loader, rulesPath, log)
		}
		return s, nil

	default:
		mem := rule.NewInMemoryStore(log, m)
		s := &stores{rules: mem, log: execution.NewMemoryLog(), close: func() {}}
		s.reload = func(context.Context) (int, error) {
			rules, err := loadRules(loader, rulesPath, log)
			if err != nil {
				return 0, err
			}
			if err := mem.Load(rules); err != nil {
				return 0, err
			}
			return len(rules), nil
		}
		return s, nil
	}
}

// loadRules treats a missing rules directory as empty.
func loadRules(loader *rule.RulesLoader, path string, log *logger.Logger) ([]rule.Rule, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		log.Warn("rules directory not found, starting without file rules", "path", path)
		return nil, nil
	}
	return loader.LoadFromDirectory(path)
}

// seedRules upserts file rules into a SQL store. Rules already in the
// database and absent from the files are left alone.
func seedRules(ctx context.Context, w ruleWriter, loader *rule.RulesLoader, path string, log *logger.Logger) (int, error) {
	rules, err := loadRules(loader, path, log)
	if err != nil {
		return 0, err
	}
	for _, r := range rules {
		if err := w.UpsertRule(ctx, r); err != nil {
			return 0, fmt.Errorf("failed to seed rule %s: %w", r.ID, err)
		}
	}
	return len(rules), nil
}
