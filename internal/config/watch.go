package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/roach88/msgpass/internal/fault"
)

// RulesFunc receives the rule tables of a freshly validated configuration.
type RulesFunc func(send, recv []fault.Rule)

// Reload re-reads path and passes its rules to apply. On any error apply
// is not called, so the rules in force stay in force.
func Reload(path string, apply RulesFunc) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	apply(cfg.SendRules, cfg.ReceiveRules)
	return nil
}

// WatchRules reloads the rules whenever the file at path changes, until ctx
// is done. The parent directory is watched so editors that replace the
// file by rename are followed. Invalid documents are logged and ignored.
func WatchRules(ctx context.Context, path string, apply RulesFunc, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			logger.Warn("cannot close watcher", "error", err)
		}
	}()
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs || !event.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			if err := Reload(abs, apply); err != nil {
				logger.Warn("rules not reloaded, keeping current rules", "path", abs, "error", err)
				continue
			}
			logger.Info("rules reloaded", "path", abs)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher error", "error", err)
		}
	}
}
