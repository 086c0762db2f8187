package config

import (
	"context"
	"reflect"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// =============================================================================
// 🔄 运行时重载
// =============================================================================

// Reloader re-reads the config file when it changes. Only log.level is
// applied at runtime; changes to any other section are logged and take
// effect on restart.
type Reloader struct {
	loader  *Loader
	watcher *FileWatcher
	level   zap.AtomicLevel
	logger  *zap.Logger

	mu      sync.RWMutex
	current *Config
}

// NewReloader watches path and applies log level changes to level.
func NewReloader(path string, current *Config, level zap.AtomicLevel, logger *zap.Logger, opts ...WatcherOption) (*Reloader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "config_reloader"))

	watcher, err := NewFileWatcher([]string{path}, append([]WatcherOption{WithWatcherLogger(logger)}, opts...)...)
	if err != nil {
		return nil, err
	}
	r := &Reloader{
		loader:  NewLoader().WithConfigPath(path),
		watcher: watcher,
		level:   level,
		logger:  logger,
		current: current,
	}
	watcher.OnChange(r.handle)
	return r, nil
}

// Start begins watching.
func (r *Reloader) Start(ctx context.Context) error {
	return r.watcher.Start(ctx)
}

// Stop stops watching.
func (r *Reloader) Stop() error {
	return r.watcher.Stop()
}

// Current returns the last successfully loaded config.
func (r *Reloader) Current() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

func (r *Reloader) handle(ev FileEvent) {
	if ev.Op == FileOpRemove {
		r.logger.Warn("config file removed, keeping current config", zap.String("path", ev.Path))
		return
	}

	next, err := r.loader.Load()
	if err == nil {
		err = next.Validate()
	}
	if err != nil {
		r.logger.Error("config reload rejected", zap.String("path", ev.Path), zap.Error(err))
		return
	}

	r.mu.Lock()
	prev := r.current
	r.current = next
	r.mu.Unlock()

	if next.Log.Level != prev.Log.Level {
		var lvl zapcore.Level
		if err := lvl.UnmarshalText([]byte(next.Log.Level)); err != nil {
			r.logger.Warn("invalid log level", zap.String("level", next.Log.Level), zap.Error(err))
		} else {
			r.level.SetLevel(lvl)
			r.logger.Info("log level changed",
				zap.String("from", prev.Log.Level),
				zap.String("to", next.Log.Level))
		}
	}

	if changed := changedSections(prev, next); len(changed) > 0 {
		r.logger.Warn("config changed, restart required to apply",
			zap.Strings("sections", changed))
	}
}

// changedSections lists top-level sections other than log that differ.
func changedSections(a, b *Config) []string {
	va, vb := reflect.ValueOf(a).Elem(), reflect.ValueOf(b).Elem()
	t := va.Type()

	var out []string
	for i := 0; i < t.NumField(); i++ {
		name := t.Field(i).Tag.Get("yaml")
		if name == "log" {
			continue
		}
		if !reflect.DeepEqual(va.Field(i).Interface(), vb.Field(i).Interface()) {
			out = append(out, name)
		}
	}
	return out
}
