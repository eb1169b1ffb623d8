// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/ManuGH/ztc/internal/log"
)

// DefaultDebounce coalesces bursts of file events into one reload.
const DefaultDebounce = 250 * time.Millisecond

// Holder keeps the current configuration and reloads it from file. Only the
// log level and channel filters take effect at runtime; listeners decide
// what else they apply.
type Holder struct {
	mu      sync.RWMutex
	current Config
	loader  *Loader
	logger  zerolog.Logger

	debounce time.Duration

	listenMu  sync.RWMutex
	listeners []chan<- Config

	watchMu sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewHolder wraps the configuration initially produced by loader.
func NewHolder(initial Config, loader *Loader) *Holder {
	return &Holder{
		current:  initial,
		loader:   loader,
		logger:   log.WithComponent("config"),
		debounce: DefaultDebounce,
	}
}

// Get returns the current configuration.
func (h *Holder) Get() Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Subscribe registers ch for successful reloads. Sends never block; a full
// channel misses the update.
func (h *Holder) Subscribe(ch chan<- Config) {
	h.listenMu.Lock()
	defer h.listenMu.Unlock()
	h.listeners = append(h.listeners, ch)
}

// Reload loads the file again. On error the current configuration is kept.
func (h *Holder) Reload() error {
	h.logger.Info().Str(log.FieldEvent, "config.reload_start").Msg("reloading configuration")
	next, err := h.loader.Load()
	if err != nil {
		h.logger.Error().Err(err).Str(log.FieldEvent, "config.reload_failed").Msg("configuration reload rejected")
		return fmt.Errorf("reload: %w", err)
	}

	h.mu.Lock()
	prev := h.current
	h.current = next
	h.mu.Unlock()

	if prev.EffectiveLogLevel() != next.EffectiveLogLevel() {
		if err := log.SetLevel(next.EffectiveLogLevel()); err != nil {
			h.logger.Warn().Err(err).Msg("log level not applied")
		} else {
			h.logger.Info().Str("old", prev.EffectiveLogLevel()).Str("new", next.EffectiveLogLevel()).Msg("config changed: logLevel")
		}
	}
	for name, enabled := range next.Channels {
		if prev.Channels[name] != enabled {
			h.logger.Info().Str(log.FieldChannel, name).Bool("enabled", enabled).Msg("config changed: channel")
		}
	}

	h.notify(next)
	h.logger.Info().Str(log.FieldEvent, "config.reload_success").Msg("configuration reloaded")
	return nil
}

func (h *Holder) notify(cfg Config) {
	h.listenMu.RLock()
	defer h.listenMu.RUnlock()
	for _, ch := range h.listeners {
		select {
		case ch <- cfg:
		default:
			h.logger.Warn().Str(log.FieldEvent, "config.listener_skip").Msg("skipped notifying listener (channel full)")
		}
	}
}

// Watch reloads on changes to the config file until ctx ends or Stop is
// called. The directory is watched so editors that replace the file are
// seen too. Without a config file Watch is a no-op.
func (h *Holder) Watch(ctx context.Context) error {
	path := h.loader.Path()
	if path == "" {
		h.logger.Info().Str(log.FieldEvent, "config.watcher_disabled").Msg("config file watcher disabled (no config file)")
		return nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch config dir: %w", err)
	}

	h.watchMu.Lock()
	h.watcher = watcher
	h.done = make(chan struct{})
	done := h.done
	h.watchMu.Unlock()

	h.logger.Info().Str(log.FieldEvent, "config.watcher_started").Str(log.FieldPath, abs).Msg("watching config file for changes")
	go h.watchLoop(ctx, watcher, abs, done)
	return nil
}

func (h *Holder) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, path string, done chan struct{}) {
	defer close(done)
	defer func() { _ = watcher.Close() }()

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info().Str(log.FieldEvent, "config.watcher_stopped").Msg("config watcher stopped")
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			h.logger.Debug().Str(log.FieldEvent, "config.file_changed").Str("op", ev.Op.String()).Msg("config file changed")
			if timer == nil {
				timer = time.NewTimer(h.debounce)
			} else {
				timer.Reset(h.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			_ = h.Reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			h.logger.Error().Err(err).Str(log.FieldEvent, "config.watcher_error").Msg("config watcher error")
		}
	}
}

// Stop ends a running watcher and waits for it.
func (h *Holder) Stop() {
	h.watchMu.Lock()
	watcher, done := h.watcher, h.done
	h.watcher, h.done = nil, nil
	h.watchMu.Unlock()
	if watcher == nil {
		return
	}
	_ = watcher.Close()
	<-done
}
