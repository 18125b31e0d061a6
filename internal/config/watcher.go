package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadFunc receives a freshly loaded and validated configuration.
type ReloadFunc func(ctx context.Context, cfg *Config) error

// Watcher reloads the configuration file when it changes on disk.
type Watcher struct {
	configPath string
	onReload   ReloadFunc
	watcher    *fsnotify.Watcher
	debounce   time.Duration

	mu       sync.Mutex
	stopOnce sync.Once
	stopChan chan struct{}
	trigger  chan struct{}
}

// NewWatcher creates a watcher for configPath.
func NewWatcher(configPath string, onReload ReloadFunc) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}
	return &Watcher{
		configPath: absPath,
		onReload:   onReload,
		watcher:    fw,
		debounce:   2 * time.Second,
		stopChan:   make(chan struct{}),
		trigger:    make(chan struct{}, 1),
	}, nil
}

// SetDebounce changes the quiet period between the last event and the reload.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.debounce = d
}

// Start watches the directory holding the config file. Editors often replace
// the file instead of writing it, so the directory is the reliable target.
func (w *Watcher) Start(ctx context.Context) error {
	dir := filepath.Dir(w.configPath)
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch config directory %s: %w", dir, err)
	}
	slog.Info("Starting configuration watcher", "config_path", w.configPath)
	go w.watchLoop(ctx)
	go w.reloadLoop(ctx)
	return nil
}

// Stop ends both loops and closes the fsnotify watcher.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		if err := w.watcher.Close(); err != nil {
			slog.Error("Error closing file watcher", "error", err)
		}
	})
}

func (w *Watcher) watchLoop(ctx context.Context) {
	name := filepath.Base(w.configPath)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			switch {
			case event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0:
				slog.Debug("Config file change detected", "file", event.Name, "op", event.Op.String())
				w.requestReload()
			case event.Op&fsnotify.Remove != 0:
				slog.Warn("Config file removed", "file", event.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("Config watcher error", "error", err)
		}
	}
}

func (w *Watcher) reloadLoop(ctx context.Context) {
	var timer *time.Timer
	stop := func() {
		if timer != nil {
			timer.Stop()
		}
	}
	for {
		select {
		case <-ctx.Done():
			stop()
			return
		case <-w.stopChan:
			stop()
			return
		case <-w.trigger:
			stop()
			w.mu.Lock()
			d := w.debounce
			w.mu.Unlock()
			timer = time.AfterFunc(d, func() {
				if err := w.reload(ctx); err != nil {
					slog.Error("Failed to reload configuration", "error", err)
				}
			})
		}
	}
}

func (w *Watcher) requestReload() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

func (w *Watcher) reload(ctx context.Context) error {
	slog.Info("Reloading configuration", "config_path", w.configPath)
	cfg, err := Load(w.configPath)
	if err != nil {
		return fmt.Errorf("failed to load new configuration: %w", err)
	}
	if err := w.onReload(ctx, cfg); err != nil {
		return fmt.Errorf("failed to apply new configuration: %w", err)
	}
	slog.Info("Configuration reloaded successfully")
	return nil
}

// RestartRequired lists the sections that differ between old and next but
// are only read at startup. A reload cannot apply them.
func RestartRequired(old, next *Config) []string {
	if old == nil || next == nil {
		return nil
	}
	sections := []struct {
		key        string
		prev, curr any
	}{
		{"paths", old.Paths, next.Paths},
		{"database", old.Database, next.Database},
		{"http", old.HTTP, next.HTTP},
		{"queue.workers", old.Queue.Workers, next.Queue.Workers},
		{"queue.size", old.Queue.Size, next.Queue.Size},
		{"lock", old.Lock, next.Lock},
		{"redis", old.Redis, next.Redis},
		{"nats", old.NATS, next.NATS},
		{"storage", old.Storage, next.Storage},
		{"docker", old.Docker, next.Docker},
		{"schedule", old.Schedule, next.Schedule},
		{"logging", old.Logging, next.Logging},
	}
	var keys []string
	for _, s := range sections {
		if !reflect.DeepEqual(s.prev, s.curr) {
			keys = append(keys, s.key)
		}
	}
	return keys
}
