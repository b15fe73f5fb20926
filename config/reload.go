// 配置文件热重载。
//
// 轮询配置文件的修改时间与大小，变化时重新加载、校验并通知回调。
package config

import (
	"context"
	"fmt"
	"os"
	"reflect"
	"sync"
	"time"

	"go.uber.org/zap"
)

// --- 变更类型定义 ---

// Change describes one changed configuration field.
type Change struct {
	// Path 是字段路径（例如 "Log.Level"）
	Path string `json:"path"`

	OldValue any `json:"old_value,omitempty"`
	NewValue any `json:"new_value,omitempty"`

	// RequiresRestart 表示该变更需要重启才能生效
	RequiresRestart bool `json:"requires_restart"`
}

// ReloadCallback is called after a new configuration was accepted.
type ReloadCallback func(oldConfig, newConfig *Config, changes []Change)

// hotReloadable 列出运行时即可生效的字段
var hotReloadable = map[string]bool{
	"Log.Level": true,
}

// sensitive 字段在日志中脱敏
var sensitive = map[string]bool{
	"Snapshot.Redis.Password":    true,
	"Snapshot.Database.Password": true,
}

// IsHotReloadable reports whether a change to path takes effect without a restart.
func IsHotReloadable(path string) bool {
	return hotReloadable[path]
}

// --- 重载器 ---

// ReloaderOption configures a Reloader.
type ReloaderOption func(*Reloader)

// WithPollInterval sets how often the file is checked.
func WithPollInterval(d time.Duration) ReloaderOption {
	return func(r *Reloader) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithReloadLogger sets the logger.
func WithReloadLogger(logger *zap.Logger) ReloaderOption {
	return func(r *Reloader) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Reloader watches a config file and swaps in new configurations that pass
// validation. A rejected file leaves the current configuration in place.
type Reloader struct {
	mu        sync.RWMutex
	loader    *Loader
	path      string
	current   *Config
	version   int
	callbacks []ReloadCallback

	interval time.Duration
	modTime  time.Time
	size     int64

	logger *zap.Logger
}

// NewReloader creates a Reloader for path starting from current. loader
// supplies the env prefix and validators; its config path is replaced.
func NewReloader(loader *Loader, path string, current *Config, opts ...ReloaderOption) *Reloader {
	if loader == nil {
		loader = NewLoader()
	}
	r := &Reloader{
		loader:   loader.WithConfigPath(path),
		path:     path,
		current:  current,
		version:  1,
		interval: time.Second,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("component", "config_reloader"))
	if info, err := os.Stat(path); err == nil {
		r.modTime, r.size = info.ModTime(), info.Size()
	}
	return r
}

// OnReload registers a callback for accepted reloads.
func (r *Reloader) OnReload(cb ReloadCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, cb)
}

// Config returns the current configuration.
func (r *Reloader) Config() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Version returns the number of accepted configurations, starting at 1.
func (r *Reloader) Version() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// Run polls the file until ctx is done.
func (r *Reloader) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("config watcher started",
		zap.String("path", r.path),
		zap.Duration("interval", r.interval))

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !r.changed() {
				continue
			}
			if _, err := r.Reload(); err != nil {
				r.logger.Warn("config reload rejected", zap.Error(err))
			}
		}
	}
}

// changed reports whether the file's modification time or size moved.
func (r *Reloader) changed() bool {
	info, err := os.Stat(r.path)
	if err != nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if info.ModTime().Equal(r.modTime) && info.Size() == r.size {
		return false
	}
	r.modTime, r.size = info.ModTime(), info.Size()
	return true
}

// Reload loads and validates the file and applies it when it differs from
// the current configuration. It returns the detected changes.
func (r *Reloader) Reload() ([]Change, error) {
	next, err := r.loader.Load()
	if err != nil {
		return nil, err
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	old := r.current
	changes := DiffConfigs(old, next)
	if len(changes) == 0 {
		r.mu.Unlock()
		return nil, nil
	}
	r.current = next
	r.version++
	callbacks := append([]ReloadCallback(nil), r.callbacks...)
	r.mu.Unlock()

	restart := false
	for _, c := range changes {
		r.logChange(c)
		restart = restart || c.RequiresRestart
	}
	if restart {
		r.logger.Warn("some configuration changes require a restart to take effect")
	}

	if err := notifySafe(callbacks, old, next, changes); err != nil {
		return changes, err
	}
	return changes, nil
}

func notifySafe(callbacks []ReloadCallback, old, next *Config, changes []Change) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("reload callback panicked: %v", rec)
		}
	}()
	for _, cb := range callbacks {
		cb(old, next, changes)
	}
	return nil
}

func (r *Reloader) logChange(c Change) {
	fields := []zap.Field{
		zap.String("path", c.Path),
		zap.Bool("requires_restart", c.RequiresRestart),
	}
	if !sensitive[c.Path] {
		fields = append(fields, zap.Any("old_value", c.OldValue), zap.Any("new_value", c.NewValue))
	}
	r.logger.Info("configuration changed", fields...)
}

// DiffConfigs lists the fields that differ between two configurations.
func DiffConfigs(oldConfig, newConfig *Config) []Change {
	var changes []Change
	compareStructs("", reflect.ValueOf(oldConfig).Elem(), reflect.ValueOf(newConfig).Elem(), &changes)
	return changes
}

// compareStructs 递归比较结构体字段
func compareStructs(prefix string, oldVal, newVal reflect.Value, changes *[]Change) {
	t := oldVal.Type()
	for i := 0; i < oldVal.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		path := field.Name
		if prefix != "" {
			path = prefix + "." + field.Name
		}

		oldField, newField := oldVal.Field(i), newVal.Field(i)
		switch oldField.Kind() {
		case reflect.Func:
			continue
		case reflect.Struct:
			compareStructs(path, oldField, newField, changes)
			continue
		}

		if !reflect.DeepEqual(oldField.Interface(), newField.Interface()) {
			*changes = append(*changes, Change{
				Path:            path,
				OldValue:        oldField.Interface(),
				NewValue:        newField.Interface(),
				RequiresRestart: !hotReloadable[path],
			})
		}
	}
}
