package internal

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.opentelemetry.io/otel/attribute"

	"github.com/xKoRx/echo-bridge/sdk/telemetry"
	"github.com/xKoRx/echo-bridge/sdk/telemetry/semconv"
)

const configReloadDebounce = 500 * time.Millisecond

// configWatcher recarga el YAML cuando cambia en disco.
//
// Observa el directorio y no el archivo: los editores y los ConfigMap reemplazan el archivo
// con rename, lo que invalida un watch directo.
type configWatcher struct {
	path     string
	watcher  *fsnotify.Watcher
	reload   func(ctx context.Context) error
	debounce time.Duration
	tel      *telemetry.Client
}

func newConfigWatcher(path string, reload func(ctx context.Context) error, tel *telemetry.Client) (*configWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path %q: %w", path, err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch config dir %q: %w", filepath.Dir(abs), err)
	}
	return &configWatcher{
		path:     abs,
		watcher:  watcher,
		reload:   reload,
		debounce: configReloadDebounce,
		tel:      tel,
	}, nil
}

// Run procesa eventos hasta que ctx se cancele. Siempre retorna nil.
func (w *configWatcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.tel.Warn(ctx, "Config watcher error", attribute.String("error", err.Error()))
		case <-timer.C:
			if err := w.reload(ctx); err != nil {
				w.tel.Error(ctx, "Config reload failed, keeping previous values", err,
					semconv.Bridge.Component.String(semconv.ComponentValues.Core),
					attribute.String("path", w.path),
				)
				continue
			}
			w.tel.Info(ctx, "Config reloaded", attribute.String("path", w.path))
		}
	}
}
