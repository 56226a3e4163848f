package overlay

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watch invalidates the cache whenever a certificate file in the overlay
// directory changes. It creates the directory if needed and returns when ctx
// is cancelled.
func (o *Overlay) Watch(ctx context.Context) error {
	if err := os.MkdirAll(o.dir, 0o700); err != nil {
		return fmt.Errorf("failed to create certificate directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(o.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", o.dir, err)
	}
	o.logger.Info("watching certificate directory", "path", o.dir)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(event.Name, certificateFileSuffix) {
				continue
			}
			o.logger.Debug("certificate changed", "path", event.Name, "op", event.Op.String())
			o.Invalidate()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			o.logger.Warn("certificate watcher error", "error", err)
		}
	}
}
