// Package watcher turns transcription artifacts dropped into a local
// directory into storage notifications.
package watcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/fsnotify/fsnotify"

	"transcript-summaries/pkg/event"
)

// EventHandler processes one newly created file.
type EventHandler func(ctx context.Context, path string) error

// Invoker handles a raw envelope, like the Lambda entry point.
type Invoker interface {
	Handle(ctx context.Context, raw json.RawMessage) (events.APIGatewayProxyResponse, error)
}

// Watcher monitors one directory and runs at most maxConcurrent handlers at once.
type Watcher struct {
	dir       string
	handler   EventHandler
	logger    *slog.Logger
	watcher   *fsnotify.Watcher
	semaphore chan struct{}
	wg        sync.WaitGroup

	// settle is how long to wait after Create before the file is read.
	settle time.Duration
}

func New(dir string, handler EventHandler, logger *slog.Logger, maxConcurrent int) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("add watch path: %w", err)
	}

	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}

	return &Watcher{
		dir:       dir,
		handler:   handler,
		logger:    logger,
		watcher:   fw,
		semaphore: make(chan struct{}, maxConcurrent),
		settle:    500 * time.Millisecond,
	}, nil
}

// Start blocks until ctx is done, then waits for in-flight handlers.
func (w *Watcher) Start(ctx context.Context) error {
	w.logger.Info("drop watcher started", "dir", w.dir, "max_concurrent", cap(w.semaphore))

	for {
		select {
		case <-ctx.Done():
			w.wg.Wait()
			w.logger.Info("drop watcher stopped")
			return ctx.Err()

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if !ev.Has(fsnotify.Create) {
				continue
			}
			if !IsArtifact(ev.Name) {
				w.logger.Debug("ignoring non-artifact file", "path", ev.Name)
				continue
			}

			w.logger.Info("artifact dropped", "path", ev.Name)
			time.Sleep(w.settle)

			select {
			case w.semaphore <- struct{}{}:
				w.wg.Add(1)
				go func(path string) {
					defer w.wg.Done()
					defer func() { <-w.semaphore }()

					if err := w.handler(ctx, path); err != nil {
						w.logger.Error("failed to process artifact", "path", path, "error", err)
					}
				}(ev.Name)
			case <-ctx.Done():
				w.wg.Wait()
				return ctx.Err()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}

func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

// IsArtifact reports whether path looks like a transcription result.
func IsArtifact(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}

// IngestHandler returns an EventHandler that wraps each dropped file in a
// storage notification for bucket, keyed by its path relative to root.
func IngestHandler(inv Invoker, bucket, root string) EventHandler {
	return func(ctx context.Context, path string) error {
		key, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("resolve key for %s: %w", path, err)
		}

		raw, err := event.Notification(bucket, filepath.ToSlash(key))
		if err != nil {
			return err
		}

		resp, err := inv.Handle(ctx, raw)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("ingestion returned %d: %s", resp.StatusCode, resp.Body)
		}
		return nil
	}
}
