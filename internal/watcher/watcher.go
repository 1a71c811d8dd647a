// Package watcher reloads the transcript working set when JSONL files
// change on disk. Filesystem events are decoupled from the reload work by
// a bounded queue so a slow reload never blocks event delivery.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/onllm-dev/logwatch/internal/metrics"
)

// queueCapacity bounds pending reload requests. Reloads are idempotent
// full rescans, so dropping a request while the queue is full loses
// nothing: a queued request already covers it.
const queueCapacity = 64

// Watcher watches a directory tree for JSONL changes and invokes a reload
// callback from a single worker goroutine.
type Watcher struct {
	root   string
	reload func()
	logger *slog.Logger

	fw    *fsnotify.Watcher
	queue chan struct{}
}

// New creates a watcher over root. reload is called from the worker
// goroutine, never from the event loop.
func New(root string, reload func(), logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		root:   root,
		reload: reload,
		logger: logger,
		fw:     fw,
		queue:  make(chan struct{}, queueCapacity),
	}, nil
}

// Start registers watches on the directory tree and runs the event loop
// and the drain worker until the context is canceled.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watchTree(w.root); err != nil {
		return err
	}

	go w.drain(ctx)
	go w.eventLoop(ctx)

	w.logger.Info("file watcher started", "root", w.root)
	return nil
}

// Close releases the underlying filesystem watcher.
func (w *Watcher) Close() error {
	return w.fw.Close()
}

// Enqueue posts a reload request, dropping it if the queue is full.
func (w *Watcher) Enqueue() {
	select {
	case w.queue <- struct{}{}:
		metrics.WatcherQueueDepth.Set(float64(len(w.queue)))
	default:
		metrics.WatcherDropped.Inc()
		w.logger.Debug("reload queue full, dropping request")
	}
}

// watchTree adds watches recursively. fsnotify has no recursive mode, so
// every directory is registered individually.
func (w *Watcher) watchTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.fw.Add(path); err != nil {
			w.logger.Warn("could not watch directory", "path", path, "error", err)
		}
		return nil
	})
}

func (w *Watcher) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	// New project directories appear after startup; watch them too
	if event.Op.Has(fsnotify.Create) {
		if err := w.watchTree(event.Name); err == nil {
			w.logger.Debug("watching new path", "path", event.Name)
		}
	}

	if !strings.HasSuffix(event.Name, ".jsonl") {
		return
	}
	if event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create) ||
		event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename) {
		w.Enqueue()
	}
}

// drain is the single worker: one reload at a time, in request order.
func (w *Watcher) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.queue:
			metrics.WatcherQueueDepth.Set(float64(len(w.queue)))
			w.reload()
		}
	}
}
