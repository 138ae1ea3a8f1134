// Package watch observes the engine's operation-heads directory for
// out-of-band activity: commands issued by humans or by agents that
// bypass the coordination layer still move the op heads, and a swarm
// wants to know. Events are debounced and best-effort; the watcher
// never blocks the processes doing the writing.
package watch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentjj/internal/jj"
	"github.com/fyrsmithlabs/agentjj/internal/logging"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

// Event reports that the workspace's operation heads changed.
type Event struct {
	// Workspace is the workspace root the change was observed in.
	Workspace string

	// Timestamp is when the debounce window closed, not when the
	// first underlying write happened.
	Timestamp time.Time
}

// Watcher watches one workspace's op-heads directory.
type Watcher struct {
	ws       *jj.Workspace
	watcher  *fsnotify.Watcher
	events   chan Event
	debounce time.Duration
	logger   *logging.Logger

	stop     chan struct{}
	stopOnce sync.Once
}

// Option adjusts a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period before an event is emitted. A
// single engine command touches the heads directory several times;
// the debounce collapses that burst into one event.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the watcher logger.
func WithLogger(logger *logging.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWatcher creates a watcher for the given workspace.
func NewWatcher(ws *jj.Workspace, opts ...Option) (*Watcher, error) {
	if ws == nil {
		return nil, fmt.Errorf("workspace is required")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}

	w := &Watcher{
		ws:       ws,
		watcher:  fsw,
		events:   make(chan Event, 10),
		debounce: 500 * time.Millisecond,
		logger:   logging.Nop(),
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start begins watching and returns immediately; events arrive on
// Events() until Stop or ctx cancellation.
func (w *Watcher) Start(ctx context.Context) error {
	dir := w.ws.OpHeadsDir()
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	w.logger.Debug(ctx, "watching operation heads",
		zap.String("workspace", w.ws.Root),
		zap.Duration("debounce", w.debounce),
	)

	go w.processEvents(ctx)
	return nil
}

// Stop stops the watcher and releases its resources. Safe to call
// more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		_ = w.watcher.Close()
	})
}

// Events returns the channel op-head events arrive on.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// processEvents folds filesystem noise into debounced Events.
func (w *Watcher) processEvents(ctx context.Context) {
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			event := Event{
				Workspace: w.ws.Root,
				Timestamp: time.Now().UTC(),
			}
			select {
			case w.events <- event:
			default:
				// Receiver is behind; the next change re-signals.
				w.logger.Debug(ctx, "dropping op-head event, channel full")
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn(ctx, "watcher error", zap.Error(err))
		}
	}
}
