package daemon

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ConfigWatcher watches the config file for changes so the daemon can
// pick up a new endpoint or new intervals without a restart. It uses
// fsnotify for cross-platform file system event monitoring.
//
// The parent directory is watched rather than the file itself: most
// editors save via rename-and-replace, which drops an inode watch.
type ConfigWatcher struct {
	watcher *fsnotify.Watcher
	changes chan struct{}
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	path    string

	// debounce collapses the burst of events a single save produces.
	debounce time.Duration
}

// NewConfigWatcher creates a watcher for the given config file path.
// The watcher must be started with Start() before it will emit changes.
func NewConfigWatcher(path string) (*ConfigWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}

	return &ConfigWatcher{
		watcher:  watcher,
		changes:  make(chan struct{}, 1),
		errors:   make(chan error, 10),
		done:     make(chan struct{}),
		path:     abs,
		debounce: 500 * time.Millisecond,
	}, nil
}

// Start begins watching the config file's directory for changes.
func (cw *ConfigWatcher) Start() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if cw.running {
		return fmt.Errorf("watcher already running")
	}

	dir := filepath.Dir(cw.path)
	if err := cw.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch config directory %s: %w", dir, err)
	}

	cw.running = true
	cw.wg.Add(1)
	go cw.processEvents()

	return nil
}

// Stop stops watching and cleans up resources. It blocks until the event
// processing goroutine has exited.
func (cw *ConfigWatcher) Stop() error {
	cw.mu.Lock()
	if !cw.running {
		cw.mu.Unlock()
		return nil
	}
	cw.running = false
	cw.mu.Unlock()

	close(cw.done)

	if err := cw.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	cw.wg.Wait()

	close(cw.changes)
	close(cw.errors)

	return nil
}

// Changes returns the channel that signals config file changes. Bursts of
// file system events within the debounce window collapse into one signal.
// The channel is closed when the watcher is stopped.
func (cw *ConfigWatcher) Changes() <-chan struct{} {
	return cw.changes
}

// Errors returns the channel that emits watcher errors.
// The channel is closed when the watcher is stopped.
func (cw *ConfigWatcher) Errors() <-chan error {
	return cw.errors
}

// IsRunning returns true if the watcher is currently running.
func (cw *ConfigWatcher) IsRunning() bool {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	return cw.running
}

// processEvents is the main event loop converting fsnotify events into
// debounced change signals.
func (cw *ConfigWatcher) processEvents() {
	defer cw.wg.Done()

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-cw.done:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if !cw.relevant(event) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(cw.debounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(cw.debounce)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			select {
			case cw.changes <- struct{}{}:
			default:
			}

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			select {
			case cw.errors <- err:
			case <-cw.done:
				return
			}
		}
	}
}

// relevant reports whether an event concerns the config file itself.
func (cw *ConfigWatcher) relevant(event fsnotify.Event) bool {
	abs, err := filepath.Abs(event.Name)
	if err != nil || abs != cw.path {
		return false
	}
	return event.Has(fsnotify.Create) || event.Has(fsnotify.Write) || event.Has(fsnotify.Rename)
}
