// Package reload owns the current compiled project graph and the server
// readiness state machine. The graph is published through a single atomic
// pointer: a reload builds a complete new graph before swapping it in, so
// no task creation can ever observe a partially-rebuilt graph, and tasks
// holding the previous snapshot are untouched.
package reload

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"sqlrunner/internal/project"
)

// Status is the server readiness state
type Status string

const (
	StatusCompiling Status = "compiling"
	StatusReady     Status = "ready"
	StatusError     Status = "error"
)

// Controller compiles the on-disk project and atomically publishes the
// result. Reloads may be triggered concurrently and arbitrarily often;
// they serialise internally and a failed reload keeps the previous graph.
type Controller struct {
	dir     string
	current atomic.Pointer[project.Project]

	// reloadMu serialises whole reloads; mu guards the readiness fields
	reloadMu sync.Mutex
	mu       sync.Mutex
	status   Status
	lastErr  error
}

func NewController(dir string) *Controller {
	return &Controller{dir: dir, status: StatusCompiling}
}

// Current returns the published graph snapshot, or nil before the first
// successful load
func (c *Controller) Current() *project.Project {
	return c.current.Load()
}

// State returns the readiness status and, in the error state, the compile
// failure behind it
func (c *Controller) State() (Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status, c.lastErr
}

// Reload recompiles the project directory and swaps the published graph on
// success. On failure the previous graph stays current and the error is
// recorded for the status method.
func (c *Controller) Reload() error {
	c.reloadMu.Lock()
	defer c.reloadMu.Unlock()

	c.mu.Lock()
	c.status = StatusCompiling
	c.mu.Unlock()

	started := time.Now()
	p, err := project.Load(c.dir)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		log.Error().Err(err).Str("dir", c.dir).Msg("Could not compile project")
		c.status = StatusError
		c.lastErr = err
		return err
	}

	c.current.Store(p)
	c.status = StatusReady
	c.lastErr = nil
	log.Info().
		Str("project", p.Name).
		Int("nodes", len(p.Nodes)).
		Dur("elapsed", time.Since(started)).
		Msg("Compiled project")
	return nil
}

// HandleTriggers consumes reload notifications until the context ends.
// Each notification triggers one reload; notifications arriving while a
// reload is running are coalesced by the internal serialisation.
func (c *Controller) HandleTriggers(ctx context.Context, triggers <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-triggers:
			log.Info().Msg("Reload triggered")
			_ = c.Reload()
		}
	}
}

// Watch reloads the project whenever files under the project directory
// change. Events are debounced so a burst of writes compiles once.
func (c *Controller) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dirs := []string{c.dir}
	for _, sub := range []string{"models", "seeds", "tests", "macros"} {
		dirs = append(dirs, filepath.Join(c.dir, sub))
	}
	for _, dir := range dirs {
		// missing subdirectories are fine, the project may not use them
		if err := watcher.Add(dir); err != nil {
			log.Debug().Err(err).Str("dir", dir).Msg("Not watching directory")
		}
	}

	go func() {
		defer func() {
			if err := watcher.Close(); err != nil {
				log.Error().Err(err).Msg("Could not close project watcher")
			}
		}()

		var debounce *time.Timer
		trigger := make(chan struct{}, 1)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, func() {
					select {
					case trigger <- struct{}{}:
					default:
					}
				})
			case <-trigger:
				log.Info().Msg("Project files changed, reloading")
				_ = c.Reload()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Error().Err(err).Msg("Project watcher error")
			}
		}
	}()
	return nil
}
