package specfile

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"docs4usync/internal/types"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

const reloadDebounce = 100 * time.Millisecond

// Current holds the most recently loaded specification of a file and keeps it fresh.
type Current struct {
	path string

	mu   sync.RWMutex
	spec types.Specification
}

// NewCurrent loads path once; the file must be valid at startup.
func NewCurrent(path string) (*Current, error) {
	spec, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Current{path: path, spec: spec}, nil
}

func (c *Current) Get() types.Specification {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.spec
}

// Reload re-reads the file. An invalid file leaves the previous specification in place.
func (c *Current) Reload() error {
	spec, err := Load(c.path)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.spec = spec
	c.mu.Unlock()
	return nil
}

// Watch reloads on every change to the file until ctx is done. onChange, if set, runs
// after each successful reload.
func (c *Current) Watch(ctx context.Context, onChange func(types.Specification)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	// Editors often replace files by rename, so watch the directory.
	if err := w.Add(filepath.Dir(c.path)); err != nil {
		return err
	}
	target := filepath.Clean(c.path)

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			fire = timer.C
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("spec file watcher error")
		case <-fire:
			fire = nil
			if err := c.Reload(); err != nil {
				log.WithError(err).WithField("path", c.path).Warn("keeping previous specification")
				continue
			}
			log.WithField("path", c.path).Info("specification reloaded")
			if onChange != nil {
				onChange(c.Get())
			}
		}
	}
}
