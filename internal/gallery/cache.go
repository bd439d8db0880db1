package gallery

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/campusware/rollcall/internal/store"
)

// Cache keeps one gallery snapshot per store root and rebuilds it only when
// the store's latest slot mtime moves. Concurrent callers for the same root
// serialize on a per-root mutex, so at most one rebuild runs at a time and
// everyone else reuses its result.
type Cache struct {
	mu    sync.Mutex
	roots map[string]*cacheEntry
	log   *zap.Logger
}

type cacheEntry struct {
	mu      sync.Mutex
	gallery *Gallery
	token   time.Time
	valid   bool
}

// NewCache creates an empty gallery cache.
func NewCache(log *zap.Logger) *Cache {
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{roots: make(map[string]*cacheEntry), log: log}
}

// Get returns the current gallery for the store, rebuilding it if slot files
// changed since the last build. When nothing changed the exact same *Gallery
// pointer comes back, so callers may compare pointers to detect refreshes.
func (c *Cache) Get(st *store.Store) (*Gallery, error) {
	e := c.entry(st.Root())

	e.mu.Lock()
	defer e.mu.Unlock()

	token, err := st.LatestMtime()
	if err != nil {
		return nil, fmt.Errorf("reading store mtime: %w", err)
	}
	if e.valid && e.gallery != nil && token.Equal(e.token) {
		return e.gallery, nil
	}

	slots, err := st.LoadAll()
	if err != nil {
		return nil, fmt.Errorf("loading store slots: %w", err)
	}

	g := Build(slots, c.log)
	c.log.Info("gallery rebuilt",
		zap.String("root", st.Root()),
		zap.Int("entries", g.Len()),
		zap.Int("dim", g.Dim))

	e.gallery = g
	e.token = token
	e.valid = true
	return g, nil
}

// Invalidate drops the cached snapshot for a root. The next Get rebuilds
// unconditionally.
func (c *Cache) Invalidate(root string) {
	e := c.entry(root)
	e.mu.Lock()
	e.valid = false
	e.mu.Unlock()
}

func (c *Cache) entry(root string) *cacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.roots[root]
	if !ok {
		e = &cacheEntry{}
		c.roots[root] = e
	}
	return e
}

// Watch invalidates the root's snapshot whenever files under it change.
// The mtime token already catches changes lazily; the watcher just makes
// external edits (manual deletes, rsynced enrollments) visible without
// waiting for a slot write. Blocks until ctx is done.
func (c *Cache) Watch(ctx context.Context, root string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating store watcher: %w", err)
	}
	defer watcher.Close()

	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("creating store root: %w", err)
	}
	if err := watcher.Add(root); err != nil {
		return fmt.Errorf("watching store root: %w", err)
	}
	// fsnotify does not recurse; watch existing identity directories too.
	entries, err := os.ReadDir(root)
	if err != nil {
		return fmt.Errorf("listing store root: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			if err := watcher.Add(filepath.Join(root, e.Name())); err != nil {
				c.log.Warn("cannot watch identity directory",
					zap.String("dir", e.Name()),
					zap.Error(err))
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := watcher.Add(event.Name); err != nil {
						c.log.Warn("cannot watch new identity directory",
							zap.String("dir", event.Name),
							zap.Error(err))
					}
				}
			}
			c.Invalidate(root)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.log.Warn("store watcher error", zap.Error(err))
		}
	}
}
