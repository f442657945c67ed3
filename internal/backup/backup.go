// Package backup uploads consistent snapshots of the notes database to
// object storage.
package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kuitang/yanote/internal/db"
	"github.com/kuitang/yanote/internal/obs"
)

const (
	// DefaultPrefix is the key prefix snapshots are stored under.
	DefaultPrefix = "backups/"

	keyTimeLayout = "20060102T150405Z"
	keyStem       = "yanote-"
	keySuffix     = ".db"
)

// Store is the object storage a Runner writes to. *s3client.Client satisfies it.
type Store interface {
	PutFile(ctx context.Context, key, path string) error
	GetObject(ctx context.Context, key string) ([]byte, error)
	DeleteObject(ctx context.Context, key string) error
	ListKeys(ctx context.Context, prefix string) ([]string, error)
}

// Config controls where snapshots go and how many are kept.
type Config struct {
	Prefix string // key prefix, default DefaultPrefix
	Retain int    // newest snapshots kept after each run, 0 keeps all
}

// Runner takes snapshots and manages the periodic backup loop.
type Runner struct {
	db     *db.DB
	store  Store
	config Config
	now    func() time.Time

	mu      sync.Mutex
	stopCh  chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
}

// NewRunner creates a backup runner for database writing to store.
func NewRunner(database *db.DB, store Store, config Config) *Runner {
	if config.Prefix == "" {
		config.Prefix = DefaultPrefix
	}
	if !strings.HasSuffix(config.Prefix, "/") {
		config.Prefix += "/"
	}
	return &Runner{
		db:     database,
		store:  store,
		config: config,
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
}

// SetClock overrides the clock used for snapshot keys. For tests.
func (r *Runner) SetClock(now func() time.Time) {
	r.now = now
}

// Key returns the object key for a snapshot taken at t.
func (r *Runner) Key(t time.Time) string {
	return r.config.Prefix + keyStem + t.UTC().Format(keyTimeLayout) + keySuffix
}

// RunOnce snapshots the database, uploads it and prunes old snapshots.
// Runs are serialized. Returns the uploaded key.
func (r *Runner) RunOnce(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	logger := obs.From(ctx).With("pkg", "backup")
	start := r.now()

	dir, err := os.MkdirTemp("", "yanote-backup-*")
	if err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "snapshot.db")
	if err := r.db.Snapshot(ctx, path); err != nil {
		return "", fmt.Errorf("snapshot: %w", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat snapshot: %w", err)
	}

	key := r.Key(start)
	if err := r.store.PutFile(ctx, key, path); err != nil {
		return "", fmt.Errorf("upload snapshot: %w", err)
	}
	logger.Info("backup_uploaded", "key", key, "bytes", info.Size(),
		"dur_ms", time.Since(start).Milliseconds())

	if err := r.prune(ctx); err != nil {
		logger.Warn("backup_prune_failed", "error", err)
	}
	return key, nil
}

// List returns the stored snapshot keys, oldest first.
func (r *Runner) List(ctx context.Context) ([]string, error) {
	keys, err := r.store.ListKeys(ctx, r.config.Prefix)
	if err != nil {
		return nil, err
	}
	snapshots := keys[:0]
	for _, k := range keys {
		if isSnapshotKey(strings.TrimPrefix(k, r.config.Prefix)) {
			snapshots = append(snapshots, k)
		}
	}
	return snapshots, nil
}

// Download writes the snapshot stored at key to dest. dest must not exist.
// An empty key selects the newest snapshot.
func (r *Runner) Download(ctx context.Context, key, dest string) (string, error) {
	if key == "" {
		keys, err := r.List(ctx)
		if err != nil {
			return "", err
		}
		if len(keys) == 0 {
			return "", errors.New("no snapshots stored")
		}
		key = keys[len(keys)-1]
	}
	data, err := r.store.GetObject(ctx, key)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", key, err)
	}
	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", dest, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return "", fmt.Errorf("write %s: %w", dest, err)
	}
	return key, f.Close()
}

func (r *Runner) prune(ctx context.Context) error {
	if r.config.Retain <= 0 {
		return nil
	}
	keys, err := r.List(ctx)
	if err != nil {
		return err
	}
	for len(keys) > r.config.Retain {
		if err := r.store.DeleteObject(ctx, keys[0]); err != nil {
			return err
		}
		obs.From(ctx).Info("backup_pruned", "pkg", "backup", "key", keys[0])
		keys = keys[1:]
	}
	return nil
}

// Start runs RunOnce every interval until Stop is called or ctx ends.
func (r *Runner) Start(ctx context.Context, interval time.Duration) {
	r.wg.Add(1)
	go r.loop(ctx, interval)
}

func (r *Runner) loop(ctx context.Context, interval time.Duration) {
	defer r.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				obs.From(ctx).Error("backup_failed", "pkg", "backup", "error", err)
			}
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop ends the backup loop and waits for an in-flight run. Safe to call twice.
func (r *Runner) Stop() {
	r.stopped.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

func isSnapshotKey(name string) bool {
	if !strings.HasPrefix(name, keyStem) || !strings.HasSuffix(name, keySuffix) {
		return false
	}
	ts := strings.TrimSuffix(strings.TrimPrefix(name, keyStem), keySuffix)
	_, err := time.Parse(keyTimeLayout, ts)
	return err == nil
}
