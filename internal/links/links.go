// Package links maintains the bidirectional mapping between local
// issue ids and backend remote ids.
//
// The durable record lives in a small SQLite table (remote-links.db);
// an in-memory index hydrated at open time serves O(1) lookups. When
// the index and issue frontmatter disagree, frontmatter is
// authoritative and the row is reconciled.
package links

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // pure Go SQLite driver, registers as "sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS remote_links (
	backend    TEXT NOT NULL,
	remote_id  TEXT NOT NULL,
	local_id   TEXT NOT NULL,
	created_at TEXT NOT NULL,
	PRIMARY KEY (backend, remote_id)
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_links_local
	ON remote_links (backend, local_id);
`

// row mirrors the remote_links table for sqlx scanning.
type row struct {
	Backend   string `db:"backend"`
	RemoteID  string `db:"remote_id"`
	LocalID   string `db:"local_id"`
	CreatedAt string `db:"created_at"`
}

// Index is the link store. Reads hit the in-memory maps under a
// reader-writer lock; writes go to SQLite first and update the maps
// only after the row is durable.
type Index struct {
	db     *sqlx.DB
	logger *slog.Logger

	mu       sync.RWMutex
	byLocal  map[string]map[string]string // backend -> local_id -> remote_id
	byRemote map[string]map[string]string // backend -> remote_id -> local_id
}

// Open opens (or creates) the link database at path and hydrates the
// in-memory index. A corrupted database is discarded and recreated
// empty; rows are rebuilt from frontmatter as entities are relinked.
func Open(path string, logger *slog.Logger) (*Index, error) {
	db, err := openDB(path)
	if err != nil {
		logger.Warn("link index unreadable, recreating", "path", path, "error", err)
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			return nil, fmt.Errorf("removing corrupt link index %s: %w", path, rmErr)
		}
		if db, err = openDB(path); err != nil {
			return nil, err
		}
	}

	idx := &Index{
		db:       db,
		logger:   logger,
		byLocal:  make(map[string]map[string]string),
		byRemote: make(map[string]map[string]string),
	}
	if err := idx.hydrate(); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

func openDB(path string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open link index: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create link schema: %w", err)
	}
	return db, nil
}

// hydrate loads all rows into the in-memory maps.
func (x *Index) hydrate() error {
	var rows []row
	if err := x.db.Select(&rows, `SELECT backend, remote_id, local_id, created_at FROM remote_links`); err != nil {
		return fmt.Errorf("hydrate link index: %w", err)
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, r := range rows {
		x.setLocked(r.Backend, r.RemoteID, r.LocalID)
	}
	x.logger.Debug("link index hydrated", "rows", len(rows))
	return nil
}

// setLocked updates both maps; callers hold mu.
func (x *Index) setLocked(backend, remoteID, localID string) {
	if x.byLocal[backend] == nil {
		x.byLocal[backend] = make(map[string]string)
	}
	if x.byRemote[backend] == nil {
		x.byRemote[backend] = make(map[string]string)
	}
	// Drop any stale pairing either side participated in.
	if oldRemote, ok := x.byLocal[backend][localID]; ok {
		delete(x.byRemote[backend], oldRemote)
	}
	if oldLocal, ok := x.byRemote[backend][remoteID]; ok {
		delete(x.byLocal[backend], oldLocal)
	}
	x.byLocal[backend][localID] = remoteID
	x.byRemote[backend][remoteID] = localID
}

// Link records (backend, remoteID) <-> localID. The row is written to
// SQLite before the in-memory maps change, so a crash never leaves the
// fast path ahead of the durable record.
func (x *Index) Link(backend, remoteID, localID string) error {
	if backend == "" || remoteID == "" || localID == "" {
		return fmt.Errorf("link requires backend, remote id and local id (got %q, %q, %q)", backend, remoteID, localID)
	}
	_, err := x.db.Exec(`
		INSERT INTO remote_links (backend, remote_id, local_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (backend, remote_id) DO UPDATE SET local_id = excluded.local_id`,
		backend, remoteID, localID, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("link %s/%s -> %s: %w", backend, remoteID, localID, err)
	}
	// A relink may leave an old row for the same local id; clear it.
	if _, err := x.db.Exec(`DELETE FROM remote_links WHERE backend = ? AND local_id = ? AND remote_id != ?`,
		backend, localID, remoteID); err != nil {
		return fmt.Errorf("prune stale links for %s: %w", localID, err)
	}

	x.mu.Lock()
	x.setLocked(backend, remoteID, localID)
	x.mu.Unlock()
	return nil
}

// UnlinkLocal removes the link for a local id on one backend.
func (x *Index) UnlinkLocal(localID, backend string) error {
	if _, err := x.db.Exec(`DELETE FROM remote_links WHERE backend = ? AND local_id = ?`, backend, localID); err != nil {
		return fmt.Errorf("unlink %s on %s: %w", localID, backend, err)
	}
	x.mu.Lock()
	if remoteID, ok := x.byLocal[backend][localID]; ok {
		delete(x.byRemote[backend], remoteID)
		delete(x.byLocal[backend], localID)
	}
	x.mu.Unlock()
	return nil
}

// GetRemoteID returns the remote id linked to a local id.
func (x *Index) GetRemoteID(backend, localID string) (string, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	remoteID, ok := x.byLocal[backend][localID]
	return remoteID, ok
}

// GetLocalID returns the local id linked to a remote id.
func (x *Index) GetLocalID(backend, remoteID string) (string, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	localID, ok := x.byRemote[backend][remoteID]
	return localID, ok
}

// AllLinksForBackend returns a copy of the local->remote map for one
// backend.
func (x *Index) AllLinksForBackend(backend string) map[string]string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make(map[string]string, len(x.byLocal[backend]))
	for localID, remoteID := range x.byLocal[backend] {
		out[localID] = remoteID
	}
	return out
}

// Reconcile makes the index agree with frontmatter for one entity.
// An empty remoteID unlinks; anything else upserts.
func (x *Index) Reconcile(backend, localID, remoteID string) error {
	if remoteID == "" {
		return x.UnlinkLocal(localID, backend)
	}
	if current, ok := x.GetRemoteID(backend, localID); ok && current == remoteID {
		return nil
	}
	x.logger.Debug("reconciling link from frontmatter", "backend", backend, "local_id", localID, "remote_id", remoteID)
	return x.Link(backend, remoteID, localID)
}

// Close closes the underlying database.
func (x *Index) Close() error {
	return x.db.Close()
}
