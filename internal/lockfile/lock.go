// Package lockfile provides advisory per-file locks with sidecar metadata.
//
// A lock on /path/to/file is represented by a sidecar /path/to/file.lock
// holding a flock(2)-style OS lock plus JSON metadata describing the
// holder. Locks are advisory: readers outside the sync engine do not
// take them and rely on atomic renames instead.
package lockfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// LockSuffix is appended to the target path to form the sidecar name.
const LockSuffix = ".lock"

// Defaults for acquisition.
const (
	DefaultTimeout       = 30 * time.Second
	DefaultRetryInterval = 100 * time.Millisecond
)

// ErrTimeout is returned when a lock could not be acquired within the
// caller's budget. It is transient; callers may retry.
var ErrTimeout = errors.New("lock acquisition timed out")

// Metadata identifies the holder of a lock, stored as JSON in the
// sidecar file for operator inspection and stale-lock cleanup.
type Metadata struct {
	PID        int       `json:"pid"`
	Host       string    `json:"host"`
	AcquiredAt time.Time `json:"acquired_at"`
	Purpose    string    `json:"purpose,omitempty"`
}

// Manager acquires and releases file locks. Construct one at process
// start and inject it; there is no package-level instance.
type Manager struct {
	logger        *slog.Logger
	timeout       time.Duration
	retryInterval time.Duration
}

// NewManager returns a Manager with the default timeout and retry
// interval.
func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		logger:        logger,
		timeout:       DefaultTimeout,
		retryInterval: DefaultRetryInterval,
	}
}

// WithTimeout overrides the default acquisition timeout.
func (m *Manager) WithTimeout(d time.Duration) *Manager {
	m.timeout = d
	return m
}

// Lock is the token returned by Acquire. Callers must Release it on
// every return path; re-acquiring from the same holder is not supported.
type Lock struct {
	target  string
	sidecar string
	fl      *flock.Flock
}

// Path returns the target path this lock guards.
func (l *Lock) Path() string { return l.target }

// SidecarPath returns the path of the sidecar lock file for target.
func SidecarPath(target string) string { return target + LockSuffix }

// Acquire takes the exclusive advisory lock for path, retrying at a
// bounded interval until timeout (zero means the manager default).
// Returns ErrTimeout when the budget is exhausted.
func (m *Manager) Acquire(path string, timeout time.Duration, purpose string) (*Lock, error) {
	if timeout <= 0 {
		timeout = m.timeout
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}

	sidecar := SidecarPath(path)
	fl := flock.New(sidecar)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	locked, err := fl.TryLockContext(ctx, m.retryInterval)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			m.logger.Warn("lock acquisition timed out", "path", path, "timeout", timeout)
			return nil, fmt.Errorf("acquiring %s: %w", path, ErrTimeout)
		}
		return nil, fmt.Errorf("acquiring %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("acquiring %s: %w", path, ErrTimeout)
	}

	if err := writeMetadata(sidecar, purpose); err != nil {
		// Metadata is advisory; the OS lock is what serializes writers.
		m.logger.Warn("failed to write lock metadata", "path", sidecar, "error", err)
	}

	m.logger.Debug("lock acquired", "path", path, "purpose", purpose)
	return &Lock{target: path, sidecar: sidecar, fl: fl}, nil
}

// Release drops the lock and removes the sidecar. Removing before
// unlocking keeps the window where an unlocked sidecar exists closed.
func (m *Manager) Release(l *Lock) error {
	if l == nil || l.fl == nil {
		return fmt.Errorf("release of nil lock")
	}
	if err := os.Remove(l.sidecar); err != nil && !os.IsNotExist(err) {
		m.logger.Warn("failed to remove lock sidecar", "path", l.sidecar, "error", err)
	}
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("releasing %s: %w", l.target, err)
	}
	l.fl = nil
	m.logger.Debug("lock released", "path", l.target)
	return nil
}

// WithLock runs fn while holding the lock for path, guaranteeing
// release on every return path including panics.
func (m *Manager) WithLock(path string, timeout time.Duration, purpose string, fn func() error) error {
	lock, err := m.Acquire(path, timeout, purpose)
	if err != nil {
		return err
	}
	defer func() {
		if relErr := m.Release(lock); relErr != nil {
			m.logger.Warn("lock release failed", "path", path, "error", relErr)
		}
	}()
	return fn()
}

// IsLocked reports whether another holder currently has the lock for
// path. It performs a non-blocking trial acquire and never mutates
// on-disk state: a missing sidecar means unlocked without creating one.
func (m *Manager) IsLocked(path string) (bool, error) {
	sidecar := SidecarPath(path)
	if _, err := os.Stat(sidecar); os.IsNotExist(err) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("checking %s: %w", sidecar, err)
	}

	fl := flock.New(sidecar)
	locked, err := fl.TryLock()
	if err != nil {
		return false, fmt.Errorf("probing %s: %w", sidecar, err)
	}
	if !locked {
		return true, nil
	}
	// We got the lock, so nobody holds it. Drop it without removing the
	// sidecar (the probe must not change what is on disk).
	if err := fl.Unlock(); err != nil {
		return false, fmt.Errorf("releasing probe on %s: %w", sidecar, err)
	}
	return false, nil
}

// Cleanup removes sidecar lock files under root that are older than
// staleHours and whose recorded owners cannot be verified as holding
// the lock (dead pid, or no OS lock held). Returns the number removed.
func (m *Manager) Cleanup(root string, staleHours int) (int, error) {
	cutoff := time.Now().Add(-time.Duration(staleHours) * time.Hour)
	removed := 0

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != LockSuffix {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().After(cutoff) {
			return nil
		}
		if m.ownerVerified(path) {
			return nil
		}
		if err := os.Remove(path); err != nil {
			m.logger.Warn("failed to remove stale lock", "path", path, "error", err)
			return nil
		}
		m.logger.Info("removed stale lock", "path", path, "age", time.Since(info.ModTime()).Round(time.Second))
		removed++
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("scanning %s for stale locks: %w", root, err)
	}
	return removed, nil
}

// ownerVerified reports whether the sidecar's recorded owner is still
// alive and actually holds the OS lock.
func (m *Manager) ownerVerified(sidecar string) bool {
	data, err := os.ReadFile(sidecar)
	if err != nil {
		return false
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		// Unreadable metadata: fall back to the OS lock probe alone.
		return m.osLockHeld(sidecar)
	}
	host, _ := os.Hostname()
	if meta.Host == host && !isProcessRunning(meta.PID) {
		return false
	}
	return m.osLockHeld(sidecar)
}

// osLockHeld probes the flock without mutating the sidecar.
func (m *Manager) osLockHeld(sidecar string) bool {
	fl := flock.New(sidecar)
	locked, err := fl.TryLock()
	if err != nil {
		// Can't tell; leave the file alone.
		return true
	}
	if !locked {
		return true
	}
	_ = fl.Unlock()
	return false
}

// writeMetadata stores holder identity in the sidecar. The file is
// already flock-held by the caller, so a plain write is safe.
func writeMetadata(sidecar, purpose string) error {
	host, _ := os.Hostname()
	meta := Metadata{
		PID:        os.Getpid(),
		Host:       host,
		AcquiredAt: time.Now().UTC(),
		Purpose:    purpose,
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return os.WriteFile(sidecar, data, 0o644)
}
