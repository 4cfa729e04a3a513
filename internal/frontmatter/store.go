package frontmatter

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/roamkit/roam/internal/lockfile"
)

// Store performs locked, atomic reads and writes of frontmatter files.
// All writes go through a temp-file-in-same-directory, fsync, rename
// sequence so readers never observe a half-written file.
type Store struct {
	locks  *lockfile.Manager
	logger *slog.Logger
}

// NewStore returns a Store using the given lock manager.
func NewStore(locks *lockfile.Manager, logger *slog.Logger) *Store {
	return &Store{locks: locks, logger: logger}
}

// SaveOptions controls Save behavior.
type SaveOptions struct {
	// Backup creates a one-shot copy <name>.backup.<epoch-seconds> of
	// the current file before overwriting it.
	Backup bool
	// LockTimeout bounds lock acquisition; zero uses the manager default.
	LockTimeout time.Duration
}

// Load reads the file at path, decodes its header into out, and
// returns the body. Returns ErrNotFound or ErrParse.
func (s *Store) Load(path string, out any) (body string, err error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	body, err = Decode(data, out)
	if err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}
	return body, nil
}

// LoadSafe never fails on a single malformed file: it reports
// (false, reason) for parse problems so bulk scans can continue, and
// only returns an error for I/O failures other than not-found.
func (s *Store) LoadSafe(path string, out any) (valid bool, reason string, body string, err error) {
	body, loadErr := s.Load(path, out)
	if loadErr == nil {
		return true, "", body, nil
	}
	// Parse and not-found problems are validation results, not errors;
	// everything else is a real I/O failure.
	if isValidationFailure(loadErr) {
		return false, loadErr.Error(), "", nil
	}
	return false, "", "", loadErr
}

// Save writes header+body to path atomically under the file lock.
// Concurrent saves to the same path serialize on the lock.
func (s *Store) Save(path string, header any, body string, opts SaveOptions) error {
	return s.locks.WithLock(path, opts.LockTimeout, "save", func() error {
		return s.SaveUnlocked(path, header, body, opts)
	})
}

// SaveUnlocked performs the atomic write without taking the file lock.
// Callers that already hold the lock (read-modify-write flows) use this
// to avoid re-acquiring.
func (s *Store) SaveUnlocked(path string, header any, body string, opts SaveOptions) error {
	data, err := Encode(header, body)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	if opts.Backup {
		if err := backupFile(path); err != nil {
			return err
		}
	}

	if err := WriteAtomic(path, data); err != nil {
		return err
	}

	s.logger.Debug("saved file", "path", path, "bytes", len(data))
	return nil
}

// WriteAtomic writes data to path via a temp file in the same
// directory, fsync, and rename. On any failure the temp file is
// removed and the target is untouched; readers therefore see either
// the full old contents or the full new contents, never a partial
// write.
func WriteAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("creating temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("writing %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("syncing %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("closing %s: %w", tmpName, err)
	}

	if err := renameWithRetry(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}

// backupFile copies path to <path>.backup.<epoch-seconds> if it exists.
func backupFile(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s for backup: %w", path, err)
	}
	backup := fmt.Sprintf("%s.backup.%d", path, time.Now().Unix())
	if err := os.WriteFile(backup, data, 0o644); err != nil {
		return fmt.Errorf("writing backup %s: %w", backup, err)
	}
	return nil
}

// renameWithRetry performs an atomic rename, retrying on Windows where
// another process holding a handle can cause transient access errors.
func renameWithRetry(oldPath, newPath string) error {
	const maxRetries = 3
	delay := 100 * time.Millisecond

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if lastErr = os.Rename(oldPath, newPath); lastErr == nil {
			return nil
		}
		if runtime.GOOS != "windows" {
			break
		}
		if attempt < maxRetries {
			time.Sleep(delay)
			delay *= 2
		}
	}
	return fmt.Errorf("rename %s -> %s: %w", oldPath, newPath, lastErr)
}

// isValidationFailure distinguishes recoverable per-file problems from
// real I/O errors.
func isValidationFailure(err error) bool {
	return errors.Is(err, ErrParse) || errors.Is(err, ErrNotFound)
}
