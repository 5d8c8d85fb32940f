package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrLocked means another invocation holds the work item's advisory lock.
var ErrLocked = errors.New("work item is locked")

// staleLockAge is how old a lock file must be before a new invocation may
// take it over, covering crashed holders that never released.
const staleLockAge = 10 * time.Minute

// Lock is an advisory per-work-item file lock. Distinct work items are
// independent; the lock only serializes invocations against one work id.
type Lock struct {
	path string
}

type lockInfo struct {
	PID        int    `json:"pid"`
	AcquiredAt string `json:"acquired_at"`
}

// Acquire takes the advisory lock for a work item. A lock file older than
// staleLockAge is treated as abandoned and taken over.
func (s Store) Acquire(workID string) (*Lock, error) {
	dir := s.ItemDir(workID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, ".lock")
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			info := lockInfo{PID: os.Getpid(), AcquiredAt: time.Now().UTC().Format(time.RFC3339)}
			enc := json.NewEncoder(f)
			if err := enc.Encode(info); err != nil {
				f.Close()
				os.Remove(path)
				return nil, err
			}
			if err := f.Close(); err != nil {
				os.Remove(path)
				return nil, err
			}
			return &Lock{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, err
		}
		fi, statErr := os.Stat(path)
		if statErr != nil {
			continue // holder released between open and stat; retry
		}
		if time.Since(fi.ModTime()) < staleLockAge {
			return nil, fmt.Errorf("%s: %w", workID, ErrLocked)
		}
		os.Remove(path)
	}
	return nil, fmt.Errorf("%s: %w", workID, ErrLocked)
}

// Release removes the lock file. Safe to call once per acquired lock.
func (l *Lock) Release() error {
	if l == nil || l.path == "" {
		return nil
	}
	err := os.Remove(l.path)
	l.path = ""
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
