// Package reposync provides a file-system-backed exclusive lock guarding
// repository mutation, so two processes never commit, merge, or pack
// concurrently against the same catalog.
package reposync

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/juju/fslock"
)

const lockFileName = "repo.lock"

// Lock wraps an fslock.Lock with a stale-reclaim policy: a lock file whose
// holder died without releasing it would otherwise block every future
// operation forever, since fslock's own exclusion has no notion of a
// holder's liveness.
type Lock struct {
	path string
	fl   *fslock.Lock
}

// Options configures how Acquire waits and when it considers an existing
// lock abandoned.
type Options struct {
	// Timeout bounds how long Acquire waits for a contested lock before
	// giving up. Zero means try once and fail immediately.
	Timeout time.Duration
	// StaleAfter is how old a lock file's mtime must be before it's treated
	// as abandoned rather than held.
	StaleAfter time.Duration
	// Force reclaims a stale lock even if StaleAfter hasn't been reached,
	// for an operator who knows the previous holder is gone.
	Force bool
}

// DefaultStaleAfter is used when Options.StaleAfter is zero.
const DefaultStaleAfter = 10 * time.Minute

// Acquire takes the repository lock under ctrlDir, reclaiming a stale lock
// file per opts before attempting the real acquisition.
func Acquire(ctrlDir string, opts Options) (*Lock, error) {
	path := filepath.Join(ctrlDir, lockFileName)
	staleAfter := opts.StaleAfter
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}

	if opts.Force || isStale(path, staleAfter) {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("reposync: removing stale lock: %w", err)
		}
	}

	fl := fslock.New(path)
	var err error
	if opts.Timeout > 0 {
		err = fl.LockWithTimeout(opts.Timeout)
	} else {
		err = fl.TryLock()
	}
	if err != nil {
		return nil, fmt.Errorf("reposync: acquiring lock: %w", err)
	}

	if werr := writeHolderInfo(path); werr != nil {
		_ = fl.Unlock()
		return nil, fmt.Errorf("reposync: recording lock holder: %w", werr)
	}

	return &Lock{path: path, fl: fl}, nil
}

// Release gives up the lock.
func (l *Lock) Release() error {
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("reposync: releasing lock: %w", err)
	}
	return nil
}

func isStale(path string, staleAfter time.Duration) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return time.Since(info.ModTime()) > staleAfter
}

// writeHolderInfo records "pid timestamp" into the lock file so a stale
// lock can be diagnosed (whose process held it, and since when) before
// being reclaimed.
func writeHolderInfo(path string) error {
	content := strconv.Itoa(os.Getpid()) + " " + time.Now().UTC().Format(time.RFC3339) + "\n"
	return os.WriteFile(path, []byte(content), 0o644)
}

// HolderInfo is the parsed contents of a held lock file, for diagnostics.
type HolderInfo struct {
	PID        int
	AcquiredAt time.Time
}

// Inspect reads the holder info recorded in the lock file without taking
// the lock, returning ok=false if the file is missing or does not parse.
// Release leaves the file in place, so ok=true reports the last recorded
// holder, not necessarily a lock that is still held.
func Inspect(ctrlDir string) (info HolderInfo, ok bool) {
	data, err := os.ReadFile(filepath.Join(ctrlDir, lockFileName))
	if err != nil {
		return HolderInfo{}, false
	}
	fields := strings.Fields(string(data))
	if len(fields) != 2 {
		return HolderInfo{}, false
	}
	pid, err := strconv.Atoi(fields[0])
	if err != nil {
		return HolderInfo{}, false
	}
	ts, err := time.Parse(time.RFC3339, fields[1])
	if err != nil {
		return HolderInfo{}, false
	}
	return HolderInfo{PID: pid, AcquiredAt: ts}, true
}
