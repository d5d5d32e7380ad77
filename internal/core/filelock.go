package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/sys/unix"
)

// RunLocker guarantees that at most one export run is active.
type RunLocker interface {
	// Acquire blocks until the lock is held, ctx ends, or the locker's
	// timeout elapses. The returned function releases the lock.
	Acquire(ctx context.Context) (release func() error, err error)
}

// FlockLocker is a RunLocker backed by an advisory flock(2) on a lock file.
// The kernel drops the lock when the holding process dies, so a stale lock
// file never blocks later runs.
type FlockLocker struct {
	path    string
	timeout time.Duration
	poll    time.Duration
	logger  *slog.Logger
}

// NewFlockLocker creates a locker on path. A zero timeout waits indefinitely.
func NewFlockLocker(path string, timeout time.Duration, logger *slog.Logger) *FlockLocker {
	if logger == nil {
		logger = slog.Default()
	}
	return &FlockLocker{path: path, timeout: timeout, poll: time.Second, logger: logger}
}

// Acquire takes an exclusive lock, polling while another process holds it.
func (l *FlockLocker) Acquire(ctx context.Context) (func() error, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}

	var deadline <-chan time.Time
	if l.timeout > 0 {
		timer := time.NewTimer(l.timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	waiting := false
	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			break
		}
		if !errors.Is(err, unix.EWOULDBLOCK) && !errors.Is(err, unix.EINTR) {
			f.Close()
			return nil, fmt.Errorf("acquiring run lock: %w", err)
		}
		if !waiting {
			l.logger.Info("another run holds the lock, waiting", "lock", l.path, "timeout", l.timeout)
			waiting = true
		}
		select {
		case <-ctx.Done():
			f.Close()
			return nil, ctx.Err()
		case <-deadline:
			f.Close()
			return nil, fmt.Errorf("%w after %s", ErrLockTimeout, l.timeout)
		case <-time.After(l.poll):
		}
	}

	// The PID is informational only; the flock is what excludes other runs.
	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}

	return func() error {
		defer f.Close()
		return unix.Flock(int(f.Fd()), unix.LOCK_UN)
	}, nil
}
