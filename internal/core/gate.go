package core

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ThalesMMS/Horos-Backup-Script/pkg/models"
)

// GateStatus is the decision of the safety gate.
type GateStatus int

const (
	// GateProceed means the run may continue; the run lock is held.
	GateProceed GateStatus = iota
	// GateSkip means the producer is busy and this cycle should exit cleanly.
	GateSkip
)

func (s GateStatus) String() string {
	if s == GateSkip {
		return "skip"
	}
	return "proceed"
}

// GateResult is returned by a successful precondition check.
type GateResult struct {
	Status        GateStatus
	IncomingCount int
	// Release drops the run lock. It is non-nil whenever the lock was taken.
	Release func() error
}

// SafetyGate decides whether a run may touch the volume at all.
type SafetyGate struct {
	layout    models.Layout
	threshold int
	locker    RunLocker
	logger    *slog.Logger
	// onVolumeVerified runs once the sentinel is confirmed and before
	// anything is written, e.g. to enable the file log sink.
	onVolumeVerified func() error
}

// NewSafetyGate creates a gate for the given layout. onVolumeVerified may be nil.
func NewSafetyGate(layout models.Layout, incomingMaxFiles int, locker RunLocker, logger *slog.Logger, onVolumeVerified func() error) *SafetyGate {
	if logger == nil {
		logger = slog.Default()
	}
	return &SafetyGate{
		layout:           layout,
		threshold:        incomingMaxFiles,
		locker:           locker,
		logger:           logger,
		onVolumeVerified: onVolumeVerified,
	}
}

// CheckPreconditions verifies the volume marker, takes the run lock and
// measures the producer's pending queue. A missing marker or a lock failure
// is returned as an error; an over-full queue yields GateSkip with the lock
// still held so the caller releases it on the way out.
func (g *SafetyGate) CheckPreconditions(ctx context.Context) (GateResult, error) {
	if err := VerifyVolume(g.layout.Sentinel); err != nil {
		return GateResult{}, err
	}
	if g.onVolumeVerified != nil {
		if err := g.onVolumeVerified(); err != nil {
			return GateResult{}, fmt.Errorf("preparing output on verified volume: %w", err)
		}
	}
	if err := os.MkdirAll(g.layout.TmpRoot, 0o755); err != nil {
		return GateResult{}, fmt.Errorf("creating %s: %w", g.layout.TmpRoot, err)
	}

	release, err := g.locker.Acquire(ctx)
	if err != nil {
		return GateResult{}, err
	}
	result := GateResult{Status: GateProceed, Release: release}

	count, err := CountFilesEarly(g.layout.IncomingDir, g.threshold)
	if err != nil {
		_ = release()
		return GateResult{}, fmt.Errorf("counting incoming files: %w", err)
	}
	result.IncomingCount = count
	if count > g.threshold {
		g.logger.Warn("incoming queue over limit, skipping cycle",
			"incoming", count, "threshold", g.threshold, "dir", g.layout.IncomingDir)
		result.Status = GateSkip
	}
	return result, nil
}

// VerifyVolume fails with ErrVolumeNotMounted unless the sentinel file exists.
func VerifyVolume(sentinel string) error {
	info, err := os.Stat(sentinel)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w (%s)", ErrVolumeNotMounted, sentinel)
		}
		return fmt.Errorf("checking sentinel %s: %w", sentinel, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w (%s is a directory)", ErrVolumeNotMounted, sentinel)
	}
	return nil
}

// CountFilesEarly counts regular files under root and stops as soon as the
// count exceeds stopAfter. A missing root counts as empty. Unreadable
// subdirectories are skipped.
func CountFilesEarly(root string, stopAfter int) (int, error) {
	if _, err := os.Stat(root); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}

	count := 0
	stack := []string{root}
	for len(stack) > 0 {
		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := os.ReadDir(dir)
		if err != nil {
			if dir == root {
				return 0, err
			}
			continue
		}
		for _, e := range entries {
			switch {
			case e.IsDir():
				stack = append(stack, filepath.Join(dir, e.Name()))
			case e.Type().IsRegular():
				count++
				if count > stopAfter {
					return count, nil
				}
			}
		}
	}
	return count, nil
}
