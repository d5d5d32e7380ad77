package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ThalesMMS/Horos-Backup-Script/pkg/models"
)

// newVolume creates a fake PACS volume with the sentinel in place.
func newVolume(t *testing.T) models.Layout {
	t.Helper()
	root := t.TempDir()
	layout := models.PathsConfig{PacsRoot: root}.Layout()
	if err := os.WriteFile(layout.Sentinel, nil, 0o644); err != nil {
		t.Fatalf("writing sentinel: %v", err)
	}
	return layout
}

func fillIncoming(t *testing.T, dir string, n int) {
	t.Helper()
	sub := filepath.Join(dir, "nested", "deeper")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for i := 0; i < n; i++ {
		target := dir
		if i%2 == 1 {
			target = sub
		}
		name := filepath.Join(target, fmt.Sprintf("f%03d.dcm", i))
		if err := os.WriteFile(name, []byte("x"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
}

func TestSafetyGate_MissingSentinelIsFatalAndWritesNothing(t *testing.T) {
	root := t.TempDir()
	layout := models.PathsConfig{PacsRoot: root}.Layout()
	hookCalled := false
	gate := NewSafetyGate(layout, 10, NewFlockLocker(layout.LockFile, 0, nil), nil, func() error {
		hookCalled = true
		return nil
	})

	_, err := gate.CheckPreconditions(context.Background())
	if !errors.Is(err, ErrVolumeNotMounted) {
		t.Fatalf("err = %v, want ErrVolumeNotMounted", err)
	}
	if hookCalled {
		t.Error("volume hook ran without a sentinel")
	}
	entries, _ := os.ReadDir(root)
	if len(entries) != 0 {
		t.Errorf("gate wrote %d entries to an unverified volume", len(entries))
	}
}

func TestSafetyGate_ProceedHoldsLock(t *testing.T) {
	layout := newVolume(t)
	fillIncoming(t, layout.IncomingDir, 3)
	hookCalled := false
	gate := NewSafetyGate(layout, 10, NewFlockLocker(layout.LockFile, 0, nil), nil, func() error {
		hookCalled = true
		return nil
	})

	res, err := gate.CheckPreconditions(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer res.Release()

	if res.Status != GateProceed {
		t.Errorf("Status = %v, want proceed", res.Status)
	}
	if res.IncomingCount != 3 {
		t.Errorf("IncomingCount = %d, want 3", res.IncomingCount)
	}
	if !hookCalled {
		t.Error("volume hook not called")
	}

	// A second locker must not get in while the first run holds the lock.
	other := NewFlockLocker(layout.LockFile, 50*time.Millisecond, nil)
	other.poll = 10 * time.Millisecond
	if _, err := other.Acquire(context.Background()); !errors.Is(err, ErrLockTimeout) {
		t.Errorf("second acquire err = %v, want ErrLockTimeout", err)
	}
}

func TestSafetyGate_SkipWhenIncomingOverLimit(t *testing.T) {
	layout := newVolume(t)
	fillIncoming(t, layout.IncomingDir, 8)
	gate := NewSafetyGate(layout, 5, NewFlockLocker(layout.LockFile, 0, nil), nil, nil)

	res, err := gate.CheckPreconditions(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer res.Release()
	if res.Status != GateSkip {
		t.Errorf("Status = %v, want skip", res.Status)
	}
	if res.IncomingCount != 6 {
		t.Errorf("IncomingCount = %d, want counting to stop at 6", res.IncomingCount)
	}
}

func TestSafetyGate_AtThresholdProceeds(t *testing.T) {
	layout := newVolume(t)
	fillIncoming(t, layout.IncomingDir, 5)
	gate := NewSafetyGate(layout, 5, NewFlockLocker(layout.LockFile, 0, nil), nil, nil)

	res, err := gate.CheckPreconditions(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer res.Release()
	if res.Status != GateProceed {
		t.Errorf("Status = %v, want proceed at exactly the threshold", res.Status)
	}
}

func TestSafetyGate_HookErrorIsReturned(t *testing.T) {
	layout := newVolume(t)
	gate := NewSafetyGate(layout, 5, NewFlockLocker(layout.LockFile, 0, nil), nil, func() error {
		return errors.New("log dir read-only")
	})
	if _, err := gate.CheckPreconditions(context.Background()); err == nil {
		t.Fatal("expected hook error")
	}
}

func TestCountFilesEarly(t *testing.T) {
	dir := t.TempDir()
	fillIncoming(t, dir, 7)

	tests := []struct {
		stopAfter int
		want      int
	}{
		{100, 7},
		{7, 7},
		{6, 7},
		{2, 3},
		{0, 1},
	}
	for _, tt := range tests {
		got, err := CountFilesEarly(dir, tt.stopAfter)
		if err != nil {
			t.Fatalf("CountFilesEarly: %v", err)
		}
		if got != tt.want {
			t.Errorf("CountFilesEarly(stopAfter=%d) = %d, want %d", tt.stopAfter, got, tt.want)
		}
	}
}

func TestCountFilesEarly_MissingDirIsEmpty(t *testing.T) {
	got, err := CountFilesEarly(filepath.Join(t.TempDir(), "nope"), 10)
	if err != nil || got != 0 {
		t.Errorf("got (%d, %v), want (0, nil)", got, err)
	}
}
