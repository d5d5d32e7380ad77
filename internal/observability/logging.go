package observability

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ThalesMMS/Horos-Backup-Script/pkg/models"
)

// maxPendingLog bounds what DeferredFile keeps in memory before Enable.
const maxPendingLog = 1 << 20

// DeferredFile is an io.Writer for the rotating log file that holds output
// in memory until Enable is called. Output written before the volume is
// verified therefore never reaches a disk that may not be the PACS volume.
type DeferredFile struct {
	path       string
	maxSizeMB  int
	maxBackups int

	mu      sync.Mutex
	pending bytes.Buffer
	dropped int
	out     io.WriteCloser
}

// NewDeferredFile returns a writer for path that rotates at maxSizeMB and
// keeps maxBackups old files once enabled.
func NewDeferredFile(path string, maxSizeMB, maxBackups int) *DeferredFile {
	return &DeferredFile{path: path, maxSizeMB: maxSizeMB, maxBackups: maxBackups}
}

func (d *DeferredFile) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.out != nil {
		return d.out.Write(p)
	}
	if d.pending.Len()+len(p) > maxPendingLog {
		d.dropped += len(p)
		return len(p), nil
	}
	return d.pending.Write(p)
}

// Enable opens the rotating file and flushes everything buffered so far.
// Calling it again is a no-op.
func (d *DeferredFile) Enable() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.out != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(d.path), 0o755); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}
	out := &lumberjack.Logger{
		Filename:   d.path,
		MaxSize:    d.maxSizeMB,
		MaxBackups: d.maxBackups,
		LocalTime:  true,
	}
	if d.dropped > 0 {
		fmt.Fprintf(&d.pending, "... %d bytes of early log output dropped\n", d.dropped)
	}
	if _, err := out.Write(d.pending.Bytes()); err != nil {
		out.Close()
		return fmt.Errorf("writing log file: %w", err)
	}
	d.pending.Reset()
	d.dropped = 0
	d.out = out
	return nil
}

// Enabled reports whether output is reaching the file.
func (d *DeferredFile) Enabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.out != nil
}

// Close closes the file. Output still buffered is discarded.
func (d *DeferredFile) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending.Reset()
	if d.out == nil {
		return nil
	}
	err := d.out.Close()
	d.out = nil
	return err
}

// ParseLevel maps a configured level name to a slog level. Unknown names
// fall back to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds the operational logger. Records go to file and, when
// console logging is on, also to console.
func NewLogger(cfg models.LoggingConfig, console io.Writer, file io.Writer) *slog.Logger {
	var w io.Writer = io.Discard
	switch {
	case file != nil && cfg.Console && console != nil:
		w = io.MultiWriter(console, file)
	case file != nil:
		w = file
	case cfg.Console && console != nil:
		w = console
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}))
}
