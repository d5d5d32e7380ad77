package core

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ThalesMMS/Horos-Backup-Script/pkg/models"
)

// MaxArchiveAttempts is the number of build+validate cycles per item.
const MaxArchiveAttempts = 3

// maxCandidateNames bounds the collision suffix search.
const maxCandidateNames = 10000

type archiveState int

const (
	stateStaging archiveState = iota
	stateValidating
	statePromoted
	stateFailed
)

func (s archiveState) String() string {
	switch s {
	case stateStaging:
		return "staging"
	case stateValidating:
		return "validating"
	case statePromoted:
		return "promoted"
	default:
		return "failed"
	}
}

// ArchiveVerifier checks a finished archive. uid is the expected ZIP comment
// and entries the expected number of members.
type ArchiveVerifier func(path, uid string, entries int) error

// ArchiveOption customises an ArchiveWriter.
type ArchiveOption func(*ArchiveWriter)

// WithVerifier replaces the integrity check run on staged archives.
func WithVerifier(v ArchiveVerifier) ArchiveOption {
	return func(w *ArchiveWriter) { w.verify = v }
}

// ArchiveWriter turns a work item into a validated ZIP under its period group.
// An archive becomes visible under its final name only through an atomic
// rename of a staged file that passed verification.
type ArchiveWriter struct {
	backupRoot string
	maxNameLen int
	verify     ArchiveVerifier
	logger     *slog.Logger
}

// NewArchiveWriter creates a writer that places archives under backupRoot.
func NewArchiveWriter(backupRoot string, maxNameLen int, logger *slog.Logger, opts ...ArchiveOption) *ArchiveWriter {
	if logger == nil {
		logger = slog.Default()
	}
	w := &ArchiveWriter{
		backupRoot: backupRoot,
		maxNameLen: maxNameLen,
		verify:     VerifyArchive,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Archive exports one item. It never returns an error: failures are folded
// into the result outcome. Callers check ctx.Err() to tell an interrupted
// run from a failed item.
func (w *ArchiveWriter) Archive(ctx context.Context, item models.WorkItem) models.ArchiveResult {
	period := PeriodFor(item.StudyDate)
	res := models.ArchiveResult{
		UID:    item.UID,
		Period: period,
		Files:  len(item.Files),
	}
	if len(item.Files) == 0 {
		res.Outcome = models.OutcomeNoFiles
		return res
	}

	dir := filepath.Join(w.backupRoot, string(period))
	base := ArchiveBaseName(item, w.maxNameLen)
	final, existing, err := w.locate(dir, base, item.UID)
	if err != nil {
		res.Outcome = models.OutcomeFailed
		res.Err = err
		return res
	}
	res.Path = final

	if existing {
		err := w.verify(final, item.UID, len(item.Files))
		if err == nil {
			w.logger.Info("archive already present, reconciling", "uid", item.UID, "path", final)
			res.Outcome = models.OutcomeReconciled
			res.Bytes = fileSize(final)
			return res
		}
		w.logger.Warn("existing archive failed verification, rebuilding", "uid", item.UID, "path", final, "error", err)
		if err := os.Remove(final); err != nil && !errors.Is(err, fs.ErrNotExist) {
			res.Outcome = models.OutcomeFailed
			res.Err = fmt.Errorf("removing corrupt archive: %w", err)
			return res
		}
	}

	stagingDir := filepath.Join(dir, StagingDirName)
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		res.Outcome = models.OutcomeFailed
		res.Err = fmt.Errorf("creating staging directory: %w", err)
		return res
	}
	staging := filepath.Join(stagingDir, filepath.Base(final)+".part")
	defer func() {
		_ = os.Remove(staging)
		_ = os.Remove(stagingDir)
	}()

	state := stateStaging
	var lastErr error
	for {
		w.logger.Debug("archive state", "uid", item.UID, "state", state.String())
		switch state {
		case stateStaging:
			res.Attempts++
			w.logger.Info("building archive", "uid", item.UID, "path", final,
				"files", len(item.Files), "attempt", res.Attempts)
			if err := w.build(ctx, item, staging); err != nil {
				lastErr = err
				state = w.afterFailure(ctx, item, res.Attempts, "build", err)
				continue
			}
			state = stateValidating

		case stateValidating:
			if err := w.verify(staging, item.UID, len(item.Files)); err != nil {
				lastErr = err
				_ = os.Remove(staging)
				state = w.afterFailure(ctx, item, res.Attempts, "validate", err)
				continue
			}
			if err := promote(staging, final); err != nil {
				lastErr = err
				state = w.afterFailure(ctx, item, res.Attempts, "promote", err)
				continue
			}
			state = statePromoted

		case statePromoted:
			res.Outcome = models.OutcomeArchived
			res.Bytes = fileSize(final)
			return res

		case stateFailed:
			res.Outcome = models.OutcomeFailed
			res.Err = lastErr
			return res
		}
	}
}

// afterFailure decides the next state once an attempt went wrong.
func (w *ArchiveWriter) afterFailure(ctx context.Context, item models.WorkItem, attempt int, step string, err error) archiveState {
	w.logger.Warn("archive attempt failed", "uid", item.UID, "step", step, "attempt", attempt, "error", err)
	if ctx.Err() != nil || attempt >= MaxArchiveAttempts {
		return stateFailed
	}
	return stateStaging
}

// locate walks the deterministic candidate names and returns the first one
// that is either free or already holds this study's archive.
func (w *ArchiveWriter) locate(dir, base, uid string) (path string, existing bool, err error) {
	for n := 1; n <= maxCandidateNames; n++ {
		candidate := CandidatePath(dir, base, n)
		if _, err := os.Stat(candidate); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return candidate, false, nil
			}
			return "", false, fmt.Errorf("checking %s: %w", candidate, err)
		}
		comment, err := ReadArchiveComment(candidate)
		if err != nil {
			w.logger.Warn("unreadable archive occupies candidate name", "path", candidate, "error", err)
			continue
		}
		if comment == uid {
			return candidate, true, nil
		}
	}
	return "", false, fmt.Errorf("no free archive name for %s in %s", base, dir)
}

// build writes a fresh staging archive containing every file of item.
func (w *ArchiveWriter) build(ctx context.Context, item models.WorkItem, staging string) error {
	f, err := os.Create(staging)
	if err != nil {
		return fmt.Errorf("creating staging file: %w", err)
	}
	zw := zip.NewWriter(f)
	if err := zw.SetComment(item.UID); err != nil {
		f.Close()
		return fmt.Errorf("setting archive comment: %w", err)
	}

	names := entryNames(item.Files)
	for i, src := range item.Files {
		if err := ctx.Err(); err != nil {
			f.Close()
			return err
		}
		if err := addFile(zw, src, names[i]); err != nil {
			f.Close()
			return err
		}
	}

	if err := zw.Close(); err != nil {
		f.Close()
		return fmt.Errorf("finalising archive: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("syncing staging file: %w", err)
	}
	return f.Close()
}

func addFile(zw *zip.Writer, src, name string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", src, err)
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("header for %s: %w", src, err)
	}
	hdr.Name = name
	hdr.Method = zip.Deflate

	out, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("adding %s: %w", name, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("compressing %s: %w", src, err)
	}
	return nil
}

// entryNames flattens sources to base names, suffixing repeats so every
// member of the archive is unique.
func entryNames(files []string) []string {
	used := make(map[string]bool, len(files))
	names := make([]string, len(files))
	for i, src := range files {
		name := filepath.Base(src)
		if used[name] {
			ext := filepath.Ext(name)
			stem := strings.TrimSuffix(name, ext)
			for n := 2; ; n++ {
				candidate := fmt.Sprintf("%s_%d%s", stem, n, ext)
				if !used[candidate] {
					name = candidate
					break
				}
			}
		}
		used[name] = true
		names[i] = name
	}
	return names
}

// promote atomically moves the verified archive to its final name and
// flushes the directory entry.
func promote(staging, final string) error {
	if err := os.Rename(staging, final); err != nil {
		return fmt.Errorf("promoting archive: %w", err)
	}
	if d, err := os.Open(filepath.Dir(final)); err == nil {
		_ = d.Sync()
		d.Close()
	}
	return nil
}

// VerifyArchive reopens path and checks that its central directory is
// readable, that it holds the expected number of entries, that every entry
// decompresses with a matching CRC-32, and that the comment equals uid.
func VerifyArchive(path, uid string, entries int) error {
	r, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("reading central directory: %w", err)
	}
	defer r.Close()

	if r.Comment != uid {
		return fmt.Errorf("archive comment %q does not match %q", r.Comment, uid)
	}
	if len(r.File) != entries {
		return fmt.Errorf("archive holds %d entries, want %d", len(r.File), entries)
	}
	for _, f := range r.File {
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("opening entry %s: %w", f.Name, err)
		}
		// archive/zip checks the CRC-32 when the entry is read to EOF.
		_, err = io.Copy(io.Discard, rc)
		rc.Close()
		if err != nil {
			return fmt.Errorf("entry %s: %w", f.Name, err)
		}
	}
	return nil
}

// ReadArchiveComment returns the ZIP comment of path.
func ReadArchiveComment(path string) (string, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return "", err
	}
	defer r.Close()
	return r.Comment, nil
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
