package storage

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/ThalesMMS/Horos-Backup-Script/pkg/models"
)

// issueHeader is the first row of issues.csv.
var issueHeader = []string{"timestamp", "category", "identifier", "detail", "extra"}

// ErrNotBlocked is returned when a retry is requested for a study that has
// no open item-level issue.
var ErrNotBlocked = errors.New("study has no open issue")

// IssueLog records studies that need operator attention. Rows are only ever
// appended; a retry is itself a row.
type IssueLog interface {
	Append(issue models.Issue) error
	List(filter models.IssueFilter) ([]models.Issue, error)
	// BlockedIDs returns the sorted identifiers whose latest item-level
	// issue has no later RETRY_REQUESTED row.
	BlockedIDs() ([]string, error)
	RequestRetry(uid, note string) error
}

type csvIssueLog struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// NewIssueLog creates an IssueLog backed by the CSV file at path. The file
// is created with its header on the first append.
func NewIssueLog(path string) IssueLog {
	return &csvIssueLog{path: path, now: time.Now}
}

func (l *csvIssueLog) Append(issue models.Issue) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if issue.Time.IsZero() {
		issue.Time = l.now()
	}
	extra := ""
	if len(issue.Extra) > 0 {
		b, err := json.Marshal(issue.Extra)
		if err != nil {
			return fmt.Errorf("encoding issue extra: %w", err)
		}
		extra = string(b)
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("creating issues directory: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening issues file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(issueHeader); err != nil {
			return err
		}
	}
	row := []string{
		issue.Time.UTC().Format(time.RFC3339),
		string(issue.Category),
		issue.UID,
		issue.Detail,
		extra,
	}
	if err := w.Write(row); err != nil {
		return fmt.Errorf("writing issue: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("writing issue: %w", err)
	}
	return f.Sync()
}

func (l *csvIssueLog) List(filter models.IssueFilter) ([]models.Issue, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	all, err := l.readAll()
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, is := range all {
		if filter.Category != "" && is.Category != filter.Category {
			continue
		}
		if filter.UID != "" && is.UID != filter.UID {
			continue
		}
		out = append(out, is)
	}
	return out, nil
}

func (l *csvIssueLog) BlockedIDs() ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.blocked()
}

func (l *csvIssueLog) blocked() ([]string, error) {
	all, err := l.readAll()
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool)
	for _, is := range all {
		if is.UID == "" {
			continue
		}
		switch {
		case is.Category.ItemLevel():
			set[is.UID] = true
		case is.Category == models.IssueRetryRequested:
			delete(set, is.UID)
		}
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// RequestRetry appends a RETRY_REQUESTED row for a blocked study.
func (l *csvIssueLog) RequestRetry(uid, note string) error {
	l.mu.Lock()
	ids, err := l.blocked()
	l.mu.Unlock()
	if err != nil {
		return err
	}
	idx := sort.SearchStrings(ids, uid)
	if idx >= len(ids) || ids[idx] != uid {
		return fmt.Errorf("%w: %s", ErrNotBlocked, uid)
	}
	if note == "" {
		note = "retry requested by operator"
	}
	return l.Append(models.Issue{
		Category: models.IssueRetryRequested,
		UID:      uid,
		Detail:   note,
	})
}

// readAll parses every data row. Short or malformed rows are skipped so a
// hand-edited file never blocks a run.
func (l *csvIssueLog) readAll() ([]models.Issue, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening issues file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var out []models.Issue
	first := true
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				continue
			}
			return nil, fmt.Errorf("reading issues file: %w", err)
		}
		if first {
			first = false
			if len(rec) > 0 && rec[0] == issueHeader[0] {
				continue
			}
		}
		if len(rec) < 3 {
			continue
		}
		is := models.Issue{
			Time:     parseTimestamp(rec[0]),
			Category: models.IssueCategory(rec[1]),
			UID:      rec[2],
		}
		if len(rec) > 3 {
			is.Detail = rec[3]
		}
		if len(rec) > 4 && rec[4] != "" {
			var extra map[string]any
			if json.Unmarshal([]byte(rec[4]), &extra) == nil {
				is.Extra = extra
			}
		}
		out = append(out, is)
	}
	return out, nil
}
