package core

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ThalesMMS/Horos-Backup-Script/pkg/models"
)

// maxPatientNameLength caps the patient segment before the whole name is
// fitted to max_name_length.
const maxPatientNameLength = 128

const unknownToken = "UNKNOWN"

var unsafeNameChars = regexp.MustCompile(`[^0-9A-Za-z._-]+`)

// SanitizeName turns free text into a filesystem-safe token. Spaces become
// underscores and every run of other disallowed characters collapses into a
// single underscore. An empty result becomes UNKNOWN.
func SanitizeName(s string) string {
	return sanitizeToken(s, maxPatientNameLength)
}

func sanitizeToken(s string, limit int) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, " ", "_")
	s = unsafeNameChars.ReplaceAllString(s, "_")
	if limit > 0 && len(s) > limit {
		s = s[:limit]
	}
	if s == "" {
		return unknownToken
	}
	return s
}

// ArchiveBaseName builds the archive file name without extension:
// <patient>_<dob>_<studydate>_<uid>. When the name exceeds maxLen the prefix
// is truncated and the full sanitized UID is kept.
func ArchiveBaseName(item models.WorkItem, maxLen int) string {
	uid := sanitizeToken(item.UID, 0)
	prefix := strings.Join([]string{
		SanitizeName(item.PatientName),
		FormatNameDate(item.BirthDate, unknownToken),
		FormatNameDate(item.StudyDate, unknownToken),
	}, "_")

	base := prefix + "_" + uid
	if maxLen <= 0 || len(base) <= maxLen {
		return base
	}

	allow := max(1, maxLen-(len(uid)+1))
	if allow < len(prefix) {
		prefix = prefix[:allow]
	}
	prefix = strings.TrimRight(prefix, "_")
	return prefix + "_" + uid
}

// CandidatePath returns the n-th deterministic archive path for base in dir.
// The first candidate carries no suffix; later ones end in _2, _3, ...
func CandidatePath(dir, base string, n int) string {
	if n <= 1 {
		return filepath.Join(dir, base+".zip")
	}
	return filepath.Join(dir, fmt.Sprintf("%s_%d.zip", base, n))
}
