package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ThalesMMS/Horos-Backup-Script/pkg/models"
)

// maxCheckedSample bounds the probes kept on a work item for diagnostics.
const maxCheckedSample = 5

// shardSize is the number of files Horos stores per numbered folder of
// DATABASE.noindex.
const shardSize = 10000

// pathResolver maps ZIMAGE path columns to files on disk.
type pathResolver struct {
	databaseDir  string
	horosDataDir string
	isFile       func(string) bool
}

// resolve returns the first candidate that is a regular file, or "" when
// none is, together with every probe it made.
func (r pathResolver) resolve(pathString string, pathNumber, inDatabase any) (string, []models.PathProbe) {
	candidates := r.candidates(pathString, pathNumber, inDatabase)
	probes := make([]models.PathProbe, 0, len(candidates))
	for _, c := range candidates {
		ok := r.isFile(c)
		probes = append(probes, models.PathProbe{Path: c, Exists: ok})
		if ok {
			return c, probes
		}
	}
	return "", probes
}

// candidates lists the locations to try, most specific first. Files kept in
// the database folder live under a numbered subfolder; the stored path number
// is tried as given and as the Horos shard folder that contains it.
func (r pathResolver) candidates(pathString string, pathNumber, inDatabase any) []string {
	rel := strings.TrimLeft(pathString, "/")
	var out []string
	add := func(p string) {
		for _, seen := range out {
			if seen == p {
				return
			}
		}
		out = append(out, p)
	}

	if !truthy(inDatabase) {
		if filepath.IsAbs(pathString) {
			add(pathString)
		} else {
			add(filepath.Join(r.horosDataDir, rel))
		}
		return out
	}

	if sub := numberString(pathNumber); sub != "" {
		add(filepath.Join(r.databaseDir, sub, rel))
		if n, err := strconv.ParseInt(sub, 10, 64); err == nil && n >= 0 {
			shard := (n/shardSize + 1) * shardSize
			add(filepath.Join(r.databaseDir, strconv.FormatInt(shard, 10), rel))
		}
	}
	add(filepath.Join(r.databaseDir, rel))
	if filepath.IsAbs(pathString) {
		add(pathString)
	}
	return out
}

// truthy interprets ZSTOREDINDATABASEFOLDER, which SQLite may hand back as an
// integer, a float or text.
func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case int64:
		return x == 1
	case float64:
		return x == 1
	case bool:
		return x
	case []byte:
		return strings.TrimSpace(string(x)) == "1"
	case string:
		return strings.TrimSpace(x) == "1"
	}
	return false
}

// numberString renders ZPATHNUMBER as a folder name. Integral floats lose
// their fraction.
func numberString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		if x == float64(int64(x)) {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case []byte:
		return strings.TrimSpace(string(x))
	case string:
		return strings.TrimSpace(x)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

func isRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
