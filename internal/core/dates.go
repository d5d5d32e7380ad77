package core

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ThalesMMS/Horos-Backup-Script/pkg/models"
)

// coreDataEpoch is the reference date of Apple CoreData timestamps.
var coreDataEpoch = time.Date(2001, time.January, 1, 0, 0, 0, 0, time.UTC)

var (
	compactDatePattern = regexp.MustCompile(`^\d{8}$`)
	fullDatePattern    = regexp.MustCompile(`(\d{4})[-/](\d{2})[-/](\d{2})`)
	monthDatePattern   = regexp.MustCompile(`(\d{4})[-/](\d{2})`)
)

// DateParts is a calendar date as zero-padded strings.
type DateParts struct {
	Year  string
	Month string
	Day   string
}

// ParseDateParts interprets a raw catalog value as a calendar date. Numbers
// are CoreData seconds since 2001-01-01 UTC. Strings may be YYYYMMDD,
// YYYY-MM-DD, YYYY/MM/DD, YYYY-MM (day 01) or a numeric CoreData value.
func ParseDateParts(v any) (DateParts, bool) {
	switch val := v.(type) {
	case nil:
		return DateParts{}, false
	case time.Time:
		if val.IsZero() {
			return DateParts{}, false
		}
		return partsFromTime(val.UTC()), true
	case float64:
		return partsFromCoreData(val)
	case float32:
		return partsFromCoreData(float64(val))
	case int64:
		return partsFromCoreData(float64(val))
	case int:
		return partsFromCoreData(float64(val))
	case []byte:
		return parseDateString(string(val))
	case string:
		return parseDateString(val)
	default:
		return parseDateString(fmt.Sprint(val))
	}
}

func parseDateString(s string) (DateParts, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DateParts{}, false
	}
	if compactDatePattern.MatchString(s) && validMonth(s[4:6]) {
		return DateParts{Year: s[:4], Month: s[4:6], Day: s[6:8]}, true
	}
	if m := fullDatePattern.FindStringSubmatch(s); m != nil {
		return DateParts{Year: m[1], Month: m[2], Day: m[3]}, validMonth(m[2])
	}
	if m := monthDatePattern.FindStringSubmatch(s); m != nil {
		return DateParts{Year: m[1], Month: m[2], Day: "01"}, validMonth(m[2])
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return partsFromCoreData(f)
	}
	return DateParts{}, false
}

func partsFromCoreData(seconds float64) (DateParts, bool) {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return DateParts{}, false
	}
	// Beyond roughly +/- 290 years time.Duration overflows.
	if math.Abs(seconds) > 9e9 {
		return DateParts{}, false
	}
	whole := math.Floor(seconds)
	frac := time.Duration((seconds - whole) * float64(time.Second))
	t := coreDataEpoch.Add(time.Duration(whole)*time.Second + frac)
	return partsFromTime(t), true
}

func partsFromTime(t time.Time) DateParts {
	return DateParts{
		Year:  fmt.Sprintf("%04d", t.Year()),
		Month: fmt.Sprintf("%02d", int(t.Month())),
		Day:   fmt.Sprintf("%02d", t.Day()),
	}
}

func validMonth(mm string) bool {
	n, err := strconv.Atoi(mm)
	return err == nil && n >= 1 && n <= 12
}

// FormatNameDate renders a raw date as YYYY-MM-DD, or fallback when it
// cannot be parsed.
func FormatNameDate(v any, fallback string) string {
	p, ok := ParseDateParts(v)
	if !ok {
		return fallback
	}
	return p.Year + "-" + p.Month + "-" + p.Day
}

// PeriodFor returns the YYYY_MM group of a raw study date.
func PeriodFor(v any) models.PeriodKey {
	p, ok := ParseDateParts(v)
	if !ok {
		return models.UnknownPeriod
	}
	return models.PeriodKey(p.Year + "_" + p.Month)
}
