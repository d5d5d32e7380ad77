package core

import (
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/ThalesMMS/Horos-Backup-Script/pkg/models"
)

func TestParseDateParts(t *testing.T) {
	tests := []struct {
		name   string
		input  any
		want   DateParts
		wantOK bool
	}{
		{"nil", nil, DateParts{}, false},
		{"empty string", "", DateParts{}, false},
		{"blank string", "   ", DateParts{}, false},
		{"coredata zero", 0.0, DateParts{"2001", "01", "01"}, true},
		{"coredata one day int", int64(86400), DateParts{"2001", "01", "02"}, true},
		{"coredata float", 694224000.0, DateParts{"2023", "01", "01"}, true},
		{"coredata numeric string", "694224000", DateParts{"2023", "01", "01"}, true},
		{"coredata negative", -86400.0, DateParts{"2000", "12", "31"}, true},
		{"dicom compact", "20230203", DateParts{"2023", "02", "03"}, true},
		{"iso dash", "2023-02-03", DateParts{"2023", "02", "03"}, true},
		{"iso slash", "2023/02/03", DateParts{"2023", "02", "03"}, true},
		{"iso with time", "2023-02-03 10:11:12", DateParts{"2023", "02", "03"}, true},
		{"year month", "2023-02", DateParts{"2023", "02", "01"}, true},
		{"bytes", []byte("19800101"), DateParts{"1980", "01", "01"}, true},
		{"time value", time.Date(2022, 12, 31, 23, 0, 0, 0, time.UTC), DateParts{"2022", "12", "31"}, true},
		{"zero time", time.Time{}, DateParts{}, false},
		{"garbage", "not a date", DateParts{}, false},
		{"bad month", "2023-13-01", DateParts{}, false},
		{"nan string", "NaN", DateParts{}, false},
		{"huge number", 1e300, DateParts{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseDateParts(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v (got %+v)", ok, tt.wantOK, got)
			}
			if ok && got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestFormatNameDate(t *testing.T) {
	if got := FormatNameDate("20230203", "UNKNOWN"); got != "2023-02-03" {
		t.Errorf("FormatNameDate = %q, want 2023-02-03", got)
	}
	if got := FormatNameDate(nil, "UNKNOWN"); got != "UNKNOWN" {
		t.Errorf("FormatNameDate(nil) = %q, want UNKNOWN", got)
	}
}

func TestPeriodFor(t *testing.T) {
	tests := []struct {
		input any
		want  models.PeriodKey
	}{
		{"20230203", "2023_02"},
		{"1999/12/31", "1999_12"},
		{0.0, "2001_01"},
		{"", models.UnknownPeriod},
		{nil, models.UnknownPeriod},
		{"bogus", models.UnknownPeriod},
	}
	for _, tt := range tests {
		if got := PeriodFor(tt.input); got != tt.want {
			t.Errorf("PeriodFor(%v) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

// =============================================================================
// Property 3: CoreData Timestamps Map To Their Calendar Day
// =============================================================================

// *For any* instant between 1900 and 2100, its CoreData offset in seconds
// SHALL parse back to the same UTC calendar day and period.
func TestProperty3_CoreDataCalendarDay(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		start := time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC).Unix()
		end := time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC).Unix()
		instant := time.Unix(rapid.Int64Range(start, end).Draw(rt, "unix"), 0).UTC()
		seconds := instant.Sub(coreDataEpoch).Seconds()

		parts, ok := ParseDateParts(seconds)
		if !ok {
			rt.Fatalf("ParseDateParts(%v) failed", seconds)
		}
		want := instant.Format("2006-01-02")
		if got := parts.Year + "-" + parts.Month + "-" + parts.Day; got != want {
			rt.Errorf("got %s, want %s", got, want)
		}
		if got := PeriodFor(seconds); string(got) != instant.Format("2006_01") {
			rt.Errorf("PeriodFor = %s, want %s", got, instant.Format("2006_01"))
		}
	})
}

// =============================================================================
// Property 4: Textual Dates Agree Across Formats
// =============================================================================

// *For any* valid calendar day, the compact, dashed and slashed spellings
// SHALL yield identical parts.
func TestProperty4_TextualDateFormatsAgree(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		day := time.Date(
			rapid.IntRange(1900, 2099).Draw(rt, "year"),
			time.Month(rapid.IntRange(1, 12).Draw(rt, "month")),
			rapid.IntRange(1, 28).Draw(rt, "day"),
			0, 0, 0, 0, time.UTC)

		compact, ok1 := ParseDateParts(day.Format("20060102"))
		dashed, ok2 := ParseDateParts(day.Format("2006-01-02"))
		slashed, ok3 := ParseDateParts(day.Format("2006/01/02"))
		if !ok1 || !ok2 || !ok3 {
			rt.Fatalf("parse failed for %s", day.Format("2006-01-02"))
		}
		if compact != dashed || dashed != slashed {
			rt.Errorf("formats disagree: %+v %+v %+v", compact, dashed, slashed)
		}
	})
}
