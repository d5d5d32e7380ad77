package cli

import (
	"strings"
	"testing"
	"time"

	"github.com/ThalesMMS/Horos-Backup-Script/internal/observability"
)

func TestAlertsCmd(t *testing.T) {
	orig := AlertEngine
	defer func() {
		AlertEngine = orig
		alertsExitCode = false
	}()

	tests := []struct {
		name    string
		alerts  alertsMock
		args    []string
		want    string
		wantErr bool
	}{
		{"none", nil, nil, "No active alerts.", false},
		{
			name: "stale backup",
			alerts: alertsMock{{
				Condition:   "backup_stale",
				Severity:    observability.SeverityHigh,
				Message:     "no completed run in 50h",
				TriggeredAt: time.Date(2025, 11, 3, 10, 0, 0, 0, time.UTC),
			}},
			want: "[HIGH] no completed run in 50h",
		},
		{
			name:    "exit code",
			alerts:  alertsMock{{Condition: "consecutive_skips", Severity: observability.SeverityMedium, Message: "12 skipped runs"}},
			args:    []string{"--exit-code"},
			want:    "12 skipped runs",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			AlertEngine = tt.alerts
			alertsExitCode = false
			out, err := execute(t, append([]string{"alerts"}, tt.args...)...)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !strings.Contains(out, tt.want) {
				t.Errorf("output missing %q:\n%s", tt.want, out)
			}
		})
	}
}

func TestAlertsCmd_NotInitialized(t *testing.T) {
	orig := AlertEngine
	defer func() { AlertEngine = orig }()
	AlertEngine = nil

	if _, err := execute(t, "alerts"); err == nil {
		t.Fatal("expected error when AlertEngine is nil")
	}
}
