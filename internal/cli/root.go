package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ThalesMMS/Horos-Backup-Script/internal/core"
)

var (
	appVersion = "dev"
	appCommit  = "none"
	appDate    = "unknown"
)

// Exit codes understood by the scheduler that launches runs.
const (
	ExitOK      = 0
	ExitFatal   = 1
	ExitSkipped = 75 // EX_TEMPFAIL
)

// ErrRunSkipped is returned by the run command when the cycle was skipped
// because Horos is busy importing.
var ErrRunSkipped = errors.New("run skipped")

// skipInit marks commands that work without a loaded configuration.
const skipInit = "skip-init"

var configPath string

// SetVersionInfo sets the version information injected via ldflags.
func SetVersionInfo(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

var rootCmd = &cobra.Command{
	Use:   "horos-export",
	Short: "Incremental export of Horos studies into monthly ZIP archives",
	Long: `horos-export copies studies from a Horos PACS catalog into one ZIP archive
per study, grouped into YYYY_MM folders on the PACS volume.

Each invocation of "run" exports at most one bounded batch and exits, so it is
meant to be launched periodically by launchd or cron. Progress is durable:
an interrupted run is resumed by the next one without duplicating work.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Annotations[skipInit] == "true" || Initialize == nil {
			return nil
		}
		return Initialize(configPath)
	},
}

var versionCmd = &cobra.Command{
	Use:         "version",
	Short:       "Print version information",
	Annotations: map[string]string{skipInit: "true"},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "horos-export %s\ncommit: %s\nbuilt:  %s\n", appVersion, appCommit, appDate)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to horos-export.yaml (default: $"+core.ConfigEnvVar+" or ./horos-export.yaml)")
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// ExitCode maps an error returned by Execute to a process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrRunSkipped):
		return ExitSkipped
	default:
		return ExitFatal
	}
}
