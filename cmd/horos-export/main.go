package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	app "github.com/ThalesMMS/Horos-Backup-Script/internal"
	"github.com/ThalesMMS/Horos-Backup-Script/internal/cli"
)

// Set by goreleaser ldflags at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// A .env file is optional; HOROS_EXPORT_* variables may come from launchd.
	_ = godotenv.Load()

	cli.SetVersionInfo(version, commit, date)

	var a *app.App
	cli.Initialize = func(configPath string) error {
		var err error
		a, err = app.NewApp(configPath)
		return err
	}

	err := cli.Execute()
	if a != nil {
		if cerr := a.Close(); cerr != nil {
			fmt.Fprintf(os.Stderr, "Error closing horos-export: %v\n", cerr)
		}
	}
	if err != nil && !errors.Is(err, cli.ErrRunSkipped) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(cli.ExitCode(err))
}
