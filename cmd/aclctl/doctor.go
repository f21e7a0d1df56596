package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/sheetguard/aclengine/internal/cli"
	"github.com/sheetguard/aclengine/internal/doctor"
)

var (
	doctorDB       string
	doctorManifest string
	doctorVerbose  bool
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run health checks",
	Long:  `Run health checks against the manifest and the characteristic-table database.`,
	Example: `  # Check manifest only
  aclctl doctor

  # Also check database connectivity
  aclctl doctor --db postgres://localhost/mydb`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := resolveString(doctorManifest, cfg.Manifest)

		dsn := doctorDB
		if dsn == "" {
			if configured, err := cfg.DSN(); err == nil {
				dsn = configured
			}
		}

		d := doctor.New(path, dsn)
		report, err := d.Run(context.Background())
		if err != nil {
			return cli.GeneralError("running doctor", err)
		}

		report.Print(os.Stdout, doctorVerbose || cfg.Status.Verbose)

		if report.HasErrors() {
			return cli.GeneralError("health checks failed", nil)
		}
		return nil
	},
}

func init() {
	f := doctorCmd.Flags()
	f.StringVar(&doctorDB, "db", "", "database URL (defaults to the configured database; the connectivity check is skipped if neither is set)")
	f.StringVar(&doctorManifest, "manifest", "", "path to the rule manifest")
	f.BoolVar(&doctorVerbose, "verbose", false, "show detailed output")
}
