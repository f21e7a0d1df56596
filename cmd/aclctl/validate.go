package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sheetguard/aclengine/internal/cli"
	"github.com/sheetguard/aclengine/pkg/rules"
)

var validateManifestFlag string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the rule manifest",
	Long:  `Load and compile the access rule manifest without starting the engine.`,
	Example: `  # Validate the configured manifest
  aclctl validate

  # Validate a specific file
  aclctl validate --manifest rules/access.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := resolveString(validateManifestFlag, cfg.Manifest)
		return runValidate(path)
	},
}

func init() {
	validateCmd.Flags().StringVar(&validateManifestFlag, "manifest", "", "path to the rule manifest")
}

func runValidate(path string) error {
	m, err := rules.Load(path)
	if err != nil {
		return cli.ManifestLoadError("loading manifest", err)
	}

	ruleSets, attrs, err := rules.Compile(m, rules.Compiler{})
	if err != nil {
		return cli.ManifestLoadError("compiling manifest", err)
	}

	if !quiet {
		fmt.Printf("Manifest is valid: %s\n", path)
		fmt.Printf("  %d rule sets\n", len(ruleSets))
		for _, rs := range ruleSets {
			fmt.Printf("    - %s %v (%d rules)\n", rs.Scope.Table, rs.Scope.Columns, len(rs.Rules))
		}
		fmt.Printf("  %d user attributes\n", len(attrs))
	}
	return nil
}
