package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/sheetguard/aclengine/internal/cli"
)

var watchManifestFlag string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the rule manifest and revalidate on change",
	Long: `Watch the rule manifest file for changes, revalidating it after each
debounce window. Intended for local development; production deployments
wire fsnotify watching directly into the engine via Engine.UpdateRules.`,
	Example: `  aclctl watch --manifest rules/access.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := resolveString(watchManifestFlag, cfg.Manifest)
		debounce, err := time.ParseDuration(cfg.Watch.Debounce)
		if err != nil {
			return cli.ConfigError("parsing watch.debounce", err)
		}
		return runWatch(path, debounce)
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchManifestFlag, "manifest", "", "path to the rule manifest")
}

func runWatch(path string, debounce time.Duration) error {
	if err := runValidate(path); err != nil {
		fmt.Fprintln(os.Stderr, "initial validation failed:", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return cli.GeneralError("creating watcher", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return cli.GeneralError("watching manifest directory", err)
	}

	fmt.Printf("Watching %s for changes (debounce %s). Press Ctrl-C to stop.\n", path, debounce)

	var timer *time.Timer
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				if err := runValidate(path); err != nil {
					fmt.Fprintln(os.Stderr, "revalidation failed:", err)
					return
				}
				fmt.Println("reloaded", path)
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintln(os.Stderr, "watch error:", err)
		}
	}
}
