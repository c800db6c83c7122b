package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/plexcache-r/plexcache/cmd"
	"github.com/plexcache-r/plexcache/pkg/controlloop"
	"github.com/plexcache-r/plexcache/pkg/maintenancerunner"
)

// runMaintenanceAction loads configuration, builds the collaborators a
// MaintenanceRunner needs directly from a fresh control loop (so the
// action sees the same trackers, exclude list, and mover a caching run
// would), and blocks until the action finishes.
func runMaintenanceAction(action maintenancerunner.Action, dryRun bool) error {
	logger := resolveLogger()
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	loop, err := controlloop.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing control loop: %w", err)
	}

	cacheDirs, sidecarSearchPaths := cacheDirsAndSidecarPaths(cfg)
	runner := maintenancerunner.New(
		loop.CacheTracker, loop.ExcludeList, loop.Router, loop.Mover, loop.ActivityLog,
		cacheDirs, sidecarSearchPaths, logger,
	)

	done, err := runner.Start(context.Background(), action, dryRun)
	if err != nil {
		return err
	}
	<-done

	status := runner.Status()
	if status.Result != nil {
		fmt.Printf("%s: %d succeeded, %d failed\n", action, status.Result.Succeeded, status.Result.Failed)
		for _, detail := range status.Result.Details {
			fmt.Println("  " + detail)
		}
	}
	if status.State == maintenancerunner.StateFailed {
		return fmt.Errorf("%s failed: %s", action, status.Error)
	}
	if status.Result != nil && status.Result.Failed > 0 {
		color.Red("%d item(s) failed — see detail above\n", status.Result.Failed)
	}
	return nil
}

// newMaintenanceCommand builds a cobra command for a single maintenance
// action, each with its own independent --dry-run flag.
func newMaintenanceCommand(use, short string, action maintenancerunner.Action) *cobra.Command {
	var dryRun bool
	command := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cmd.DisallowArguments,
		RunE: func(_ *cobra.Command, arguments []string) error {
			return runMaintenanceAction(action, dryRun)
		},
		SilenceUsage: true,
	}
	command.Flags().BoolVar(&dryRun, "dry-run", false, "Preview the action without changing anything on disk")
	return command
}

var backupProtectCommand = newMaintenanceCommand("backup-protect",
	"Add every untracked cache-tier file to the exclude list, protecting it from the external mover",
	maintenancerunner.ActionBackupProtect)

var syncToArrayCommand = newMaintenanceCommand("sync-to-array",
	"Copy every untracked cache-tier file with no array-side backup back to the array",
	maintenancerunner.ActionSyncOrphans)

var fixWithBackupCommand = newMaintenanceCommand("fix-with-backup",
	"Resolve every untracked cache-tier file that already has an array-side backup or duplicate",
	maintenancerunner.ActionFixWithBackup)

var restorePlexcachedCommand = newMaintenanceCommand("restore-plexcached",
	"Rename every .plexcached sidecar back to its original name",
	maintenancerunner.ActionRestorePlexcached)

var deletePlexcachedCommand = newMaintenanceCommand("delete-plexcached",
	"Permanently delete every .plexcached sidecar, forfeiting the ability to roll back",
	maintenancerunner.ActionDeletePlexcached)
