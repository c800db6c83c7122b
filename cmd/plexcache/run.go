package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/plexcache-r/plexcache/cmd"
	"github.com/plexcache-r/plexcache/pkg/config"
	"github.com/plexcache-r/plexcache/pkg/controlloop"
	"github.com/plexcache-r/plexcache/pkg/operationrunner"
)

// loadConfig loads the configuration document at rootConfiguration.configPath.
func loadConfig() (*config.Configuration, error) {
	return config.Load(rootConfiguration.configPath)
}

// cacheDirsAndSidecarPaths derives the maintenance subcommands' search
// scopes from a loaded configuration's enabled path mappings.
func cacheDirsAndSidecarPaths(cfg *config.Configuration) (cacheDirs, sidecarSearchPaths []string) {
	for _, m := range cfg.EnabledMappings() {
		if m.Cacheable && m.CachePath != "" {
			cacheDirs = append(cacheDirs, m.CachePath)
		}
		if m.RealPath != "" {
			sidecarSearchPaths = append(sidecarSearchPaths, m.RealPath)
		}
	}
	return cacheDirs, sidecarSearchPaths
}

func runMain(command *cobra.Command, arguments []string) error {
	logger := resolveLogger()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	loop, err := controlloop.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing control loop: %w", err)
	}

	runner := operationrunner.New(loop)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	terminationSignals := make(chan os.Signal, 1)
	signal.Notify(terminationSignals, cmd.TerminationSignals...)
	defer signal.Stop(terminationSignals)

	done, err := runner.Start(ctx)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	statusLine := &cmd.StatusLinePrinter{}
	defer statusLine.BreakIfNonEmpty()

	lastPhase := operationrunner.Phase("")
	for {
		select {
		case <-terminationSignals:
			statusLine.BreakIfNonEmpty()
			color.Yellow("Received termination signal, waiting for the current step to finish cleanly...\n")
			cancel()
		case <-done:
			return reportRunOutcome(statusLine, runner.Status())
		case <-ticker.C:
			status := runner.Status()
			if status.Phase != lastPhase {
				statusLine.BreakIfNonEmpty()
				fmt.Printf("[%s] %s\n", time.Now().Format("15:04:05"), status.Phase)
				lastPhase = status.Phase
			}
			if status.Bytes.Total > 0 {
				statusLine.Print(fmt.Sprintf("  %d/%d files, %.1f%% (ETA %s)",
					status.Files.Completed, status.Files.Total,
					100*float64(status.Bytes.Completed)/float64(status.Bytes.Total),
					status.ETA.Round(time.Second)))
			}
		}
	}
}

func reportRunOutcome(statusLine *cmd.StatusLinePrinter, status operationrunner.Status) error {
	statusLine.BreakIfNonEmpty()
	if status.Summary != nil && status.Summary.Skipped != "" {
		color.Yellow("Run skipped: %s\n", status.Summary.Skipped)
		return nil
	}
	if status.State == operationrunner.StateFailed {
		return fmt.Errorf("run failed: %s", status.Error)
	}
	if status.Summary != nil {
		s := status.Summary
		fmt.Printf("Cached %d files (%s), restored %d files (%s), evicted %d files (%s)\n",
			s.FilesCached, humanize.Bytes(uint64(s.BytesCached)),
			s.FilesRestored, humanize.Bytes(uint64(s.BytesRestored)),
			s.FilesEvicted, humanize.Bytes(uint64(s.BytesEvicted)))
		if len(s.Warnings) > 0 {
			color.Yellow("%d warning(s) — see activity log for detail\n", len(s.Warnings))
		}
		if len(s.Errors) > 0 {
			color.Red("%d error(s) — see activity log for detail\n", len(s.Errors))
		}
	}
	return nil
}

var runCommand = &cobra.Command{
	Use:          "run",
	Short:        "Run one caching pass: fetch watch activity, cache what's needed, evict what isn't",
	Args:         cmd.DisallowArguments,
	RunE:         runMain,
	SilenceUsage: true,
}
