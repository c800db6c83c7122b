package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/plexcache-r/plexcache/cmd"
	"github.com/plexcache-r/plexcache/pkg/controlloop"
)

func showPrioritiesMain(command *cobra.Command, arguments []string) error {
	logger := resolveLogger()
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	loop, err := controlloop.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing control loop: %w", err)
	}

	var cachedFiles []string
	for path := range loop.CacheTracker.CachedEntries() {
		cachedFiles = append(cachedFiles, path)
	}
	sort.Strings(cachedFiles)

	ranked := loop.Scorer.RankAll(cachedFiles)
	if len(ranked) == 0 {
		fmt.Println("No files are currently cached.")
		return nil
	}

	sort.Slice(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	for _, entry := range ranked {
		var size int64
		if info, err := os.Stat(entry.CachePath); err == nil {
			size = info.Size()
		}
		fmt.Printf("%3d  %-10s  %s\n", entry.Score, humanize.Bytes(uint64(size)), entry.CachePath)
	}
	return nil
}

var showPrioritiesCommand = &cobra.Command{
	Use:          "show-priorities",
	Short:        "List every cached file with its current eviction-priority score",
	Args:         cmd.DisallowArguments,
	RunE:         showPrioritiesMain,
	SilenceUsage: true,
}
