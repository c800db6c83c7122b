package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/plexcache-r/plexcache/cmd"
	"github.com/plexcache-r/plexcache/pkg/logging"
	"github.com/plexcache-r/plexcache/pkg/pathrouter"
)

func showMappingsMain(command *cobra.Command, arguments []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	router := pathrouter.New(cfg.Paths.PathMappings, logging.NewLogger(logging.LevelError))
	stats := router.MappingStats()
	if len(stats) == 0 {
		fmt.Println("No enabled path mappings.")
		return nil
	}

	for _, s := range stats {
		cacheable := "no"
		if s.Cacheable {
			cacheable = "yes"
		}
		fmt.Printf("%-20s plex=%-30s real=%-30s cache=%-30s cacheable=%s\n",
			s.Name, s.PlexPath, s.RealPath, s.CachePath, cacheable)
	}
	return nil
}

var showMappingsCommand = &cobra.Command{
	Use:          "show-mappings",
	Short:        "List every enabled path mapping and its plex/real/cache paths",
	Args:         cmd.DisallowArguments,
	RunE:         showMappingsMain,
	SilenceUsage: true,
}
