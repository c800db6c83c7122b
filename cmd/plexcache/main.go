package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/plexcache-r/plexcache/cmd"
	"github.com/plexcache-r/plexcache/pkg/buildinfo"
	"github.com/plexcache-r/plexcache/pkg/logging"
)

func rootMain(command *cobra.Command, arguments []string) error {
	if rootConfiguration.version {
		fmt.Println(buildinfo.Version)
		return nil
	}
	return runMain(command, arguments)
}

var rootCommand = &cobra.Command{
	Use:          "plexcache",
	Short:        "plexcache moves media between a slow array and a fast cache drive ahead of playback",
	Args:         cmd.DisallowArguments,
	RunE:         rootMain,
	SilenceUsage: true,
}

var rootConfiguration struct {
	// configPath is the path to the YAML configuration document.
	configPath string
	// verbose raises the log level to debug.
	verbose bool
	// quiet lowers the log level to warnings and errors only.
	quiet bool
	// version indicates that the version number should be printed and
	// the process should exit without running a caching pass.
	version bool
}

func resolveLogger() *logging.Logger {
	level := logging.LevelInfo
	switch {
	case rootConfiguration.verbose:
		level = logging.LevelDebug
	case rootConfiguration.quiet:
		level = logging.LevelWarn
	}
	return logging.NewLogger(level)
}

func init() {
	flags := rootCommand.PersistentFlags()
	flags.StringVarP(&rootConfiguration.configPath, "config", "c", "config.yaml", "Path to the configuration file")
	flags.BoolVarP(&rootConfiguration.verbose, "verbose", "v", false, "Log at debug level")
	flags.BoolVarP(&rootConfiguration.quiet, "quiet", "q", false, "Log warnings and errors only")
	flags.BoolVarP(&rootConfiguration.version, "version", "V", false, "Show version information")

	cobra.EnableCommandSorting = false

	rootCommand.AddCommand(
		runCommand,
		showPrioritiesCommand,
		showMappingsCommand,
		backupProtectCommand,
		syncToArrayCommand,
		fixWithBackupCommand,
		restorePlexcachedCommand,
		deletePlexcachedCommand,
	)
}

func main() {
	if err := rootCommand.Execute(); err != nil {
		os.Exit(1)
	}
}
