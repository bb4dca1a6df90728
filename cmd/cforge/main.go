// Command cforge selects, rewrites and instruments C translation units.
//
// Corpus commands (extract, process) write one record per selected
// declaration. Transform commands (eliminate, rename, rename-global, tag)
// rewrite each file through a collect-then-apply edit log and never write
// a partially edited file.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/robert-at-pretension-io/cforge/internal/config"
	"github.com/robert-at-pretension-io/cforge/internal/logging"
)

var (
	verbose    bool
	logJSON    bool
	noColor    bool
	configPath string

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "cforge",
	Short: "Select, rewrite and instrument C translation units",
	Long: `cforge parses C files with tree-sitter and either builds a corpus of
self-contained numeric declarations or rewrites the files: replacing calls
with typed placeholders, renaming functions and globals, or inserting
profiling tags.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if noColor {
			color.NoColor = true
		}
		if cmd == initCmd {
			return nil
		}

		var err error
		cfg, err = loadConfig(args)
		if err != nil {
			return err
		}
		logger, err = logging.New(logging.Options{
			Level:   cfg.Logging.Level,
			Verbose: verbose,
			JSON:    logJSON || cfg.Logging.JSON,
		})
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func loadConfig(args []string) (*config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	root := "."
	if len(args) == 1 {
		root = args[0]
	}
	return config.Load(root)
}

func main() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "log as JSON instead of console text")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored summaries")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "configuration file (default: search cforge.json, cforge.yaml)")

	rootCmd.AddCommand(extractCmd, processCmd, eliminateCmd, renameCmd, renameGlobalCmd, tagCmd, initCmd, cleanCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error:"), err)
		os.Exit(1)
	}
}
