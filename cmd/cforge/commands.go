package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/robert-at-pretension-io/cforge/internal/config"
	"github.com/robert-at-pretension-io/cforge/internal/runner"
)

var (
	corpusOutput string
	corpusFormat string
	deltaFrom    string

	targetFunction string
	outputDir      string
	renameSeed     uint64
	renamePrefix   string
	tagStyle       string
)

var extractCmd = &cobra.Command{
	Use:   "extract [path...]",
	Short: "Write corpus records for call-free numeric declarations",
	Long: `Selects function definitions whose return and parameter types are
integer, character or pointers to them, that make no calls and touch no
non-integer globals, plus numeric typedefs and globals. Each selected
declaration becomes one corpus record.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMode(cmd, args, runner.Options{Mode: runner.ModeExtract})
	},
}

var processCmd = &cobra.Command{
	Use:   "process [path...]",
	Short: "Like extract, but replace calls with typed placeholders first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMode(cmd, args, runner.Options{Mode: runner.ModeProcess})
	},
}

var eliminateCmd = &cobra.Command{
	Use:   "eliminate [path...]",
	Short: "Replace calls with typed placeholders and remove extern declarations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMode(cmd, args, runner.Options{Mode: runner.ModeEliminate})
	},
}

var renameCmd = &cobra.Command{
	Use:   "rename [path...]",
	Short: "Give function definitions fresh random names",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("seed") {
			cfg.Rename.Seed = renameSeed
		}
		if renamePrefix != "" {
			cfg.Rename.Prefix = renamePrefix
		}
		return runMode(cmd, args, runner.Options{Mode: runner.ModeRename})
	},
}

var renameGlobalCmd = &cobra.Command{
	Use:   "rename-global [path...]",
	Short: "Suffix globals with the name of each function that uses them",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMode(cmd, args, runner.Options{Mode: runner.ModeRenameGlobal})
	},
}

var tagCmd = &cobra.Command{
	Use:   "tag [path...]",
	Short: "Insert profiling tags around variable reads",
	Long: `Wraps qualifying variable reads in Tag<id>(...) macros and writes the
tag table next to each output as <file>.tags.json. --style picks the
expression pass, the statement pass or both.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if tagStyle != "" {
			cfg.Tag.Style = tagStyle
			if err := cfg.Validate(); err != nil {
				return err
			}
		}
		return runMode(cmd, args, runner.Options{Mode: runner.ModeTag})
	},
}

var initCmd = &cobra.Command{
	Use:   "init [file]",
	Short: "Write a default configuration file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "cforge.json"
		if len(args) == 1 {
			path = args[0]
		}
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
		if err := config.DefaultConfig().Save(path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", path)
		return nil
	},
}

var cleanCmd = &cobra.Command{
	Use:   "clean [path]",
	Short: "Remove the extracted record cache",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root := "."
		if len(args) == 1 {
			root = args[0]
		}
		dir, err := runner.ClearCache(root, cfg)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", dir)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{extractCmd, processCmd} {
		c.Flags().StringVarP(&corpusOutput, "output", "o", "", "corpus file (default: stdout for jsonl and msgpack)")
		c.Flags().StringVar(&corpusFormat, "format", "", "corpus format: jsonl, msgpack or sqlite")
		c.Flags().StringVar(&deltaFrom, "delta-from", "", "previous corpus to report added and removed records against")
	}
	for _, c := range []*cobra.Command{eliminateCmd, renameCmd, renameGlobalCmd, tagCmd} {
		c.Flags().StringVarP(&outputDir, "output-dir", "o", "", `directory for rewritten files (default: in place, "-" for stdout)`)
	}
	for _, c := range []*cobra.Command{eliminateCmd, renameCmd, renameGlobalCmd} {
		c.Flags().StringVarP(&targetFunction, "function", "f", "", "only process this function definition")
	}
	renameCmd.Flags().Uint64Var(&renameSeed, "seed", 0, "seed for reproducible names (0 = random)")
	renameCmd.Flags().StringVar(&renamePrefix, "prefix", "", "prefix of generated names")
	tagCmd.Flags().StringVar(&tagStyle, "style", "", "tagging pass: expression, statement or both")
}

// runMode resolves the path arguments and runs one mode over them. A
// single directory argument is the project root; anything else is a list
// of files.
func runMode(cmd *cobra.Command, args []string, opts runner.Options) error {
	root, files, err := resolveArgs(args)
	if err != nil {
		return err
	}

	if corpusOutput != "" {
		cfg.Corpus.Output = corpusOutput
	}
	if corpusFormat != "" {
		cfg.Corpus.Format = corpusFormat
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	opts.Target = targetFunction
	opts.OutputDir = outputDir
	opts.DeltaFrom = deltaFrom
	opts.Stdout = cmd.OutOrStdout()

	summary, err := runner.New(cfg, opts, logger).Run(cmd.Context(), root, files)
	if err != nil {
		return err
	}
	printSummary(cmd.ErrOrStderr(), summary, cfg.Corpus.Output)
	if failed := len(summary.Failed()); failed > 0 {
		return fmt.Errorf("%d of %d units failed", failed, len(summary.Units))
	}
	return nil
}

func resolveArgs(args []string) (string, []string, error) {
	if len(args) == 0 {
		return ".", nil, nil
	}
	if len(args) == 1 {
		info, err := os.Stat(args[0])
		if err != nil {
			return "", nil, err
		}
		if info.IsDir() {
			return args[0], nil, nil
		}
	}
	for _, a := range args {
		info, err := os.Stat(a)
		if err != nil {
			return "", nil, err
		}
		if info.IsDir() {
			return "", nil, fmt.Errorf("%s: a directory must be the only path argument", a)
		}
	}
	return ".", args, nil
}
