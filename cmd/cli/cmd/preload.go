package cmd

import (
	"time"

	"github.com/spf13/cobra"
)

var (
	// Preload command flags
	preloadAll bool
)

// preloadCmd represents the preload command
var preloadCmd = &cobra.Command{
	Use:   "preload [class]...",
	Short: "Load classes in parallel through the bootstrap loader",
	Long: `Load the named classes, or every class on the class path with --all, using
the configured number of workers. Classes named in the configuration under
registry.preload are loaded first. Loading stops at the first failure.`,
	RunE: runPreload,
}

func init() {
	rootCmd.AddCommand(preloadCmd)

	binName := BinName()
	preloadCmd.Example = `  # Load every class on the class path
  ` + binName + ` preload --all --classpath ./classes

  # Load two classes and their supertypes
  ` + binName + ` preload --classpath ./classes com/example/Point com/example/Line`

	preloadCmd.Flags().BoolVar(&preloadAll, "all", false, "Load every class on the class path")
}

func runPreload(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	start := time.Now()
	timer := newTimer("Preload")
	defer timer.PrintSummary()

	c, err := newContext(cmd, timer)
	if err != nil {
		return err
	}
	defer c.Close()

	names := make([]string, 0, len(args))
	for _, arg := range args {
		names = append(names, internalName(arg))
	}
	if preloadAll {
		phase := timer.Start("list class path")
		all, err := c.ClassNames(ctx)
		phase.Stop()
		if err != nil {
			return err
		}
		names = append(names, all...)
	}

	phase := timer.Start("load")
	n, err := c.Registries().Preload(ctx, names, nil)
	phase.Stop()
	if err != nil {
		return err
	}

	logger.Info("=== Preload Complete ===")
	logger.Info("Requested:      %d", len(names))
	logger.Info("Loaded:         %d", n)
	logger.Info("Classes total:  %d", len(c.Registries().LoadedClasses()))
	logger.Info("Symbols:        %d", c.Symbols().Len())
	logger.Info("Elapsed:        %v", time.Since(start).Round(time.Millisecond))
	return nil
}
