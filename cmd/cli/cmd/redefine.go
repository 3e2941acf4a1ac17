package cmd

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/klasslink/internal/classfile"
	"github.com/klasslink/internal/redefine"
	"github.com/klasslink/internal/symbol"
	apperrors "github.com/klasslink/pkg/errors"
)

var (
	// Redefine command flags
	redefineCapability string
)

// redefineCmd represents the redefine command
var redefineCmd = &cobra.Command{
	Use:   "redefine <class-file>...",
	Short: "Load classes from the class path and redefine them from files",
	Long: `Load the classes the given files declare from the class path, then redefine
them together from the files. The request succeeds only if every change is
within the redefinition capability; otherwise nothing is changed.

With redefinition.persist_fingerprints enabled, anonymous-class fingerprints
and the outcome of every class are stored in the configured database and can
be listed with the history command.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRedefine,
}

func init() {
	rootCmd.AddCommand(redefineCmd)

	binName := BinName()
	redefineCmd.Example = `  # Redefine one class
  ` + binName + ` redefine --classpath ./classes ./patched/com/example/Point.class

  # Allow added methods
  ` + binName + ` redefine --classpath ./classes --capability add_method ./patched/*.class`

	redefineCmd.Flags().StringVar(&redefineCapability, "capability", "", "Redefinition capability, overriding the configuration")
}

func runRedefine(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if redefineCapability != "" {
		cfg.Redefinition.Capability = redefineCapability
	}

	timer := newTimer("Redefine")
	defer timer.PrintSummary()

	phase := timer.Start("read")
	defs, err := readDefinitions(args)
	phase.Stop()
	if err != nil {
		return err
	}

	c, err := newContext(cmd, timer)
	if err != nil {
		return err
	}
	defer c.Close()

	// Classes missing from the class path are reported back as added.
	phase = timer.Start("load")
	for _, def := range defs {
		if _, err := c.Load(ctx, def.Name, nil); err != nil && apperrors.GetErrorCode(err) != apperrors.CodeNotFound {
			return err
		}
	}
	phase.Stop()

	phase = timer.Start("redefine")
	res, err := c.Redefiner().RedefineClasses(ctx, nil, defs)
	phase.Stop()
	if err != nil {
		return err
	}

	logger.Info("=== Redefinition %s ===", res.Status)
	for _, o := range res.Classes {
		if o.Status == redefine.StatusSuccess {
			logger.Info("  %-40s %-24s v%d", o.Class, o.Change, o.Version)
		} else {
			logger.Warn("  %-40s %-24s %s", o.Class, o.Change, o.Status)
		}
		if o.Reason != "" {
			logger.Info("      %s", o.Reason)
		}
		for _, m := range o.Methods {
			logger.Debug("      %s", m)
		}
	}
	renamed := make([]string, 0, len(res.Renamed))
	for from := range res.Renamed {
		renamed = append(renamed, from)
	}
	sort.Strings(renamed)
	for _, from := range renamed {
		logger.Info("  renamed %s -> %s", from, res.Renamed[from])
	}
	for _, a := range res.Added {
		logger.Info("  not loaded, left to its loader: %s", a.Name)
	}
	for _, name := range res.Removed {
		logger.Info("  no longer present: %s", name)
	}

	if res.Status != redefine.StatusSuccess {
		return fmt.Errorf("redefinition declined: %s", res.Status)
	}
	return nil
}

// readDefinitions reads class files and names each after the class it
// declares.
func readDefinitions(paths []string) ([]redefine.ClassDefinition, error) {
	symbols := symbol.NewTable()
	defs := make([]redefine.ClassDefinition, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		parsed, err := classfile.Parse(data, symbols, "")
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		defs = append(defs, redefine.ClassDefinition{Name: parsed.Name.String(), Bytes: data})
	}
	return defs, nil
}
