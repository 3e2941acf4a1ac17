package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/klasslink/internal/classfile"
	"github.com/klasslink/internal/formatter"
	"github.com/klasslink/internal/redefine"
	"github.com/klasslink/internal/symbol"
	"github.com/klasslink/pkg/model"
)

var (
	// Diff command flags
	diffCapability string
)

// diffCmd represents the diff command
var diffCmd = &cobra.Command{
	Use:   "diff <old.class> <new.class>",
	Short: "Classify the change between two versions of a class",
	Long: `Compare two class files declaring the same class and classify the change.

The classification is the one a redefinition request would apply:
  - no_change, constant_pool_change, method_body_change
  - add_method, delete_method, schema_change
  - hierarchy_change, class_modifiers_change, method_modifiers_change

The status shows whether the redefinition capability allows the change.
Nothing is loaded; only the two files are read.`,
	Args: cobra.ExactArgs(2),
	RunE: runDiff,
}

func init() {
	rootCmd.AddCommand(diffCmd)

	binName := BinName()
	diffCmd.Example = `  # Classify under the configured capability
  ` + binName + ` diff old/Point.class new/Point.class

  # Classify under the arbitrary capability, as JSON
  ` + binName + ` diff old/Point.class new/Point.class --capability arbitrary --json`

	diffCmd.Flags().StringVar(&diffCapability, "capability", "", "Redefinition capability: method_body, add_method or arbitrary")
}

func runDiff(cmd *cobra.Command, args []string) error {
	capName := diffCapability
	if capName == "" {
		capName = cfg.Redefinition.Capability
	}
	capability, err := redefine.ParseCapability(capName)
	if err != nil {
		return err
	}

	oldData, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}
	newData, err := os.ReadFile(args[1])
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[1], err)
	}

	symbols := symbol.NewTable()
	old, err := classfile.Parse(oldData, symbols, "")
	if err != nil {
		return err
	}
	next, err := classfile.Parse(newData, symbols, old.Name.String())
	if err != nil {
		return err
	}

	d := redefine.DetectChanges(old, next)
	logger.Debug("%s: %s", d.Class, d.Change)
	return emit(cmd, []*model.DiffReport{formatter.DiffReport(d, capability)})
}
