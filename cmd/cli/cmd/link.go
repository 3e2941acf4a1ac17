package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/klasslink/internal/formatter"
	"github.com/klasslink/internal/runtime"
	"github.com/klasslink/pkg/model"
)

var (
	// Link command flags
	showLayout     bool
	showDispatch   bool
	prepareClasses bool
)

// linkCmd represents the link command
var linkCmd = &cobra.Command{
	Use:   "link <class>...",
	Short: "Load classes and report their layout and dispatch tables",
	Long: `Load classes through the bootstrap loader and report how they were linked.

For each class the report shows:
  - Superclass, interfaces, version and initialization state
  - Instance and static field layout: byte offsets, reference slots and holes
  - The virtual table and one interface table per implemented interface

Without --layout or --dispatch both sections are reported.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runLink,
}

func init() {
	rootCmd.AddCommand(linkCmd)

	binName := BinName()
	linkCmd.Example = `  # Layout and dispatch tables of two classes
  ` + binName + ` link --classpath ./classes com/example/Point com.example.Line

  # Only the vtable and itables, as JSON
  ` + binName + ` link --classpath ./classes --dispatch --json com/example/Point`

	linkCmd.Flags().BoolVar(&showLayout, "layout", false, "Report the field layout")
	linkCmd.Flags().BoolVar(&showDispatch, "dispatch", false, "Report the dispatch tables")
	linkCmd.Flags().BoolVar(&prepareClasses, "prepare", false, "Prepare each class before reporting")
}

func runLink(cmd *cobra.Command, args []string) error {
	layout, dispatch := showLayout, showDispatch
	if !layout && !dispatch {
		layout, dispatch = true, true
	}

	timer := newTimer("Link")
	defer timer.PrintSummary()

	c, err := newContext(cmd, timer)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx := cmd.Context()
	reports := make([]*model.ClassReport, 0, len(args))
	phase := timer.Start("load")
	for _, arg := range args {
		name := internalName(arg)
		k, err := c.Load(ctx, name, nil)
		if err != nil {
			return err
		}
		obj, ok := k.(*runtime.ObjectKlass)
		if !ok {
			return fmt.Errorf("%s is not a class or interface", name)
		}
		if prepareClasses {
			if err := obj.Prepare(ctx); err != nil {
				return err
			}
		}
		reports = append(reports, formatter.ClassReport(obj, layout, dispatch))
	}
	phase.Stop()

	_, err = timer.TimeFuncWithError("report", func() error { return emit(cmd, reports) })
	return err
}
