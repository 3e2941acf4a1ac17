package cmd

import (
	"github.com/spf13/cobra"

	"github.com/klasslink/internal/formatter"
	"github.com/klasslink/internal/repository"
	"github.com/klasslink/pkg/model"
)

var (
	// History command flags
	historyClass  string
	historyLoader string
	historyLimit  int
)

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded redefinition attempts",
	Long: `List the redefinition attempts stored in the configured database, newest
first. Attempts are recorded when redefinition.persist_fingerprints is
enabled.`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	binName := BinName()
	historyCmd.Example = `  # Last 20 attempts
  ` + binName + ` history -c ./klasslink.yaml

  # Every attempt on one class, as JSON
  ` + binName + ` history -c ./klasslink.yaml --class com/example/Point --limit 0 --json`

	historyCmd.Flags().StringVar(&historyClass, "class", "", "Only attempts on this class")
	historyCmd.Flags().StringVar(&historyLoader, "loader", "", "Only attempts in this loader")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum number of attempts, 0 for all")
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	repos, err := repository.Open(&cfg.Database)
	if err != nil {
		return err
	}
	defer repos.Close()
	if err := repos.Migrate(ctx); err != nil {
		return err
	}

	events, err := repos.Events.ListRedefinitions(ctx, repository.EventQuery{
		Class:  internalName(historyClass),
		Loader: historyLoader,
		Limit:  historyLimit,
	})
	if err != nil {
		return err
	}
	logger.Debug("%d redefinition events", len(events))

	reports := make([]*model.RedefinitionReport, len(events))
	for i, e := range events {
		reports[i] = formatter.RedefinitionReport(e)
	}
	return emit(cmd, reports)
}
