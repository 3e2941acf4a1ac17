package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/klasslink/internal/formatter"
	"github.com/klasslink/internal/vm"
	"github.com/klasslink/pkg/config"
	"github.com/klasslink/pkg/model"
	"github.com/klasslink/pkg/telemetry"
	"github.com/klasslink/pkg/utils"
	"github.com/klasslink/pkg/writer"
)

var (
	// Global flags
	verbose    bool
	configPath string
	classPath  []string
	outputPath string
	jsonOutput bool
	timing     bool

	logger            utils.Logger
	cfg               *config.Config
	shutdownTelemetry telemetry.ShutdownFunc
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "klasslink",
	Short: "Inspect and hot-swap linked classes",
	Long: `klasslink loads class files into a linking core and reports what it built.

It resolves classes from a class path, lays out their fields, builds their
virtual and interface dispatch tables, and classifies the difference between
two versions of a class the way a hot-swap request would.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if len(classPath) > 0 {
			loaded.ClassPath.Entries = classPath
		}
		cfg = loaded

		level := utils.ParseLogLevel(cfg.Log.Level)
		if verbose {
			level = utils.LevelDebug
		}
		if cfg.Log.OutputPath != "" {
			l, err := utils.NewFileLogger(level, cfg.Log.OutputPath)
			if err != nil {
				return err
			}
			logger = l
		} else if jsonOutput {
			logger = utils.NewDefaultLogger(level, cmd.ErrOrStderr())
		} else {
			logger = utils.NewDefaultLogger(level, cmd.OutOrStdout())
		}
		utils.SetGlobalLogger(logger)

		shutdown, err := telemetry.Init(cmd.Context(), &cfg.Telemetry)
		if err != nil {
			logger.Warn("Failed to initialize telemetry: %v", err)
		}
		shutdownTelemetry = shutdown
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if shutdownTelemetry != nil {
			if err := shutdownTelemetry(context.Background()); err != nil {
				logger.Warn("Failed to flush traces: %v", err)
			}
		}
		return nil
	},
}

// Execute adds all child commands to the root command and runs it until it
// finishes or the process is interrupted.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringSliceVar(&classPath, "classpath", nil, "Class path entries, overriding the configuration")
	rootCmd.PersistentFlags().StringVarP(&outputPath, "output", "o", "", "Write the report as JSON to this file (.gz and .zst are compressed)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print the report as JSON instead of text")
	rootCmd.PersistentFlags().BoolVar(&timing, "timing", false, "Log how long each phase of the command took")

	binName := BinName()
	rootCmd.Example = `  # Show the field layout and dispatch tables of a class
  ` + binName + ` link --classpath ./classes com/example/Point

  # Classify the change between two versions of a class
  ` + binName + ` diff old/Point.class new/Point.class --capability add_method

  # Load every class on the class path
  ` + binName + ` preload --all -c ./klasslink.yaml

  # Redefine a class and list the recorded history
  ` + binName + ` redefine -c ./klasslink.yaml new/Point.class
  ` + binName + ` history -c ./klasslink.yaml --class com/example/Point`
}

// GetLogger returns the configured logger
func GetLogger() utils.Logger {
	return logger
}

// BinName returns the base name of the current executable
func BinName() string {
	return filepath.Base(os.Args[0])
}

// internalName accepts both dotted and slashed class names.
func internalName(name string) string {
	return strings.ReplaceAll(name, ".", "/")
}

// newTimer returns a phase timer that logs its summary when --timing is set.
func newTimer(name string) *utils.Timer {
	return utils.NewTimer(name, utils.WithLogger(logger), utils.WithEnabled(timing))
}

func newContext(cmd *cobra.Command, timer *utils.Timer) (*vm.Context, error) {
	c, err := vm.New(cmd.Context(), cfg, vm.Options{Logger: logger, Timer: timer})
	if err != nil {
		return nil, fmt.Errorf("failed to create VM context: %w", err)
	}
	return c, nil
}

// emit writes reports to --output, prints them as JSON with --json, or
// formats them to the logger.
func emit[T model.Report](cmd *cobra.Command, reports []T) error {
	if outputPath != "" {
		if err := writer.ForPath[[]T](outputPath, true).WriteToFile(reports, outputPath); err != nil {
			return err
		}
		logger.Info("Report written to %s", outputPath)
		return nil
	}
	if jsonOutput {
		return writer.NewPrettyJSONWriter[[]T]().Write(reports, cmd.OutOrStdout())
	}
	registry := formatter.NewRegistry()
	for _, r := range reports {
		registry.Format(r, logger)
	}
	return nil
}
