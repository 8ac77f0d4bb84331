// jatranslate is an incremental bilingual EPUB translator driven by an
// external AI translation agent.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/raawaa/ja-translate/internal/app"
	"github.com/raawaa/ja-translate/internal/config"
	"github.com/raawaa/ja-translate/internal/logging"
)

// Version information (set via -ldflags during build)
var version = "dev"

var (
	configPath string
	sourceDir  string
	outputDir  string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "jatranslate",
		Short: "Bilingual EPUB translator with resumable per-block progress",
		Long: `jatranslate translates the XHTML content, NCX table of contents and OPF
metadata of an unpacked EPUB tree block by block via an external translation
agent, merging each translation next to its original. Progress is persisted
per block, so an interrupted run resumes exactly where it stopped.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file")
	root.PersistentFlags().StringVar(&sourceDir, "source", "", "Source tree (overrides config)")
	root.PersistentFlags().StringVar(&outputDir, "output", "", "Output tree (overrides config)")

	root.AddCommand(
		newRunCmd(),
		newStatusCmd(),
		newVersionCmd(),
	)
	return root
}

func loadConfig() config.Config {
	cfg := config.Load(configPath)
	if sourceDir != "" {
		cfg.Paths.SourceDir = sourceDir
	}
	if outputDir != "" {
		cfg.Paths.OutputDir = outputDir
	}
	return cfg
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Translate the source tree, resuming persisted progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			logger := logging.New(cfg.Logging.Level)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := app.New(cfg, logger)
			if err != nil {
				return err
			}
			defer application.Close()

			err = application.Run(ctx)
			if errors.Is(err, context.Canceled) {
				logger.Info("interrupted, progress saved; rerun to resume")
				return nil
			}
			return err
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show per-document translation progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			logger := logging.New(cfg.Logging.Level)

			application, err := app.New(cfg, logger)
			if err != nil {
				return err
			}
			defer application.Close()

			return application.Status(cmd.Context())
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("jatranslate %s\n", version)
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
