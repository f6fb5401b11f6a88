// Command docforge renders, lints and publishes legal template catalogs from
// the command line.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/liamcoop/docforge/internal/logger"
)

func newRootCmd() *cobra.Command {
	var logLevel string
	root := &cobra.Command{
		Use:          "docforge",
		Short:        "Render and manage legal document templates",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := logger.ParseLevel(logLevel)
			if err != nil {
				return err
			}
			logger.SetLevel(level)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "WARN", "Log level: TRACE, DEBUG, INFO, WARN, ERROR")

	root.AddCommand(
		newRenderCmd(),
		newLintCmd(),
		newQuestionsCmd(),
		newImportCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
