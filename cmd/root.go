// Package cmd implements the sqlchart command-line interface using the Cobra
// framework. The root command wires config loading and logging; subcommands
// run the question-to-chart pipeline or inspect the connected database.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"sqlchart/config"
	"sqlchart/logger"
)

var (
	cfgPath string
	engine  string
	dsn     string
	verbose bool

	cfg config.Config
	log *logger.Logger
)

var rootCmd = &cobra.Command{
	Use:           "sqlchart",
	Short:         "Ask a database questions in plain language and get charts back",
	Long: `sqlchart turns a natural-language question into a read-only SQL query,
runs it against your database and renders the answer as a chart. Failed
queries and broken plot code are repaired automatically within a bounded
number of attempts.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}
		if engine != "" {
			cfg.Engine = engine
		}
		if dsn != "" {
			cfg.DSN = dsn
		}

		log = logger.NewLogger(verbose)
		if cfg.LogDir != "" {
			if err := os.MkdirAll(cfg.LogDir, 0755); err == nil {
				if err := log.Init(cfg.LogDir); err != nil {
					fmt.Fprintf(os.Stderr, "warning: %v\n", err)
				}
			}
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		log.Close()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the CLI application.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "sqlchart.json", "Path to the JSON config file")
	rootCmd.PersistentFlags().StringVar(&engine, "engine", "", "Database engine: mysql, sqlite or snowflake (overrides config)")
	rootCmd.PersistentFlags().StringVar(&dsn, "dsn", "", "Database connection string (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Mirror the session log to stderr")
}
