package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"sqlchart/dbpool"
	"sqlchart/pipeline"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the introspected schema of the configured database",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := dbpool.ParseEngine(cfg.Engine)
		if err != nil {
			return err
		}
		manager := dbpool.New(eng, log.Func())
		db, err := manager.OpenReadOnly(cfg.DSN)
		if err != nil {
			return err
		}
		defer db.Close()

		introspector := pipeline.NewIntrospector(db, eng, cfg.SampleRows, log.Func())
		schema, err := introspector.Describe(context.Background())
		if err != nil {
			return err
		}
		fmt.Println(schema.FormatForPrompt())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(schemaCmd)
}
