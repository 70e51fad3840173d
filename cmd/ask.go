package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"sqlchart/dbpool"
	"sqlchart/llm"
	"sqlchart/pipeline"
	"sqlchart/render"
)

var (
	outPath string
	maxRows int
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a question with a SQL query and a chart",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := args[0]

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

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

		chatModel, err := llm.NewChatModel(ctx, cfg)
		if err != nil {
			return err
		}

		session := pipeline.NewSession(db, eng, chatModel, render.NewEchartsRenderer(), pipeline.Options{
			MaxAttempts:      cfg.MaxAttempts,
			SampleRows:       cfg.SampleRows,
			RowLimit:         cfg.RowLimit,
			StatementTimeout: time.Duration(cfg.StatementTimeout) * time.Second,
			RenderTimeout:    time.Duration(cfg.RenderTimeout) * time.Second,
		}, log.Func())

		run := session.Run(ctx, question)
		return reportRun(run)
	},
}

func reportRun(run *pipeline.Run) error {
	fmt.Println(run.Narrative)

	if run.SQL != "" {
		fmt.Printf("\nSQL:\n%s\n", run.SQL)
	}
	if run.Result != nil && !run.Result.Empty() {
		printResult(run.Result, maxRows)
	}

	switch run.Outcome.Kind {
	case pipeline.OutcomeSuccess:
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("failed to create chart file: %w", err)
		}
		defer f.Close()
		if err := run.Outcome.Chart.Render(f); err != nil {
			return fmt.Errorf("failed to write chart: %w", err)
		}
		fmt.Printf("\nChart written to %s\n", outPath)
		return nil
	case pipeline.OutcomeNoData:
		return nil
	default:
		return fmt.Errorf("%s stage failed: %w", run.Outcome.Stage, run.Outcome.Err)
	}
}

// printResult renders the result as a fixed-width text table, truncated to
// limit rows.
func printResult(res *pipeline.TabularResult, limit int) {
	widths := make([]int, len(res.Columns))
	for i, c := range res.Columns {
		widths[i] = len(c)
	}
	rows := res.Rows(limit)
	cells := make([][]string, len(rows))
	for ri, row := range rows {
		cells[ri] = make([]string, len(res.Columns))
		for ci, c := range res.Columns {
			s := fmt.Sprintf("%v", row[c])
			if row[c] == nil {
				s = "NULL"
			}
			cells[ri][ci] = s
			if len(s) > widths[ci] {
				widths[ci] = len(s)
			}
		}
	}

	fmt.Println()
	for i, c := range res.Columns {
		fmt.Printf("%-*s  ", widths[i], c)
	}
	fmt.Println()
	for ri := range cells {
		for ci := range res.Columns {
			fmt.Printf("%-*s  ", widths[ci], cells[ri][ci])
		}
		fmt.Println()
	}
	if res.RowCount() > limit {
		fmt.Printf("... %d more rows\n", res.RowCount()-limit)
	}
}

func init() {
	askCmd.Flags().StringVarP(&outPath, "out", "o", "chart.html", "Path for the rendered chart HTML")
	askCmd.Flags().IntVar(&maxRows, "max-rows", 20, "Maximum result rows to print")
	rootCmd.AddCommand(askCmd)
}
