package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"kin-go/internal/app"
	"kin-go/internal/kin"
)

func printReport(report kin.SyncReport) error {
	if jsonOutput {
		if report.Errors == nil {
			report.Errors = []kin.ItemError{}
		}
		return printJSON(report)
	}
	fmt.Printf("created %d  updated %d  skipped %d  pending %d  orphaned %d\n",
		report.Created, report.Updated, report.Skipped, report.Pending, report.Orphaned)
	for _, e := range report.Errors {
		fmt.Printf("  error: %v\n", e)
	}
	return nil
}

// sync command
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Fetch observations from the configured adapters",
	RunE: func(cmd *cobra.Command, args []string) error {
		sources, _ := cmd.Flags().GetStringSlice("source")
		return withApp(cmd, "sync", func(ctx context.Context, a *app.App) error {
			report, err := a.Orchestrator().Sync(ctx, sources...)
			if err != nil {
				return err
			}
			return printReport(report)
		})
	},
}

var syncRelationshipsCmd = &cobra.Command{
	Use:   "relationships",
	Short: "Rebuild the relationship graph",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "sync-relationships", func(ctx context.Context, a *app.App) error {
			report, err := a.Orchestrator().DiscoverRelationships(ctx)
			if err != nil {
				return err
			}
			return printReport(report)
		})
	},
}

var syncStrengthsCmd = &cobra.Command{
	Use:   "strengths",
	Short: "Recompute relationship strengths",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "sync-strengths", func(ctx context.Context, a *app.App) error {
			report, err := a.Orchestrator().RefreshStrengths(ctx)
			if err != nil {
				return err
			}
			return printReport(report)
		})
	},
}

// ingest command
var ingestCmd = &cobra.Command{
	Use:   "ingest FILE",
	Short: "Ingest observations from a JSONL file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, _ := cmd.Flags().GetString("source-type")
		sourceType := kin.SourceType(st)
		if st != "" && !sourceType.IsKnown() {
			return &kin.InputError{Field: "source-type", Value: st, Reason: "unknown source type"}
		}
		return withApp(cmd, "ingest", func(ctx context.Context, a *app.App) error {
			report, err := a.IngestFile(ctx, args[0], sourceType)
			if err != nil {
				return err
			}
			return printReport(report)
		})
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View sync run history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return withApp(cmd, "history", func(ctx context.Context, a *app.App) error {
			runs, err := a.SyncHistory(ctx, limit)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(runs)
			}
			if len(runs) == 0 {
				fmt.Println("No sync runs recorded.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			for _, r := range runs {
				duration := ""
				if r.FinishedAt != nil {
					duration = r.FinishedAt.Sub(r.StartedAt).Truncate(time.Millisecond).String()
				}
				fmt.Fprintf(w, "#%d\t%s\t%s\t%s\t%s\t+%d ~%d ?%d !%d\t%s\n",
					r.ID,
					r.Operation,
					r.StartedAt.Format("2006-01-02 15:04:05"),
					r.Status,
					duration,
					r.Created, r.Updated, r.Pending, r.Errors,
					r.Parameters,
				)
			}
			return w.Flush()
		})
	},
}

func init() {
	syncCmd.Flags().StringSlice("source", nil, "Only run the named adapters")
	syncCmd.AddCommand(syncRelationshipsCmd)
	syncCmd.AddCommand(syncStrengthsCmd)

	ingestCmd.Flags().String("source-type", "", "Source type for records that do not name one")

	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of runs to show")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(historyCmd)
}
