package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"kin-go/internal/app"
	"kin-go/internal/kin"
)

func personLabel(p *kin.PersonEntity) string {
	if p == nil {
		return "-"
	}
	return p.DisplayName + " (" + p.ID + ")"
}

func printOutcome(out *kin.PendingOutcome) error {
	if jsonOutput {
		return printJSON(out)
	}
	fmt.Printf("%s  %s  -> %s\n", out.Link.ID, out.Link.Status, personLabel(out.Person))
	return nil
}

// pending command
var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Review uncertain links",
}

var pendingListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending links",
	RunE: func(cmd *cobra.Command, args []string) error {
		q := kin.PendingQuery{Status: kin.PendingOpen}
		status, _ := cmd.Flags().GetString("status")
		if status != "" {
			q.Status = kin.PendingStatus(status)
		}
		q.PersonID, _ = cmd.Flags().GetString("person")
		q.Limit, _ = cmd.Flags().GetInt("limit")
		return withApp(cmd, "pending-list", func(ctx context.Context, a *app.App) error {
			items, err := a.Service().ListPending(ctx, q)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(items)
			}
			if len(items) == 0 {
				fmt.Println("No pending links.")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			for _, d := range items {
				obs := string(d.SourceEntity.SourceType) + "/" + d.SourceEntity.SourceID
				fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%s\t%s\n",
					d.Link.ID, obs, d.Link.Reason, d.Link.Confidence, personLabel(d.Previous), personLabel(d.Proposed))
			}
			return w.Flush()
		})
	},
}

var pendingConfirmCmd = &cobra.Command{
	Use:   "confirm ID",
	Short: "Accept the proposed link",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		by, _ := cmd.Flags().GetString("by")
		return withApp(cmd, "pending-confirm", func(ctx context.Context, a *app.App) error {
			out, err := a.Orchestrator().Confirm(ctx, args[0], by)
			if err != nil {
				return err
			}
			return printOutcome(out)
		})
	},
}

var pendingRejectCmd = &cobra.Command{
	Use:   "reject ID",
	Short: "Reject the proposed link",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		by, _ := cmd.Flags().GetString("by")
		createNew, _ := cmd.Flags().GetBool("create-new")
		return withApp(cmd, "pending-reject", func(ctx context.Context, a *app.App) error {
			out, err := a.Orchestrator().Reject(ctx, args[0], createNew, by)
			if err != nil {
				return err
			}
			return printOutcome(out)
		})
	},
}

func init() {
	pendingListCmd.Flags().String("status", "", "pending, confirmed or rejected (default pending)")
	pendingListCmd.Flags().String("person", "", "Only links naming this person")
	pendingListCmd.Flags().IntP("limit", "n", 50, "Maximum number of links")

	for _, c := range []*cobra.Command{pendingConfirmCmd, pendingRejectCmd} {
		c.Flags().String("by", "cli", "Recorded as the resolver of the link")
	}
	pendingRejectCmd.Flags().Bool("create-new", false, "Split the observation into a new person")

	pendingCmd.AddCommand(pendingListCmd)
	pendingCmd.AddCommand(pendingConfirmCmd)
	pendingCmd.AddCommand(pendingRejectCmd)
	rootCmd.AddCommand(pendingCmd)
}
