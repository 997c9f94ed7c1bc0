package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"kin-go/internal/app"
	"kin-go/internal/kin"
)

func printPeople(people []*kin.PersonEntity) error {
	if jsonOutput {
		return printJSON(people)
	}
	if len(people) == 0 {
		fmt.Println("No people found.")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, p := range people {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.1f\n", p.ID, p.DisplayName, p.Category, strings.Join(p.Emails, ","), p.RelationshipStrength)
	}
	return w.Flush()
}

func parseDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, &kin.InputError{Field: "date", Value: raw, Reason: "want RFC3339 or YYYY-MM-DD"}
}

// resolve command
var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Show which person a set of identity signals resolves to",
	Long:  "Resolve runs the entity resolver without changing the registry.",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		email, _ := cmd.Flags().GetString("email")
		phone, _ := cmd.Flags().GetString("phone")
		contextPath, _ := cmd.Flags().GetString("context")
		return withApp(cmd, "resolve", func(ctx context.Context, a *app.App) error {
			res, err := a.Service().Resolve(ctx, kin.ResolveRequest{
				Name:        name,
				Email:       email,
				Phone:       phone,
				ContextPath: contextPath,
				ObservedAt:  time.Now().UTC(),
				DryRun:      true,
			})
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(res)
			}
			fmt.Printf("outcome %s  reason %s  confidence %.2f\n", res.Outcome, res.Reason, res.Confidence)
			if res.Person != nil {
				fmt.Printf("person  %s  %s\n", res.Person.ID, res.Person.DisplayName)
			}
			for _, c := range res.Candidates {
				fmt.Printf("  candidate %s  %s  %.2f\n", c.Person.ID, c.Person.DisplayName, c.Score)
			}
			return nil
		})
	},
}

// people command
var peopleCmd = &cobra.Command{
	Use:   "people",
	Short: "List or search people",
	RunE: func(cmd *cobra.Command, args []string) error {
		q := kin.PeopleQuery{}
		q.Name, _ = cmd.Flags().GetString("name")
		q.Email, _ = cmd.Flags().GetString("email")
		category, _ := cmd.Flags().GetString("category")
		if category != "" {
			q.Category = kin.ParseCategory(category)
		}
		st, _ := cmd.Flags().GetString("source-type")
		q.SourceType = kin.SourceType(st)
		q.PendingOnly, _ = cmd.Flags().GetBool("pending")
		q.Limit, _ = cmd.Flags().GetInt("limit")
		return withApp(cmd, "people", func(ctx context.Context, a *app.App) error {
			people, err := a.Service().FindPeople(ctx, q)
			if err != nil {
				return err
			}
			return printPeople(people)
		})
	},
}

var peopleRefreshCmd = &cobra.Command{
	Use:   "refresh ID",
	Short: "Re-fetch one person from every adapter that supports it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "refresh", func(ctx context.Context, a *app.App) error {
			res, err := a.Orchestrator().RefreshPerson(ctx, args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(res)
			}
			fmt.Printf("%s  strength %.1f  cached %v\n", res.Person.DisplayName, res.Person.RelationshipStrength, res.Cached)
			return printReport(res.Report)
		})
	},
}

// show command
var showCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show a person with recent interactions and relationships",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		recent, _ := cmd.Flags().GetInt("recent")
		return withApp(cmd, "show", func(ctx context.Context, a *app.App) error {
			d, err := a.Service().GetPersonDetail(ctx, args[0], recent)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(d)
			}
			p := d.Person
			fmt.Printf("%s (%s)\n", p.DisplayName, p.ID)
			fmt.Printf("  category   %s\n", p.Category)
			if p.Company != "" {
				fmt.Printf("  company    %s\n", p.Company)
			}
			fmt.Printf("  emails     %s\n", strings.Join(p.Emails, ", "))
			fmt.Printf("  phones     %s\n", strings.Join(p.PhoneNumbers, ", "))
			fmt.Printf("  strength   %.1f\n", p.RelationshipStrength)
			fmt.Printf("  sources    %d (confidence %.2f)\n", p.SourceCount, p.ConfidenceScore)
			fmt.Printf("  seen       %s .. %s\n", p.FirstSeen.Format(time.DateOnly), p.LastSeen.Format(time.DateOnly))
			for _, in := range d.RecentInteractions {
				fmt.Printf("  %s  %-14s %s\n", in.Timestamp.Format("2006-01-02 15:04"), in.SourceType, in.Title)
			}
			for _, r := range d.Relationships {
				fmt.Printf("  ~ %s  %s  %.2f\n", r.Person.DisplayName, r.Relationship.RelationshipType, r.Relationship.EdgeWeight)
			}
			if len(d.PendingLinks) > 0 {
				fmt.Printf("  %d pending link(s)\n", len(d.PendingLinks))
			}
			return nil
		})
	},
}

// timeline command
var timelineCmd = &cobra.Command{
	Use:   "timeline ID",
	Short: "List a person's interactions, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q := kin.InteractionQuery{PersonID: args[0]}
		st, _ := cmd.Flags().GetString("source-type")
		q.SourceType = kin.SourceType(st)
		q.Limit, _ = cmd.Flags().GetInt("limit")
		var err error
		since, _ := cmd.Flags().GetString("since")
		if q.Since, err = parseDate(since); err != nil {
			return err
		}
		until, _ := cmd.Flags().GetString("until")
		if q.Until, err = parseDate(until); err != nil {
			return err
		}
		return withApp(cmd, "timeline", func(ctx context.Context, a *app.App) error {
			items, err := a.Service().Timeline(ctx, q)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(items)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			for _, in := range items {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", in.Timestamp.Format("2006-01-02 15:04"), in.SourceType, in.Title, in.SourceLink)
			}
			return w.Flush()
		})
	},
}

// relationship command
var relationshipCmd = &cobra.Command{
	Use:   "relationship ID ID",
	Short: "Show the edge between two people",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "relationship", func(ctx context.Context, a *app.App) error {
			d, err := a.Service().GetRelationshipDetail(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(d)
			}
			fmt.Printf("%s <-> %s\n", d.PersonA.DisplayName, d.PersonB.DisplayName)
			r := d.Relationship
			if r == nil {
				fmt.Println("  never seen together")
				return nil
			}
			fmt.Printf("  type       %s\n", r.RelationshipType)
			fmt.Printf("  weight     %.2f\n", r.EdgeWeight)
			fmt.Printf("  events %d  threads %d  messages %d  group %d\n",
				r.SharedEventsCount, r.SharedThreadsCount, r.SharedMessagesCount, r.SharedGroupMessagesCount)
			if len(r.SharedContexts) > 0 {
				fmt.Printf("  contexts   %s\n", strings.Join(r.SharedContexts, ", "))
			}
			return nil
		})
	},
}

// stats command
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize the registry",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "stats", func(ctx context.Context, a *app.App) error {
			s, err := a.Service().Stats(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(s)
			}
			fmt.Printf("people          %d\n", s.People)
			for c, n := range s.ByCategory {
				fmt.Printf("  %-13s %d\n", c, n)
			}
			fmt.Printf("observations    %d (%d unlinked)\n", s.SourceEntities, s.UnlinkedSources)
			fmt.Printf("interactions    %d\n", s.Interactions)
			fmt.Printf("relationships   %d\n", s.Relationships)
			fmt.Printf("pending links   %d\n", s.PendingLinks)
			return nil
		})
	},
}

func init() {
	resolveCmd.Flags().String("name", "", "Display name")
	resolveCmd.Flags().String("email", "", "Email address")
	resolveCmd.Flags().String("phone", "", "Phone number")
	resolveCmd.Flags().String("context", "", "Context path, e.g. work/acme")

	peopleCmd.Flags().String("name", "", "Name prefix")
	peopleCmd.Flags().String("email", "", "Exact email")
	peopleCmd.Flags().String("category", "", "work, personal, family or unknown")
	peopleCmd.Flags().String("source-type", "", "Only people seen on this source type")
	peopleCmd.Flags().Bool("pending", false, "Only people named by an open pending link")
	peopleCmd.Flags().IntP("limit", "n", 50, "Maximum number of people")
	peopleCmd.AddCommand(peopleRefreshCmd)

	showCmd.Flags().Int("recent", 10, "Number of recent interactions")

	timelineCmd.Flags().String("source-type", "", "Only this source type")
	timelineCmd.Flags().String("since", "", "Inclusive lower bound (RFC3339 or YYYY-MM-DD)")
	timelineCmd.Flags().String("until", "", "Exclusive upper bound (RFC3339 or YYYY-MM-DD)")
	timelineCmd.Flags().IntP("limit", "n", 50, "Maximum number of interactions")

	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(peopleCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(timelineCmd)
	rootCmd.AddCommand(relationshipCmd)
	rootCmd.AddCommand(statsCmd)
}
