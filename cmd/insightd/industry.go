package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/flemzord/insightd/internal/cron"
	"github.com/flemzord/insightd/internal/insight"
	"github.com/spf13/cobra"
)

func industryCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "industry",
		Short: "Manage tracked industries",
	}
	cmd.AddCommand(industryAddCmd(flags), industryListCmd(flags), industryShowCmd(flags))
	return cmd
}

// withInsights runs fn against the configured insight repository.
func withInsights(cmd *cobra.Command, flags *globalFlags, fn func(context.Context, insight.Repository) error) error {
	rt, err := loadRuntime(cmd, flags, cron.ModuleID)
	if err != nil {
		return err
	}
	defer rt.Close(context.WithoutCancel(cmd.Context()))

	repo, err := rt.Insights()
	if err != nil {
		return err
	}
	return fn(cmd.Context(), repo)
}

func industryAddCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "add <industry>...",
		Short: "Track new industries; insights are filled by the next refresh",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withInsights(cmd, flags, func(ctx context.Context, repo insight.Repository) error {
				out := cmd.OutOrStdout()
				for _, name := range args {
					err := repo.Create(ctx, name)
					switch {
					case errors.Is(err, insight.ErrIndustryExists):
						fmt.Fprintf(out, "%s already tracked\n", name)
					case err != nil:
						return err
					default:
						fmt.Fprintf(out, "added %s\n", name)
					}
				}
				return nil
			})
		},
	}
}

func industryListCmd(flags *globalFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tracked industries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withInsights(cmd, flags, func(ctx context.Context, repo insight.Repository) error {
				records, err := repo.List(ctx)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), records)
				}
				return writeTable(cmd.OutOrStdout(), records)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print records as JSON")
	return cmd
}

func industryShowCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show <industry>",
		Short: "Print the stored insights of one industry as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withInsights(cmd, flags, func(ctx context.Context, repo insight.Repository) error {
				rec, err := repo.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), rec)
			})
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeTable(w io.Writer, records []insight.Record) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "INDUSTRY\tOUTLOOK\tDEMAND\tLAST UPDATED\tNEXT UPDATE")
	for _, rec := range records {
		outlook, demand := string(rec.MarketOutlook), string(rec.DemandLevel)
		if !rec.Refreshed() {
			outlook, demand = "-", "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			rec.Industry, outlook, demand, formatTime(rec.LastUpdated), formatTime(rec.NextUpdate))
	}
	return tw.Flush()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format(time.DateTime)
}
