package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dukerupert/invoicer/internal/domain"
)

func issuesCmd(log *zerolog.Logger, opts *appOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "issues",
		Short: "Work the reconciliation review queue",
	}
	cmd.AddCommand(issuesListCmd(opts))
	cmd.AddCommand(issuesResolveCmd(log, opts))
	cmd.AddCommand(issuesReplayCmd(log, opts))
	return cmd
}

func issuesListCmd(opts *appOptions) *cobra.Command {
	var (
		all    bool
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List payment events that need review",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			issues, err := a.services.Reconciler.ListIssues(cmd.Context(), domain.IssueFilter{
				IncludeResolved: all,
				Limit:           limit,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				if issues == nil {
					issues = []domain.ReconciliationIssue{}
				}
				return printJSON(out, issues)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tEVENT\tINVOICE\tREASON\tRESOLVED\tCREATED")
			for _, issue := range issues {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%s\n",
					issue.ID, issue.EventID, issue.InvoiceNumber, issue.Reason,
					issue.Resolved, issue.CreatedAt.Format("2006-01-02 15:04"))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Include resolved issues")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum number of issues")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func issuesResolveCmd(log *zerolog.Logger, opts *appOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <issue-id>",
		Short: "Mark an issue as handled without replaying it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.services.Reconciler.ResolveIssue(cmd.Context(), args[0]); err != nil {
				return err
			}
			log.Info().Str("issue_id", args[0]).Msg("Issue resolved")
			return nil
		},
	}
}

func issuesReplayCmd(log *zerolog.Logger, opts *appOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "replay <issue-id>",
		Short: "Apply the stored payment event of an issue again",
		Long: `Replays the payment event captured with an issue. The issue is resolved
when the event now applies cleanly; otherwise a new issue records why it still
needs review.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.services.Reconciler.Replay(cmd.Context(), args[0])
			if errors.Is(err, domain.ErrReconciliation) {
				log.Warn().Str("issue_id", args[0]).Err(err).Msg("Event still needs review")
				return nil
			}
			if err != nil {
				return err
			}

			log.Info().
				Str("issue_id", args[0]).
				Str("event_id", result.EventID).
				Str("invoice", result.InvoiceNumber).
				Str("outcome", string(result.Outcome)).
				Bool("ignored", result.Ignored).
				Msg("Event replayed")
			return nil
		},
	}
}
