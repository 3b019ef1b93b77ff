package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/remixsync/internal/state"
	"github.com/user/remixsync/internal/types"
)

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionListCmd, sessionEventsCmd, sessionResultsCmd)
	sessionEventsCmd.Flags().Int("limit", 50, "number of journal entries to show (0 for all)")
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect recorded sessions",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		sessions := state.NewSessionStore(cfg.DataDir)
		journal := state.NewJournalStore(cfg.DataDir)

		ctx := context.Background()
		list, err := sessions.List(ctx)
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}

		if len(list) == 0 {
			fmt.Println("No sessions found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tOWNER\tSTATUS\tVERSION\tOFFLINE\tEVENTS\tCREATED")
		for _, s := range list {
			count, err := journal.Count(ctx, s.SessionID)
			if err != nil {
				count = 0
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%t\t%d\t%s\n",
				s.SessionID,
				s.Owner,
				s.Status,
				s.Version,
				s.Offline,
				count,
				s.CreatedAt.Format("2006-01-02 15:04:05"),
			)
		}
		return w.Flush()
	},
}

var sessionEventsCmd = &cobra.Command{
	Use:   "events <id>",
	Short: "Show the journal of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		limit, _ := cmd.Flags().GetInt("limit")
		journal := state.NewJournalStore(cfg.DataDir)

		entries, err := journal.Tail(context.Background(), types.SessionID(args[0]), limit)
		if err != nil {
			return fmt.Errorf("read journal: %w", err)
		}
		if len(entries) == 0 {
			fmt.Println("No journal entries found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SEQ\tAT\tDIR\tKIND\tORIGIN\tVERSION\tOUTCOME")
		for _, e := range entries {
			version := "-"
			if e.Kind.Versioned() {
				version = strconv.FormatInt(e.Version, 10)
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
				e.Seq,
				e.At.Format("15:04:05.000"),
				e.Direction,
				e.Kind,
				e.Origin,
				version,
				e.Outcome,
			)
		}
		return w.Flush()
	},
}

var sessionResultsCmd = &cobra.Command{
	Use:   "results <id>",
	Short: "List the saved remixes of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		results := state.NewResultStore(cfg.DataDir)

		metas, err := results.List(context.Background(), types.SessionID(args[0]))
		if err != nil {
			return fmt.Errorf("list results: %w", err)
		}
		if len(metas) == 0 {
			fmt.Println("No saved results.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tVERSION\tCLIPS\tFILTERS\tCREATED")
		for _, m := range metas {
			fmt.Fprintf(w, "%s\t%d\t%d\t%v\t%s\n",
				m.ID,
				m.Version,
				m.Clips,
				m.Filters,
				m.CreatedAt.Format("2006-01-02 15:04:05"),
			)
		}
		return w.Flush()
	},
}
