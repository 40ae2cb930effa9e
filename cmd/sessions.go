package cmd

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/joescharf/cqi/internal/output"
)

var sessionsLimit int

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Aliases: []string{"session"},
	Short:   "Manage chat sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionsListRun(cmd)
	},
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List chat sessions, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionsListRun(cmd)
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show the messages of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionsShowRun(cmd, args[0])
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a session and its messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionsDeleteRun(cmd, args[0])
	},
}

func init() {
	sessionsListCmd.Flags().IntVar(&sessionsLimit, "limit", 20, "Maximum sessions to list (0 for all)")
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func sessionsListRun(cmd *cobra.Command) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	sessions, err := s.ListSessions(cmd.Context(), sessionsLimit)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		ui.Info("No sessions yet. Start one with 'cqi chat'.")
		return nil
	}

	table := ui.Table([]string{"ID", "OWNER", "MESSAGES", "UPDATED"})
	for _, sess := range sessions {
		table.Append([]string{
			sess.ID,
			sess.Owner,
			strconv.Itoa(sess.MessageCount),
			humanize.Time(sess.UpdatedAt),
		})
	}
	return table.Render()
}

func sessionsShowRun(cmd *cobra.Command, id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	sess, err := s.GetSession(cmd.Context(), id)
	if err != nil {
		return err
	}
	msgs, err := s.ListMessages(cmd.Context(), id)
	if err != nil {
		return err
	}

	ui.Info("Session %s (%s, started %s)", output.Highlight(sess.ID), sess.Owner, humanize.Time(sess.CreatedAt))
	for _, m := range msgs {
		fmt.Fprintf(ui.Out, "\n[%s] %s\n%s\n", m.Role, m.CreatedAt.Local().Format("2006-01-02 15:04"), m.Content)
	}
	return nil
}

func sessionsDeleteRun(cmd *cobra.Command, id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	if dryRun {
		if _, err := s.GetSession(cmd.Context(), id); err != nil {
			return err
		}
		ui.DryRunMsg("Would delete session %s", id)
		return nil
	}
	if err := s.DeleteSession(cmd.Context(), id); err != nil {
		return err
	}
	ui.Success("Deleted session %s", id)
	return nil
}
