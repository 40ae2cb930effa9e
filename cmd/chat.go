package cmd

import (
	"fmt"
	"os/user"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joescharf/cqi/internal/engine"
	"github.com/joescharf/cqi/internal/output"
)

var (
	chatPath    string
	chatSession string
)

var chatCmd = &cobra.Command{
	Use:   "chat <question>",
	Short: "Ask a question about a repository",
	Long: `Ask one question about a repository. The assistant reads the files it
needs and answers. Each call prints the session id; pass it back with
--session to continue the conversation.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return chatRun(cmd, strings.Join(args, " "))
	},
}

func init() {
	chatCmd.Flags().StringVarP(&chatPath, "path", "p", ".", "Repository path")
	chatCmd.Flags().StringVarP(&chatSession, "session", "s", "", "Session id to continue")
	rootCmd.AddCommand(chatCmd)
}

func chatRun(cmd *cobra.Command, question string) error {
	svc, s, err := newService(true)
	if err != nil {
		return err
	}
	if chatSession != "" {
		if _, err := s.GetSession(cmd.Context(), chatSession); err != nil {
			return err
		}
	}

	res, err := svc.Ask(cmd.Context(), engine.AskRequest{
		Path:      chatPath,
		Question:  question,
		SessionID: chatSession,
		Owner:     currentUser(),
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(ui.Out, res.Answer)
	fmt.Fprintln(ui.Out)
	if !res.Complete {
		ui.Warning("Answer may be incomplete (%d iterations)", res.Iterations)
		if len(res.FileHints) > 0 {
			ui.Info("Files still worth a look: %s", strings.Join(res.FileHints, ", "))
		}
	}
	ui.VerboseLog("Analyzed %d files", len(res.Analyzed))
	if res.SessionID != "" {
		ui.Info("Session: %s (continue with --session %s)", output.Highlight(res.SessionID), res.SessionID)
	}
	return nil
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "cli"
}
