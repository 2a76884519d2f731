package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MKTCOACH-eng/IASCHOOL-sub001/internal/domain"
	"github.com/MKTCOACH-eng/IASCHOOL-sub001/internal/registry"
)

var historyJSON bool

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Browse earlier conversations",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List earlier conversations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		client, err := newClient(cfg)
		if err != nil {
			return err
		}

		convs, err := client.ListConversations(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list conversations: %w", err)
		}
		summaries := make([]domain.ConversationSummary, 0, len(convs))
		for _, c := range convs {
			summaries = append(summaries, registry.Summarize(c))
		}

		if historyJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(summaries)
		}
		printSummaries(cmd.OutOrStdout(), summaries)
		return nil
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print one conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		client, err := newClient(cfg)
		if err != nil {
			return err
		}

		conv, err := client.GetConversation(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to fetch conversation %s: %w", args[0], err)
		}
		printTranscript(cmd.OutOrStdout(), conv.Messages)
		return nil
	},
}

func init() {
	historyListCmd.Flags().BoolVar(&historyJSON, "json", false, "print JSON instead of a table")
	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyShowCmd)
}

func printSummaries(out io.Writer, summaries []domain.ConversationSummary) {
	if len(summaries) == 0 {
		fmt.Fprintln(out, "No conversations yet.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATED\tMESSAGES\tRATING\tPREVIEW")
	for _, s := range summaries {
		rating := "-"
		if s.Rating > 0 {
			rating = fmt.Sprintf("%d/5", s.Rating)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			s.ID, s.CreatedAt.Local().Format("2006-01-02 15:04"), s.MessageCount, rating, s.FirstMessagePreview)
	}
	w.Flush()
}

func printTranscript(out io.Writer, msgs []domain.Message) {
	for _, m := range msgs {
		suffix := ""
		if m.Interrupted {
			suffix = " (interrupted)"
		}
		fmt.Fprintf(out, "[%s] %s%s\n", m.Role, m.Content, suffix)
	}
}
