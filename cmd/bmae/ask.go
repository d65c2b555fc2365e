package main

import (
	"strings"

	"github.com/spf13/cobra"
)

var showSources bool

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask one question against the indexed collection",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().BoolVar(&showSources, "sources", false, "print the retrieved Documents")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	s, err := open(cmd.Context())
	if err != nil {
		return err
	}
	defer s.close()

	sess := s.rt.Sessions.Create()
	ans, err := s.rt.Assistant.Ask(cmd.Context(), sess.ID(), strings.Join(args, " "))
	if err != nil {
		return err
	}
	cmd.Println(ans.Text)

	if showSources {
		cmd.Println()
		for i, d := range ans.Sources {
			cmd.Printf("  [%d] %.3f %s\n", i+1, d.Score, d.Document.Content())
		}
	}
	return nil
}
