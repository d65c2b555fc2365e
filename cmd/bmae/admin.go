package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var deleteIndexCmd = &cobra.Command{
	Use:   "delete-index",
	Short: "Delete the collection and the corpus cursor",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, err := open(cmd.Context())
		if err != nil {
			return err
		}
		defer s.close()

		if err := s.rt.DeleteIndex(cmd.Context()); err != nil {
			return err
		}
		cmd.Printf("Deleted collection %q\n", s.rt.Collection())
		return nil
	},
}

var infoJSON bool

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show chunk store files and vector store counts",
	Args:  cobra.NoArgs,
	RunE:  runInfo,
}

func init() {
	infoCmd.Flags().BoolVar(&infoJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(deleteIndexCmd, infoCmd)
}

func runInfo(cmd *cobra.Command, _ []string) error {
	s, err := open(cmd.Context())
	if err != nil {
		return err
	}
	defer s.close()

	info, err := s.rt.Info(cmd.Context())
	if err != nil {
		return err
	}
	if infoJSON {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal info: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	cmd.Printf("Collection %q: %d documents\n", info.Collection, info.Documents)
	for _, c := range info.Collections {
		cmd.Printf("  %s: %d entries, %d dimensions\n", c.Name, c.Count, c.Dimensions)
	}
	cmd.Printf("Chunk store: %d files\n", len(info.Sources))
	for _, src := range info.Sources {
		cmd.Printf("  %s: %d documents, %d bytes\n", src.File, src.Documents, src.Size)
	}
	for _, u := range info.Budget {
		cmd.Printf("Budget %s: %d used of %d\n", u.Period, u.Used, u.Limit)
	}
	if p := info.Progress; p != nil {
		cmd.Printf("RDF corpus: %d/%d files in batches of %d, done=%v\n",
			min(p.BatchesDone*p.BatchSize, p.Files), p.Files, p.BatchSize, p.Done)
	}
	return nil
}
