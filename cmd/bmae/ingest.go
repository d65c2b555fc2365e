package main

import (
	"github.com/spf13/cobra"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>...",
	Short: "Normalize JSON, PDF and RDF/XML sources into the chunk store",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	s, err := open(cmd.Context())
	if err != nil {
		return err
	}
	defer s.close()

	reports, err := s.rt.IngestFiles(cmd.Context(), args)
	for _, r := range reports {
		cmd.Printf("%s (%s): %d documents, %d skipped -> %s\n", r.Source, r.Kind, r.Documents, r.Skipped, r.File)
	}
	return err
}
