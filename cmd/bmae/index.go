package main

import (
	"github.com/spf13/cobra"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Embed every chunk store Document into the collection",
	Long: `Embeds the whole chunk store in batches and appends it to the collection.
The collection is append-only: running index twice stores every Document twice.`,
	Args: cobra.NoArgs,
	RunE: runIndex,
}

var resetCursor bool

var indexRDFCmd = &cobra.Command{
	Use:   "index-rdf <dir>",
	Short: "Index an RDF/XML corpus in resumable batches",
	Long: `Normalizes and embeds every .rdf/.xml file under dir in fixed-size batches.
Progress is recorded after every committed batch; an interrupted run resumes
where it stopped unless --reset-cursor is given.`,
	Args: cobra.ExactArgs(1),
	RunE: runIndexRDF,
}

func init() {
	indexRDFCmd.Flags().BoolVar(&resetCursor, "reset-cursor", false, "start the corpus from the first batch")
	rootCmd.AddCommand(indexCmd, indexRDFCmd)
}

func runIndex(cmd *cobra.Command, _ []string) error {
	s, err := open(cmd.Context())
	if err != nil {
		return err
	}
	defer s.close()

	st, err := s.rt.IndexChunkStore(cmd.Context())
	cmd.Printf("Indexed %d documents in %d batches into %q\n", st.Documents, st.Batches, s.rt.Collection())
	return err
}

func runIndexRDF(cmd *cobra.Command, args []string) error {
	s, err := open(cmd.Context())
	if err != nil {
		return err
	}
	defer s.close()

	st, err := s.rt.IndexRDFDir(cmd.Context(), args[0], resetCursor)
	cmd.Printf("Indexed %d documents in %d batches (%d resumed, %d skipped, %d truncated)\n",
		st.Documents, st.Batches, st.Resumed, st.Skipped, st.Truncated)
	return err
}
