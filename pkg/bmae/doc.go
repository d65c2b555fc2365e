// Package bmae embeds the artwork retrieval assistant in a Go program.
//
// The client ingests JSON scrapes, PDFs and RDF/XML records into a chunk store,
// indexes them into a local vector store and answers questions with hybrid
// (BM25 + vector) retrieval.
//
//	client, _ := bmae.New(ctx,
//	    bmae.WithDirs("./chunks", "./vectordb"),
//	    bmae.WithOpenAI(os.Getenv("OPENAI_API_KEY"), ""),
//	)
//	defer client.Close()
//
//	_, _ = client.Ingest(ctx, "records.json", "catalogue.pdf")
//	_, _ = client.Index(ctx)
//
//	conv := client.NewConversation()
//	ans, _ := conv.Ask(ctx, "Who painted Leopold I?")
package bmae
