package domain

// SourceKind identifies the format of an ingested source.
type SourceKind string

const (
	// SourceJSON is a JSON array of scraped web-page records.
	SourceJSON SourceKind = "json"
	// SourcePDF is a PDF file, normalized page by page.
	SourcePDF SourceKind = "pdf"
	// SourceRDF is an RDF/XML metadata record (one graph per file).
	SourceRDF SourceKind = "rdf"
)

// Source is a raw input handed to a normalizer.
type Source struct {
	// Name is the logical name of the source (usually the file base name).
	Name string
	// Path is the on-disk location, when the source lives on disk.
	Path string
	// Data holds the raw bytes. Normalizers that need a file (PDF) fall back to Path.
	Data []byte
}
