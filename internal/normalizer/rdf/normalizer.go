// Package rdf normalizes Europeana/BALaT RDF/XML metadata records.
//
// Each source file holds one graph and yields at most one Document whose content
// is a flat JSON object describing the artwork.
package rdf

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/knakk/rdf"

	"github.com/kailas-cloud/bmae/internal/domain"
	"github.com/kailas-cloud/bmae/internal/normalizer"
)

var _ normalizer.Normalizer = (*Normalizer)(nil)

// DefaultThumbnailPrefix identifies BALaT thumbnail resources.
const DefaultThumbnailPrefix = "http://balat.kikirpa.be/image/thumbnail/"

const (
	dcNS      = "http://purl.org/dc/elements/1.1/"
	dctermsNS = "http://purl.org/dc/terms/"
	jpegMIME  = "image/jpeg"
)

var errNoTitle = errors.New("no subject carries dc:title")

// optional maps record keys to the predicates they are read from.
var optional = []struct {
	key  string
	pred string
}{
	{"creator", dcNS + "creator"},
	{"date", dcNS + "date"},
	{"format", dcNS + "format"},
	{"type", dcNS + "type"},
	{"medium", dctermsNS + "medium"},
	{"description", dcNS + "description"},
}

// Record is the normalized artwork description. Every field is always present.
type Record struct {
	URL         string `json:"url"`
	OGImage     string `json:"og:image"`
	Title       string `json:"title"`
	Creator     string `json:"creator"`
	Date        string `json:"date"`
	Format      string `json:"format"`
	Type        string `json:"type"`
	Medium      string `json:"medium"`
	Description string `json:"description"`
}

// Normalizer parses RDF/XML graphs.
type Normalizer struct {
	thumbnailPrefix string
}

// New creates an RDF normalizer. An empty prefix selects DefaultThumbnailPrefix.
func New(thumbnailPrefix string) *Normalizer {
	if thumbnailPrefix == "" {
		thumbnailPrefix = DefaultThumbnailPrefix
	}
	return &Normalizer{thumbnailPrefix: thumbnailPrefix}
}

// Kind returns domain.SourceRDF.
func (n *Normalizer) Kind() domain.SourceKind { return domain.SourceRDF }

// Normalize parses the graph of src. An unparseable graph or one without a title is
// reported in Result.Skipped rather than as an error.
func (n *Normalizer) Normalize(ctx context.Context, src domain.Source) (normalizer.Result, error) {
	if err := ctx.Err(); err != nil {
		return normalizer.Result{}, err
	}
	data, err := normalizer.Bytes(src)
	if err != nil {
		return normalizer.Result{}, err
	}
	name := normalizer.DisplayName(src)

	rec, err := n.Parse(data)
	if err != nil {
		return normalizer.Result{Skipped: []error{domain.NewNormalizationError(name, "graph", err)}}, nil
	}
	content, err := json.Marshal(rec)
	if err != nil {
		return normalizer.Result{}, fmt.Errorf("marshal record: %w", err)
	}
	doc := domain.NewDocument(string(content), domain.Metadata{
		"source":   name,
		"url":      rec.URL,
		"title":    rec.Title,
		"og:image": rec.OGImage,
	})
	return normalizer.Result{Documents: []domain.Document{doc}}, nil
}

// Parse decodes one RDF/XML graph into a Record.
func (n *Normalizer) Parse(data []byte) (Record, error) {
	triples, err := rdf.NewTripleDecoder(bytes.NewReader(data), rdf.RDFXML).DecodeAll()
	if err != nil {
		return Record{}, fmt.Errorf("decode rdf/xml: %w", err)
	}

	var rec Record
	for _, t := range triples {
		subj := t.Subj.String()
		if strings.HasPrefix(subj, n.thumbnailPrefix) && strings.Contains(t.Obj.String(), jpegMIME) {
			rec.OGImage = subj
			break
		}
	}

	subject := ""
	for _, t := range triples {
		if t.Pred.String() == dcNS+"title" {
			subject = t.Subj.String()
			rec.Title = t.Obj.String()
			break
		}
	}
	if subject == "" {
		return Record{}, errNoTitle
	}
	rec.URL = subject

	values := make(map[string]string, len(optional))
	for _, t := range triples {
		if t.Subj.String() != subject {
			continue
		}
		pred := t.Pred.String()
		if _, seen := values[pred]; !seen {
			values[pred] = t.Obj.String()
		}
	}
	fields := map[string]*string{
		"creator":     &rec.Creator,
		"date":        &rec.Date,
		"format":      &rec.Format,
		"type":        &rec.Type,
		"medium":      &rec.Medium,
		"description": &rec.Description,
	}
	for _, o := range optional {
		*fields[o.key] = values[o.pred]
	}
	return rec, nil
}
