// Package jsonrec normalizes JSON arrays of scraped web-page records.
package jsonrec

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/kailas-cloud/bmae/internal/domain"
	"github.com/kailas-cloud/bmae/internal/normalizer"
)

var _ normalizer.Normalizer = (*Normalizer)(nil)

var (
	errNotArray   = errors.New("top-level value is not an array")
	errNotARecord = errors.New("element is null or a scalar")
)

// promoted are record fields copied into metadata when they hold strings.
var promoted = []string{"url", "title", "og:title", "og:image"}

// Normalizer emits one Document per array element. The element is kept
// verbatim (compacted) as the Document content.
type Normalizer struct{}

// New creates a JSON record normalizer.
func New() *Normalizer { return &Normalizer{} }

// Kind returns domain.SourceJSON.
func (n *Normalizer) Kind() domain.SourceKind { return domain.SourceJSON }

// Normalize splits the top-level array of src into Documents.
func (n *Normalizer) Normalize(ctx context.Context, src domain.Source) (normalizer.Result, error) {
	data, err := normalizer.Bytes(src)
	if err != nil {
		return normalizer.Result{}, err
	}
	name := normalizer.DisplayName(src)

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return normalizer.Result{}, domain.NewNormalizationError(name, "", errNotArray)
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(trimmed, &elems); err != nil {
		return normalizer.Result{}, domain.NewNormalizationError(name, "", err)
	}

	var res normalizer.Result
	for i, raw := range elems {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		seq := i + 1
		doc, err := Record(name, seq, raw)
		if err != nil {
			res.Skipped = append(res.Skipped, domain.NewNormalizationError(name, strconv.Itoa(seq), err))
			continue
		}
		res.Documents = append(res.Documents, doc)
	}
	return res, nil
}

// Record turns one array element into a Document: the compacted element is the
// content, and source, seq and the promoted string fields are the metadata.
// Null and scalar elements are rejected.
func Record(source string, seq int, raw json.RawMessage) (domain.Document, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || (raw[0] != '{' && raw[0] != '[') {
		return domain.Document{}, errNotARecord
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return domain.Document{}, fmt.Errorf("compact: %w", err)
	}

	meta := domain.Metadata{
		"source": source,
		"seq":    int64(seq),
	}
	if raw[0] == '{' {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			return domain.Document{}, err
		}
		for _, key := range promoted {
			var s string
			if v, ok := fields[key]; ok && json.Unmarshal(v, &s) == nil && s != "" {
				meta[key] = s
			}
		}
	}
	return domain.NewDocument(buf.String(), meta), nil
}
