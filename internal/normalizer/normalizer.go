// Package normalizer turns raw sources into Documents.
//
// Each source kind has its own Normalizer. Per-record failures are collected in
// Result.Skipped and never abort the rest of the source.
package normalizer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kailas-cloud/bmae/internal/domain"
)

// Normalizer converts one source into zero or more Documents.
type Normalizer interface {
	Kind() domain.SourceKind
	Normalize(ctx context.Context, src domain.Source) (Result, error)
}

// Result is the outcome of normalizing one source.
type Result struct {
	Documents []domain.Document
	// Skipped holds one ErrNormalization-wrapped error per dropped record.
	Skipped []error
}

var extKinds = map[string]domain.SourceKind{
	".json": domain.SourceJSON,
	".pdf":  domain.SourcePDF,
	".xml":  domain.SourceRDF,
	".rdf":  domain.SourceRDF,
}

// KindOf infers the source kind from a file name extension.
func KindOf(name string) (domain.SourceKind, error) {
	kind, ok := extKinds[strings.ToLower(filepath.Ext(name))]
	if !ok {
		return "", fmt.Errorf("%w: %q", domain.ErrUnsupportedSource, name)
	}
	return kind, nil
}

// Registry dispatches sources to the normalizer of their kind.
type Registry struct {
	byKind map[domain.SourceKind]Normalizer
}

// NewRegistry creates a registry. A later normalizer replaces an earlier one of the same kind.
func NewRegistry(normalizers ...Normalizer) *Registry {
	r := &Registry{byKind: make(map[domain.SourceKind]Normalizer, len(normalizers))}
	for _, n := range normalizers {
		r.byKind[n.Kind()] = n
	}
	return r
}

// Lookup returns the normalizer for the source named name.
func (r *Registry) Lookup(name string) (Normalizer, error) {
	kind, err := KindOf(name)
	if err != nil {
		return nil, err
	}
	n, ok := r.byKind[kind]
	if !ok {
		return nil, fmt.Errorf("%w: no normalizer for %s", domain.ErrUnsupportedSource, kind)
	}
	return n, nil
}

// Normalize dispatches src by the extension of its name (or path).
func (r *Registry) Normalize(ctx context.Context, src domain.Source) (Result, error) {
	name := src.Name
	if name == "" {
		name = src.Path
	}
	n, err := r.Lookup(name)
	if err != nil {
		return Result{}, err
	}
	return n.Normalize(ctx, src)
}

// Bytes returns the raw content of src, reading Path when Data is empty.
func Bytes(src domain.Source) ([]byte, error) {
	if len(src.Data) > 0 {
		return src.Data, nil
	}
	if src.Path == "" {
		return nil, fmt.Errorf("%w: source %q has neither data nor path", domain.ErrInvalidInput, src.Name)
	}
	data, err := os.ReadFile(src.Path)
	if err != nil {
		return nil, fmt.Errorf("read source %s: %w", src.Path, err)
	}
	return data, nil
}

// DisplayName returns the name stored in document metadata for src.
func DisplayName(src domain.Source) string {
	if src.Path != "" {
		return src.Path
	}
	return src.Name
}
