package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"maps"
)

// Metadata is an open, source-dependent mapping of string keys to string or numeric values.
// Absent keys mean "unknown" and are never an error.
type Metadata map[string]any

// String returns the value for key rendered as a string, or "" when absent.
func (m Metadata) String(key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return formatScalar(v)
}

// Int returns the integer value for key and whether it was present and numeric.
func (m Metadata) Int(key string) (int64, bool) {
	switch v := m[key].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), v == float64(int64(v))
	default:
		return 0, false
	}
}

// Document is the uniform text+metadata unit produced by normalization.
// Documents are values: constructors copy metadata, and nothing mutates them afterwards.
type Document struct {
	content  string
	metadata Metadata
}

// NewDocument creates a Document with a private copy of the metadata.
func NewDocument(content string, metadata Metadata) Document {
	return Document{content: content, metadata: cloneMetadata(metadata)}
}

// Content returns the opaque text blob.
func (d Document) Content() string { return d.content }

// Metadata returns a copy of the document metadata.
func (d Document) Metadata() Metadata { return cloneMetadata(d.metadata) }

// Meta returns a single metadata value rendered as a string ("" if absent).
func (d Document) Meta(key string) string { return d.metadata.String(key) }

// Key identifies a Document by content. Two Documents with identical content are the same
// Document for fusion purposes.
func (d Document) Key() string {
	h := sha256.Sum256([]byte(d.content))
	return hex.EncodeToString(h[:])
}

// ScoredDocument is a Document with a relevance score (higher is better).
type ScoredDocument struct {
	Document Document
	Score    float64
}

func cloneMetadata(m Metadata) Metadata {
	if m == nil {
		return Metadata{}
	}
	return maps.Clone(m)
}
