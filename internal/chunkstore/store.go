// Package chunkstore persists normalized Documents on disk.
//
// Every ingested source becomes one file named "<seq>-<slug>.json" holding a JSON
// array of {"content", "metadata"} records. The sequence prefix keeps files in
// ingestion order. Existing files are never rewritten; the store only grows, or is
// deleted as a whole.
//
// Arrays dropped into the directory by other tools, such as scraper output, are
// read as opaque records: each element becomes a Document the way a JSON source
// would, with the compacted element as its content.
package chunkstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/kailas-cloud/bmae/internal/domain"
	"github.com/kailas-cloud/bmae/internal/normalizer/jsonrec"
)

const fileExt = ".json"

type record struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

// SourceInfo describes one stored file.
type SourceInfo struct {
	File      string    `json:"file"`
	Documents int       `json:"documents"`
	Size      int64     `json:"size"`
	ModTime   time.Time `json:"mod_time"`
}

// Store is a directory-backed Document collection.
type Store struct {
	dir string
	mu  sync.Mutex
}

// New creates a store rooted at dir. The directory is created on first write.
func New(dir string) *Store {
	return &Store{dir: filepath.Clean(dir)}
}

// Dir returns the root directory.
func (s *Store) Dir() string { return s.dir }

// Put writes docs as a new file for sourceName and returns the file name.
func (s *Store) Put(ctx context.Context, sourceName string, docs []domain.Document) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	recs := make([]record, len(docs))
	for i, d := range docs {
		recs[i] = record{Content: d.Content(), Metadata: d.Metadata()}
		if recs[i].Metadata == nil {
			recs[i].Metadata = map[string]any{}
		}
	}
	data, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal chunks: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return "", fmt.Errorf("create chunk dir: %w", err)
	}
	seq, err := s.nextSeq()
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("%06d-%s%s", seq, slug(sourceName), fileExt)
	path := filepath.Join(s.dir, name)

	tmp := filepath.Join(s.dir, "."+name+".tmp")
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return "", fmt.Errorf("write chunks: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("commit chunks: %w", err)
	}
	return name, nil
}

// Load returns every stored Document, files in name order and records in file order.
// A missing directory is an empty store.
func (s *Store) Load(ctx context.Context) ([]domain.Document, error) {
	files, err := s.files()
	if err != nil {
		return nil, err
	}
	var out []domain.Document
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		docs, err := readFile(filepath.Join(s.dir, f))
		if err != nil {
			return nil, err
		}
		out = append(out, docs...)
	}
	return out, nil
}

// Sources lists the stored files with their document counts.
func (s *Store) Sources(ctx context.Context) ([]SourceInfo, error) {
	files, err := s.files()
	if err != nil {
		return nil, err
	}
	out := make([]SourceInfo, 0, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := filepath.Join(s.dir, f)
		st, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", f, err)
		}
		docs, err := readFile(path)
		if err != nil {
			return nil, err
		}
		out = append(out, SourceInfo{File: f, Documents: len(docs), Size: st.Size(), ModTime: st.ModTime()})
	}
	return out, nil
}

// DeleteAll removes the whole store directory.
func (s *Store) DeleteAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("delete chunk store: %w", err)
	}
	return nil
}

func (s *Store) files() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list chunk dir: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !isChunkFile(e.Name()) {
			continue
		}
		out = append(out, e.Name())
	}
	return out, nil
}

func (s *Store) nextSeq() (int, error) {
	files, err := s.files()
	if err != nil {
		return 0, err
	}
	last := 0
	for _, f := range files {
		prefix, _, ok := strings.Cut(f, "-")
		if !ok {
			continue
		}
		if n, err := strconv.Atoi(prefix); err == nil && n > last {
			last = n
		}
	}
	return last + 1, nil
}

func isChunkFile(name string) bool {
	return !strings.HasPrefix(name, ".") && strings.HasSuffix(name, fileExt)
}

func readFile(path string) ([]domain.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	name := filepath.Base(path)
	docs := make([]domain.Document, 0, len(elems))
	for i, raw := range elems {
		if rec, ok := storedRecord(raw); ok {
			docs = append(docs, domain.NewDocument(rec.Content, domain.Metadata(rec.Metadata)))
			continue
		}
		doc, err := jsonrec.Record(name, i+1, raw)
		if err != nil {
			return nil, domain.NewNormalizationError(name, strconv.Itoa(i+1), err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// storedRecord decodes raw when it has the shape Put writes: an object with a
// string "content" and at most a "metadata" object besides.
func storedRecord(raw json.RawMessage) (record, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return record{}, false
	}
	if _, ok := fields["content"]; !ok {
		return record{}, false
	}
	for k := range fields {
		if k != "content" && k != "metadata" {
			return record{}, false
		}
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var rec record
	if err := dec.Decode(&rec); err != nil {
		return record{}, false
	}
	for k, v := range rec.Metadata {
		rec.Metadata[k] = domain.JSONValue(v)
	}
	return rec, true
}

func slug(name string) string {
	base := filepath.Base(name)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(base) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	out := strings.TrimSuffix(b.String(), "-")
	if out == "" {
		return "source"
	}
	return out
}
