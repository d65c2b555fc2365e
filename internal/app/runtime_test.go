package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kailas-cloud/bmae/internal/config"
	"github.com/kailas-cloud/bmae/internal/db"
	"github.com/kailas-cloud/bmae/internal/domain"
)

// vocabEmbedder embeds text as term counts over a fixed vocabulary.
type vocabEmbedder struct {
	vocab []string
	mu    sync.Mutex
	calls int
}

func (v *vocabEmbedder) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	v.mu.Lock()
	v.calls++
	v.mu.Unlock()
	lower := strings.ToLower(text)
	vec := make([]float32, len(v.vocab)+1)
	vec[len(v.vocab)] = 0.01
	for i, w := range v.vocab {
		vec[i] = float32(strings.Count(lower, w))
	}
	return domain.EmbeddingResult{Embedding: vec, TotalTokens: len(strings.Fields(text))}, nil
}

type generatorFunc func(ctx context.Context, system string, msgs []domain.ChatMessage) (string, error)

func (f generatorFunc) Generate(ctx context.Context, system string, msgs []domain.ChatMessage) (string, error) {
	return f(ctx, system, msgs)
}

// memKV is an in-memory db.Store.
type memKV struct {
	mu   sync.Mutex
	data map[string][]byte
	ints map[string]int64
}

var _ db.Store = (*memKV)(nil)

func newMemKV() *memKV {
	return &memKV{data: map[string][]byte{}, ints: map[string]int64{}}
}

func (m *memKV) Ping(context.Context) error { return nil }

func (m *memKV) Close() {}

func (m *memKV) WaitForReady(context.Context, time.Duration) error { return nil }

func (m *memKV) Expire(context.Context, string, time.Duration, bool) error { return nil }

func (m *memKV) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	return v, nil
}

func (m *memKV) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memKV) SetWithTTL(ctx context.Context, key string, value []byte, _ time.Duration) error {
	return m.Set(ctx, key, value)
}

func (m *memKV) IncrBy(_ context.Context, key string, val int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ints[key] += val
	return nil
}

func (m *memKV) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *memKV) Scan(_ context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	var out []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out, nil
}

const records = `[
 {"url": "https://example.org/1", "title": "Portrait of Leopold I", "text": "Leopold I painted by Nicaise de Keyser"},
 {"url": "https://example.org/2", "title": "Queen Astrid", "text": "Photograph of Queen Astrid in Brussels"},
 {"url": "https://example.org/3", "title": "Royal Palace", "text": "Tapestry from the Royal Palace of Laeken"}
]`

type fixture struct {
	rt      *Runtime
	kv      *memKV
	emb     *vocabEmbedder
	systems []string
	dir     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Config{
		ChunkStore:  config.ChunkStoreConfig{Dir: filepath.Join(dir, "chunks")},
		VectorStore: config.VectorStoreConfig{Dir: filepath.Join(dir, "vectordb")},
		Embedding: config.EmbeddingConfig{Budget: config.BudgetConfig{
			DailyTokenLimit: 1_000_000,
			Action:          "reject",
		}},
	}
	cfg.ApplyDefaults()

	f := &fixture{
		kv:  newMemKV(),
		emb: &vocabEmbedder{vocab: []string{"leopold", "astrid", "palace", "keyser", "painted"}},
		dir: dir,
	}
	gen := generatorFunc(func(_ context.Context, system string, msgs []domain.ChatMessage) (string, error) {
		f.systems = append(f.systems, system)
		return "answer to: " + msgs[len(msgs)-1].Content, nil
	})

	rt, err := New(context.Background(), cfg, nil, Overrides{Embedder: f.emb, Generator: gen, KV: f.kv})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	f.rt = rt
	return f
}

func (f *fixture) ingest(t *testing.T) {
	t.Helper()
	path := filepath.Join(f.dir, "records.json")
	if err := os.WriteFile(path, []byte(records), 0o600); err != nil {
		t.Fatal(err)
	}
	reports, err := f.rt.IngestFiles(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("IngestFiles: %v", err)
	}
	if len(reports) != 1 || reports[0].Documents != 3 {
		t.Fatalf("unexpected reports %+v", reports)
	}
}

func TestRuntime_IngestIndexAsk(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.ingest(t)

	st, err := f.rt.IndexChunkStore(ctx)
	if err != nil {
		t.Fatalf("IndexChunkStore: %v", err)
	}
	if st.Documents != 3 || st.Batches != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}

	idx, err := f.rt.LexicalIndex(ctx)
	if err != nil {
		t.Fatalf("LexicalIndex: %v", err)
	}
	if idx.Len() != 3 {
		t.Fatalf("snapshot has %d documents, want 3", idx.Len())
	}

	sess := f.rt.Sessions.Create()
	ans, err := f.rt.Assistant.Ask(ctx, sess.ID(), "Who painted Leopold?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if len(ans.Sources) == 0 || len(ans.Sources) > 5 {
		t.Fatalf("got %d sources", len(ans.Sources))
	}
	if !strings.Contains(ans.Sources[0].Document.Content(), "Leopold") {
		t.Fatalf("top source %q", ans.Sources[0].Document.Content())
	}
	if len(f.systems) != 1 || !strings.Contains(f.systems[0], "Nicaise de Keyser") {
		t.Fatalf("knowledge base missing from prompt: %v", f.systems)
	}
	if got := sess.History(); len(got) != 1 || got[0].Answer != ans.Text {
		t.Fatalf("history %+v", got)
	}

	info, err := f.rt.Info(ctx)
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.Documents != 3 || len(info.Sources) != 1 || info.Sessions != 1 {
		t.Fatalf("unexpected info %+v", info)
	}
	if len(info.Budget) == 0 || info.Budget[0].Used == 0 {
		t.Fatalf("budget not charged: %+v", info.Budget)
	}
}

func TestRuntime_IndexTwiceDuplicates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.ingest(t)

	for range 2 {
		if _, err := f.rt.IndexChunkStore(ctx); err != nil {
			t.Fatalf("IndexChunkStore: %v", err)
		}
	}
	info, err := f.rt.Info(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if info.Documents != 6 {
		t.Fatalf("got %d documents, want 6", info.Documents)
	}
	idx, err := f.rt.LexicalIndex(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if idx.Len() != 6 {
		t.Fatalf("snapshot not rebuilt after second index: %d", idx.Len())
	}
}

func TestRuntime_EmptyIndex(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.rt.Retrieval.Retrieve(ctx, "anything", nil, 0)
	if err != nil {
		t.Fatalf("empty index must not fail: %v", err)
	}
	if len(res.Documents) != 0 {
		t.Fatalf("got %d documents", len(res.Documents))
	}
}

func TestRuntime_ClearCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.ingest(t)
	if _, err := f.rt.IndexChunkStore(ctx); err != nil {
		t.Fatal(err)
	}
	sess := f.rt.Sessions.Create()
	if _, err := f.rt.Assistant.Ask(ctx, sess.ID(), "Queen Astrid?"); err != nil {
		t.Fatal(err)
	}

	rep, err := f.rt.ClearCache(ctx, true)
	if err != nil {
		t.Fatalf("ClearCache: %v", err)
	}
	if rep.Sessions != 1 {
		t.Fatalf("reset %d sessions, want 1", rep.Sessions)
	}
	if rep.Embeddings == 0 {
		t.Fatal("expected cached embeddings to be purged")
	}
	if len(sess.History()) != 0 || len(sess.Messages()) != 0 {
		t.Fatal("session not reset")
	}

	before := f.emb.calls
	if _, err := f.rt.Retrieval.Retrieve(ctx, "Queen Astrid?", nil, 0); err != nil {
		t.Fatal(err)
	}
	if f.emb.calls != before+1 {
		t.Fatal("purged query embedding must be recomputed")
	}
}

func TestRuntime_DeleteIndex(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.ingest(t)
	if _, err := f.rt.IndexChunkStore(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := f.rt.LexicalIndex(ctx); err != nil {
		t.Fatal(err)
	}

	if err := f.rt.DeleteIndex(ctx); err != nil {
		t.Fatalf("DeleteIndex: %v", err)
	}
	info, err := f.rt.Info(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if info.Documents != 0 {
		t.Fatalf("got %d documents after delete", info.Documents)
	}
	if len(info.Sources) != 1 {
		t.Fatal("chunk store must survive index deletion")
	}
	res, err := f.rt.Retrieval.Retrieve(ctx, "Leopold", nil, 0)
	if err != nil || len(res.Documents) != 0 {
		t.Fatalf("retrieve after delete = %v, %v", res.Documents, err)
	}
}

func TestRuntime_IngestNothing(t *testing.T) {
	f := newFixture(t)
	if _, err := f.rt.IngestFiles(context.Background(), nil); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestRuntime_Health(t *testing.T) {
	f := newFixture(t)
	rep := f.rt.Health.Check(context.Background())
	if rep.Status != "ok" {
		t.Fatalf("status %q, checks %v", rep.Status, rep.Checks)
	}
	for _, name := range []string{"vector_store", "cache", "embedding"} {
		if _, ok := rep.Checks[name]; !ok {
			t.Errorf("missing %s check", name)
		}
	}
}
