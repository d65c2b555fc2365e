package indexing

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/bmae/internal/domain"
	"github.com/kailas-cloud/bmae/internal/normalizer"
	"github.com/kailas-cloud/bmae/internal/repository/vector"
)

// hashEmbedder derives a fixed 3-d vector from the text.
type hashEmbedder struct {
	batches int
	err     error
}

func (h *hashEmbedder) vec(text string) []float32 {
	var sum float32
	for _, r := range text {
		sum += float32(r)
	}
	return []float32{1, float32(len(text)), sum}
}

func (h *hashEmbedder) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	if h.err != nil {
		return domain.EmbeddingResult{}, h.err
	}
	return domain.EmbeddingResult{Embedding: h.vec(text), TotalTokens: 1}, nil
}

func (h *hashEmbedder) BatchEmbed(_ context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	h.batches++
	if h.err != nil {
		return domain.BatchEmbeddingResult{}, h.err
	}
	out := domain.BatchEmbeddingResult{Embeddings: make([][]float32, len(texts))}
	for i, t := range texts {
		out.Embeddings[i] = h.vec(t)
	}
	return out, nil
}

type addFunc func(ctx context.Context, collection string, entries []vector.Entry) error

func (f addFunc) Add(ctx context.Context, collection string, entries []vector.Entry) error {
	return f(ctx, collection, entries)
}

type normalizeFunc func(ctx context.Context, src domain.Source) (normalizer.Result, error)

func (f normalizeFunc) Normalize(ctx context.Context, src domain.Source) (normalizer.Result, error) {
	return f(ctx, src)
}

// onePerFile yields one Document per corpus file, named after the path.
var onePerFile = normalizeFunc(func(_ context.Context, src domain.Source) (normalizer.Result, error) {
	return normalizer.Result{Documents: []domain.Document{domain.NewDocument(src.Path, nil)}}, nil
})

func makeDocs(n int) []domain.Document {
	docs := make([]domain.Document, n)
	for i := range docs {
		docs[i] = domain.NewDocument(fmt.Sprintf("record %d", i), domain.Metadata{"seq": int64(i + 1)})
	}
	return docs
}

func makePaths(n int) []string {
	paths := make([]string, n)
	for i := range paths {
		paths[i] = fmt.Sprintf("/corpus/%04d.xml", i)
	}
	return paths
}

func openRepo(t *testing.T) *vector.Repository {
	t.Helper()
	r, err := vector.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestIndex_Batches(t *testing.T) {
	repo := openRepo(t)
	emb := &hashEmbedder{}
	svc := New(repo, emb, nil, Config{BatchSize: 100}, zap.NewNop())

	st, err := svc.Index(context.Background(), makeDocs(250), "bmae")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Batches != 3 || st.Documents != 250 || emb.batches != 3 {
		t.Fatalf("unexpected stats %+v, embed batches %d", st, emb.batches)
	}
	n, _ := repo.Count(context.Background(), "bmae")
	if n != 250 {
		t.Fatalf("expected 250 entries, got %d", n)
	}
}

func TestIndex_SameDocumentTwiceIsDuplicated(t *testing.T) {
	repo := openRepo(t)
	svc := New(repo, &hashEmbedder{}, nil, Config{}, nil)
	doc := []domain.Document{domain.NewDocument(`{"title":"Leopold I"}`, nil)}

	for range 2 {
		if _, err := svc.Index(context.Background(), doc, "bmae"); err != nil {
			t.Fatalf("index: %v", err)
		}
	}
	n, err := repo.Count(context.Background(), "bmae")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected the document stored twice, got %d", n)
	}
}

func TestIndex_EmbeddingFailureKeepsCommittedBatches(t *testing.T) {
	repo := openRepo(t)
	calls := 0
	emb := &failAfter{ok: 1, calls: &calls}
	svc := New(repo, emb, nil, Config{BatchSize: 10}, nil)

	st, err := svc.Index(context.Background(), makeDocs(25), "bmae")
	if !errors.Is(err, domain.ErrEmbeddingProviderError) {
		t.Fatalf("expected ErrEmbeddingProviderError, got %v", err)
	}
	if st.Batches != 1 {
		t.Fatalf("expected 1 committed batch, got %d", st.Batches)
	}
	if n, _ := repo.Count(context.Background(), "bmae"); n != 10 {
		t.Fatalf("expected 10 committed entries, got %d", n)
	}
}

// failAfter succeeds for ok batches and then fails with a plain error.
type failAfter struct {
	hashEmbedder
	ok    int
	calls *int
}

func (f *failAfter) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	*f.calls++
	if *f.calls > f.ok {
		return domain.BatchEmbeddingResult{}, errors.New("503 service unavailable")
	}
	return f.hashEmbedder.BatchEmbed(ctx, texts)
}

func TestIndex_VectorCountMismatch(t *testing.T) {
	short := &shortEmbedder{}
	svc := New(addFunc(func(context.Context, string, []vector.Entry) error {
		t.Fatal("nothing must be appended")
		return nil
	}), short, nil, Config{}, nil)
	_, err := svc.Index(context.Background(), makeDocs(3), "bmae")
	if !errors.Is(err, domain.ErrEmbeddingProviderError) {
		t.Fatalf("expected ErrEmbeddingProviderError, got %v", err)
	}
}

type shortEmbedder struct{ hashEmbedder }

func (s *shortEmbedder) BatchEmbed(_ context.Context, _ []string) (domain.BatchEmbeddingResult, error) {
	return domain.BatchEmbeddingResult{Embeddings: [][]float32{{1}}}, nil
}

func TestIndex_Empty(t *testing.T) {
	svc := New(addFunc(func(context.Context, string, []vector.Entry) error {
		t.Fatal("unexpected add")
		return nil
	}), &hashEmbedder{}, nil, Config{}, nil)
	st, err := svc.Index(context.Background(), nil, "bmae")
	if err != nil || st.Batches != 0 {
		t.Fatalf("got %+v, %v", st, err)
	}
}

func countingStore(batchSizes *[]int) VectorAppender {
	return addFunc(func(_ context.Context, _ string, entries []vector.Entry) error {
		*batchSizes = append(*batchSizes, len(entries))
		return nil
	})
}

func TestIndexRDFCorpus_RemainderIndexed(t *testing.T) {
	var sizes []int
	svc := New(countingStore(&sizes), &hashEmbedder{}, onePerFile, Config{BatchSize: 100, CursorDir: t.TempDir()}, nil)

	st, err := svc.IndexRDFCorpus(context.Background(), makePaths(250), "bmae")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Batches != 3 || st.Documents != 250 || st.Truncated != 0 {
		t.Fatalf("unexpected stats %+v", st)
	}
	if len(sizes) != 3 || sizes[2] != 50 {
		t.Fatalf("unexpected batch sizes %v", sizes)
	}
}

func TestIndexRDFCorpus_DropPartialBatch(t *testing.T) {
	var sizes []int
	svc := New(countingStore(&sizes), &hashEmbedder{}, onePerFile,
		Config{BatchSize: 100, DropPartialBatch: true}, nil)

	st, err := svc.IndexRDFCorpus(context.Background(), makePaths(250), "bmae")
	if err != nil {
		t.Fatalf("truncation must not be fatal: %v", err)
	}
	if st.Batches != 2 || st.Documents != 200 || st.Truncated != 50 {
		t.Fatalf("unexpected stats %+v", st)
	}
	if len(sizes) != 2 {
		t.Fatalf("expected 2 appended batches, got %v", sizes)
	}
}

func TestIndexRDFCorpus_ResumesAfterCancel(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	var sizes []int
	store := addFunc(func(_ context.Context, _ string, entries []vector.Entry) error {
		sizes = append(sizes, len(entries))
		if len(sizes) == 2 {
			cancel()
		}
		return nil
	})
	svc := New(store, &hashEmbedder{}, onePerFile, Config{BatchSize: 10, CursorDir: dir}, nil)
	paths := makePaths(45)

	_, err := svc.IndexRDFCorpus(ctx, paths, "bmae")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	cur, err := svc.Progress()
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if cur.BatchesDone != 2 || cur.Done {
		t.Fatalf("unexpected cursor %+v", cur)
	}

	sizes = nil
	st, err := svc.IndexRDFCorpus(context.Background(), paths, "bmae")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if st.Resumed != 2 || st.Batches != 3 || st.Documents != 25 {
		t.Fatalf("unexpected resume stats %+v", st)
	}
	if len(sizes) != 3 || sizes[2] != 5 {
		t.Fatalf("unexpected resumed batch sizes %v", sizes)
	}
	if cur, _ := svc.Progress(); !cur.Done || cur.Documents != 45 {
		t.Fatalf("expected finished cursor, got %+v", cur)
	}

	// A finished corpus has nothing left to do.
	sizes = nil
	if st, _ := svc.IndexRDFCorpus(context.Background(), paths, "bmae"); st.Batches != 0 || len(sizes) != 0 {
		t.Fatalf("expected no work, got %+v %v", st, sizes)
	}
}

func TestIndexRDFCorpus_CursorMismatchRestarts(t *testing.T) {
	dir := t.TempDir()
	var sizes []int
	svc := New(countingStore(&sizes), &hashEmbedder{}, onePerFile, Config{BatchSize: 10, CursorDir: dir}, nil)
	if _, err := svc.IndexRDFCorpus(context.Background(), makePaths(20), "bmae"); err != nil {
		t.Fatalf("first run: %v", err)
	}

	sizes = nil
	st, err := svc.IndexRDFCorpus(context.Background(), makePaths(30), "bmae")
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if st.Resumed != 0 || st.Batches != 3 {
		t.Fatalf("a different corpus must restart, got %+v", st)
	}
}

func TestIndexRDFCorpus_ResetCursor(t *testing.T) {
	dir := t.TempDir()
	var sizes []int
	svc := New(countingStore(&sizes), &hashEmbedder{}, onePerFile, Config{BatchSize: 10, CursorDir: dir}, nil)
	if _, err := svc.IndexRDFCorpus(context.Background(), makePaths(10), "bmae"); err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, CursorFile)); err != nil {
		t.Fatalf("cursor not written: %v", err)
	}
	if err := svc.ResetCursor(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := svc.ResetCursor(); err != nil {
		t.Fatalf("second reset must be a no-op: %v", err)
	}
	sizes = nil
	if st, _ := svc.IndexRDFCorpus(context.Background(), makePaths(10), "bmae"); st.Batches != 1 {
		t.Fatalf("expected a fresh run, got %+v", st)
	}
}

func TestIndexRDFCorpus_SkipsBadFiles(t *testing.T) {
	var sizes []int
	norm := normalizeFunc(func(_ context.Context, src domain.Source) (normalizer.Result, error) {
		if src.Path == "/corpus/0001.xml" {
			return normalizer.Result{Skipped: []error{domain.NewNormalizationError(src.Path, "", errors.New("no title"))}}, nil
		}
		if src.Path == "/corpus/0002.xml" {
			return normalizer.Result{}, errors.New("permission denied")
		}
		return onePerFile(context.Background(), src)
	})
	svc := New(countingStore(&sizes), &hashEmbedder{}, norm, Config{BatchSize: 10}, nil)

	st, err := svc.IndexRDFCorpus(context.Background(), makePaths(5), "bmae")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Skipped != 2 || st.Documents != 3 {
		t.Fatalf("unexpected stats %+v", st)
	}
}
