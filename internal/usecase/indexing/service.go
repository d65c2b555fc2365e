package indexing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/bmae/internal/domain"
	"github.com/kailas-cloud/bmae/internal/metrics"
	"github.com/kailas-cloud/bmae/internal/repository/vector"
)

// DefaultBatchSize is the number of Documents embedded and committed together.
const DefaultBatchSize = 100

// Config tunes indexing.
type Config struct {
	BatchSize int
	// CursorDir holds the corpus progress file. Empty disables resume.
	CursorDir string
	// DropPartialBatch skips a trailing corpus batch smaller than BatchSize.
	DropPartialBatch bool
}

// Stats summarizes an Index call.
type Stats struct {
	Batches   int `json:"batches"`
	Documents int `json:"documents"`
}

// CorpusStats summarizes an IndexRDFCorpus call.
type CorpusStats struct {
	Stats
	// Resumed is the number of batches a previous run had already committed.
	Resumed int
	Skipped int
	// Truncated is the number of trailing files left out by DropPartialBatch.
	Truncated int
}

// Service embeds Documents and appends them to the vector store batch by batch.
type Service struct {
	store  VectorAppender
	embed  domain.Embedder
	norm   Normalizer
	cfg    Config
	cursor cursorStore
	logger *zap.Logger
}

// New creates an indexing service. norm is only needed by IndexRDFCorpus.
func New(store VectorAppender, embed domain.Embedder, norm Normalizer, cfg Config, logger *zap.Logger) *Service {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  store,
		embed:  embed,
		norm:   norm,
		cfg:    cfg,
		cursor: newCursorStore(cfg.CursorDir),
		logger: logger,
	}
}

// Index appends docs to collection. Indexing the same Document twice stores it twice.
// Batches committed before a failure stay committed.
func (s *Service) Index(ctx context.Context, docs []domain.Document, collection string) (Stats, error) {
	var st Stats
	for offset := 0; offset < len(docs); offset += s.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		batch := docs[offset:min(offset+s.cfg.BatchSize, len(docs))]
		if err := s.indexBatch(ctx, batch, collection); err != nil {
			metrics.IndexingBatchesTotal.WithLabelValues("failed").Inc()
			return st, fmt.Errorf("batch %d: %w", st.Batches+1, err)
		}
		metrics.IndexingBatchesTotal.WithLabelValues("committed").Inc()
		metrics.IndexingDocumentsTotal.Add(float64(len(batch)))
		st.Batches++
		st.Documents += len(batch)
		s.logger.Info("Batch indexed",
			zap.String("collection", collection),
			zap.Int("batch", st.Batches),
			zap.Int("documents", st.Documents),
			zap.Int("total", len(docs)),
		)
	}
	return st, nil
}

func (s *Service) indexBatch(ctx context.Context, batch []domain.Document, collection string) error {
	texts := make([]string, len(batch))
	for i, d := range batch {
		texts[i] = d.Content()
	}
	res, err := domain.BatchEmbed(ctx, s.embed, texts)
	if err != nil {
		return embeddingFailure(err)
	}
	if len(res.Embeddings) != len(batch) {
		return fmt.Errorf("%w: got %d vectors for %d documents",
			domain.ErrEmbeddingProviderError, len(res.Embeddings), len(batch))
	}
	entries := make([]vector.Entry, len(batch))
	for i, d := range batch {
		entries[i] = vector.Entry{Document: d, Vector: res.Embeddings[i]}
	}
	if err := s.store.Add(ctx, collection, entries); err != nil {
		return fmt.Errorf("append to %s: %w", collection, err)
	}
	return nil
}

func embeddingFailure(err error) error {
	if errors.Is(err, domain.ErrEmbeddingProviderError) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrEmbeddingProviderError, err)
}

// IndexRDFCorpus normalizes and indexes RDF files in fixed-size batches, recording each
// committed batch in the cursor so a later run continues after it. Cancellation stops
// between batches. The trailing partial batch is indexed unless DropPartialBatch is set,
// in which case it is logged as ErrBatchTruncation.
func (s *Service) IndexRDFCorpus(ctx context.Context, paths []string, collection string) (CorpusStats, error) {
	var st CorpusStats
	size := s.cfg.BatchSize

	batches := (len(paths) + size - 1) / size
	if s.cfg.DropPartialBatch {
		batches = len(paths) / size
		if st.Truncated = len(paths) - batches*size; st.Truncated > 0 {
			metrics.IndexingBatchesTotal.WithLabelValues("truncated").Inc()
			s.logger.Warn("Trailing partial batch dropped",
				zap.Int("files", st.Truncated),
				zap.Error(fmt.Errorf("%w: %d of %d files", domain.ErrBatchTruncation, st.Truncated, len(paths))),
			)
		}
	}

	cur, err := s.cursor.load()
	if err != nil {
		return st, err
	}
	if cur.matches(collection, len(paths), size) {
		st.Resumed = cur.BatchesDone
		if cur.BatchesDone > 0 {
			s.logger.Info("Resuming corpus indexing",
				zap.String("collection", collection), zap.Int("batches_done", cur.BatchesDone))
		}
	} else {
		cur = Cursor{Collection: collection, Files: len(paths), BatchSize: size}
	}

	start := time.Now()
	for b := cur.BatchesDone; b < batches; b++ {
		if err := ctx.Err(); err != nil {
			s.logger.Warn("Corpus indexing cancelled", zap.Int("batches_done", cur.BatchesDone))
			return st, err
		}
		files := paths[b*size : min((b+1)*size, len(paths))]
		docs, skipped := s.normalizeFiles(ctx, files)
		st.Skipped += skipped

		if len(docs) > 0 {
			n, err := s.Index(ctx, docs, collection)
			st.Documents += n.Documents
			if err != nil {
				return st, fmt.Errorf("corpus batch %d/%d: %w", b+1, batches, err)
			}
		}
		st.Batches++

		cur.BatchesDone = b + 1
		cur.Documents += len(docs)
		cur.Skipped += skipped
		cur.Done = cur.BatchesDone == batches
		if err := s.cursor.save(cur); err != nil {
			return st, err
		}
		s.logger.Info("Corpus batch committed",
			zap.Int("batch", b+1),
			zap.Int("batches", batches),
			zap.Int("documents", len(docs)),
			zap.Int("skipped", skipped),
		)
	}

	s.logger.Info("Corpus indexing finished",
		zap.String("collection", collection),
		zap.Int("batches", st.Batches),
		zap.Int("resumed", st.Resumed),
		zap.Int("documents", st.Documents),
		zap.Duration("duration", time.Since(start)),
	)
	return st, nil
}

func (s *Service) normalizeFiles(ctx context.Context, files []string) ([]domain.Document, int) {
	var docs []domain.Document
	skipped := 0
	for _, path := range files {
		res, err := s.norm.Normalize(ctx, domain.Source{Path: path})
		if err != nil {
			skipped++
			s.logger.Warn("Corpus file skipped", zap.String("source", path), zap.Error(err))
			continue
		}
		for _, skip := range res.Skipped {
			s.logger.Warn("Record skipped", zap.String("source", path), zap.Error(skip))
		}
		skipped += len(res.Skipped)
		docs = append(docs, res.Documents...)
	}
	if skipped > 0 {
		metrics.NormalizationSkippedTotal.WithLabelValues(string(domain.SourceRDF)).Add(float64(skipped))
	}
	return docs, skipped
}

// ResetCursor forgets corpus progress so the next run starts from the first batch.
func (s *Service) ResetCursor() error {
	return s.cursor.reset()
}

// Progress returns the stored corpus cursor.
func (s *Service) Progress() (Cursor, error) {
	return s.cursor.load()
}
