// Package app is the composition root shared by the CLI commands and the HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kailas-cloud/bmae/internal/chunkstore"
	"github.com/kailas-cloud/bmae/internal/config"
	"github.com/kailas-cloud/bmae/internal/db"
	dbRedis "github.com/kailas-cloud/bmae/internal/db/redis"
	"github.com/kailas-cloud/bmae/internal/domain"
	"github.com/kailas-cloud/bmae/internal/lexical"
	"github.com/kailas-cloud/bmae/internal/metrics"
	"github.com/kailas-cloud/bmae/internal/normalizer"
	"github.com/kailas-cloud/bmae/internal/normalizer/jsonrec"
	"github.com/kailas-cloud/bmae/internal/normalizer/pdf"
	"github.com/kailas-cloud/bmae/internal/normalizer/rdf"
	budgetrepo "github.com/kailas-cloud/bmae/internal/repository/budget"
	"github.com/kailas-cloud/bmae/internal/repository/embcache"
	"github.com/kailas-cloud/bmae/internal/repository/vector"
	openaiTransport "github.com/kailas-cloud/bmae/internal/transport/openai"
	"github.com/kailas-cloud/bmae/internal/usecase/assistant"
	"github.com/kailas-cloud/bmae/internal/usecase/conversation"
	embeddinguc "github.com/kailas-cloud/bmae/internal/usecase/embedding"
	"github.com/kailas-cloud/bmae/internal/usecase/health"
	"github.com/kailas-cloud/bmae/internal/usecase/indexing"
	"github.com/kailas-cloud/bmae/internal/usecase/ingest"
	"github.com/kailas-cloud/bmae/internal/usecase/retrieval"
)

const (
	budgetProvider = "openai"
	purposeRewrite = "contextualize"
)

// Overrides replaces the provider-backed collaborators. Nil fields use the configured providers.
type Overrides struct {
	Embedder  domain.Embedder
	Generator domain.Generator
	KV        db.Store
	PDFRunner pdf.CommandRunner
}

// Runtime owns the process-scoped handles: stores, provider clients and the lexical snapshot.
type Runtime struct {
	cfg    config.Config
	logger *zap.Logger

	chunks   *chunkstore.Store
	vectors  *vector.Repository
	kv       db.Store
	cache    *embcache.CachedEmbedder
	budget   *embeddinguc.Budget
	embedder domain.Embedder
	registry *normalizer.Registry

	Ingest    *ingest.Service
	Indexer   *indexing.Service
	Retrieval *retrieval.Service
	Sessions  *conversation.Manager
	Assistant *assistant.Service
	Health    *health.Service

	mu       sync.Mutex
	snapshot *lexical.Index
}

// New builds a Runtime from cfg. Close releases the stores.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, ov Overrides) (*Runtime, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterPipelineMetrics()

	r := &Runtime{cfg: cfg, logger: logger, chunks: chunkstore.New(cfg.ChunkStore.Dir)}

	vectors, err := vector.Open(cfg.VectorStore.Dir)
	if err != nil {
		return nil, fmt.Errorf("open vector store: %w", err)
	}
	r.vectors = vectors

	if err := r.connectKV(ctx, ov.KV); err != nil {
		_ = vectors.Close()
		return nil, err
	}

	r.embedder = r.buildEmbedder(ctx, ov.Embedder)

	var gen domain.Generator
	var rewriteGen domain.Generator
	if ov.Generator != nil {
		gen, rewriteGen = ov.Generator, ov.Generator
	} else {
		g := openaiTransport.NewGenerator(&openaiTransport.GeneratorConfig{
			APIKey:      cfg.LLM.APIKey,
			BaseURL:     cfg.LLM.BaseURL,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
			Logger:      logger,
		})
		gen, rewriteGen = g, g.WithPurpose(purposeRewrite)
	}

	pdfNorm := pdf.New()
	if ov.PDFRunner != nil {
		pdfNorm = pdf.NewWithRunner(ov.PDFRunner)
	}
	r.registry = normalizer.NewRegistry(jsonrec.New(), pdfNorm, rdf.New(cfg.RDF.ThumbnailPrefix))

	r.Ingest = ingest.New(r.registry, r.chunks, logger)
	r.Indexer = indexing.New(r.vectors, r.embedder, r.registry, indexing.Config{
		BatchSize:        cfg.Indexing.BatchSize,
		CursorDir:        cfg.Indexing.CursorDir,
		DropPartialBatch: cfg.Indexing.DropPartialBatch,
	}, logger)

	queryEmbedder := r.embedder
	if cfg.Embedding.QueryInstruction != "" {
		queryEmbedder = domain.NewInstructionEmbedder(r.embedder, cfg.Embedding.QueryInstruction)
	}
	var rewriter *retrieval.Contextualizer
	if cfg.Retrieval.ContextualizeEnabled() {
		rewriter = retrieval.NewContextualizer(rewriteGen)
	}
	r.Retrieval = retrieval.New(
		retrieval.NewLexicalRetriever(r),
		retrieval.NewVectorRetriever(queryEmbedder, r.vectors, cfg.Embedding.Collection),
		combiner(cfg.Retrieval),
		rewriter,
		retrieval.Config{K: cfg.Retrieval.K, Limit: cfg.Retrieval.Limit},
		logger,
	)

	r.Sessions = conversation.NewManager(cfg.Session.HistoryK)
	r.Assistant = assistant.New(r.Retrieval, gen, r.Sessions, cfg.Retrieval.K, logger)

	components := []health.Component{health.Store("vector_store", r.vectors, true)}
	if r.kv != nil {
		components = append(components, health.Store("cache", r.kv, false))
	}
	components = append(components, health.Embedding(embeddingHealthChecker{r.embedder}))
	r.Health = health.New(components...)

	return r, nil
}

func (r *Runtime) connectKV(ctx context.Context, kv db.Store) error {
	if kv != nil {
		r.kv = kv
		return nil
	}
	redisCfg := r.cfg.Cache.Redis
	if len(redisCfg.Addrs) == 0 {
		return nil
	}
	store, err := dbRedis.NewStore(dbRedis.Config{Addrs: redisCfg.Addrs, Password: redisCfg.Password})
	if err != nil {
		return fmt.Errorf("create redis store: %w", err)
	}
	if err := store.WaitForReady(ctx, time.Duration(redisCfg.ReadinessTimeout)*time.Second); err != nil {
		store.Close()
		return fmt.Errorf("redis not ready: %w", err)
	}
	r.logger.Info("Connected to redis", zap.Strings("addrs", redisCfg.Addrs))
	r.kv = store
	return nil
}

// buildEmbedder assembles the decorator chain: provider -> cache -> budget and pacing.
func (r *Runtime) buildEmbedder(ctx context.Context, base domain.Embedder) domain.Embedder {
	embCfg := r.cfg.Embedding
	if base == nil {
		base = openaiTransport.NewEmbedder(&openaiTransport.Config{
			APIKey:     embCfg.APIKey,
			BaseURL:    embCfg.BaseURL,
			Model:      embCfg.Model,
			Dimensions: embCfg.Dimensions,
			Provider:   embCfg.Provider,
			Logger:     r.logger,
		})
	}

	embedder := base
	if r.kv != nil {
		r.cache = embcache.New(base, r.kv, embCfg.Model,
			time.Duration(r.cfg.Cache.TTLSec)*time.Second, metrics.EmbeddingCacheTotal, r.logger)
		embedder = r.cache
	}

	// A nil *Budget must not reach the BudgetChecker interface.
	var budget embeddinguc.BudgetChecker
	if b := embCfg.Budget; b.DailyTokenLimit > 0 || b.MonthlyTokenLimit > 0 {
		action := embeddinguc.BudgetActionWarn
		if b.Action == string(embeddinguc.BudgetActionReject) {
			action = embeddinguc.BudgetActionReject
		}
		r.budget = embeddinguc.NewBudget(budgetProvider, embeddinguc.BudgetLimits{
			Daily:   b.DailyTokenLimit,
			Monthly: b.MonthlyTokenLimit,
			Action:  action,
		}, r.logger)
		if r.kv != nil {
			r.budget.WithStore(ctx, budgetrepo.New(r.kv))
		}
		budget = r.budget
	}

	var limiter *rate.Limiter
	if rl := embCfg.RateLimit; rl.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(rl.RequestsPerSecond), rl.Burst)
	}

	return embeddinguc.NewInstrumentedEmbedder(embedder, embeddinguc.Options{
		Provider: embCfg.Provider,
		Model:    embCfg.Model,
		Budget:   budget,
		Limiter:  limiter,
		Logger:   r.logger,
	})
}

func combiner(cfg config.RetrievalConfig) retrieval.Combiner {
	weights := []float64{cfg.LexicalWeight, cfg.VectorWeight}
	if cfg.Fusion == "rrf" {
		return retrieval.RRF{Weights: weights, K: cfg.RRFK}
	}
	return retrieval.WeightedSum{Weights: weights}
}

// Config returns the configuration the Runtime was built with.
func (r *Runtime) Config() config.Config { return r.cfg }

// Collection is the vector collection every operation targets.
func (r *Runtime) Collection() string { return r.cfg.Embedding.Collection }

// LexicalIndex returns the BM25 snapshot of the collection, building it on first use.
// An empty collection is not cached so the next call sees new Documents.
func (r *Runtime) LexicalIndex(ctx context.Context) (*lexical.Index, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.snapshot != nil {
		return r.snapshot, nil
	}
	docs, err := r.vectors.Documents(ctx, r.Collection())
	if err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}
	idx := lexical.Build(docs)
	if idx.Len() > 0 {
		r.snapshot = idx
		r.logger.Info("Lexical index built", zap.Int("documents", idx.Len()))
	}
	return idx, nil
}

// Invalidate drops the lexical snapshot and resets every session.
func (r *Runtime) Invalidate() int {
	r.mu.Lock()
	r.snapshot = nil
	r.mu.Unlock()
	return r.Sessions.ResetAll()
}

// invalidateSnapshot drops the lexical snapshot only.
func (r *Runtime) invalidateSnapshot() {
	r.mu.Lock()
	r.snapshot = nil
	r.mu.Unlock()
}

// IngestFiles normalizes each file into the chunk store.
func (r *Runtime) IngestFiles(ctx context.Context, paths []string) ([]ingest.Report, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidInput, errNoSources)
	}
	srcs := make([]domain.Source, len(paths))
	for i, p := range paths {
		srcs[i] = domain.Source{Name: filepath.Base(p), Path: p}
	}
	return r.Ingest.IngestAll(ctx, srcs)
}

// IngestSource normalizes one in-memory source into the chunk store.
func (r *Runtime) IngestSource(ctx context.Context, src domain.Source) (ingest.Report, error) {
	return r.Ingest.Ingest(ctx, src)
}

// IndexChunkStore embeds every Document of the chunk store into the collection.
// Running it twice stores every Document twice.
func (r *Runtime) IndexChunkStore(ctx context.Context) (indexing.Stats, error) {
	docs, err := r.chunks.Load(ctx)
	if err != nil {
		return indexing.Stats{}, fmt.Errorf("load chunks: %w", err)
	}
	st, err := r.Indexer.Index(ctx, docs, r.Collection())
	if st.Documents > 0 {
		r.invalidateSnapshot()
	}
	if err != nil {
		return st, fmt.Errorf("index chunk store: %w", err)
	}
	return st, nil
}

// IndexRDFDir indexes every RDF/XML file under dir in resumable batches.
func (r *Runtime) IndexRDFDir(ctx context.Context, dir string, resetCursor bool) (indexing.CorpusStats, error) {
	if resetCursor {
		if err := r.Indexer.ResetCursor(); err != nil {
			return indexing.CorpusStats{}, err
		}
	}
	paths, err := rdfFiles(dir)
	if err != nil {
		return indexing.CorpusStats{}, err
	}
	st, err := r.Indexer.IndexRDFCorpus(ctx, paths, r.Collection())
	if st.Documents > 0 {
		r.invalidateSnapshot()
	}
	return st, err
}

func rdfFiles(dir string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if kind, err := normalizer.KindOf(path); err == nil && kind == domain.SourceRDF {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list rdf files in %s: %w", dir, err)
	}
	return out, nil
}

// DeleteIndex drops the collection and the corpus cursor, then invalidates caches.
func (r *Runtime) DeleteIndex(ctx context.Context) error {
	if err := r.vectors.DeleteCollection(ctx, r.Collection()); err != nil {
		return fmt.Errorf("delete collection: %w", err)
	}
	if err := r.Indexer.ResetCursor(); err != nil {
		return fmt.Errorf("reset cursor: %w", err)
	}
	r.Invalidate()
	r.logger.Info("Index deleted", zap.String("collection", r.Collection()))
	return nil
}

// ClearReport summarizes a ClearCache call.
type ClearReport struct {
	Sessions   int `json:"sessions"`
	Embeddings int `json:"embeddings"`
}

// ClearCache drops the lexical snapshot and resets sessions. purgeEmbeddings also
// empties the embedding cache when one is configured.
func (r *Runtime) ClearCache(ctx context.Context, purgeEmbeddings bool) (ClearReport, error) {
	rep := ClearReport{Sessions: r.Invalidate()}
	if purgeEmbeddings && r.cache != nil {
		n, err := r.cache.Purge(ctx)
		if err != nil {
			return rep, fmt.Errorf("purge embedding cache: %w", err)
		}
		rep.Embeddings = n
	}
	r.logger.Info("Caches cleared", zap.Int("sessions", rep.Sessions), zap.Int("embeddings", rep.Embeddings))
	return rep, nil
}

// Info describes the stores backing the Runtime.
type Info struct {
	Collection  string                    `json:"collection"`
	Documents   int                       `json:"documents"`
	Collections []vector.CollectionInfo   `json:"collections"`
	Sources     []chunkstore.SourceInfo   `json:"sources"`
	Sessions    int                       `json:"sessions"`
	Budget      []embeddinguc.PeriodUsage `json:"budget,omitempty"`
	Progress    *indexing.Cursor          `json:"progress,omitempty"`
}

// Info reports chunk store files and vector store counts.
func (r *Runtime) Info(ctx context.Context) (Info, error) {
	info := Info{Collection: r.Collection(), Sessions: r.Sessions.Len()}
	var err error
	if info.Sources, err = r.chunks.Sources(ctx); err != nil {
		return Info{}, fmt.Errorf("list sources: %w", err)
	}
	if info.Collections, err = r.vectors.Collections(ctx); err != nil {
		return Info{}, fmt.Errorf("list collections: %w", err)
	}
	if info.Documents, err = r.vectors.Count(ctx, r.Collection()); err != nil {
		return Info{}, fmt.Errorf("count documents: %w", err)
	}
	if r.budget != nil {
		info.Budget = r.budget.Usage()
	}
	if c, err := r.Indexer.Progress(); err == nil && c.Files > 0 {
		info.Progress = &c
	}
	return info, nil
}

// WatchChunks drops the lexical snapshot whenever the chunk store changes, until ctx is done.
func (r *Runtime) WatchChunks(ctx context.Context) error {
	return r.chunks.Watch(ctx, func(name string) {
		r.logger.Debug("Chunk store changed", zap.String("file", name))
		r.invalidateSnapshot()
	})
}

// Close releases the stores.
func (r *Runtime) Close() error {
	if r.kv != nil {
		r.kv.Close()
	}
	if err := r.vectors.Close(); err != nil {
		return fmt.Errorf("close vector store: %w", err)
	}
	return nil
}

// embeddingHealthChecker adapts an Embedder without a health probe to a passing check.
type embeddingHealthChecker struct {
	embedder domain.Embedder
}

func (h embeddingHealthChecker) HealthCheck(ctx context.Context) error {
	hc, ok := h.embedder.(domain.HealthChecker)
	if !ok {
		return nil
	}
	if err := hc.HealthCheck(ctx); err != nil {
		return fmt.Errorf("embedding health check: %w", err)
	}
	return nil
}

var _ retrieval.SnapshotProvider = (*Runtime)(nil)

var errNoSources = errors.New("no sources given")
