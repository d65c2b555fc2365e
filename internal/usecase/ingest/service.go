package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/kailas-cloud/bmae/internal/domain"
	"github.com/kailas-cloud/bmae/internal/metrics"
	"github.com/kailas-cloud/bmae/internal/normalizer"
)

// Report summarizes one ingested source.
type Report struct {
	Source    string            `json:"source"`
	Kind      domain.SourceKind `json:"kind"`
	File      string            `json:"file,omitempty"` // chunk file written, empty when nothing was kept
	Documents int               `json:"documents"`
	Skipped   int               `json:"skipped"`
	Error     string            `json:"error,omitempty"` // set when the whole source failed to normalize
}

// SkipFailed turns a whole-source normalization failure into a report that
// counts the source as skipped. Any other error is left to the caller.
func SkipFailed(rep Report, err error) (Report, bool) {
	if !errors.Is(err, domain.ErrNormalization) {
		return rep, false
	}
	rep.Documents = 0
	rep.Skipped = 1
	rep.Error = err.Error()
	return rep, true
}

// Service normalizes sources into the chunk store.
type Service struct {
	norm   Normalizer
	chunks ChunkWriter
	logger *zap.Logger
}

// New creates an ingest service.
func New(norm Normalizer, chunks ChunkWriter, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{norm: norm, chunks: chunks, logger: logger}
}

// Ingest normalizes src and writes the kept Documents as one chunk file.
// Skipped records are logged; a source that fails as a whole returns the error.
func (s *Service) Ingest(ctx context.Context, src domain.Source) (Report, error) {
	name := src.Name
	if name == "" {
		name = filepath.Base(src.Path)
	}
	kind, err := normalizer.KindOf(name)
	if err != nil {
		return Report{}, err
	}
	rep := Report{Source: name, Kind: kind}

	res, err := s.norm.Normalize(ctx, src)
	if err != nil {
		return rep, fmt.Errorf("normalize %s: %w", name, err)
	}
	for _, skip := range res.Skipped {
		s.logger.Warn("Record skipped", zap.String("source", name), zap.Error(skip))
	}
	if n := len(res.Skipped); n > 0 {
		metrics.NormalizationSkippedTotal.WithLabelValues(string(kind)).Add(float64(n))
	}
	rep.Skipped = len(res.Skipped)
	rep.Documents = len(res.Documents)

	if len(res.Documents) == 0 {
		s.logger.Warn("Source produced no documents", zap.String("source", name))
		return rep, nil
	}
	file, err := s.chunks.Put(ctx, name, res.Documents)
	if err != nil {
		return rep, fmt.Errorf("store chunks of %s: %w", name, err)
	}
	rep.File = file

	s.logger.Info("Source ingested",
		zap.String("source", name),
		zap.String("kind", string(kind)),
		zap.String("file", file),
		zap.Int("documents", rep.Documents),
		zap.Int("skipped", rep.Skipped),
	)
	return rep, nil
}

// IngestAll ingests every source. A source that fails to normalize is reported
// as skipped and the batch goes on; store failures, unsupported kinds and
// cancellation stop it.
func (s *Service) IngestAll(ctx context.Context, srcs []domain.Source) ([]Report, error) {
	reports := make([]Report, 0, len(srcs))
	for _, src := range srcs {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		rep, err := s.Ingest(ctx, src)
		if err != nil {
			skipped, ok := SkipFailed(rep, err)
			if !ok {
				return reports, err
			}
			s.logger.Warn("Source skipped", zap.String("source", skipped.Source), zap.Error(err))
			metrics.NormalizationSkippedTotal.WithLabelValues(string(skipped.Kind)).Inc()
			rep = skipped
		}
		reports = append(reports, rep)
	}
	return reports, nil
}
