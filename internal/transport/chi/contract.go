package chi

import (
	"context"

	"github.com/kailas-cloud/bmae/internal/app"
	"github.com/kailas-cloud/bmae/internal/domain"
	"github.com/kailas-cloud/bmae/internal/usecase/assistant"
	"github.com/kailas-cloud/bmae/internal/usecase/conversation"
	"github.com/kailas-cloud/bmae/internal/usecase/health"
	"github.com/kailas-cloud/bmae/internal/usecase/indexing"
	"github.com/kailas-cloud/bmae/internal/usecase/ingest"
)

// Assistant answers questions within a session.
type Assistant interface {
	Ask(ctx context.Context, sessionID, question string) (assistant.Answer, error)
}

// Sessions manages conversational sessions.
type Sessions interface {
	CreateWith(settings domain.GenerationSettings) (*conversation.Session, error)
	Get(id string) (*conversation.Session, error)
	Reset(id string) error
	Delete(id string) error
}

// Admin runs the maintenance operations behind the admin password.
type Admin interface {
	IngestSource(ctx context.Context, src domain.Source) (ingest.Report, error)
	IndexChunkStore(ctx context.Context) (indexing.Stats, error)
	DeleteIndex(ctx context.Context) error
	ClearCache(ctx context.Context, purgeEmbeddings bool) (app.ClearReport, error)
	Info(ctx context.Context) (app.Info, error)
}

// HealthChecker reports component health.
type HealthChecker interface {
	Check(ctx context.Context) health.Report
}
