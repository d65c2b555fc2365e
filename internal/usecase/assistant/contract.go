package assistant

import (
	"context"

	"github.com/kailas-cloud/bmae/internal/domain"
	"github.com/kailas-cloud/bmae/internal/usecase/conversation"
	"github.com/kailas-cloud/bmae/internal/usecase/retrieval"
)

// Retriever finds the documents a question is answered from.
type Retriever interface {
	Retrieve(ctx context.Context, query string, history []domain.Turn, k int) (retrieval.Result, error)
}

// SessionStore resolves sessions by id.
type SessionStore interface {
	Get(id string) (*conversation.Session, error)
}
