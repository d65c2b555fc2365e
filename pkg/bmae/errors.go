package bmae

import "github.com/kailas-cloud/bmae/internal/domain"

// Sentinel errors re-exported from the domain layer.
// Use errors.Is() to check.
var (
	ErrInvalidInput           = domain.ErrInvalidInput
	ErrUnsupportedSource      = domain.ErrUnsupportedSource
	ErrNormalization          = domain.ErrNormalization
	ErrEmbeddingProviderError = domain.ErrEmbeddingProviderError
	ErrEmbeddingQuotaExceeded = domain.ErrEmbeddingQuotaExceeded
	ErrGeneration             = domain.ErrGeneration
	ErrIndexUnavailable       = domain.ErrIndexUnavailable
	ErrVectorDimMismatch      = domain.ErrVectorDimMismatch
	ErrSessionBusy            = domain.ErrSessionBusy
)
