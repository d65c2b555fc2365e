package chi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/kailas-cloud/bmae/internal/domain"
	logpkg "github.com/kailas-cloud/bmae/internal/logger"
)

// ErrorCode is the machine-readable error kind of an error response.
type ErrorCode string

// Error codes.
const (
	CodeBadRequest             ErrorCode = "bad_request"
	CodeUnauthorized           ErrorCode = "unauthorized"
	CodeAdminDisabled          ErrorCode = "admin_disabled"
	CodeSessionNotFound        ErrorCode = "session_not_found"
	CodeSessionBusy            ErrorCode = "session_busy"
	CodeUnsupportedSource      ErrorCode = "unsupported_source"
	CodeNormalizationFailed    ErrorCode = "normalization_failed"
	CodeVectorDimMismatch      ErrorCode = "vector_dim_mismatch"
	CodeRateLimited            ErrorCode = "rate_limited"
	CodeEmbeddingQuotaExceeded ErrorCode = "embedding_quota_exceeded"
	CodeEmbeddingProviderError ErrorCode = "embedding_provider_error"
	CodeGenerationFailed       ErrorCode = "generation_failed"
	CodeIndexUnavailable       ErrorCode = "index_unavailable"
	CodeInternalError          ErrorCode = "internal_error"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// sentinels are the domain errors whose message is safe to show to clients.
var sentinels = []error{
	domain.ErrInvalidInput,
	domain.ErrSessionNotFound,
	domain.ErrSessionBusy,
	domain.ErrUnsupportedSource,
	domain.ErrNormalization,
	domain.ErrVectorDimMismatch,
	domain.ErrRateLimited,
	domain.ErrEmbeddingQuotaExceeded,
	domain.ErrEmbeddingProviderError,
	domain.ErrGeneration,
	domain.ErrIndexUnavailable,
}

func defaultErrorHandlers() []errorHandler {
	return []errorHandler{
		sentinelHandler(domain.ErrInvalidInput, http.StatusBadRequest, CodeBadRequest),
		sentinelHandler(domain.ErrSessionNotFound, http.StatusNotFound, CodeSessionNotFound),
		sentinelHandler(domain.ErrSessionBusy, http.StatusConflict, CodeSessionBusy),
		sentinelHandler(domain.ErrUnsupportedSource, http.StatusUnsupportedMediaType, CodeUnsupportedSource),
		sentinelHandler(domain.ErrNormalization, http.StatusUnprocessableEntity, CodeNormalizationFailed),
		sentinelHandler(domain.ErrVectorDimMismatch, http.StatusConflict, CodeVectorDimMismatch),
		sentinelHandler(domain.ErrRateLimited, http.StatusTooManyRequests, CodeRateLimited),
		sentinelHandler(domain.ErrEmbeddingQuotaExceeded, http.StatusPaymentRequired, CodeEmbeddingQuotaExceeded),
		sentinelHandler(domain.ErrEmbeddingProviderError, http.StatusBadGateway, CodeEmbeddingProviderError),
		sentinelHandler(domain.ErrGeneration, http.StatusBadGateway, CodeGenerationFailed),
		sentinelHandler(domain.ErrIndexUnavailable, http.StatusServiceUnavailable, CodeIndexUnavailable),
	}
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code ErrorCode) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := logpkg.FromContext(r.Context())
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			log.Warn("domain error", zap.Error(err))
			return
		}
	}
	log.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}
