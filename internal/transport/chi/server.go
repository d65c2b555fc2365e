package chi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/bmae/internal/domain"
	logpkg "github.com/kailas-cloud/bmae/internal/logger"
	"github.com/kailas-cloud/bmae/internal/metrics"
	"github.com/kailas-cloud/bmae/internal/usecase/assistant"
	"github.com/kailas-cloud/bmae/internal/usecase/health"
	"github.com/kailas-cloud/bmae/internal/usecase/ingest"
)

const uploadField = "file"

// Options configures the HTTP surface.
type Options struct {
	// AdminPassword guards /admin. Empty disables the admin routes.
	AdminPassword string
	// MaxUploadBytes caps one multipart upload.
	MaxUploadBytes int64
}

// Server serves the chat and admin API.
type Server struct {
	assistant     Assistant
	sessions      Sessions
	admin         Admin
	health        HealthChecker
	opts          Options
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(
	assistant Assistant,
	sessions Sessions,
	admin Admin,
	health HealthChecker,
	opts Options,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 64 << 20
	}
	return &Server{
		assistant:     assistant,
		sessions:      sessions,
		admin:         admin,
		health:        health,
		opts:          opts,
		logger:        logger,
		errorHandlers: defaultErrorHandlers(),
	}
}

// Router mounts every route with the standard middleware stack.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(jsonRecoverer(s.logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(s.logger))
	r.Use(metrics.Middleware())

	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", s.CreateSession)
		r.Route("/{session}", func(r chi.Router) {
			r.Get("/messages", s.ListMessages)
			r.Post("/ask", s.Ask)
			r.Post("/reset", s.ResetSession)
			r.Delete("/", s.DeleteSession)
		})
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(AdminAuthMiddleware(s.opts.AdminPassword))
		r.Post("/sources", s.UploadSources)
		r.Post("/index", s.StartIndex)
		r.Delete("/index", s.DeleteIndex)
		r.Post("/cache/clear", s.ClearCache)
		r.Get("/info", s.Info)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, CodeBadRequest, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, CodeBadRequest, "method not allowed")
	})
	return r
}

// MessageView is one displayed chat message.
type MessageView struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// SessionResponse is returned by POST /sessions.
type SessionResponse struct {
	ID        string        `json:"id"`
	CreatedAt time.Time     `json:"created_at"`
	Messages  []MessageView `json:"messages"`
}

// CreateSessionRequest is the optional body of POST /sessions.
type CreateSessionRequest struct {
	Model       string   `json:"model,omitempty"`
	Temperature *float32 `json:"temperature,omitempty"`
}

// AskRequest is the body of POST /sessions/{session}/ask.
type AskRequest struct {
	Question string `json:"question"`
}

// SourceView is one retrieved Document.
type SourceView struct {
	Content  string          `json:"content"`
	Metadata domain.Metadata `json:"metadata,omitempty"`
	Score    float64         `json:"score"`
}

// AskResponse is returned by POST /sessions/{session}/ask.
type AskResponse struct {
	Answer  string       `json:"answer"`
	Query   string       `json:"query"`
	Sources []SourceView `json:"sources"`
	// EmbeddingTokens is what embedding the query cost; 0 on a cache hit.
	EmbeddingTokens int `json:"embedding_tokens"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// CreateSession handles POST /sessions. An empty body keeps the server's model settings.
func (s *Server) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
		return
	}
	sess, err := s.sessions.CreateWith(domain.GenerationSettings{
		Model:       strings.TrimSpace(req.Model),
		Temperature: req.Temperature,
	})
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, SessionResponse{
		ID:        sess.ID(),
		CreatedAt: sess.CreatedAt(),
		Messages:  messageViews(sess.Messages()),
	})
}

// ListMessages handles GET /sessions/{session}/messages.
func (s *Server) ListMessages(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(chi.URLParam(r, "session"))
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{
		ID:        sess.ID(),
		CreatedAt: sess.CreatedAt(),
		Messages:  messageViews(sess.Messages()),
	})
}

// messageViews prepends the greeting to the display log.
func messageViews(msgs []domain.Message) []MessageView {
	out := make([]MessageView, 0, len(msgs)+1)
	out = append(out, MessageView{Role: string(domain.RoleAssistant), Text: assistant.Greeting})
	for _, m := range msgs {
		out = append(out, MessageView{Role: string(m.Role), Text: m.Text})
	}
	return out
}

// Ask handles POST /sessions/{session}/ask.
func (s *Server) Ask(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	ctx, usage := domain.NewContextWithUsage(r.Context())
	ans, err := s.assistant.Ask(ctx, chi.URLParam(r, "session"), req.Question)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	sources := make([]SourceView, len(ans.Sources))
	for i, d := range ans.Sources {
		sources[i] = SourceView{Content: d.Document.Content(), Metadata: d.Document.Metadata(), Score: d.Score}
	}
	writeJSON(w, http.StatusOK, AskResponse{
		Answer:          ans.Text,
		Query:           ans.Query,
		Sources:         sources,
		EmbeddingTokens: usage.TotalTokens,
	})
}

// ResetSession handles POST /sessions/{session}/reset.
func (s *Server) ResetSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Reset(chi.URLParam(r, "session")); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteSession handles DELETE /sessions/{session}.
func (s *Server) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Delete(chi.URLParam(r, "session")); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UploadSources handles POST /admin/sources (multipart, one or more "file" parts).
func (s *Server) UploadSources(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.opts.MaxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid multipart body: "+err.Error())
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	files := r.MultipartForm.File[uploadField]
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, CodeBadRequest, fmt.Sprintf("no %q parts in upload", uploadField))
		return
	}

	reports := make([]ingest.Report, 0, len(files))
	for _, fh := range files {
		data, err := readPart(fh)
		if err != nil {
			writeError(w, http.StatusBadRequest, CodeBadRequest, "Unreadable upload: "+err.Error())
			return
		}
		rep, err := s.admin.IngestSource(r.Context(), domain.Source{Name: fh.Filename, Data: data})
		if err != nil {
			skipped, ok := ingest.SkipFailed(rep, err)
			if !ok {
				s.handleDomainError(w, r, err)
				return
			}
			logpkg.FromContext(r.Context()).Warn("Upload skipped",
				zap.String("source", fh.Filename), zap.Error(err))
			rep = skipped
		}
		reports = append(reports, rep)
	}
	writeJSON(w, http.StatusCreated, map[string]any{"sources": reports})
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open part: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read part: %w", err)
	}
	return data, nil
}

// StartIndex handles POST /admin/index: embeds the whole chunk store.
func (s *Server) StartIndex(w http.ResponseWriter, r *http.Request) {
	st, err := s.admin.IndexChunkStore(r.Context())
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// DeleteIndex handles DELETE /admin/index.
func (s *Server) DeleteIndex(w http.ResponseWriter, r *http.Request) {
	if err := s.admin.DeleteIndex(r.Context()); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearCache handles POST /admin/cache/clear. ?embeddings=true also purges cached vectors.
func (s *Server) ClearCache(w http.ResponseWriter, r *http.Request) {
	purge := false
	if v := r.URL.Query().Get("embeddings"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, CodeBadRequest, "embeddings must be a boolean")
			return
		}
		purge = b
	}
	rep, err := s.admin.ClearCache(r.Context(), purge)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// Info handles GET /admin/info.
func (s *Server) Info(w http.ResponseWriter, r *http.Request) {
	info, err := s.admin.Info(r.Context())
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status == health.Unhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, HealthResponse{Status: string(report.Status), Checks: checks})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}
