package assistant

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/bmae/internal/domain"
	"github.com/kailas-cloud/bmae/internal/usecase/conversation"
)

// Greeting opens every new conversation.
const Greeting = "Hello! Bonjour! Hallo!"

const qaPrompt = `You are an artwork specialist. You must assist the users in finding, describing, and displaying artworks related to the Belgian monarchy. You first have to search answers in the "Knowledge Base". If no answers are found in the "Knowledge Base", then answer with your own knowledge. You have to answer in the same language as the question.
At the end of the answer:
- At a new line, display an image of the artwork (see the "og:image" field).
- At a new line, write "Reference: " (in the language of the question) followed by the link to the web page about the artwork (see the "url" field). For Wikimedia Commons, the text of the link has to be the title of the web page WITHOUT the word "File" at the beginning (see "og:title").

Knowledge Base:

`

// Answer is the reply to one question.
type Answer struct {
	Text string
	// Query is the standalone form the retrievers searched with.
	Query   string
	Sources []domain.ScoredDocument
}

// Service answers questions within a conversation.
type Service struct {
	retriever Retriever
	gen       domain.Generator
	sessions  SessionStore
	k         int
	logger    *zap.Logger
}

// New creates the assistant. k <= 0 uses the retriever default.
func New(retriever Retriever, gen domain.Generator, sessions SessionStore, k int, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{retriever: retriever, gen: gen, sessions: sessions, k: k, logger: logger}
}

// Ask answers question in the session identified by sessionID.
func (s *Service) Ask(ctx context.Context, sessionID, question string) (Answer, error) {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return Answer{}, err
	}
	return s.AskSession(ctx, sess, question)
}

// AskSession answers question and records the exchange in sess. On failure the session
// is left as it was. One question runs per session at a time.
func (s *Service) AskSession(ctx context.Context, sess *conversation.Session, question string) (Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Answer{}, fmt.Errorf("%w: empty question", domain.ErrInvalidInput)
	}
	done, err := sess.Begin()
	if err != nil {
		return Answer{}, err
	}
	defer done()

	ctx = domain.WithGenerationSettings(ctx, sess.Settings())
	start := time.Now()
	history := sess.History()

	found, err := s.retriever.Retrieve(ctx, question, history, s.k)
	if err != nil {
		return Answer{}, fmt.Errorf("retrieve: %w", err)
	}

	msgs := append(domain.HistoryMessages(history), domain.ChatMessage{Role: domain.RoleUser, Content: question})
	text, err := s.gen.Generate(ctx, systemPrompt(found.Documents), msgs)
	if err != nil {
		return Answer{}, fmt.Errorf("answer: %w", err)
	}

	sess.Record(question, text)
	s.logger.Info("Question answered",
		zap.String("session", sess.ID()),
		zap.String("query", found.Query),
		zap.Int("sources", len(found.Documents)),
		zap.Int("history", len(history)),
		zap.Duration("duration", time.Since(start)),
	)
	return Answer{Text: text, Query: found.Query, Sources: found.Documents}, nil
}

func systemPrompt(docs []domain.ScoredDocument) string {
	var b strings.Builder
	b.WriteString(qaPrompt)
	for i, d := range docs {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(d.Document.Content())
	}
	return b.String()
}
