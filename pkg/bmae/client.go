package bmae

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/bmae/internal/app"
	"github.com/kailas-cloud/bmae/internal/config"
	"github.com/kailas-cloud/bmae/internal/domain"
	"github.com/kailas-cloud/bmae/internal/usecase/conversation"
)

// Client is the bmae SDK entry point.
type Client struct {
	rt  *app.Runtime
	obs *observer
}

// New builds a Client. The provided context is used for the initial store connections.
func New(ctx context.Context, opts ...Option) (*Client, error) {
	cfg := &clientConfig{}
	for _, o := range opts {
		o.apply(cfg)
	}

	obs, err := newObserver(cfg.logger, cfg.metricsReg)
	if err != nil {
		return nil, err
	}

	rt, err := app.New(ctx, runtimeConfig(cfg), zap.NewNop(), overrides(cfg))
	if err != nil {
		return nil, fmt.Errorf("bmae: %w", err)
	}
	return &Client{rt: rt, obs: obs}, nil
}

func runtimeConfig(c *clientConfig) config.Config {
	var cfg config.Config
	cfg.ChunkStore.Dir = c.chunkDir
	cfg.VectorStore.Dir = c.vectorDir
	cfg.Embedding.Collection = c.collection
	cfg.Embedding.APIKey = c.apiKey
	cfg.Embedding.BaseURL = c.baseURL
	cfg.Embedding.Model = c.embedModel
	cfg.Embedding.Dimensions = c.dimensions
	cfg.LLM.Model = c.chatModel
	cfg.Session.HistoryK = c.historyK
	if c.redisAddr != "" {
		cfg.Cache.Redis.Addrs = []string{c.redisAddr}
		cfg.Cache.Redis.Password = c.redisPassword
	}
	cfg.ApplyDefaults()
	return cfg
}

func overrides(c *clientConfig) app.Overrides {
	var ov app.Overrides
	if c.embedder != nil {
		ov.Embedder = embedderAdapter{inner: c.embedder}
	}
	if c.generator != nil {
		ov.Generator = generatorAdapter{inner: c.generator}
	}
	return ov
}

// Close releases all resources.
func (c *Client) Close() error {
	if err := c.rt.Close(); err != nil {
		return fmt.Errorf("bmae: %w", err)
	}
	return nil
}

// Ingest normalizes files into the chunk store. Records or whole files that
// fail to parse are skipped and reported; unsupported kinds and store failures
// stop the call.
func (c *Client) Ingest(ctx context.Context, paths ...string) (reports []IngestReport, err error) {
	start := time.Now()
	defer func() { c.obs.observe("ingest", start, err) }()

	reps, err := c.rt.IngestFiles(ctx, paths)
	reports = make([]IngestReport, len(reps))
	for i, r := range reps {
		reports[i] = IngestReport{Source: r.Source, Kind: string(r.Kind), Documents: r.Documents, Skipped: r.Skipped, Error: r.Error}
	}
	if err != nil {
		return reports, fmt.Errorf("ingest: %w", err)
	}
	return reports, nil
}

// Index embeds the whole chunk store into the collection. The collection is
// append-only: indexing twice stores every Document twice.
func (c *Client) Index(ctx context.Context) (stats IndexStats, err error) {
	start := time.Now()
	defer func() { c.obs.observe("index", start, err) }()

	st, err := c.rt.IndexChunkStore(ctx)
	stats = IndexStats{Batches: st.Batches, Documents: st.Documents}
	if err != nil {
		return stats, fmt.Errorf("index: %w", err)
	}
	return stats, nil
}

// DeleteIndex drops the collection. The chunk store is kept.
func (c *Client) DeleteIndex(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { c.obs.observe("delete_index", start, err) }()

	if err = c.rt.DeleteIndex(ctx); err != nil {
		return fmt.Errorf("delete index: %w", err)
	}
	return nil
}

// Health checks the health of all system components.
func (c *Client) Health(ctx context.Context) HealthStatus {
	report := c.rt.Health.Check(ctx)
	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}
	return HealthStatus{Status: string(report.Status), Checks: checks}
}

// Conversation keeps the recent exchanges so follow-up questions can refer to them.
type Conversation struct {
	client *Client
	sess   *conversation.Session
}

// NewConversation starts an empty conversation.
func (c *Client) NewConversation() *Conversation {
	return &Conversation{client: c, sess: c.rt.Sessions.Create()}
}

// NewConversationWith starts an empty conversation answered with settings
// instead of the client's chat model and temperature.
func (c *Client) NewConversationWith(settings ChatSettings) (*Conversation, error) {
	sess, err := c.rt.Sessions.CreateWith(domain.GenerationSettings{
		Model:       settings.Model,
		Temperature: settings.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("new conversation: %w", err)
	}
	return &Conversation{client: c, sess: sess}, nil
}

// ID identifies the conversation.
func (cv *Conversation) ID() string { return cv.sess.ID() }

// Ask answers question using the indexed collection and the conversation history.
func (cv *Conversation) Ask(ctx context.Context, question string) (ans Answer, err error) {
	start := time.Now()
	defer func() { cv.client.obs.observe("ask", start, err) }()

	res, err := cv.client.rt.Assistant.AskSession(ctx, cv.sess, question)
	if err != nil {
		return Answer{}, fmt.Errorf("ask: %w", err)
	}
	return answerFromDomain(res.Text, res.Query, res.Sources), nil
}

// Reset forgets the conversation history.
func (cv *Conversation) Reset() { cv.sess.Reset() }
