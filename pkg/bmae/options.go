package bmae

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

// Option configures the Client.
type Option interface {
	apply(*clientConfig)
}

// optionFunc adapts a function to the Option interface.
type optionFunc func(*clientConfig)

func (f optionFunc) apply(c *clientConfig) { f(c) }

type clientConfig struct {
	chunkDir   string
	vectorDir  string
	collection string

	apiKey     string
	baseURL    string
	embedModel string
	dimensions int
	chatModel  string

	embedder  Embedder
	generator Generator

	redisAddr     string
	redisPassword string

	historyK int

	logger     *slog.Logger
	metricsReg prometheus.Registerer
}

// WithDirs sets the chunk store and vector store directories.
// Defaults: ./chunks and ./vectordb.
func WithDirs(chunkDir, vectorDir string) Option {
	return optionFunc(func(c *clientConfig) {
		c.chunkDir = chunkDir
		c.vectorDir = vectorDir
	})
}

// WithCollection sets the vector collection name. Default: bmae.
func WithCollection(name string) Option {
	return optionFunc(func(c *clientConfig) {
		c.collection = name
	})
}

// WithOpenAI configures the OpenAI-compatible provider used for embeddings and answers.
// An empty baseURL uses the public OpenAI endpoint.
func WithOpenAI(apiKey, baseURL string) Option {
	return optionFunc(func(c *clientConfig) {
		c.apiKey = apiKey
		c.baseURL = baseURL
	})
}

// WithModels overrides the embedding model, its dimensions and the chat model.
// Defaults: text-embedding-3-large, 3072, gpt-4-turbo.
func WithModels(embedModel string, dimensions int, chatModel string) Option {
	return optionFunc(func(c *clientConfig) {
		c.embedModel = embedModel
		c.dimensions = dimensions
		c.chatModel = chatModel
	})
}

// WithEmbedder replaces the OpenAI embedding provider.
func WithEmbedder(e Embedder) Option {
	return optionFunc(func(c *clientConfig) {
		c.embedder = e
	})
}

// WithGenerator replaces the OpenAI chat model.
func WithGenerator(g Generator) Option {
	return optionFunc(func(c *clientConfig) {
		c.generator = g
	})
}

// WithRedis enables the embedding cache on a Redis instance.
func WithRedis(addr, password string) Option {
	return optionFunc(func(c *clientConfig) {
		c.redisAddr = addr
		c.redisPassword = password
	})
}

// WithHistory sets how many past exchanges a conversation keeps. Default: 4.
func WithHistory(k int) Option {
	return optionFunc(func(c *clientConfig) {
		c.historyK = k
	})
}

// WithLogger enables structured logging for client operations.
// Pass nil to disable (default). Uses standard library slog.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(c *clientConfig) {
		c.logger = l
	})
}

// WithPrometheus registers client metrics (operation counts and durations)
// on the given registerer. Pass nil to disable (default).
func WithPrometheus(reg prometheus.Registerer) Option {
	return optionFunc(func(c *clientConfig) {
		c.metricsReg = reg
	})
}
