// Package chronograph builds temporally-aware knowledge graphs from episodic
// input. Episodes are queued per group, processed through LLM entity and fact
// extraction, deduplicated against the existing graph, and persisted with
// bi-temporal edge intervals. Retrieval is hybrid: vector and lexical
// candidates fused by reciprocal rank, optionally reranked by graph proximity
// and always traceable back to source episodes through citations.
package chronograph

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/soundprediction/chronograph/pkg/citation"
	"github.com/soundprediction/chronograph/pkg/config"
	"github.com/soundprediction/chronograph/pkg/driver"
	"github.com/soundprediction/chronograph/pkg/embedder"
	"github.com/soundprediction/chronograph/pkg/nlp"
	"github.com/soundprediction/chronograph/pkg/ontology"
	"github.com/soundprediction/chronograph/pkg/queue"
	"github.com/soundprediction/chronograph/pkg/resolver"
	"github.com/soundprediction/chronograph/pkg/search"
	"github.com/soundprediction/chronograph/pkg/types"
)

// Options assembles a Client from its collaborators. Driver, NLP and
// Embedder are required; the rest default sensibly.
type Options struct {
	Driver   driver.GraphDriver
	NLP      nlp.Client
	Embedder embedder.Client
	Ontology *ontology.Ontology
	Logger   *slog.Logger

	// DefaultGroupID namespaces episodes submitted without a group.
	DefaultGroupID string
	// MaxInflightEpisodes bounds cross-group processing parallelism.
	MaxInflightEpisodes int
	// LLMSemaphore bounds concurrent LLM and embedding calls across all
	// groups; zero means unbounded.
	LLMSemaphore int
	// EpisodeSpacing is the minimum gap between dispatches within a group.
	EpisodeSpacing time.Duration
	// Retry is the LLM backoff schedule.
	Retry nlp.RetryConfig
}

// Client is the façade over ingestion, search, and mutation.
type Client struct {
	driver   driver.GraphDriver
	nlp      nlp.Client
	embedder embedder.Client
	ontology *ontology.Ontology
	logger   *slog.Logger

	gate      *nlp.Gate
	entities  *resolver.EntityResolver
	edges     *resolver.EdgeResolver
	searcher  *search.Engine
	citations *citation.Service
	queue     *queue.Queue

	defaultGroupID string
}

// New assembles a Client.
func New(opts Options) (*Client, error) {
	if opts.Driver == nil {
		return nil, fmt.Errorf("chronograph: graph driver is required")
	}
	if opts.NLP == nil {
		return nil, fmt.Errorf("chronograph: nlp client is required")
	}
	if opts.Embedder == nil {
		return nil, fmt.Errorf("chronograph: embedder is required")
	}
	if opts.Ontology == nil {
		opts.Ontology = ontology.Default()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.DefaultGroupID == "" {
		opts.DefaultGroupID = "default"
	}

	gate := nlp.NewGate(opts.LLMSemaphore)
	c := &Client{
		driver:         opts.Driver,
		nlp:            nlp.NewGatedClient(opts.NLP, gate),
		embedder:       embedder.NewGatedClient(opts.Embedder, gate),
		ontology:       opts.Ontology,
		logger:         opts.Logger,
		gate:           gate,
		defaultGroupID: opts.DefaultGroupID,
	}
	c.entities = resolver.NewEntityResolver(opts.Driver, opts.Ontology, opts.Logger)
	c.edges = resolver.NewEdgeResolver(opts.Driver, opts.Logger)
	c.searcher = search.NewEngine(opts.Driver, c.embedder, opts.Logger)
	c.citations = citation.NewService(opts.Driver, opts.Logger)
	c.queue = queue.New(queue.Config{
		MaxInflight:  opts.MaxInflightEpisodes,
		GroupSpacing: opts.EpisodeSpacing,
		Retry:        opts.Retry,
	}, c.processEpisode, opts.Logger)
	return c, nil
}

// NewFromConfig assembles a Client and its collaborators from configuration.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	var graphDriver driver.GraphDriver
	switch cfg.Graph.Driver {
	case "neo4j":
		d, err := driver.NewNeo4jDriver(cfg.Graph.URL, cfg.Graph.User, cfg.Graph.Password,
			cfg.Graph.Database, cfg.Embedder.VectorDim)
		if err != nil {
			return nil, err
		}
		d.SetQueryTimeout(cfg.Graph.QueryTimeout())
		graphDriver = d
	default:
		graphDriver = driver.NewMemoryDriver()
	}

	temperature := cfg.LLM.Temperature
	maxTokens := cfg.LLM.MaxTokens
	llmClient, err := nlp.NewOpenAIClient(cfg.LLM.APIKey, nlp.Config{
		Model:       cfg.LLM.Model,
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
		BaseURL:     cfg.LLM.BaseURL,
		Timeout:     cfg.LLM.Timeout(),
	})
	if err != nil {
		return nil, err
	}
	retry := nlp.RetryConfig{
		MaxAttempts: cfg.LLM.RetryMaxAttempt,
		Base:        cfg.LLM.RetryBase(),
		Cap:         cfg.LLM.RetryCap(),
	}
	wrapped := nlp.NewCircuitBreakerClient(llmClient, nlp.DefaultBreakerConfig(), logger)

	embedClient, err := embedder.NewOpenAIClient(embedder.Config{
		Model:      cfg.Embedder.Model,
		APIKey:     cfg.Embedder.APIKey,
		BaseURL:    cfg.Embedder.BaseURL,
		Dimensions: cfg.Embedder.VectorDim,
		Timeout:    cfg.Embedder.Timeout(),
	})
	if err != nil {
		return nil, err
	}

	ont := ontology.Default()
	if cfg.Ontology.Path != "" {
		ont, err = ontology.LoadFile(cfg.Ontology.Path)
		if err != nil {
			return nil, err
		}
	}

	return New(Options{
		Driver:              graphDriver,
		NLP:                 wrapped,
		Embedder:            embedClient,
		Ontology:            ont,
		Logger:              logger,
		DefaultGroupID:      cfg.Ingest.DefaultGroupID,
		MaxInflightEpisodes: cfg.Ingest.MaxInflightEpisodes,
		LLMSemaphore:        cfg.Ingest.LLMSemaphore,
		EpisodeSpacing:      cfg.Ingest.EpisodeSpacing(),
		Retry:               retry,
	})
}

// Driver exposes the underlying graph store, mainly for index bootstrap and
// diagnostics.
func (c *Client) Driver() driver.GraphDriver { return c.driver }

// Ontology returns the active label registry.
func (c *Client) Ontology() *ontology.Ontology { return c.ontology }

// DefaultGroupID returns the namespace used when callers omit one.
func (c *Client) DefaultGroupID() string { return c.defaultGroupID }

// CreateIndices bootstraps store indices. Run once at startup.
func (c *Client) CreateIndices(ctx context.Context) error {
	return c.driver.CreateIndices(ctx)
}

// QueueStats snapshots per-group queue depths.
func (c *Client) QueueStats() map[string]int { return c.queue.Stats() }

// Stats summarizes a group's persisted graph.
func (c *Client) Stats(ctx context.Context, groupID string) (*driver.GraphStats, error) {
	if groupID == "" {
		groupID = c.defaultGroupID
	}
	return c.driver.Stats(ctx, groupID)
}

// ClearGroup deletes everything persisted for a group.
func (c *Client) ClearGroup(ctx context.Context, groupID string) error {
	if groupID == "" {
		return types.ErrEmptyGroupID
	}
	return c.driver.ClearGroup(ctx, groupID)
}

// Close drains the queue and releases collaborator resources.
func (c *Client) Close(ctx context.Context) error {
	c.queue.Close()
	if err := c.nlp.Close(); err != nil {
		c.logger.Warn("closing nlp client", "error", err)
	}
	if err := c.embedder.Close(); err != nil {
		c.logger.Warn("closing embedder", "error", err)
	}
	return c.driver.Close(ctx)
}
