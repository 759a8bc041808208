// Package di provides dependency injection container for the application
package di

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"lerian-entity-resolver/internal/batch"
	"lerian-entity-resolver/internal/circuitbreaker"
	"lerian-entity-resolver/internal/config"
	"lerian-entity-resolver/internal/engine"
	"lerian-entity-resolver/internal/logging"
	"lerian-entity-resolver/internal/matching"
	"lerian-entity-resolver/internal/monitoring"
	"lerian-entity-resolver/internal/patterns"
	"lerian-entity-resolver/internal/provider"
	"lerian-entity-resolver/internal/refcontext"
	"lerian-entity-resolver/internal/resolver"
	"lerian-entity-resolver/internal/types"
	"lerian-entity-resolver/internal/websocket"
)

// healthUser is looked up by HealthCheck; it never holds a context
const healthUser types.UserID = "__health__"

// Container holds all application dependencies
type Container struct {
	Config       *config.Config
	Logger       logging.Logger
	Metrics      *monitoring.Metrics
	Store        refcontext.Store
	History      *patterns.StaticHistory
	Collaborator provider.Collaborator
	Entities     provider.EntitySource
	Matcher      *matching.Engine
	Analyzer     *patterns.Analyzer
	Resolver     *resolver.Resolver
	Breaker      *circuitbreaker.CircuitBreaker
	Orchestrator *batch.Orchestrator
	Engine       *engine.Engine
	Events       *websocket.Server

	closeStore func() error
	logOutput  io.Writer
}

// Option customises a container before it is built
type Option func(*Container)

// WithCollaborator replaces the in-memory provider with an external one
func WithCollaborator(c provider.Collaborator, entities provider.EntitySource) Option {
	return func(ct *Container) {
		ct.Collaborator = c
		ct.Entities = entities
	}
}

// WithLogOutput redirects logs; stdio transports need stdout kept clean
func WithLogOutput(w io.Writer) Option {
	return func(ct *Container) { ct.logOutput = w }
}

// NewContainer creates a new dependency injection container
func NewContainer(ctx context.Context, cfg *config.Config, opts ...Option) (*Container, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	c := &Container{Config: cfg, logOutput: os.Stdout}
	for _, opt := range opts {
		opt(c)
	}

	c.initializeLogging()
	if err := c.initializeStorage(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	if err := c.initializeServices(); err != nil {
		_ = c.closeStore()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	return c, nil
}

func (c *Container) initializeLogging() {
	c.Logger = logging.NewLoggerWithOptions(logging.Options{
		Level:  logging.ParseLogLevel(c.Config.Logging.Level),
		JSON:   !strings.EqualFold(c.Config.Logging.Format, "text"),
		Output: c.logOutput,
	})
	c.Metrics = monitoring.NewMetrics()
}

func (c *Container) initializeStorage(ctx context.Context) error {
	store, closeStore, err := refcontext.Open(ctx, c.Config.Store)
	if err != nil {
		return err
	}
	c.Store = store
	c.closeStore = closeStore
	c.Logger.Info("Reference context store ready", "provider", c.Config.Store.Provider, "ttl", c.Config.Store.TTL().String())
	return nil
}

// initializeServices wires the domain services in dependency order
func (c *Container) initializeServices() error {
	if c.Collaborator == nil {
		memory := provider.NewMemoryProvider(time.Local)
		c.Collaborator, c.Entities = memory, memory
	}

	c.History = patterns.NewStaticHistory()
	c.Matcher = matching.NewEngine(matching.Config{
		FuzzyFloor:       c.Config.Matching.FuzzyFloor,
		SuggestionFloor:  c.Config.Matching.SuggestionFloor,
		ClusterThreshold: c.Config.Matching.ClusterThreshold,
		MaxRanked:        c.Config.Matching.MaxRanked,
	})
	c.Analyzer = patterns.NewAnalyzer(patterns.FromAppConfig(c.Config.Patterns))

	c.Resolver = resolver.New(c.Store, c.Matcher, c.Analyzer, resolver.FromAppConfig(c.Config),
		resolver.WithHistorySource(c.History),
		resolver.WithLogger(c.Logger),
		resolver.WithMetrics(c.Metrics),
	)

	batchOpts := []batch.Option{batch.WithLogger(c.Logger), batch.WithMetrics(c.Metrics)}
	if c.Config.Batch.BreakerEnabled {
		breakerCfg := circuitbreaker.DefaultConfig()
		breakerCfg.FailureThreshold = c.Config.Batch.BreakerFailureThreshold
		breakerCfg.Timeout = time.Duration(c.Config.Batch.BreakerTimeoutSeconds) * time.Second
		log := logging.NewComponentLogger(c.Logger, "circuitbreaker")
		breakerCfg.OnStateChange = func(from, to circuitbreaker.State) {
			log.Warn("Collaborator circuit breaker changed state", "from", from.String(), "to", to.String())
		}
		c.Breaker = circuitbreaker.New(breakerCfg)
		batchOpts = append(batchOpts, batch.WithCircuitBreaker(c.Breaker))
	}
	c.Orchestrator = batch.New(c.Collaborator, batch.FromAppConfig(c.Config.Batch), batchOpts...)

	wsConfig := websocket.DefaultServerConfig()
	wsConfig.AllowedOrigins = c.Config.Server.AllowedOrigins
	c.Events = websocket.NewServer(wsConfig, c.Logger)
	if err := c.Events.Start(); err != nil {
		return err
	}

	c.Engine = engine.New(c.Resolver, c.Orchestrator, c.Matcher, c.Analyzer, c.Entities,
		engine.WithHistorySource(c.History),
		engine.WithLogger(c.Logger),
		engine.WithPublisher(c.Events),
	)
	return nil
}

// HealthCheck verifies the context store answers
func (c *Container) HealthCheck(ctx context.Context) error {
	if c.Store == nil {
		return errors.New("context store not initialized")
	}
	_, err := c.Store.Get(ctx, healthUser)
	if err != nil && !errors.Is(err, refcontext.ErrContextNotFound) {
		return fmt.Errorf("context store health check failed: %w", err)
	}
	return nil
}

// Shutdown disconnects event clients and releases the store connection
func (c *Container) Shutdown() error {
	if c.Events != nil {
		c.Events.Stop()
	}
	if c.closeStore == nil {
		return nil
	}
	err := c.closeStore()
	c.closeStore = nil
	return err
}
