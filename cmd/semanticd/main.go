// Semanticd is the semantic memory daemon for coding agents.
//
// It serves the memory, retrieval and decision APIs over HTTP, and can
// alternatively run as an MCP server on stdio for direct agent integration.
//
// Configuration is loaded from ~/.config/semanticd/config.yaml with
// environment variable overrides. See internal/config for details.
//
// Usage:
//
//	# Start the daemon with defaults
//	semanticd serve
//
//	# Configure via environment
//	SERVER_PORT=9180 VECTORSTORE_PROVIDER=qdrant semanticd serve
//
//	# Run as MCP server on stdio
//	semanticd serve --stdio
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/semanticd/internal/agentctx"
	"github.com/fyrsmithlabs/semanticd/internal/config"
	"github.com/fyrsmithlabs/semanticd/internal/decision"
	"github.com/fyrsmithlabs/semanticd/internal/embeddings"
	"github.com/fyrsmithlabs/semanticd/internal/events"
	"github.com/fyrsmithlabs/semanticd/internal/extraction"
	"github.com/fyrsmithlabs/semanticd/internal/graph"
	httpserver "github.com/fyrsmithlabs/semanticd/internal/http"
	"github.com/fyrsmithlabs/semanticd/internal/logging"
	"github.com/fyrsmithlabs/semanticd/internal/memory"
	"github.com/fyrsmithlabs/semanticd/internal/reranker"
	"github.com/fyrsmithlabs/semanticd/internal/retrieval"
	"github.com/fyrsmithlabs/semanticd/internal/secrets"
	"github.com/fyrsmithlabs/semanticd/internal/telemetry"
	"github.com/fyrsmithlabs/semanticd/internal/vectorstore"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	configPath string
	stdioMode  bool
)

var rootCmd = &cobra.Command{
	Use:   "semanticd",
	Short: "Semantic memory daemon for coding agents",
	Long: `semanticd serves hybrid semantic/graph memory, retrieval and decision
tracking for coding agents, over HTTP or as an MCP server on stdio.`,
	RunE: runServe, // bare `semanticd` starts the daemon
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the semanticd daemon",
	RunE:  runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("semanticd by Fyrsmith Labs\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Commit:     %s\n", gitCommit)
		fmt.Printf("Build Date: %s\n", buildDate)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default ~/.config/semanticd/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&stdioMode, "stdio", false, "run as MCP server on stdio instead of the HTTP daemon")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// runServe starts the daemon with signal-driven graceful shutdown.
func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, configPath, stdioMode); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	log.Println("Server shutdown complete")
	return nil
}

// run starts the semanticd daemon and blocks until context is cancelled.
//
// Initialization order:
//  1. Loads and validates configuration
//  2. Initializes telemetry and the structured logger
//  3. Creates the embedding provider and vector store
//  4. Opens the context graph and starts its snapshot loop
//  5. Builds memory, retrieval and decision services
//  6. Serves either HTTP or MCP stdio until cancellation
func run(ctx context.Context, configPath string, stdio bool) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	tel, err := initTelemetry(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		_ = tel.Shutdown(context.Background())
	}()

	logger, err := initLogger(cfg, tel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()
	zl := logger.Underlying()

	zl.Info("Starting semanticd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.Bool("stdio", stdio),
		zap.String("vectorstore", cfg.VectorStore.Provider),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout.Duration()))

	deps, err := initDependencies(ctx, cfg, zl)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	// Background graph snapshot loop, stops on context cancellation.
	go deps.graph.Run(ctx)

	agent, retriever, err := initAgent(cfg, deps, zl)
	if err != nil {
		return fmt.Errorf("failed to initialize agent context: %w", err)
	}

	// Watch the config file. Retrieval weights apply on the next query;
	// everything else requires a restart.
	if configPath != "" {
		if watcher, werr := config.NewWatcher(configPath, cfg); werr == nil {
			watcher.OnReload(func(reloaded *config.Config) {
				retriever.SetConfig(retrievalConfig(reloaded))
				zl.Info("Configuration file reloaded; retrieval settings applied, restart for the rest")
			})
			go watcher.Run(ctx)
			defer watcher.Close()
		} else {
			zl.Warn("Config watcher unavailable", zap.Error(werr))
		}
	}

	if stdio {
		return runStdioServer(ctx, agent, zl)
	}

	srv, err := httpserver.NewServer(agent, zl, &httpserver.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if serr := srv.Start(); serr != nil && serr != http.ErrServerClosed {
			errCh <- serr
		}
	}()

	zl.Info("Server configured",
		zap.String("health_endpoint", fmt.Sprintf("http://%s:%d/health", cfg.Server.Host, cfg.Server.Port)),
		zap.String("metrics_endpoint", "/metrics"))

	select {
	case err := <-errCh:
		return fmt.Errorf("http server error: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// dependencies holds all infrastructure dependencies.
type dependencies struct {
	embedder  embeddings.Provider
	store     vectorstore.Store
	graph     *graph.MemoryStore
	publisher events.Publisher
	logger    *zap.Logger
}

// Close releases all infrastructure resources in reverse dependency order.
func (d *dependencies) Close() {
	if d.publisher != nil {
		d.publisher.Close()
	}
	if d.graph != nil {
		if err := d.graph.Close(); err != nil {
			d.logger.Warn("Graph close failed", zap.Error(err))
		}
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.logger.Warn("Vector store close failed", zap.Error(err))
		}
	}
	if d.embedder != nil {
		_ = d.embedder.Close()
	}
}

// initTelemetry builds the OTEL providers from root configuration.
func initTelemetry(ctx context.Context, cfg *config.Config) (*telemetry.Telemetry, error) {
	tcfg := telemetry.NewDefaultConfig()
	tcfg.Enabled = cfg.Observability.Enabled
	tcfg.Endpoint = cfg.Observability.Endpoint
	tcfg.ServiceName = cfg.Observability.ServiceName
	tcfg.ServiceVersion = cfg.Observability.ServiceVersion
	tcfg.Protocol = cfg.Observability.Protocol
	tcfg.Insecure = cfg.Observability.Insecure
	return telemetry.New(ctx, tcfg)
}

// initLogger initializes the structured logger, optionally bridged to OTEL.
func initLogger(cfg *config.Config, tel *telemetry.Telemetry) (*logging.Logger, error) {
	lcfg := logging.NewDefaultConfig()
	level, err := logging.LevelFromString(cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Logging.Level, err)
	}
	lcfg.Level = level
	lcfg.Format = cfg.Logging.Format
	lcfg.Output.OTEL = cfg.Logging.OTEL

	var provider = tel.LoggerProvider()
	if !cfg.Logging.OTEL {
		provider = nil
	}
	return logging.NewLogger(lcfg, provider)
}

// initDependencies connects to infrastructure: embeddings, the vector
// store backend, the context graph and the optional NATS event bus.
func initDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*dependencies, error) {
	embedder, err := embeddings.NewProvider(embeddings.ProviderConfig{
		Provider: cfg.Embeddings.Provider,
		Model:    cfg.Embeddings.Model,
		BaseURL:  cfg.Embeddings.BaseURL,
		CacheDir: expandPath(cfg.Embeddings.CacheDir),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding provider: %w", err)
	}

	logger.Info("Embedding provider initialized",
		zap.String("provider", cfg.Embeddings.Provider),
		zap.String("model", cfg.Embeddings.Model),
		zap.Int("dimension", embedder.Dimension()))

	store, err := vectorstore.NewStore(ctx, cfg.VectorStore, embedder)
	if err != nil {
		_ = embedder.Close()
		return nil, fmt.Errorf("failed to create vector store: %w", err)
	}

	logger.Info("Vector store initialized",
		zap.String("provider", cfg.VectorStore.Provider))

	g, err := graph.NewMemoryStore(graph.Config{
		Path:             expandPath(cfg.Graph.Path),
		SnapshotInterval: cfg.Graph.SnapshotInterval.Duration(),
	}, logger)
	if err != nil {
		_ = store.Close()
		_ = embedder.Close()
		return nil, fmt.Errorf("failed to open context graph: %w", err)
	}

	if stats, serr := g.Stats(ctx); serr == nil {
		logger.Info("Context graph opened",
			zap.String("path", cfg.Graph.Path),
			zap.Int("nodes", stats.Nodes),
			zap.Int("edges", stats.Edges))
	}

	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.Events.Enabled {
		np, err := events.NewNATSPublisher(events.Config{
			URL:           cfg.Events.URL,
			SubjectPrefix: cfg.Events.SubjectPrefix,
			Name:          "semanticd",
		}, logger)
		if err != nil {
			_ = g.Close()
			_ = store.Close()
			_ = embedder.Close()
			return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.Events.URL, err)
		}
		publisher = np
		logger.Info("Connected to NATS", zap.String("url", cfg.Events.URL))
	}

	return &dependencies{
		embedder:  embedder,
		store:     store,
		graph:     g,
		publisher: publisher,
		logger:    logger,
	}, nil
}

// retrievalConfig maps the retrieval section of the root configuration.
// Also used to push reloaded weights into a running retriever.
func retrievalConfig(cfg *config.Config) retrieval.Config {
	return retrieval.Config{
		HybridAlpha:       cfg.Retrieval.HybridAlpha,
		MaxResults:        cfg.Retrieval.MaxResults,
		ActivationMaxHops: cfg.Retrieval.ActivationMaxHops,
		ActivationDecay:   cfg.Retrieval.ActivationDecay,
		CandidateMultiple: cfg.Retrieval.CandidateMultiple,
		RerankerEnabled:   cfg.Retrieval.RerankerEnabled,
	}
}

// initAgent wires the memory, retrieval and decision services into the
// agent context facade. The retriever is returned separately so the
// config watcher can push reloaded weights into it.
func initAgent(cfg *config.Config, deps *dependencies, logger *zap.Logger) (*agentctx.AgentContext, *retrieval.Retriever, error) {
	extractor, err := initExtractor(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create extractor: %w", err)
	}

	scrubber := secrets.MustNew(&secrets.Config{Enabled: cfg.Memory.ScrubSecrets})

	mem := memory.NewManager(memory.Config{
		ShortTermMaxTurns: cfg.Memory.ShortTermMaxTurns,
		Decay: memory.DecayParams{
			HalfLife: cfg.Memory.DecayHalfLife.Duration(),
			Floor:    cfg.Memory.DecayFloor,
		},
	}, deps.store, deps.graph, extractor, scrubber, deps.publisher, logger)

	retriever := retrieval.NewRetriever(retrievalConfig(cfg),
		deps.store, deps.graph, reranker.NewTermOverlap(), mem, mem.DecayParams(), logger)

	tracker := decision.NewTracker(decision.Config{
		Collection: cfg.Decision.Collection,
	}, deps.store, deps.graph, deps.publisher, logger)

	policy, err := decision.LoadPolicyDir(expandPath(cfg.Decision.PolicyDir), logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load policy directory %s: %w", cfg.Decision.PolicyDir, err)
	}

	return agentctx.New(mem, retriever, tracker, policy, deps.graph, logger), retriever, nil
}

// initExtractor builds the entity/relation extractor, with the optional
// LLM refinement pass when an API key is configured.
func initExtractor(cfg *config.Config) (extraction.Extractor, error) {
	var refiner extraction.Refiner
	provider := cfg.Extraction.Provider
	if provider == "llm" {
		r, err := extraction.NewLLMRefiner(extraction.RefinerConfig{
			Provider:  cfg.Extraction.Refiner.Provider,
			Model:     cfg.Extraction.Refiner.Model,
			APIKey:    cfg.Extraction.Refiner.APIKey.Value(),
			RateLimit: cfg.Extraction.Refiner.RateLimit,
			Burst:     cfg.Extraction.Refiner.Burst,
		})
		if err != nil {
			return nil, err
		}
		refiner = r
		provider = "heuristic"
	}

	return extraction.NewExtractor(extraction.Config{
		Provider:            provider,
		ConfidenceThreshold: cfg.Extraction.ConfidenceThreshold,
		RefineThreshold:     cfg.Extraction.RefineThreshold,
	}, refiner)
}

// expandPath resolves a leading ~/ to the user home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
