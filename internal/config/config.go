// Package config provides configuration loading for semanticd.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the semanticd daemon.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Logging       LoggingConfig       `koanf:"logging"`
	Observability ObservabilityConfig `koanf:"observability"`
	Embeddings    EmbeddingsConfig    `koanf:"embeddings"`
	VectorStore   VectorStoreConfig   `koanf:"vectorstore"`
	Graph         GraphConfig         `koanf:"graph"`
	Memory        MemoryConfig        `koanf:"memory"`
	Retrieval     RetrievalConfig     `koanf:"retrieval"`
	Extraction    ExtractionConfig    `koanf:"extraction"`
	Decision      DecisionConfig      `koanf:"decision"`
	Events        EventsConfig        `koanf:"events"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds the subset of logging settings carried in the root
// config file. The logging package derives its full Config from this.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	OTEL   bool   `koanf:"otel"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	Enabled        bool   `koanf:"enabled"`
	ServiceName    string `koanf:"service_name"`
	ServiceVersion string `koanf:"service_version"`
	Endpoint       string `koanf:"endpoint"`
	Protocol       string `koanf:"protocol"` // "grpc" or "http/protobuf"
	Insecure       bool   `koanf:"insecure"`
}

// EmbeddingsConfig selects and configures the embedding provider.
type EmbeddingsConfig struct {
	Provider string `koanf:"provider"` // "fastembed", "tei" or "mock"
	Model    string `koanf:"model"`
	BaseURL  string `koanf:"base_url"`
	CacheDir string `koanf:"cache_dir"`
}

// VectorStoreConfig selects and configures the vector store backend.
type VectorStoreConfig struct {
	Provider string        `koanf:"provider"` // "chromem" or "qdrant"
	Chromem  ChromemConfig `koanf:"chromem"`
	Qdrant   QdrantConfig  `koanf:"qdrant"`
}

// ChromemConfig configures the embedded chromem-go store.
type ChromemConfig struct {
	Path              string `koanf:"path"`
	Compress          bool   `koanf:"compress"`
	DefaultCollection string `koanf:"default_collection"`
	VectorSize        int    `koanf:"vector_size"`
}

// QdrantConfig configures the external Qdrant gRPC backend.
type QdrantConfig struct {
	Host           string `koanf:"host"`
	Port           int    `koanf:"port"`
	APIKey         Secret `koanf:"api_key"`
	CollectionName string `koanf:"collection_name"`
	VectorSize     int    `koanf:"vector_size"`
	UseTLS         bool   `koanf:"use_tls"`
}

// GraphConfig configures the context graph store.
type GraphConfig struct {
	Path             string         `koanf:"path"`
	SnapshotInterval Duration       `koanf:"snapshot_interval"`
	PageRank         PageRankConfig `koanf:"pagerank"`
}

// PageRankConfig holds PageRank iteration parameters.
type PageRankConfig struct {
	Damping       float64 `koanf:"damping"`
	Epsilon       float64 `koanf:"epsilon"`
	MaxIterations int     `koanf:"max_iterations"`
}

// MemoryConfig configures short-term buffering and relevance decay.
type MemoryConfig struct {
	ShortTermMaxTurns int      `koanf:"short_term_max_turns"`
	DecayHalfLife     Duration `koanf:"decay_half_life"`
	DecayFloor        float64  `koanf:"decay_floor"`
	ScrubSecrets      bool     `koanf:"scrub_secrets"`
}

// RetrievalConfig configures hybrid retrieval. HybridAlpha is a pointer
// so an explicit 0 (pure graph scoring) survives defaulting.
type RetrievalConfig struct {
	HybridAlpha       *float64 `koanf:"hybrid_alpha"`
	MaxResults        int      `koanf:"max_results"`
	ActivationMaxHops int      `koanf:"activation_max_hops"`
	ActivationDecay   float64  `koanf:"activation_decay"`
	RerankerEnabled   bool     `koanf:"reranker_enabled"`
	CandidateMultiple int      `koanf:"candidate_multiple"`
}

// ExtractionConfig configures entity/relation extraction.
type ExtractionConfig struct {
	Provider            string  `koanf:"provider"` // "heuristic" or "llm"
	ConfidenceThreshold float64 `koanf:"confidence_threshold"`
	RefineThreshold     float64 `koanf:"refine_threshold"`
	Refiner             RefinerConfig `koanf:"refiner"`
}

// RefinerConfig configures the optional LLM refinement step.
type RefinerConfig struct {
	Provider  string  `koanf:"provider"` // "openai" or "anthropic"
	Model     string  `koanf:"model"`
	APIKey    Secret  `koanf:"api_key"`
	RateLimit float64 `koanf:"rate_limit"` // requests per second
	Burst     int     `koanf:"burst"`
}

// DecisionConfig configures decision tracking and policy evaluation.
type DecisionConfig struct {
	Collection string `koanf:"collection"`
	PolicyDir  string `koanf:"policy_dir"`
}

// EventsConfig configures the NATS event publisher.
type EventsConfig struct {
	Enabled       bool   `koanf:"enabled"`
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9180
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "semanticd"
	}
	if cfg.Observability.ServiceVersion == "" {
		cfg.Observability.ServiceVersion = "0.1.0"
	}
	if cfg.Observability.Endpoint == "" {
		cfg.Observability.Endpoint = "localhost:4317"
		cfg.Observability.Insecure = true
	}
	if cfg.Observability.Protocol == "" {
		cfg.Observability.Protocol = "grpc"
	}

	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = "fastembed"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "BAAI/bge-small-en-v1.5"
	}
	if cfg.Embeddings.BaseURL == "" {
		cfg.Embeddings.BaseURL = "http://localhost:8080"
	}

	// chromem is the default backend: embedded, no external service
	if cfg.VectorStore.Provider == "" {
		cfg.VectorStore.Provider = "chromem"
	}
	if cfg.VectorStore.Chromem.Path == "" {
		cfg.VectorStore.Chromem.Path = "~/.config/semanticd/vectorstore"
	}
	if cfg.VectorStore.Chromem.DefaultCollection == "" {
		cfg.VectorStore.Chromem.DefaultCollection = "semanticd_memories"
	}
	if cfg.VectorStore.Chromem.VectorSize == 0 {
		cfg.VectorStore.Chromem.VectorSize = 384 // bge-small-en-v1.5 dimensions
	}
	if cfg.VectorStore.Qdrant.Host == "" {
		cfg.VectorStore.Qdrant.Host = "localhost"
	}
	if cfg.VectorStore.Qdrant.Port == 0 {
		cfg.VectorStore.Qdrant.Port = 6334
	}
	if cfg.VectorStore.Qdrant.CollectionName == "" {
		cfg.VectorStore.Qdrant.CollectionName = "semanticd_memories"
	}
	if cfg.VectorStore.Qdrant.VectorSize == 0 {
		cfg.VectorStore.Qdrant.VectorSize = 384
	}

	if cfg.Graph.Path == "" {
		cfg.Graph.Path = "~/.config/semanticd/graph.gob"
	}
	if cfg.Graph.SnapshotInterval == 0 {
		cfg.Graph.SnapshotInterval = Duration(5 * time.Minute)
	}
	if cfg.Graph.PageRank.Damping == 0 {
		cfg.Graph.PageRank.Damping = 0.85
	}
	if cfg.Graph.PageRank.Epsilon == 0 {
		cfg.Graph.PageRank.Epsilon = 1e-6
	}
	if cfg.Graph.PageRank.MaxIterations == 0 {
		cfg.Graph.PageRank.MaxIterations = 100
	}

	if cfg.Memory.ShortTermMaxTurns == 0 {
		cfg.Memory.ShortTermMaxTurns = 200
	}
	if cfg.Memory.DecayHalfLife == 0 {
		cfg.Memory.DecayHalfLife = Duration(90 * 24 * time.Hour)
	}
	if cfg.Memory.DecayFloor == 0 {
		cfg.Memory.DecayFloor = 0.1
	}

	if cfg.Retrieval.HybridAlpha == nil {
		alpha := 0.7
		cfg.Retrieval.HybridAlpha = &alpha
	}
	if cfg.Retrieval.MaxResults == 0 {
		cfg.Retrieval.MaxResults = 10
	}
	if cfg.Retrieval.ActivationMaxHops == 0 {
		cfg.Retrieval.ActivationMaxHops = 2
	}
	if cfg.Retrieval.ActivationDecay == 0 {
		cfg.Retrieval.ActivationDecay = 0.5
	}
	if cfg.Retrieval.CandidateMultiple == 0 {
		cfg.Retrieval.CandidateMultiple = 3
	}

	if cfg.Extraction.Provider == "" {
		cfg.Extraction.Provider = "heuristic"
	}
	if cfg.Extraction.ConfidenceThreshold == 0 {
		cfg.Extraction.ConfidenceThreshold = 0.5
	}
	if cfg.Extraction.RefineThreshold == 0 {
		cfg.Extraction.RefineThreshold = 0.8
	}
	if cfg.Extraction.Refiner.RateLimit == 0 {
		cfg.Extraction.Refiner.RateLimit = 1
	}
	if cfg.Extraction.Refiner.Burst == 0 {
		cfg.Extraction.Refiner.Burst = 2
	}

	if cfg.Decision.Collection == "" {
		cfg.Decision.Collection = "semanticd_decisions"
	}

	if cfg.Events.URL == "" {
		cfg.Events.URL = "nats://localhost:4222"
	}
	if cfg.Events.SubjectPrefix == "" {
		cfg.Events.SubjectPrefix = "semanticd"
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in (0, 65535], got %d", c.Server.Port)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", c.Logging.Format)
	}
	switch c.VectorStore.Provider {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("vectorstore.provider must be 'chromem' or 'qdrant', got %q", c.VectorStore.Provider)
	}
	switch c.Embeddings.Provider {
	case "fastembed", "tei", "mock":
	default:
		return fmt.Errorf("embeddings.provider must be 'fastembed', 'tei' or 'mock', got %q", c.Embeddings.Provider)
	}
	if a := c.Retrieval.HybridAlpha; a != nil && (*a < 0 || *a > 1) {
		return fmt.Errorf("retrieval.hybrid_alpha must be in [0, 1], got %f", *a)
	}
	if c.Retrieval.ActivationDecay <= 0 || c.Retrieval.ActivationDecay > 1 {
		return fmt.Errorf("retrieval.activation_decay must be in (0, 1], got %f", c.Retrieval.ActivationDecay)
	}
	if c.Memory.DecayFloor < 0 || c.Memory.DecayFloor > 1 {
		return fmt.Errorf("memory.decay_floor must be in [0, 1], got %f", c.Memory.DecayFloor)
	}
	if c.Graph.PageRank.Damping <= 0 || c.Graph.PageRank.Damping >= 1 {
		return fmt.Errorf("graph.pagerank.damping must be in (0, 1), got %f", c.Graph.PageRank.Damping)
	}
	return nil
}
