// Package config provides configuration loading for scribe.
//
// Values come from a YAML file and are overridden by SCRIBE_* environment
// variables. Defaults are applied after unmarshalling, then Validate runs.
package config

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig is returned when validation fails.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the complete scribe configuration.
type Config struct {
	Logging     LoggingConfig     `koanf:"logging"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	Embeddings  EmbeddingsConfig  `koanf:"embeddings"`
	LLM         LLMConfig         `koanf:"llm"`
	Chunking    ChunkingConfig    `koanf:"chunking"`
	Indexing    IndexingConfig    `koanf:"indexing"`
	Hierarchy   HierarchyConfig   `koanf:"hierarchy"`
	Retrieval   RetrievalConfig   `koanf:"retrieval"`
	Memory      MemoryConfig      `koanf:"memory"`
	Events      EventsConfig      `koanf:"events"`
	Redaction   RedactionConfig   `koanf:"redaction"`
}

// LoggingConfig selects log level, encoding and sinks.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	OTEL   bool   `koanf:"otel"`
}

// TelemetryConfig controls OTLP export of traces and metrics.
type TelemetryConfig struct {
	Enabled     bool     `koanf:"enabled"`
	Endpoint    string   `koanf:"endpoint"`
	Protocol    string   `koanf:"protocol"`
	Insecure    bool     `koanf:"insecure"`
	ServiceName string   `koanf:"service_name"`
	SampleRate  float64  `koanf:"sample_rate"`
	Interval    Duration `koanf:"export_interval"`
}

// VectorStoreConfig selects the vector index backend and collection names.
type VectorStoreConfig struct {
	Provider    string            `koanf:"provider"`
	VectorSize  int               `koanf:"vector_size"`
	Chromem     ChromemConfig     `koanf:"chromem"`
	Qdrant      QdrantConfig      `koanf:"qdrant"`
	Collections CollectionsConfig `koanf:"collections"`
}

// ChromemConfig configures the embedded chromem-go store.
// An empty Path keeps the index in memory.
type ChromemConfig struct {
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`
}

// QdrantConfig configures the Qdrant gRPC client.
type QdrantConfig struct {
	Host           string   `koanf:"host"`
	Port           int      `koanf:"port"`
	UseTLS         bool     `koanf:"use_tls"`
	APIKey         Secret   `koanf:"api_key"`
	MaxRetries     int      `koanf:"max_retries"`
	RetryBackoff   Duration `koanf:"retry_backoff"`
	MaxMessageSize int      `koanf:"max_message_size"`
}

// CollectionsConfig maps each namespace to its collection name.
type CollectionsConfig struct {
	General   string `koanf:"general"`
	Summary   string `koanf:"summary"`
	Hierarchy string `koanf:"hierarchy"`
	Memory    string `koanf:"memory"`
}

// EmbeddingsConfig selects the embedding provider.
type EmbeddingsConfig struct {
	Provider  string `koanf:"provider"`
	Model     string `koanf:"model"`
	BaseURL   string `koanf:"base_url"`
	APIKey    Secret `koanf:"api_key"`
	CacheDir  string `koanf:"cache_dir"`
	CacheSize int    `koanf:"cache_size"`
}

// LLMConfig selects the completion provider and its call policy.
type LLMConfig struct {
	Provider          string   `koanf:"provider"`
	Model             string   `koanf:"model"`
	BaseURL           string   `koanf:"base_url"`
	APIKey            Secret   `koanf:"api_key"`
	MaxRetries        int      `koanf:"max_retries"`
	RetryBackoff      Duration `koanf:"retry_backoff"`
	RequestsPerSecond float64  `koanf:"requests_per_second"`
	Timeout           Duration `koanf:"timeout"`
}

// SplitConfig is a chunk size and overlap pair, measured in characters.
type SplitConfig struct {
	Size    int `koanf:"size"`
	Overlap int `koanf:"overlap"`
}

// ChunkingConfig holds the split settings per namespace.
type ChunkingConfig struct {
	General   SplitConfig `koanf:"general"`
	Summary   SplitConfig `koanf:"summary"`
	Hierarchy SplitConfig `koanf:"hierarchy"`
}

// IndexingConfig controls section saves and hierarchy builds.
type IndexingConfig struct {
	SummaryWordThreshold int `koanf:"summary_word_threshold"`
	HierarchyLevels      int `koanf:"hierarchy_levels"`
}

// HierarchyConfig tunes the clustering used by the hierarchy builder.
type HierarchyConfig struct {
	MaxClusters   int     `koanf:"max_clusters"`
	ReducedDim    int     `koanf:"reduced_dim"`
	Threshold     float64 `koanf:"threshold"`
	Seed          int64   `koanf:"seed"`
	MaxIterations int     `koanf:"max_iterations"`
}

// DepthConfig is the number of neighbors fetched per query and namespace.
type DepthConfig struct {
	General   int `koanf:"general"`
	Summary   int `koanf:"summary"`
	Hierarchy int `koanf:"hierarchy"`
}

// RetrievalConfig controls query rewriting, fan-out and fusion.
type RetrievalConfig struct {
	RRFK           float64     `koanf:"rrf_k"`
	TopK           int         `koanf:"top_k"`
	MaxConcurrency int         `koanf:"max_concurrency"`
	RewriteCount   int         `koanf:"rewrite_count"`
	Section        DepthConfig `koanf:"section"`
	Document       DepthConfig `koanf:"document"`
	Global         DepthConfig `koanf:"global"`
}

// MemoryConfig controls long-term memory recall.
type MemoryConfig struct {
	RecallK int `koanf:"recall_k"`
}

// RedactionConfig controls secret scrubbing of indexed and remembered text.
type RedactionConfig struct {
	Enabled       bool   `koanf:"enabled"`
	AllowlistPath string `koanf:"allowlist_path"`
}

// EventsConfig configures the NATS section-save pipeline.
type EventsConfig struct {
	URL            string `koanf:"url"`
	SavedSubject   string `koanf:"saved_subject"`
	IndexedSubject string `koanf:"indexed_subject"`
	Queue          string `koanf:"queue"`

	// HandleTimeout bounds indexing of one event. DrainTimeout bounds how
	// long a stopping worker waits for events already delivered.
	HandleTimeout Duration `koanf:"handle_timeout"`
	DrainTimeout  Duration `koanf:"drain_timeout"`

	// MetricsAddr is where a worker serves /health, /ready and /metrics.
	// Empty disables the ops server.
	MetricsAddr string `koanf:"metrics_addr"`
}

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "scribe"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}
	if cfg.Telemetry.Interval == 0 {
		cfg.Telemetry.Interval = Duration(15 * time.Second)
	}

	vs := &cfg.VectorStore
	if vs.Provider == "" {
		vs.Provider = "chromem"
	}
	if vs.VectorSize == 0 {
		vs.VectorSize = 384 // bge-small-en-v1.5
	}
	if vs.Qdrant.Host == "" {
		vs.Qdrant.Host = "localhost"
	}
	if vs.Qdrant.Port == 0 {
		vs.Qdrant.Port = 6334
	}
	if vs.Qdrant.MaxRetries == 0 {
		vs.Qdrant.MaxRetries = 3
	}
	if vs.Qdrant.RetryBackoff == 0 {
		vs.Qdrant.RetryBackoff = Duration(time.Second)
	}
	if vs.Qdrant.MaxMessageSize == 0 {
		vs.Qdrant.MaxMessageSize = 50 * 1024 * 1024
	}
	if vs.Collections.General == "" {
		vs.Collections.General = "scribe_general"
	}
	if vs.Collections.Summary == "" {
		vs.Collections.Summary = "scribe_summary"
	}
	if vs.Collections.Hierarchy == "" {
		vs.Collections.Hierarchy = "scribe_hierarchy"
	}
	if vs.Collections.Memory == "" {
		vs.Collections.Memory = "scribe_memory"
	}

	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = "fastembed"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "BAAI/bge-small-en-v1.5"
	}
	if cfg.Embeddings.BaseURL == "" && cfg.Embeddings.Provider == "tei" {
		cfg.Embeddings.BaseURL = "http://localhost:8080"
	}
	if cfg.Embeddings.CacheSize == 0 {
		cfg.Embeddings.CacheSize = 1024
	}

	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "openai"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o-mini"
	}
	if cfg.LLM.MaxRetries == 0 {
		cfg.LLM.MaxRetries = 3
	}
	if cfg.LLM.RetryBackoff == 0 {
		cfg.LLM.RetryBackoff = Duration(500 * time.Millisecond)
	}
	if cfg.LLM.RequestsPerSecond == 0 {
		cfg.LLM.RequestsPerSecond = 5
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = Duration(60 * time.Second)
	}

	defaultSplit(&cfg.Chunking.General, 500, 100)
	defaultSplit(&cfg.Chunking.Summary, 300, 50)
	defaultSplit(&cfg.Chunking.Hierarchy, 1000, 200)

	if cfg.Indexing.SummaryWordThreshold == 0 {
		cfg.Indexing.SummaryWordThreshold = 100
	}
	if cfg.Indexing.HierarchyLevels == 0 {
		cfg.Indexing.HierarchyLevels = 3
	}

	if cfg.Hierarchy.MaxClusters == 0 {
		cfg.Hierarchy.MaxClusters = 50
	}
	if cfg.Hierarchy.ReducedDim == 0 {
		cfg.Hierarchy.ReducedDim = 10
	}
	if cfg.Hierarchy.Threshold == 0 {
		cfg.Hierarchy.Threshold = 0.1
	}
	if cfg.Hierarchy.Seed == 0 {
		cfg.Hierarchy.Seed = 224
	}
	if cfg.Hierarchy.MaxIterations == 0 {
		cfg.Hierarchy.MaxIterations = 100
	}

	r := &cfg.Retrieval
	if r.RRFK == 0 {
		r.RRFK = 60
	}
	if r.TopK == 0 {
		r.TopK = 10
	}
	if r.MaxConcurrency == 0 {
		r.MaxConcurrency = 8
	}
	if r.RewriteCount == 0 {
		r.RewriteCount = 4
	}
	if r.Section == (DepthConfig{}) {
		r.Section = DepthConfig{General: 5, Summary: 1}
	}
	if r.Document == (DepthConfig{}) {
		r.Document = DepthConfig{General: 10, Summary: 3}
	}
	if r.Global == (DepthConfig{}) {
		r.Global = DepthConfig{General: 10, Summary: 3, Hierarchy: 5}
	}

	if cfg.Memory.RecallK == 0 {
		cfg.Memory.RecallK = 3
	}

	if cfg.Events.URL == "" {
		cfg.Events.URL = "nats://localhost:4222"
	}
	if cfg.Events.SavedSubject == "" {
		cfg.Events.SavedSubject = "scribe.sections.saved"
	}
	if cfg.Events.IndexedSubject == "" {
		cfg.Events.IndexedSubject = "scribe.sections.indexed"
	}
	if cfg.Events.Queue == "" {
		cfg.Events.Queue = "scribe-indexers"
	}
	if cfg.Events.HandleTimeout == 0 {
		cfg.Events.HandleTimeout = Duration(2 * time.Minute)
	}
	if cfg.Events.DrainTimeout == 0 {
		cfg.Events.DrainTimeout = Duration(30 * time.Second)
	}
}

func defaultSplit(s *SplitConfig, size, overlap int) {
	if s.Size == 0 {
		s.Size = size
		if s.Overlap == 0 {
			s.Overlap = overlap
		}
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	switch c.Logging.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format))
	}

	switch c.VectorStore.Provider {
	case "chromem", "qdrant":
	default:
		errs = append(errs, fmt.Errorf("vectorstore.provider must be chromem or qdrant, got %q", c.VectorStore.Provider))
	}
	if c.VectorStore.VectorSize <= 0 {
		errs = append(errs, fmt.Errorf("vectorstore.vector_size must be positive"))
	}
	if c.VectorStore.Qdrant.Port <= 0 || c.VectorStore.Qdrant.Port > 65535 {
		errs = append(errs, fmt.Errorf("vectorstore.qdrant.port out of range: %d", c.VectorStore.Qdrant.Port))
	}

	switch c.Embeddings.Provider {
	case "fastembed", "tei", "openai":
	default:
		errs = append(errs, fmt.Errorf("embeddings.provider must be fastembed, tei or openai, got %q", c.Embeddings.Provider))
	}

	switch c.LLM.Provider {
	case "openai", "ollama", "anthropic":
	default:
		errs = append(errs, fmt.Errorf("llm.provider must be openai, ollama or anthropic, got %q", c.LLM.Provider))
	}
	if c.LLM.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("llm.requests_per_second cannot be negative"))
	}

	for name, s := range map[string]SplitConfig{
		"general":   c.Chunking.General,
		"summary":   c.Chunking.Summary,
		"hierarchy": c.Chunking.Hierarchy,
	} {
		if s.Size <= 0 || s.Overlap < 0 || s.Overlap >= s.Size {
			errs = append(errs, fmt.Errorf("chunking.%s: overlap %d must be in [0, size %d)", name, s.Overlap, s.Size))
		}
	}

	if c.Indexing.HierarchyLevels < 1 {
		errs = append(errs, fmt.Errorf("indexing.hierarchy_levels must be at least 1"))
	}
	if c.Hierarchy.Threshold <= 0 || c.Hierarchy.Threshold >= 1 {
		errs = append(errs, fmt.Errorf("hierarchy.threshold must be in (0, 1), got %f", c.Hierarchy.Threshold))
	}

	r := c.Retrieval
	if r.RRFK <= 0 {
		errs = append(errs, fmt.Errorf("retrieval.rrf_k must be positive"))
	}
	if depthTotal(r.Section) > depthTotal(r.Document) || depthTotal(r.Document) > depthTotal(r.Global) {
		errs = append(errs, fmt.Errorf("retrieval depth must not shrink as scope widens (section <= document <= global)"))
	}

	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sample_rate must be between 0 and 1"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func depthTotal(d DepthConfig) int {
	return d.General + d.Summary + d.Hierarchy
}
