package domain

import "time"

// Config mirrors ~/.shai-agent/config.yaml.
type Config struct {
	ConfigFormatVersion string               `yaml:"config_format_version"`
	Models              []ModelDefinition    `yaml:"models"`
	ModelClient         ModelClientSettings  `yaml:"model_client"`
	Context             ContextSettings      `yaml:"context"`
	Execution           ExecutionSettings    `yaml:"execution"`
	Confirmation        ConfirmationSettings `yaml:"confirmation"`
	Audit               AuditSettings        `yaml:"audit"`
	Logging             LoggingSettings      `yaml:"logging"`
	Metrics             MetricsSettings      `yaml:"metrics"`
}

// ModelClientSettings tunes retries and network timeouts for model calls.
type ModelClientSettings struct {
	MaxRetries      int             `yaml:"max_retries"`
	BaseBackoff     time.Duration   `yaml:"base_backoff"`
	RateLimitDelays []time.Duration `yaml:"rate_limit_delays"`
	RequestTimeout  time.Duration   `yaml:"request_timeout"`
	StreamTimeout   time.Duration   `yaml:"stream_timeout"`
}

// ContextSettings configures context assembly.
type ContextSettings struct {
	TokenBudget   int              `yaml:"token_budget"`
	MaxChunkBytes int              `yaml:"max_chunk_bytes"`
	Extensions    []string         `yaml:"extensions"`
	KnowledgeK    int              `yaml:"knowledge_k"`
	RecentLimit   int              `yaml:"recent_limit"`
	CacheTTL      time.Duration    `yaml:"cache_ttl"`
	Weaviate      WeaviateSettings `yaml:"weaviate"`
}

// WeaviateSettings points the knowledge index at a weaviate instance.
// An empty URL disables the index.
type WeaviateSettings struct {
	URL   string `yaml:"url"`
	Class string `yaml:"class"`
}

// ExecutionSettings controls the sandboxed action executor.
type ExecutionSettings struct {
	ProjectRoot    string        `yaml:"project_root"`
	RulesFile      string        `yaml:"rules_file"`
	PackageManager string        `yaml:"package_manager"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	InstallTimeout time.Duration `yaml:"install_timeout"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
	MaxOutputBytes int           `yaml:"max_output_bytes"`
}

// ConfirmationSettings controls the safety gate.
type ConfirmationSettings struct {
	Timeout   time.Duration `yaml:"timeout"`
	TTL       time.Duration `yaml:"ttl"`
	Store     string        `yaml:"store"`
	StorePath string        `yaml:"store_path"`
}

// AuditSettings controls the append-only audit log.
type AuditSettings struct {
	Capacity int    `yaml:"capacity"`
	Store    string `yaml:"store"`
	Path     string `yaml:"path"`
}

// LoggingSettings selects the log level and encoder.
type LoggingSettings struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsSettings enables the optional prometheus listener.
type MetricsSettings struct {
	ListenAddr string `yaml:"listen_addr"`
}
