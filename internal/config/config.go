// Package config loads runtime configuration for the gateway and memory
// services from environment variables, following the env-first style used
// throughout this codebase: each field is read with os.Getenv, trimmed, and
// given an explicit default rather than relying on reflection or tags.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// DBConfig configures the memory store's backends.
type DBConfig struct {
	// DefaultDSN is used by any backend whose own DSN is unset.
	DefaultDSN string

	Search DBBackend
	Vector DBBackend
}

// DBBackend configures a single pluggable storage backend.
type DBBackend struct {
	Backend    string // search: memory|postgres|auto; vector: memory|qdrant|auto
	DSN        string
	Index      string
	Dimensions int
	Metric     string // cosine|l2|ip (vector only)
}

// RedisConfig configures the Shared.Bus cache/pub-sub client.
type RedisConfig struct {
	Enabled               bool
	Addr                  string
	Password              string
	DB                    int
	TLSInsecureSkipVerify bool
}

// KafkaConfig configures the research job topic.
type KafkaConfig struct {
	Brokers     string
	JobsTopic   string
	GroupID     string
}

// ClickHouseConfig configures the audit/metrics analytics store.
type ClickHouseConfig struct {
	DSN      string
	Database string
	Table    string
}

// ObsConfig configures OpenTelemetry tracing/metrics.
type ObsConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLP           string
}

// AuthConfig configures bearer-token identity verification (§6).
// The OIDC login/authentication *flow* itself remains a collaborator
// boundary (Non-goal b); this only verifies tokens presented to the API.
type AuthConfig struct {
	Enabled      bool
	IssuerURL    string
	ClientID     string
	// InsecureSkipVerify disables signature verification; dev/test only.
	InsecureSkipVerify bool
}

// MemoryTuning holds the cadence/recall/research knobs from §6's
// Configuration table.
type MemoryTuning struct {
	AuditMsgThreshold   int
	AuditTokenThreshold int
	AuditTimeMS         int
	QualityThreshold    float64
	DedupThreshold      float64
	DedupWindow         int

	RecallDeadlineDefaultMS int
	RecallDeadlineMaxMS     int

	ResearchSidecarEnabled    bool
	FeatureMemoryReviewTrigger bool
	FeatureResearchInjection   bool
}

// ContextTuning holds the gateway's context-assembly knobs.
type ContextTuning struct {
	KeepLastTurns    int
	MaxInputTokens   int
	ProfileDeadlineMS int
	RecallDeadlineDefaultMS int
	ResearchPollIntervalMS int
	ResearchPollTotalMS    int
}

// ProviderConfig holds credentials/model ids for a single provider plug-in.
type ProviderConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// GatewayConfig is the full configuration for cmd/gateway.
type GatewayConfig struct {
	Host string
	Port int

	MemoryServiceURL string

	// ThreadDB, when empty, runs the chat-history store in-process only.
	ThreadDB string

	Auth AuthConfig
	Obs  ObsConfig

	Redis RedisConfig

	DefaultModel       string
	HighComplexityModel string

	Anthropic ProviderConfig
	OpenAI    ProviderConfig
	Gemini    ProviderConfig

	Context ContextTuning
}

// MemoryConfig is the full configuration for cmd/memoryd.
type MemoryConfig struct {
	Host string
	Port int

	// GatewayURL is the gateway's base URL (GATEWAY_URL). It is loaded but
	// not read by any code path in this build: audit windows arrive through
	// POST /v1/ingest/turn rather than being fetched from the gateway.
	GatewayURL string

	Obs        ObsConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	ClickHouse ClickHouseConfig
	DB         DBConfig

	Tuning MemoryTuning

	IngestWorkers   int
	IngestQueueSize int
	ResearchWorkers int
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// LoadGateway populates GatewayConfig from the environment.
func LoadGateway() GatewayConfig {
	var cfg GatewayConfig
	cfg.Host = getenv("GATEWAY_HOST", "0.0.0.0")
	cfg.Port = getenvInt("GATEWAY_PORT", 8081)
	cfg.MemoryServiceURL = getenv("MEMORY_SERVICE_URL", "http://localhost:8082")
	cfg.ThreadDB = firstNonEmpty(getenv("THREAD_DATABASE_URL", ""), getenv("DATABASE_URL", ""))

	cfg.Auth.Enabled = getenvBool("AUTH_ENABLED", false)
	cfg.Auth.IssuerURL = getenv("AUTH_ISSUER_URL", "")
	cfg.Auth.ClientID = getenv("AUTH_CLIENT_ID", "")
	cfg.Auth.InsecureSkipVerify = getenvBool("AUTH_INSECURE_SKIP_VERIFY", false)

	cfg.Obs.ServiceName = getenv("OTEL_SERVICE_NAME", "gateway")
	cfg.Obs.ServiceVersion = getenv("SERVICE_VERSION", "dev")
	cfg.Obs.Environment = getenv("ENVIRONMENT", "development")
	cfg.Obs.OTLP = getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	cfg.Redis.Enabled = getenvBool("REDIS_ENABLED", true)
	cfg.Redis.Addr = getenv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getenv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getenvInt("REDIS_DB", 0)
	cfg.Redis.TLSInsecureSkipVerify = getenvBool("REDIS_TLS_INSECURE_SKIP_VERIFY", false)

	cfg.DefaultModel = getenv("DEFAULT_MODEL", "gpt-4o-mini")
	cfg.HighComplexityModel = getenv("HIGH_COMPLEXITY_MODEL", "claude-opus-4-5")

	cfg.Anthropic.APIKey = getenv("ANTHROPIC_API_KEY", "")
	cfg.Anthropic.Model = getenv("ANTHROPIC_MODEL", "claude-sonnet-4-5")
	cfg.Anthropic.BaseURL = getenv("ANTHROPIC_BASE_URL", "")

	cfg.OpenAI.APIKey = getenv("OPENAI_API_KEY", "")
	cfg.OpenAI.Model = getenv("OPENAI_MODEL", "gpt-4o-mini")
	cfg.OpenAI.BaseURL = firstNonEmpty(getenv("OPENAI_BASE_URL", ""), getenv("OPENAI_API_BASE_URL", ""))

	cfg.Gemini.APIKey = getenv("GOOGLE_LLM_API_KEY", "")
	cfg.Gemini.Model = getenv("GOOGLE_LLM_MODEL", "gemini-2.5-flash")
	cfg.Gemini.BaseURL = getenv("GOOGLE_LLM_BASE_URL", "")

	cfg.Context.KeepLastTurns = getenvInt("CONTEXT_KEEP_LAST_TURNS", 10)
	cfg.Context.MaxInputTokens = getenvInt("CONTEXT_MAX_INPUT_TOKENS", 16000)
	cfg.Context.ProfileDeadlineMS = getenvInt("PROFILE_DEADLINE_MS", 30)
	cfg.Context.RecallDeadlineDefaultMS = getenvInt("RECALL_DEADLINE_DEFAULT_MS", 200)
	cfg.Context.ResearchPollIntervalMS = getenvInt("RESEARCH_POLL_INTERVAL_MS", 200)
	cfg.Context.ResearchPollTotalMS = getenvInt("RESEARCH_POLL_TOTAL_MS", 3000)

	return cfg
}

// LoadMemory populates MemoryConfig from the environment.
func LoadMemory() MemoryConfig {
	var cfg MemoryConfig
	cfg.Host = getenv("MEMORY_HOST", "0.0.0.0")
	cfg.Port = getenvInt("MEMORY_PORT", 8082)
	cfg.GatewayURL = getenv("GATEWAY_URL", "http://localhost:8081")

	cfg.Obs.ServiceName = getenv("OTEL_SERVICE_NAME", "memoryd")
	cfg.Obs.ServiceVersion = getenv("SERVICE_VERSION", "dev")
	cfg.Obs.Environment = getenv("ENVIRONMENT", "development")
	cfg.Obs.OTLP = getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	cfg.Redis.Enabled = getenvBool("REDIS_ENABLED", true)
	cfg.Redis.Addr = getenv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getenv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getenvInt("REDIS_DB", 0)
	cfg.Redis.TLSInsecureSkipVerify = getenvBool("REDIS_TLS_INSECURE_SKIP_VERIFY", false)

	cfg.Kafka.Brokers = firstNonEmpty(getenv("KAFKA_BROKERS", ""), getenv("KAFKA_BOOTSTRAP_SERVERS", ""))
	cfg.Kafka.JobsTopic = getenv("KAFKA_RESEARCH_JOBS_TOPIC", "memory.research.jobs")
	cfg.Kafka.GroupID = getenv("KAFKA_RESEARCH_GROUP_ID", "memory-research-workers")

	cfg.ClickHouse.DSN = getenv("CLICKHOUSE_DSN", "")
	cfg.ClickHouse.Database = getenv("CLICKHOUSE_DATABASE", "default")
	cfg.ClickHouse.Table = getenv("CLICKHOUSE_AUDITS_TABLE", "memory_audits")

	cfg.DB.DefaultDSN = firstNonEmpty(getenv("DATABASE_URL", ""), getenv("POSTGRES_DSN", ""))
	cfg.DB.Search.Backend = getenv("SEARCH_BACKEND", "auto")
	cfg.DB.Search.DSN = getenv("SEARCH_DSN", "")
	cfg.DB.Vector.Backend = getenv("VECTOR_BACKEND", "auto")
	cfg.DB.Vector.DSN = getenv("VECTOR_DSN", "")
	cfg.DB.Vector.Index = getenv("VECTOR_COLLECTION", "memories")
	cfg.DB.Vector.Dimensions = getenvInt("VECTOR_DIMENSIONS", 1536)
	cfg.DB.Vector.Metric = getenv("VECTOR_METRIC", "cosine")

	cfg.Tuning.AuditMsgThreshold = getenvInt("MEMORY_AUDIT_MSG_THRESHOLD", 6)
	cfg.Tuning.AuditTokenThreshold = getenvInt("MEMORY_AUDIT_TOKEN_THRESHOLD", 1500)
	cfg.Tuning.AuditTimeMS = getenvInt("MEMORY_AUDIT_TIME_MS", 180000)
	cfg.Tuning.QualityThreshold = getenvFloat("MEMORY_QUALITY_THRESHOLD", 0.3)
	cfg.Tuning.DedupThreshold = getenvFloat("MEMORY_DEDUP_THRESHOLD", 0.75)
	cfg.Tuning.DedupWindow = getenvInt("MEMORY_DEDUP_WINDOW", 50)

	cfg.Tuning.RecallDeadlineDefaultMS = getenvInt("RECALL_DEADLINE_DEFAULT_MS", 200)
	cfg.Tuning.RecallDeadlineMaxMS = getenvInt("RECALL_DEADLINE_MAX_MS", 500)

	cfg.Tuning.ResearchSidecarEnabled = getenvBool("RESEARCH_SIDECAR_ENABLED", false)
	cfg.Tuning.FeatureMemoryReviewTrigger = getenvBool("FEATURE_MEMORY_REVIEW_TRIGGER", true)
	cfg.Tuning.FeatureResearchInjection = getenvBool("FEATURE_RESEARCH_INJECTION", false)

	cfg.IngestWorkers = getenvInt("MEMORY_INGEST_WORKERS", 4)
	cfg.IngestQueueSize = getenvInt("MEMORY_INGEST_QUEUE_SIZE", 512)
	cfg.ResearchWorkers = getenvInt("MEMORY_RESEARCH_WORKERS", 2)

	return cfg
}

// Validate fails fast on configuration that would make the memory service
// unable to start correctly, mirroring the teacher's LoadConfig warnings
// but treating missing storage as fatal rather than silently defaulting.
func (c MemoryConfig) Validate() error {
	if c.DB.DefaultDSN == "" && c.DB.Search.DSN == "" && c.DB.Search.Backend == "postgres" {
		return fmt.Errorf("config: SEARCH_BACKEND=postgres requires DATABASE_URL or SEARCH_DSN")
	}
	if c.DB.DefaultDSN == "" && c.DB.Vector.DSN == "" && c.DB.Vector.Backend == "qdrant" {
		return fmt.Errorf("config: VECTOR_BACKEND=qdrant requires DATABASE_URL or VECTOR_DSN")
	}
	if c.Tuning.RecallDeadlineDefaultMS > c.Tuning.RecallDeadlineMaxMS {
		return fmt.Errorf("config: RECALL_DEADLINE_DEFAULT_MS (%d) exceeds RECALL_DEADLINE_MAX_MS (%d)", c.Tuning.RecallDeadlineDefaultMS, c.Tuning.RecallDeadlineMaxMS)
	}
	return nil
}

// Validate fails fast when no provider has credentials configured.
func (c GatewayConfig) Validate() error {
	if c.Anthropic.APIKey == "" && c.OpenAI.APIKey == "" && c.Gemini.APIKey == "" {
		return fmt.Errorf("config: at least one of ANTHROPIC_API_KEY, OPENAI_API_KEY, GOOGLE_LLM_API_KEY is required")
	}
	return nil
}
