// Package config loads runtime configuration from environment variables
// (optionally backed by a .env file), following the conventions of the
// rest of the stack: string values are trimmed, numeric values fall back
// to sane defaults, and nothing here panics on a missing variable.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// OpenAIConfig configures the OpenAI-compatible chat client used by the
// activity, summarization and agent-dispatch stages.
type OpenAIConfig struct {
	APIKey         string
	BaseURL        string
	SummaryBaseURL string
	SummaryModel   string
	Model          string
	EmbeddingModel string
	API            string // "completions" or "responses"
	ExtraParams    map[string]any
	LogPayloads    bool
}

// AnthropicPromptCacheConfig controls which parts of a request are marked
// for Anthropic prompt caching.
type AnthropicPromptCacheConfig struct {
	Enabled       bool
	CacheSystem   bool
	CacheTools    bool
	CacheMessages bool
}

// AnthropicConfig configures the Anthropic client.
type AnthropicConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	ExtraParams map[string]any
	PromptCache AnthropicPromptCacheConfig
}

// GoogleConfig configures the Gemini client.
type GoogleConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout int // seconds
}

// LLMClientConfig selects and configures the active model provider.
type LLMClientConfig struct {
	Provider  string // "openai" (default), "anthropic", "google"
	OpenAI    OpenAIConfig
	Anthropic AnthropicConfig
	Google    GoogleConfig
}

// MCPServerConfig describes a single MCP server to connect to, either as a
// local subprocess (stdio transport) or a remote HTTP endpoint (streamable
// HTTP transport).
type MCPServerConfig struct {
	Name             string
	Command          string
	Args             []string
	Env              map[string]string
	URL              string
	KeepAliveSeconds int
	Headers          map[string]string
	BearerToken      string
	Origin           string
	ProtocolVersion  string
	HTTP             MCPServerHTTPConfig
}

// MCPServerHTTPConfig controls transport-level behavior for remote MCP servers.
type MCPServerHTTPConfig struct {
	ProxyURL       string
	TimeoutSeconds int
	TLS            MCPServerTLSConfig
}

// MCPServerTLSConfig controls certificate validation for remote MCP servers.
type MCPServerTLSConfig struct {
	InsecureSkipVerify bool
}

// MCPConfig lists the external MCP servers whose tools should be folded
// into the in-process toolkit alongside the local tool implementations.
type MCPConfig struct {
	Servers []MCPServerConfig
}

// ObsConfig controls OpenTelemetry tracing/metrics export.
type ObsConfig struct {
	OTLP           string
	ServiceName    string
	ServiceVersion string
	Environment    string
}

// HistoryConfig mirrors the thresholds that drive summarization and
// pruning of the channel history.
type HistoryConfig struct {
	// SummarizeSizeThreshold is the character count, measured from the
	// oldest retained message, past which a channel becomes eligible for
	// summarization.
	SummarizeSizeThreshold int
	// SummarizeDaysAgoThreshold is how many days must separate "now" from
	// a message's timestamp before it becomes eligible for summarization.
	SummarizeDaysAgoThreshold int
	// MaxConversationSize is a character cap across all channels combined.
	// It is loaded here; no stage reads it, so nothing is pruned when it is
	// exceeded.
	MaxConversationSize int
	// ChannelSizeThreshold is a per-channel character cap. It is loaded
	// here; no stage reads it.
	ChannelSizeThreshold int
	// MinimumContentSizePerSummary is the minimum character count a
	// summary must cover before it is considered worth keeping on its own.
	MinimumContentSizePerSummary int
}

// FormatterConfig holds the formatter's character budget setting. It is
// loaded here; no stage reads CharacterBudget.
type FormatterConfig struct {
	CharacterBudget int
}

// WakeupConfig controls the self-wakeup HTTP call used to resume a thread
// after a long-running tool call completes.
type WakeupConfig struct {
	ServerURL         string
	ThreadID          string
	AssistantID       string
	QuickResponseTime time.Duration
}

// RuntimeConfig carries the default activity and other small top-level knobs.
type RuntimeConfig struct {
	DefaultActivity string
	DataPath        string
	SystemPrompt    string
	AgentsFile      string
	URLCachePath    string
}

// KnowledgeConfig configures the Qdrant-backed fact store. Collection is
// empty when the knowledge stage should be skipped entirely.
type KnowledgeConfig struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	Dimension  int
	TopK       int
}

// ObjectStoreConfig configures the S3-backed artifact store. Bucket is empty
// when artifact persistence should be skipped (vision results stay inline).
type ObjectStoreConfig struct {
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string
}

// TelemetryConfig configures the ClickHouse event sink. DSN is empty when
// telemetry should be skipped, matching telemetry.New's (nil, nil) contract.
type TelemetryConfig struct {
	DSN            string
	Table          string
	TimeoutSeconds int
}

// VisionConfig configures the image/media enrichment chain.
type VisionConfig struct {
	WhisperModelPath string
}

// CheckpointerConfig selects which pipeline.Checkpointer backend cmd/weaved
// wires up.
type CheckpointerConfig struct {
	Driver      string // "mem" (default), "postgres", "redis"
	PostgresDSN string
	RedisAddr   string
	RedisPrefix string
}

// Config is the fully-resolved runtime configuration.
type Config struct {
	Host string
	Port int

	LogPath  string
	LogLevel string

	Runtime      RuntimeConfig
	LLMClient    LLMClientConfig
	MCP          MCPConfig
	Obs          ObsConfig
	History      HistoryConfig
	Formatter    FormatterConfig
	Wakeup       WakeupConfig
	Knowledge    KnowledgeConfig
	ObjectStore  ObjectStoreConfig
	Telemetry    TelemetryConfig
	Vision       VisionConfig
	Checkpointer CheckpointerConfig
}

// Load reads configuration from environment variables (optionally loaded
// from a .env file via godotenv.Overload, so repository-local overrides win
// over whatever the shell already exported).
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := Config{
		Host: firstNonEmpty(strings.TrimSpace(getenv("HOST")), "0.0.0.0"),
		Port: intFromEnv("PORT", 8080),

		LogPath:  strings.TrimSpace(getenv("LOG_PATH")),
		LogLevel: firstNonEmpty(strings.TrimSpace(getenv("LOG_LEVEL")), "info"),
		Runtime: RuntimeConfig{
			DefaultActivity: firstNonEmpty(strings.TrimSpace(getenv("DEFAULT_ACTIVITY")), "conversing"),
			DataPath:        firstNonEmpty(strings.TrimSpace(getenv("DATA_PATH")), "./data"),
			SystemPrompt:    strings.TrimSpace(getenv("SYSTEM_PROMPT")),
			AgentsFile:      strings.TrimSpace(getenv("AGENTS_FILE")),
			URLCachePath:    firstNonEmpty(strings.TrimSpace(getenv("URL_CACHE_PATH")), "./data/urlcache.json"),
		},
		LLMClient: LLMClientConfig{
			Provider: strings.TrimSpace(getenv("LLM_PROVIDER")),
			OpenAI: OpenAIConfig{
				APIKey:         strings.TrimSpace(getenv("OPENAI_API_KEY")),
				BaseURL:        firstNonEmpty(strings.TrimSpace(getenv("OPENAI_BASE_URL")), strings.TrimSpace(getenv("OPENAI_API_BASE_URL"))),
				SummaryBaseURL: strings.TrimSpace(getenv("OPENAI_SUMMARY_URL")),
				SummaryModel:   strings.TrimSpace(getenv("OPENAI_SUMMARY_MODEL")),
				Model:          firstNonEmpty(strings.TrimSpace(getenv("OPENAI_MODEL")), "gpt-4o-mini"),
				EmbeddingModel: firstNonEmpty(strings.TrimSpace(getenv("OPENAI_EMBEDDING_MODEL")), "text-embedding-3-small"),
				API:            firstNonEmpty(strings.TrimSpace(getenv("OPENAI_API")), "completions"),
				LogPayloads:    boolFromEnv("OPENAI_LOG_PAYLOADS", false),
			},
			Anthropic: AnthropicConfig{
				APIKey:  strings.TrimSpace(getenv("ANTHROPIC_API_KEY")),
				BaseURL: strings.TrimSpace(getenv("ANTHROPIC_BASE_URL")),
				Model:   strings.TrimSpace(getenv("ANTHROPIC_MODEL")),
				PromptCache: AnthropicPromptCacheConfig{
					Enabled:       boolFromEnv("ANTHROPIC_PROMPT_CACHE", true),
					CacheSystem:   boolFromEnv("ANTHROPIC_PROMPT_CACHE_SYSTEM", false),
					CacheTools:    boolFromEnv("ANTHROPIC_PROMPT_CACHE_TOOLS", false),
					CacheMessages: boolFromEnv("ANTHROPIC_PROMPT_CACHE_MESSAGES", false),
				},
			},
			Google: GoogleConfig{
				APIKey:  strings.TrimSpace(getenv("GOOGLE_GEMINI_KEY")),
				BaseURL: strings.TrimSpace(getenv("GOOGLE_BASE_URL")),
				Model:   strings.TrimSpace(getenv("GOOGLE_MODEL")),
				Timeout: intFromEnv("GOOGLE_TIMEOUT_SECONDS", 0),
			},
		},
		Obs: ObsConfig{
			OTLP:           strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
			ServiceName:    firstNonEmpty(strings.TrimSpace(getenv("OTEL_SERVICE_NAME")), "weave"),
			ServiceVersion: strings.TrimSpace(getenv("OTEL_SERVICE_VERSION")),
			Environment:    firstNonEmpty(strings.TrimSpace(getenv("OTEL_ENVIRONMENT")), "development"),
		},
		History: HistoryConfig{
			SummarizeSizeThreshold:       intFromEnv("SUMMARIZE_SIZE_THRESHOLD", 4000),
			SummarizeDaysAgoThreshold:    intFromEnv("SUMMARIZE_DAYS_AGO_THRESHOLD", 2),
			MaxConversationSize:          intFromEnv("MAX_CONVERSATION_SIZE", 50000),
			ChannelSizeThreshold:         intFromEnv("CHANNEL_SIZE_THRESHOLD", 20000),
			MinimumContentSizePerSummary: intFromEnv("MINIMUM_CONTENT_SIZE_PER_SUMMARY", 300),
		},
		Formatter: FormatterConfig{
			CharacterBudget: intFromEnv("FORMATTER_CHARACTER_BUDGET", 12000),
		},
		Wakeup: WakeupConfig{
			ServerURL:         firstNonEmpty(strings.TrimSpace(getenv("RUNTIME_SERVER_URL")), "http://localhost:8080"),
			ThreadID:          firstNonEmpty(strings.TrimSpace(getenv("RUNTIME_THREAD_ID")), "default"),
			AssistantID:       firstNonEmpty(strings.TrimSpace(getenv("RUNTIME_ASSISTANT_ID")), "weave"),
			QuickResponseTime: time.Duration(intFromEnv("QUICK_RESPONSE_TIME_SECONDS", 2)) * time.Second,
		},
		Knowledge: KnowledgeConfig{
			Host:       strings.TrimSpace(getenv("QDRANT_HOST")),
			Port:       intFromEnv("QDRANT_PORT", 6334),
			APIKey:     strings.TrimSpace(getenv("QDRANT_API_KEY")),
			UseTLS:     boolFromEnv("QDRANT_USE_TLS", false),
			Collection: strings.TrimSpace(getenv("KNOWLEDGE_COLLECTION")),
			Dimension:  intFromEnv("KNOWLEDGE_DIMENSION", 1536),
			TopK:       intFromEnv("KNOWLEDGE_TOP_K", 5),
		},
		ObjectStore: ObjectStoreConfig{
			Bucket:   strings.TrimSpace(getenv("OBJECT_STORE_BUCKET")),
			Prefix:   strings.TrimSpace(getenv("OBJECT_STORE_PREFIX")),
			Region:   strings.TrimSpace(getenv("OBJECT_STORE_REGION")),
			Endpoint: strings.TrimSpace(getenv("OBJECT_STORE_ENDPOINT")),
		},
		Telemetry: TelemetryConfig{
			DSN:            strings.TrimSpace(getenv("CLICKHOUSE_DSN")),
			Table:          firstNonEmpty(strings.TrimSpace(getenv("CLICKHOUSE_TABLE")), "pipeline_events"),
			TimeoutSeconds: intFromEnv("CLICKHOUSE_TIMEOUT_SECONDS", 5),
		},
		Vision: VisionConfig{
			WhisperModelPath: strings.TrimSpace(getenv("WHISPER_MODEL_PATH")),
		},
		Checkpointer: CheckpointerConfig{
			Driver:      firstNonEmpty(strings.TrimSpace(getenv("CHECKPOINTER_DRIVER")), "mem"),
			PostgresDSN: strings.TrimSpace(getenv("CHECKPOINTER_POSTGRES_DSN")),
			RedisAddr:   strings.TrimSpace(getenv("CHECKPOINTER_REDIS_ADDR")),
			RedisPrefix: firstNonEmpty(strings.TrimSpace(getenv("CHECKPOINTER_REDIS_PREFIX")), "weave:state:"),
		},
	}

	if cfg.LLMClient.OpenAI.APIKey == "" && cfg.LLMClient.Anthropic.APIKey == "" && cfg.LLMClient.Google.APIKey == "" {
		log.Warn().Msg("no model provider api key set; requests to the configured provider will fail")
	}

	return cfg, nil
}

func getenv(key string) string { return os.Getenv(key) }

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func intFromEnv(key string, def int) int {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("invalid integer env var, using default")
		return def
	}
	return n
}

func boolFromEnv(key string, def bool) bool {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("invalid boolean env var, using default")
		return def
	}
	return b
}
