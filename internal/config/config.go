// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port            string
	FrontendURL     string
	DBPath          string
	GRPCHealthAddr  string
	HistoryLimit    int
	AdminUserIDs    []string
	ConversationLog ConversationLogConfig
	RateLimit       RateLimitConfig
	SSE             SSEConfig
	Timeout         TimeoutConfig
	LLM             LLMConfig
	Knowledge       KnowledgeConfig
	Search          SearchConfig
	Voice           VoiceConfig
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// RateLimitConfig throttles chat requests per user.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// SSEConfig tunes the streaming chat endpoint.
type SSEConfig struct {
	MaxRequestBodySize int64
	KeepaliveInterval  time.Duration
}

// TimeoutConfig bounds calls made outside a turn.
type TimeoutConfig struct {
	HealthCheck time.Duration
	Turn        time.Duration
}

// LLMConfig selects the generation and embedding models.
type LLMConfig struct {
	APIKey         string
	Model          string
	Temperature    float64
	EmbeddingModel string
}

// KnowledgeConfig tunes retrieval from the knowledge index.
type KnowledgeConfig struct {
	TopK      int
	Threshold float64
	MaxChars  int
}

// SearchConfig holds credentials for the two web search providers.
type SearchConfig struct {
	TavilyAPIKey         string
	TavilyDepth          string
	PerplexityAPIKey     string
	PerplexityMaxResults int
	Timeout              time.Duration
}

// VoiceConfig controls transcription, synthesis and the voice queues.
type VoiceConfig struct {
	DeepgramAPIKey      string
	TranscriptionModel  string
	Language            string
	UtteranceEndMs      int
	Encoding            string
	SampleRate          int
	TTSProvider         string
	TTSModel            string
	PollyRegion         string
	PollyVoice          string
	PollyEngine         string
	AudioQueueSize      int
	TranscriptQueueSize int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:           getEnv("PORT", "8000"),
		FrontendURL:    getEnv("FRONTEND_URL", ""),
		DBPath:         getEnv("DB_PATH", "./data/salesbot.db"),
		GRPCHealthAddr: getEnv("GRPC_HEALTH_ADDR", ":50051"),
		HistoryLimit:   getEnvInt("HISTORY_LIMIT", 10),
		AdminUserIDs:   getEnvList("ADMIN_USER_IDS"),
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 20),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		SSE: SSEConfig{
			MaxRequestBodySize: int64(getEnvInt("SSE_MAX_REQUEST_BODY", 1<<20)),
			KeepaliveInterval:  getEnvDuration("SSE_KEEPALIVE_INTERVAL", 10*time.Second),
		},
		Timeout: TimeoutConfig{
			HealthCheck: getEnvDuration("HEALTH_CHECK_TIMEOUT", 5*time.Second),
			Turn:        getEnvDuration("TURN_TIMEOUT", 3*time.Minute),
		},
		LLM: LLMConfig{
			APIKey:         getEnv("GOOGLE_API_KEY", ""),
			Model:          getEnv("LLM_MODEL", "gemini-2.0-flash"),
			Temperature:    getEnvFloat("LLM_TEMPERATURE", 0),
			EmbeddingModel: getEnv("EMBEDDING_MODEL", "text-embedding-004"),
		},
		Knowledge: KnowledgeConfig{
			TopK:      getEnvInt("KNOWLEDGE_TOP_K", 3),
			Threshold: getEnvFloat("KNOWLEDGE_THRESHOLD", 0.7),
			MaxChars:  getEnvInt("KNOWLEDGE_MAX_CHARS", 10000),
		},
		Search: SearchConfig{
			TavilyAPIKey:         getEnv("TAVILY_API_KEY", ""),
			TavilyDepth:          getEnv("TAVILY_SEARCH_DEPTH", "advanced"),
			PerplexityAPIKey:     getEnv("PERPLEXITY_API_KEY", ""),
			PerplexityMaxResults: getEnvInt("PERPLEXITY_MAX_RESULTS", 5),
			Timeout:              getEnvDuration("SEARCH_TIMEOUT", 30*time.Second),
		},
		Voice: VoiceConfig{
			DeepgramAPIKey:      getEnv("DEEPGRAM_API_KEY", ""),
			TranscriptionModel:  getEnv("TRANSCRIPTION_MODEL", "nova-3"),
			Language:            getEnv("TRANSCRIPTION_LANGUAGE", "en-US"),
			UtteranceEndMs:      getEnvInt("UTTERANCE_END_MS", 1000),
			Encoding:            getEnv("AUDIO_ENCODING", ""),
			SampleRate:          getEnvInt("AUDIO_SAMPLE_RATE", 0),
			TTSProvider:         strings.ToLower(getEnv("TTS_PROVIDER", "deepgram")),
			TTSModel:            getEnv("TTS_MODEL", "aura-asteria-en"),
			PollyRegion:         getEnv("POLLY_REGION", getEnv("AWS_REGION", "us-east-1")),
			PollyVoice:          getEnv("POLLY_VOICE", "Joanna"),
			PollyEngine:         getEnv("POLLY_ENGINE", "neural"),
			AudioQueueSize:      getEnvInt("VOICE_AUDIO_QUEUE_SIZE", 64),
			TranscriptQueueSize: getEnvInt("VOICE_TRANSCRIPT_QUEUE_SIZE", 8),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("GOOGLE_API_KEY cannot be empty")
	}
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("HISTORY_LIMIT must be > 0")
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	if c.Knowledge.TopK <= 0 {
		return fmt.Errorf("KNOWLEDGE_TOP_K must be > 0")
	}
	if c.Knowledge.Threshold < 0 || c.Knowledge.Threshold > 1 {
		return fmt.Errorf("KNOWLEDGE_THRESHOLD must be within [0, 1]")
	}
	if c.Voice.AudioQueueSize <= 0 || c.Voice.TranscriptQueueSize <= 0 {
		return fmt.Errorf("voice queue sizes must be > 0")
	}
	switch c.Voice.TTSProvider {
	case "deepgram", "polly":
	default:
		return fmt.Errorf("TTS_PROVIDER must be deepgram or polly, got %q", c.Voice.TTSProvider)
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// IsAdmin reports whether userID may read operator endpoints.
func (c *Config) IsAdmin(userID string) bool {
	return userID != "" && slices.Contains(c.AdminUserIDs, userID)
}

// AllowedOrigins returns the CORS allow-list.
func (c *Config) AllowedOrigins() []string {
	if c.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{c.FrontendURL}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// getEnvList splits a comma-separated variable, dropping blanks.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
