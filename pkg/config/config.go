package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

//go:generate go run ../../cmd/schema/main.go schema.json

// Config holds the application configuration
type Config struct {
	Server struct {
		Listen  string        `yaml:"listen" json:"listen" jsonschema:"default=:8080,description=HTTP server listen address"`
		Timeout time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=30s,description=HTTP server timeout"`
	} `yaml:"server" json:"server" jsonschema:"description=Server configuration"`

	Storage struct {
		DSN             string `yaml:"dsn" json:"dsn" jsonschema:"default=file:replyscope.db?cache=shared&mode=rwc,description=Database connection string"`
		MaxOpenConns    int    `yaml:"max_open_conns" json:"max_open_conns" jsonschema:"default=10,description=Maximum number of open connections"`
		MaxIdleConns    int    `yaml:"max_idle_conns" json:"max_idle_conns" jsonschema:"default=5,description=Maximum number of idle connections"`
		ConnMaxLifetime int    `yaml:"conn_max_lifetime" json:"conn_max_lifetime" jsonschema:"default=3600,description=Connection maximum lifetime in seconds"`
		SyncedMaxBytes  int    `yaml:"synced_max_bytes" json:"synced_max_bytes" jsonschema:"default=8192,description=Per-item byte ceiling of the synced tier"`
	} `yaml:"storage" json:"storage" jsonschema:"description=Durable storage configuration"`

	Feed FeedConfig `yaml:"feed" json:"feed" jsonschema:"description=Content feed configuration"`

	LLM LLMConfig `yaml:"llm" json:"llm" jsonschema:"description=Completion API configuration"`

	Match MatchConfig `yaml:"match" json:"match" jsonschema:"description=Post matching configuration"`
}

// FeedConfig holds feed fetching and enrichment settings
type FeedConfig struct {
	URL             string        `yaml:"url" json:"url" jsonschema:"required,description=RSS/Atom feed URL to match posts against"`
	Timeout         time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=30s,description=Feed fetch timeout"`
	UserAgent       string        `yaml:"user_agent" json:"user_agent" jsonschema:"default=Replyscope/1.0,description=User agent for feed requests"`
	RefreshInterval time.Duration `yaml:"refresh_interval" json:"refresh_interval" jsonschema:"default=30m,description=How long a fetched feed document stays fresh"`

	Enrich EnrichConfig `yaml:"enrich" json:"enrich" jsonschema:"description=Full-text enrichment of feed items"`
}

// EnrichConfig holds full-text extraction settings
type EnrichConfig struct {
	Enabled       bool          `yaml:"enabled" json:"enabled" jsonschema:"default=false,description=Extract full text of items lacking content"`
	Timeout       time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=30s,description=Extraction timeout per item"`
	MaxConcurrent int           `yaml:"max_concurrent" json:"max_concurrent" jsonschema:"default=5,description=Maximum concurrent extractions"`
	MinTextLength int           `yaml:"min_text_length" json:"min_text_length" jsonschema:"default=100,description=Minimum extracted text length to keep"`
}

// LLMConfig holds completion API settings
type LLMConfig struct {
	Endpoint    string        `yaml:"endpoint" json:"endpoint" jsonschema:"required,description=OpenAI-compatible API endpoint"`
	APIKey      string        `yaml:"api_key" json:"api_key" jsonschema:"description=API key (can use environment variable)"`
	Model       string        `yaml:"model" json:"model" jsonschema:"required,description=Model name"`
	Temperature float64       `yaml:"temperature" json:"temperature" jsonschema:"default=0.3,description=Temperature for response generation"`
	MaxTokens   int           `yaml:"max_tokens" json:"max_tokens" jsonschema:"default=1500,description=Maximum tokens in response"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=60s,description=Request timeout"`
	MaxRetries  int           `yaml:"max_retries" json:"max_retries" jsonschema:"default=3,description=Maximum retry attempts for transient failures"`
	BaseDelay   time.Duration `yaml:"base_delay" json:"base_delay" jsonschema:"default=1s,description=Base retry delay (doubles each attempt)"`
	MaxDelay    time.Duration `yaml:"max_delay" json:"max_delay" jsonschema:"default=30s,description=Retry delay ceiling"`
}

// MatchConfig holds matching pipeline settings. All truncation limits are
// explicit configuration, not hard-coded constants.
type MatchConfig struct {
	Mode             string        `yaml:"mode" json:"mode" jsonschema:"default=keyword,enum=keyword,enum=ai,description=Matching mode"`
	Threshold        float64       `yaml:"threshold" json:"threshold" jsonschema:"default=0.3,minimum=0,maximum=1,description=Minimum relevance score to keep a match"`
	CacheTTL         time.Duration `yaml:"cache_ttl" json:"cache_ttl" jsonschema:"default=1h,description=Per-post AI result cache TTL"`
	MaxFeedItems     int           `yaml:"max_feed_items" json:"max_feed_items" jsonschema:"default=10,description=Feed items included in the prompt"`
	FeedCharBudget   int           `yaml:"feed_char_budget" json:"feed_char_budget" jsonschema:"default=300,description=Character budget per feed item summary"`
	PostCharBudget   int           `yaml:"post_char_budget" json:"post_char_budget" jsonschema:"default=500,description=Character budget per post body"`
	MaxStyleExamples int           `yaml:"max_style_examples" json:"max_style_examples" jsonschema:"default=3,description=Writing-style examples included in the prompt"`
	CustomRules      string        `yaml:"custom_rules" json:"custom_rules" jsonschema:"description=Custom communication rules added to the prompt"`
	QueueLimit       int           `yaml:"queue_limit" json:"queue_limit" jsonschema:"default=100,description=Maximum unanalyzed posts accepted per pass"`
	MaxMatches       int           `yaml:"max_matches" json:"max_matches" jsonschema:"default=50,description=Cap on the persisted match set"`
	HeatCheck        bool          `yaml:"heat_check" json:"heat_check" jsonschema:"default=true,description=Enable tone classification of matched posts"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // file path comes from CLI flag
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.setDefaults()

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// setDefaults fills zero values with defaults
func (c *Config) setDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = ":8080"
	}
	if c.Server.Timeout == 0 {
		c.Server.Timeout = 30 * time.Second
	}

	if c.Storage.DSN == "" {
		c.Storage.DSN = "file:replyscope.db?cache=shared&mode=rwc&_txlock=immediate"
	}
	if c.Storage.MaxOpenConns == 0 {
		c.Storage.MaxOpenConns = 10
	}
	if c.Storage.MaxIdleConns == 0 {
		c.Storage.MaxIdleConns = 5
	}
	if c.Storage.ConnMaxLifetime == 0 {
		c.Storage.ConnMaxLifetime = 3600
	}
	if c.Storage.SyncedMaxBytes == 0 {
		c.Storage.SyncedMaxBytes = 8192
	}

	if c.Feed.Timeout == 0 {
		c.Feed.Timeout = 30 * time.Second
	}
	if c.Feed.UserAgent == "" {
		c.Feed.UserAgent = "Replyscope/1.0"
	}
	if c.Feed.RefreshInterval == 0 {
		c.Feed.RefreshInterval = 30 * time.Minute
	}
	if c.Feed.Enrich.Timeout == 0 {
		c.Feed.Enrich.Timeout = 30 * time.Second
	}
	if c.Feed.Enrich.MaxConcurrent == 0 {
		c.Feed.Enrich.MaxConcurrent = 5
	}
	if c.Feed.Enrich.MinTextLength == 0 {
		c.Feed.Enrich.MinTextLength = 100
	}

	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = 0.3
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 1500
	}
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = 60 * time.Second
	}
	if c.LLM.MaxRetries == 0 {
		c.LLM.MaxRetries = 3
	}
	if c.LLM.BaseDelay == 0 {
		c.LLM.BaseDelay = time.Second
	}
	if c.LLM.MaxDelay == 0 {
		c.LLM.MaxDelay = 30 * time.Second
	}

	if c.Match.Mode == "" {
		c.Match.Mode = "keyword"
	}
	if c.Match.Threshold == 0 {
		c.Match.Threshold = 0.3
	}
	if c.Match.CacheTTL == 0 {
		c.Match.CacheTTL = time.Hour
	}
	if c.Match.MaxFeedItems == 0 {
		c.Match.MaxFeedItems = 10
	}
	if c.Match.FeedCharBudget == 0 {
		c.Match.FeedCharBudget = 300
	}
	if c.Match.PostCharBudget == 0 {
		c.Match.PostCharBudget = 500
	}
	if c.Match.MaxStyleExamples == 0 {
		c.Match.MaxStyleExamples = 3
	}
	if c.Match.QueueLimit == 0 {
		c.Match.QueueLimit = 100
	}
	if c.Match.MaxMatches == 0 {
		c.Match.MaxMatches = 50
	}
}

// validate checks configuration for correctness
func validate(cfg *Config) error {
	if cfg.Feed.URL == "" {
		return fmt.Errorf("feed.url is required")
	}

	if cfg.Match.Mode != "keyword" && cfg.Match.Mode != "ai" {
		return fmt.Errorf("match.mode must be keyword or ai")
	}
	if cfg.Match.Threshold < 0 || cfg.Match.Threshold > 1 {
		return fmt.Errorf("match.threshold must be between 0 and 1")
	}
	if cfg.Match.QueueLimit < 1 {
		return fmt.Errorf("match.queue_limit must be at least 1")
	}
	if cfg.Match.MaxMatches < 1 {
		return fmt.Errorf("match.max_matches must be at least 1")
	}

	// LLM settings are required only for AI matching
	if cfg.Match.Mode == "ai" {
		if cfg.LLM.Endpoint == "" {
			return fmt.Errorf("llm.endpoint is required for ai mode")
		}
		if cfg.LLM.Model == "" {
			return fmt.Errorf("llm.model is required for ai mode")
		}
	}
	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be between 0 and 2")
	}
	if cfg.LLM.MaxRetries < 1 {
		return fmt.Errorf("llm.max_retries must be at least 1")
	}

	if cfg.Server.Timeout < time.Second {
		return fmt.Errorf("server timeout must be at least 1 second")
	}
	if cfg.Storage.SyncedMaxBytes < 1024 {
		return fmt.Errorf("storage.synced_max_bytes must be at least 1024")
	}

	return nil
}

// GetServerConfig returns server configuration
func (c *Config) GetServerConfig() (listen string, timeout time.Duration) {
	return c.Server.Listen, c.Server.Timeout
}

// GetFeedConfig returns feed configuration
func (c *Config) GetFeedConfig() FeedConfig {
	return c.Feed
}

// GetLLMConfig returns completion API configuration
func (c *Config) GetLLMConfig() LLMConfig {
	return c.LLM
}

// GetMatchConfig returns matching configuration
func (c *Config) GetMatchConfig() MatchConfig {
	return c.Match
}
