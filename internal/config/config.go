// File: internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/viper"

	"github.com/smartdevs17/solana-mint-listener/pkg/utils"
)

const (
	heliusRPCTemplate = "https://mainnet.helius-rpc.com/?api-key=%s"
	heliusWSTemplate  = "wss://mainnet.helius-rpc.com/?api-key=%s"
)

// Config holds all configuration for the application
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Solana     SolanaConfig     `mapstructure:"solana"`
	Helius     HeliusConfig     `mapstructure:"helius"`
	Enrichment EnrichmentConfig `mapstructure:"enrichment"`
	Processor  ProcessorConfig  `mapstructure:"processor"`
	Hub        HubConfig        `mapstructure:"hub"`
	Server     ServerConfig     `mapstructure:"server"`
	Relay      RelayConfig      `mapstructure:"relay"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// SolanaConfig contains the log feed and transaction lookup configuration
type SolanaConfig struct {
	ProgramID           string        `mapstructure:"program_id"`
	RPCURL              string        `mapstructure:"rpc_url"`
	WSURL               string        `mapstructure:"ws_url"`
	Commitment          string        `mapstructure:"commitment"`
	InstructionMarker   string        `mapstructure:"instruction_marker"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout"`
	ReconnectBackoffMax time.Duration `mapstructure:"reconnect_backoff_max"`
	RequestsPerSecond   int           `mapstructure:"requests_per_second"`
}

// HeliusConfig contains the provider credential shared by RPC and DAS
type HeliusConfig struct {
	APIKey string `mapstructure:"api_key"`
	DASURL string `mapstructure:"das_url"`
}

// EnrichmentConfig contains metadata lookup configuration
type EnrichmentConfig struct {
	Timeout           time.Duration `mapstructure:"timeout"`
	PlaceholderImage  string        `mapstructure:"placeholder_image"`
	RequestsPerSecond int           `mapstructure:"requests_per_second"`
}

// ProcessorConfig contains record processing configuration
type ProcessorConfig struct {
	MaxConcurrentProcessing int           `mapstructure:"max_concurrent_processing"`
	QueueSize               int           `mapstructure:"queue_size"`
	ProcessingTimeout       time.Duration `mapstructure:"processing_timeout"`
	DedupSize               int           `mapstructure:"dedup_size"`
}

// HubConfig contains broadcast configuration
type HubConfig struct {
	BufferSize int `mapstructure:"buffer_size"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Host            string        `mapstructure:"host"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	EnableMetrics   bool          `mapstructure:"enable_metrics"`
	EnableHealth    bool          `mapstructure:"enable_health"`
	StreamKeepAlive time.Duration `mapstructure:"stream_keepalive"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// RelayConfig contains optional outbound relays of enriched events
type RelayConfig struct {
	Kafka   KafkaRelayConfig   `mapstructure:"kafka"`
	Webhook WebhookRelayConfig `mapstructure:"webhook"`
}

// KafkaRelayConfig configures the Kafka relay
type KafkaRelayConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// WebhookRelayConfig configures the webhook relay
type WebhookRelayConfig struct {
	Enabled       bool              `mapstructure:"enabled"`
	URL           string            `mapstructure:"url"`
	Headers       map[string]string `mapstructure:"headers"`
	Timeout       time.Duration     `mapstructure:"timeout"`
	RetryAttempts int               `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration     `mapstructure:"retry_delay"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
	Output string `mapstructure:"output"` // stdout, stderr, file
	File   string `mapstructure:"file"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./internal/config")
	}

	v.SetEnvPrefix("MINT_LISTENER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Legacy variable names from the web deployment
	_ = v.BindEnv("helius.api_key", "HELIUS_API_KEY", "MINT_LISTENER_HELIUS_API_KEY")
	_ = v.BindEnv("solana.program_id", "PUMP_FUN_PROGRAM_ID", "NEXT_PUBLIC_PUMP_FUN_PROGRAM_ID", "MINT_LISTENER_SOLANA_PROGRAM_ID")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || configPath != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.applyDerived()
	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "solana-mint-listener")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", false)

	// Solana defaults
	v.SetDefault("solana.commitment", "finalized")
	v.SetDefault("solana.instruction_marker", "Program log: Instruction: InitializeMint2")
	v.SetDefault("solana.request_timeout", "30s")
	v.SetDefault("solana.reconnect_backoff_max", "30s")
	v.SetDefault("solana.requests_per_second", 10)

	// Enrichment defaults
	v.SetDefault("enrichment.timeout", "10s")
	v.SetDefault("enrichment.placeholder_image", "/placeholder.jpg")
	v.SetDefault("enrichment.requests_per_second", 10)

	// Processor defaults
	v.SetDefault("processor.max_concurrent_processing", 8)
	v.SetDefault("processor.queue_size", 256)
	v.SetDefault("processor.processing_timeout", "45s")
	v.SetDefault("processor.dedup_size", 4096)

	// Hub defaults
	v.SetDefault("hub.buffer_size", 256)

	// Server defaults. Streams are long-lived, so no write timeout.
	v.SetDefault("server.port", 8081)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "0s")
	v.SetDefault("server.enable_metrics", true)
	v.SetDefault("server.enable_health", true)
	v.SetDefault("server.stream_keepalive", "15s")
	v.SetDefault("server.allowed_origins", []string{"*"})

	// Relay defaults
	v.SetDefault("relay.kafka.enabled", false)
	v.SetDefault("relay.kafka.topic", "solana.mints")
	v.SetDefault("relay.webhook.enabled", false)
	v.SetDefault("relay.webhook.timeout", "10s")
	v.SetDefault("relay.webhook.retry_attempts", 3)
	v.SetDefault("relay.webhook.retry_delay", "1s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
}

// applyDerived fills the provider endpoints from the API key when not set explicitly
func (c *Config) applyDerived() {
	if c.Helius.APIKey == "" {
		return
	}
	key := url.QueryEscape(c.Helius.APIKey)
	if c.Solana.RPCURL == "" {
		c.Solana.RPCURL = fmt.Sprintf(heliusRPCTemplate, key)
	}
	if c.Solana.WSURL == "" {
		c.Solana.WSURL = fmt.Sprintf(heliusWSTemplate, key)
	}
	if c.Helius.DASURL == "" {
		c.Helius.DASURL = c.Solana.RPCURL
	}
}

// Validate validates the configuration. Missing credentials are fatal at startup.
func (c *Config) Validate() error {
	if c.Solana.ProgramID == "" {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Program ID is required", "set PUMP_FUN_PROGRAM_ID")
	}
	if _, err := solana.PublicKeyFromBase58(c.Solana.ProgramID); err != nil {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Program ID is not a valid public key", err.Error())
	}
	if c.Helius.APIKey == "" {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Helius API key is required", "set HELIUS_API_KEY")
	}
	// Mints are only reported once final, so both the feed and the lookup stay at finalized
	if c.Solana.Commitment != "" && c.Solana.Commitment != "finalized" {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Unsupported commitment",
			fmt.Sprintf("got %q, only finalized is supported", c.Solana.Commitment))
	}
	if c.Solana.InstructionMarker == "" {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Instruction marker must not be empty")
	}
	if c.Processor.MaxConcurrentProcessing <= 0 {
		return utils.NewAppError(utils.ErrCodeConfiguration, "processor max concurrent processing must be positive")
	}
	if c.Processor.QueueSize <= 0 {
		return utils.NewAppError(utils.ErrCodeConfiguration, "processor queue size must be positive")
	}
	if c.Hub.BufferSize <= 0 {
		return utils.NewAppError(utils.ErrCodeConfiguration, "hub buffer size must be positive")
	}
	if c.Relay.Kafka.Enabled && (len(c.Relay.Kafka.Brokers) == 0 || c.Relay.Kafka.Topic == "") {
		return utils.NewAppError(utils.ErrCodeConfiguration, "kafka relay requires brokers and topic")
	}
	if c.Relay.Webhook.Enabled && c.Relay.Webhook.URL == "" {
		return utils.NewAppError(utils.ErrCodeConfiguration, "webhook relay requires a url")
	}
	return nil
}
