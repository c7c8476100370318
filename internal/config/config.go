package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the investigation engine.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Elasticsearch ElasticsearchConfig `yaml:"elasticsearch"`
	Cache         CacheConfig         `yaml:"cache"`
	Logging       LoggingConfig       `yaml:"logging"`
	Investigation InvestigationConfig `yaml:"investigation"`
}

// ServerConfig controls the MCP transport and the metrics listener.
type ServerConfig struct {
	// MCPTransport is "stdio" or "http".
	MCPTransport    string        `yaml:"mcpTransport"`
	MCPAddress      string        `yaml:"mcpAddress"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// ElasticsearchConfig configures access to the log event store and the
// investigations index.
type ElasticsearchConfig struct {
	URL                string        `yaml:"url"`
	APIKey             string        `yaml:"apiKey"`
	Username           string        `yaml:"username"`
	Password           string        `yaml:"password"`
	Timeout            time.Duration `yaml:"timeout"`
	LogIndex           string        `yaml:"logIndex"`
	InvestigationIndex string        `yaml:"investigationIndex"`
}

// CacheConfig controls the in-process query-result cache.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// InvestigationConfig tunes the orchestrator.
type InvestigationConfig struct {
	KnownServices  []string `yaml:"knownServices"`
	DefaultWindow  string   `yaml:"defaultWindow"`
	BucketInterval string   `yaml:"bucketInterval"`
}

// Load initialises Config from a YAML file and environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("LOGSLEUTH_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			MCPTransport:    "stdio",
			MCPAddress:      ":8080",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Elasticsearch: ElasticsearchConfig{
			URL:                "http://localhost:9200",
			Timeout:            30 * time.Second,
			LogIndex:           "logs-logsleuth",
			InvestigationIndex: "investigations-logsleuth",
		},
		Cache: CacheConfig{
			Enabled: true,
			TTL:     60 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Investigation: InvestigationConfig{
			KnownServices: []string{
				"payment-service",
				"checkout-service",
				"user-service",
				"inventory-service",
				"api-gateway",
			},
			DefaultWindow:  "1h",
			BucketInterval: "5m",
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOGSLEUTH_MCP_TRANSPORT"); v != "" {
		cfg.Server.MCPTransport = v
	}
	if v := os.Getenv("LOGSLEUTH_MCP_ADDRESS"); v != "" {
		cfg.Server.MCPAddress = v
	}
	if v := os.Getenv("LOGSLEUTH_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("LOGSLEUTH_ES_URL"); v != "" {
		cfg.Elasticsearch.URL = v
	}
	if v := os.Getenv("LOGSLEUTH_ES_API_KEY"); v != "" {
		cfg.Elasticsearch.APIKey = v
	}
	if v := os.Getenv("LOGSLEUTH_ES_USERNAME"); v != "" {
		cfg.Elasticsearch.Username = v
	}
	if v := os.Getenv("LOGSLEUTH_ES_PASSWORD"); v != "" {
		cfg.Elasticsearch.Password = v
	}
	if v := os.Getenv("LOGSLEUTH_ES_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Elasticsearch.Timeout = d
		}
	}
	if v := os.Getenv("LOGSLEUTH_ES_LOG_INDEX"); v != "" {
		cfg.Elasticsearch.LogIndex = v
	}
	if v := os.Getenv("LOGSLEUTH_ES_INVESTIGATION_INDEX"); v != "" {
		cfg.Elasticsearch.InvestigationIndex = v
	}
	if v := os.Getenv("LOGSLEUTH_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("LOGSLEUTH_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.TTL = d
		}
	}
	if v := os.Getenv("LOGSLEUTH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOGSLEUTH_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("LOGSLEUTH_KNOWN_SERVICES"); v != "" {
		var services []string
		for _, s := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(s); trimmed != "" {
				services = append(services, trimmed)
			}
		}
		if len(services) > 0 {
			cfg.Investigation.KnownServices = services
		}
	}
	if v := os.Getenv("LOGSLEUTH_DEFAULT_WINDOW"); v != "" {
		cfg.Investigation.DefaultWindow = v
	}
	if v := os.Getenv("LOGSLEUTH_BUCKET_INTERVAL"); v != "" {
		cfg.Investigation.BucketInterval = v
	}
}
