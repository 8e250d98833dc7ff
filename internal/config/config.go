package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/territory-engine/internal/cache"
	"github.com/sells-group/territory-engine/internal/engine"
	"github.com/sells-group/territory-engine/internal/model"
	"github.com/sells-group/territory-engine/internal/provider"
	"github.com/sells-group/territory-engine/internal/resilience"
	"github.com/sells-group/territory-engine/internal/resolver"
	"github.com/sells-group/territory-engine/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig                    `yaml:"store" mapstructure:"store"`
	Region    []model.ZipRange               `yaml:"region" mapstructure:"region"`
	Providers ProvidersConfig                `yaml:"providers" mapstructure:"providers"`
	Resolver  resolver.Params                `yaml:"resolver" mapstructure:"resolver"`
	Cache     cache.Options                  `yaml:"cache" mapstructure:"cache"`
	Retry     resilience.RetryConfig         `yaml:"retry" mapstructure:"retry"`
	Breaker   resilience.CircuitBreakerConfig `yaml:"breaker" mapstructure:"breaker"`
	Bulk      engine.BulkOptions             `yaml:"bulk" mapstructure:"bulk"`
	Server    ServerConfig                   `yaml:"server" mapstructure:"server"`
	Log       LogConfig                      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string           `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string           `yaml:"database_url" mapstructure:"database_url"`
	Pool        store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// ProvidersConfig configures the external territory authorities.
type ProvidersConfig struct {
	// TimeoutSecs bounds each provider call.
	TimeoutSecs int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	// CoverageTablePath points at the YAML coverage range table. Empty means
	// every provider is queried for every code.
	CoverageTablePath string `yaml:"coverage_table" mapstructure:"coverage_table"`

	GridOp    GridOpConfig             `yaml:"grid_operator" mapstructure:"grid_operator"`
	Regulator RegulatorConfig          `yaml:"regulator" mapstructure:"regulator"`
	Utilities []provider.UtilityConfig `yaml:"utilities" mapstructure:"utilities"`
}

// GridOpConfig holds grid operator registry settings.
type GridOpConfig struct {
	BaseURL string  `yaml:"base_url" mapstructure:"base_url"`
	RPS     float64 `yaml:"rps" mapstructure:"rps"`
}

// RegulatorConfig holds state regulator directory settings.
type RegulatorConfig struct {
	BaseURL string  `yaml:"base_url" mapstructure:"base_url"`
	APIKey  string  `yaml:"api_key" mapstructure:"api_key"`
	RPS     float64 `yaml:"rps" mapstructure:"rps"`
}

// ServerConfig configures the HTTP service.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ProviderTimeout returns the per-provider call timeout.
func (p ProvidersConfig) ProviderTimeout() time.Duration {
	if p.TimeoutSecs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(p.TimeoutSecs) * time.Second
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("TERRITORY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("providers.timeout_secs", 5)
	v.SetDefault("providers.grid_operator.base_url", "https://registry.gridops.example.com/v2")
	v.SetDefault("providers.grid_operator.rps", 10)
	v.SetDefault("providers.regulator.base_url", "https://directory.puc.texas.gov/api")
	v.SetDefault("providers.regulator.rps", 5)
	v.SetDefault("resolver.agreement_boost", 5)
	v.SetDefault("resolver.conflict_penalty", 10)
	v.SetDefault("resolver.fallback_penalty", 20)
	v.SetDefault("resolver.min_neighbor_confidence", 80)
	v.SetDefault("cache.memory_ttl_cap", 10*time.Minute)
	v.SetDefault("cache.failure_ttl", 5*time.Minute)
	v.SetDefault("retry.max_attempts", 2)
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.reset_timeout", 30*time.Second)
	v.SetDefault("bulk.batch_size", 10)
	v.SetDefault("bulk.concurrency", 10)
	v.SetDefault("bulk.batch_delay", time.Second)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
