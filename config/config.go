package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "TOOLGATE"

// ServerConfig holds all configuration for the server.
// Tags use mapstructure for Viper unmarshalling; every key can be set from
// the environment as TOOLGATE_<KEY>.
type ServerConfig struct {
	HTTPAddr    string `mapstructure:"http_addr"`
	PublicURL   string `mapstructure:"public_url"`
	RoutePrefix string `mapstructure:"route_prefix"`

	LogLevel  string `mapstructure:"log_level"`
	LogPretty bool   `mapstructure:"log_pretty"`

	GrantTTL      time.Duration `mapstructure:"grant_ttl"`
	GrantStore    string        `mapstructure:"grant_store"`
	StoreShards   int           `mapstructure:"store_shards"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`

	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPrefix   string `mapstructure:"redis_prefix"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	CatalogBackend  string        `mapstructure:"catalog_backend"`
	CatalogFile     string        `mapstructure:"catalog_file"`
	CatalogCacheTTL time.Duration `mapstructure:"catalog_cache_ttl"`

	MongoURI    string `mapstructure:"mongo_uri"`
	MongoDBName string `mapstructure:"mongo_db_name"`

	JWTSecret     string `mapstructure:"jwt_secret"`
	CredentialKey string `mapstructure:"credential_key"`

	ReturnURL       string `mapstructure:"return_url"`
	BlockInspection bool   `mapstructure:"block_inspection"`

	TracingEnabled  bool   `mapstructure:"tracing_enabled"`
	OtelServiceName string `mapstructure:"otel_service_name"`
}

const (
	StoreMemory = "memory"
	StoreRedis  = "redis"

	CatalogMongo  = "mongodb"
	CatalogStatic = "static"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_addr", "0.0.0.0:8080")
	v.SetDefault("public_url", "http://localhost:8080")
	v.SetDefault("route_prefix", "/api/secure-access")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_pretty", false)
	v.SetDefault("grant_ttl", 5*time.Minute)
	v.SetDefault("grant_store", StoreMemory)
	v.SetDefault("store_shards", 32)
	v.SetDefault("sweep_interval", time.Minute)
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_prefix", "toolgate")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("catalog_backend", CatalogMongo)
	v.SetDefault("catalog_file", "tools.yaml")
	v.SetDefault("catalog_cache_ttl", 30*time.Second)
	v.SetDefault("mongo_uri", "mongodb://localhost:27017")
	v.SetDefault("mongo_db_name", "toolgate")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("credential_key", "")
	v.SetDefault("return_url", "/")
	v.SetDefault("block_inspection", true)
	v.SetDefault("tracing_enabled", false)
	v.SetDefault("otel_service_name", "toolgate")
}

// LoadConfig reads configuration from file, environment variables, and
// defaults. An empty path searches toolgate.yaml in the usual locations; a
// missing file is not an error then.
func LoadConfig(path string) (*ServerConfig, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("toolgate")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/toolgate/")
		v.AddConfigPath("$HOME/.toolgate")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the settings that have no usable default.
func (c *ServerConfig) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("config: jwt_secret is required")
	}
	if c.GrantTTL <= 0 {
		return fmt.Errorf("config: grant_ttl must be positive, got %s", c.GrantTTL)
	}
	if c.SweepInterval < 0 {
		return fmt.Errorf("config: sweep_interval must not be negative, got %s", c.SweepInterval)
	}

	switch c.GrantStore {
	case StoreMemory, StoreRedis:
	default:
		return fmt.Errorf("config: unknown grant_store %q", c.GrantStore)
	}

	switch c.CatalogBackend {
	case CatalogMongo, CatalogStatic:
	default:
		return fmt.Errorf("config: unknown catalog_backend %q", c.CatalogBackend)
	}

	return nil
}

// LaunchBaseURL is the absolute URL launch links are built on.
func (c *ServerConfig) LaunchBaseURL() string {
	return strings.TrimRight(c.PublicURL, "/") + c.RoutePrefix + "/launch"
}
