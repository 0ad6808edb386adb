package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment variables that override configuration.
// HNSFS_SERVER_LISTEN_ADDR sets server.listen_addr.
const EnvPrefix = "HNSFS_"

// LoadConfig loads configuration from multiple sources with strict priority:
// 1. Environment variables (highest priority)
// 2. Config file (config.yaml, config.yml or config.json)
// 3. Defaults (lowest priority)
func LoadConfig() (AppConfig, error) {
	return LoadConfigFromFile("")
}

// LoadConfigFromFile loads configuration with a specific config file taking
// the place of the default config files.
func LoadConfigFromFile(configFilePath string) (AppConfig, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(DefaultAppConfig(), "koanf"), nil); err != nil {
		return AppConfig{}, fmt.Errorf("failed to load default config: %w", err)
	}

	if configFilePath != "" {
		if _, err := os.Stat(configFilePath); err != nil {
			return AppConfig{}, fmt.Errorf("specified config file %s not found: %w", configFilePath, err)
		}
		if err := loadFile(k, configFilePath); err != nil {
			return AppConfig{}, err
		}
	} else {
		for _, configFile := range []string{"config.yaml", "config.yml", "config.json"} {
			if _, err := os.Stat(configFile); err == nil {
				if err := loadFile(k, configFile); err != nil {
					return AppConfig{}, err
				}
				break
			}
		}
	}

	// Only the first underscore separates section from key, so multi-word keys survive.
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", ".", 1)
	}), nil); err != nil {
		return AppConfig{}, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return AppConfig{}, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func loadFile(k *koanf.Koanf, path string) error {
	var parser koanf.Parser
	switch {
	case strings.HasSuffix(path, ".yaml"), strings.HasSuffix(path, ".yml"):
		parser = yaml.Parser()
	case strings.HasSuffix(path, ".json"):
		parser = json.Parser()
	default:
		return fmt.Errorf("unsupported config file format: %s", path)
	}

	if err := k.Load(file.Provider(path), parser); err != nil {
		return fmt.Errorf("failed to load config file %s: %w", path, err)
	}
	return nil
}

// validateConfig validates that required configuration fields are set
func validateConfig(cfg *AppConfig) error {
	if cfg.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}

	if (cfg.Server.CertFile == "") != (cfg.Server.KeyFile == "") {
		return fmt.Errorf("server.cert_file and server.key_file must be set together")
	}

	if cfg.Server.RateLimit < 0 || (cfg.Server.RateLimit > 0 && cfg.Server.RateBurst <= 0) {
		return fmt.Errorf("server.rate_burst must be positive when rate limiting is enabled")
	}

	if len(cfg.Auth.APIKeys) == 0 && cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.api_keys or auth.jwt_secret must be set")
	}

	switch cfg.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console, got %q", cfg.Log.Format)
	}

	switch cfg.Backend.Type {
	case "memory":
	case "localfs":
		if cfg.Backend.LocalFSRootPath == "" {
			return fmt.Errorf("backend.localfs_root_path is required for the localfs backend")
		}
	case "s3":
		if cfg.Backend.S3BucketName == "" {
			return fmt.Errorf("backend.s3_bucket_name is required for the s3 backend")
		}
	case "sqlite":
		if cfg.Backend.SQLitePath == "" {
			return fmt.Errorf("backend.sqlite_path is required for the sqlite backend")
		}
	case "postgres":
		if cfg.Backend.PostgresDSN == "" {
			return fmt.Errorf("backend.postgres_dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown backend.type %q", cfg.Backend.Type)
	}

	switch cfg.DLM.Type {
	case "local":
	case "redis":
		if cfg.DLM.RedisAddr == "" {
			return fmt.Errorf("dlm.redis_addr is required for the redis lock manager")
		}
	default:
		return fmt.Errorf("unknown dlm.type %q", cfg.DLM.Type)
	}

	if cfg.DLM.LockTTL <= 0 {
		return fmt.Errorf("dlm.lock_ttl must be positive")
	}

	return nil
}

// Validate checks the settings needed to reach a remote server.
func (c ClientConfig) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("client.endpoint is required")
	}
	u, err := url.Parse(c.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("client.endpoint must be an http(s) URL, got %q", c.Endpoint)
	}
	if c.BasePath == "" || !strings.HasPrefix(c.BasePath, "/") {
		return fmt.Errorf("client.base_path must be absolute")
	}
	if c.APIKey == "" && c.SharedKey == "" && c.TokenURL == "" {
		return fmt.Errorf("one of client.api_key, client.shared_key or client.token_url is required")
	}
	if c.TokenURL != "" && c.ClientID == "" {
		return fmt.Errorf("client.client_id is required with client.token_url")
	}
	return nil
}
