// Package config provides configuration management for hnsfs.
// It handles loading and validating configuration from YAML/JSON files and environment variables.
package config

import "time"

// AppConfig represents the complete application configuration
type AppConfig struct {
	Server  ServerConfig  `koanf:"server"`
	Auth    AuthConfig    `koanf:"auth"`
	Log     LogConfig     `koanf:"log"`
	Metrics MetricsConfig `koanf:"metrics"`
	Backend BackendConfig `koanf:"backend"`
	DLM     DLMConfig     `koanf:"dlm"`
	Cache   CacheConfig   `koanf:"cache"`
	Client  ClientConfig  `koanf:"client"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	ListenAddr        string        `koanf:"listen_addr"`
	CertFile          string        `koanf:"cert_file"` // TLS is enabled when both files are set
	KeyFile           string        `koanf:"key_file"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	FileOpTimeout     time.Duration `koanf:"file_op_timeout"`
	MetadataOpTimeout time.Duration `koanf:"metadata_op_timeout"`
	RateLimit         float64       `koanf:"rate_limit"` // requests per second per client, 0 disables
	RateBurst         int           `koanf:"rate_burst"`
}

// AuthConfig holds server-side authentication configuration
type AuthConfig struct {
	APIKeys            []string `koanf:"api_keys"` // "key" or "user:key"
	JWTSecret          string   `koanf:"jwt_secret"`
	JWTIssuer          string   `koanf:"jwt_issuer"`
	EnforcePermissions bool     `koanf:"enforce_permissions"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // "json" or "console"
}

// MetricsConfig holds metrics server configuration
type MetricsConfig struct {
	ListenAddr string `koanf:"listen_addr"` // empty serves /metrics on the main listener
}

// BackendConfig holds namespace storage configuration
type BackendConfig struct {
	Type                   string `koanf:"type"` // memory, localfs, s3, sqlite or postgres
	LocalFSRootPath        string `koanf:"localfs_root_path"`
	S3AccessKey            string `koanf:"s3_access_key"`
	S3SecretKey            string `koanf:"s3_secret_key"`
	S3Region               string `koanf:"s3_region"`
	S3BucketName           string `koanf:"s3_bucket_name"`
	S3Endpoint             string `koanf:"s3_endpoint"`               // Custom S3 endpoint (e.g., for MinIO)
	S3ServerSideEncryption string `koanf:"s3_server_side_encryption"` // SSE algorithm (AES256, aws:kms)
	S3ACL                  string `koanf:"s3_acl"`
	S3KMSKeyID             string `koanf:"s3_kms_key_id"`
	SQLitePath             string `koanf:"sqlite_path"`
	PostgresDSN            string `koanf:"postgres_dsn"`
}

// DLMConfig holds distributed lock manager configuration
type DLMConfig struct {
	Type          string        `koanf:"type"` // local or redis
	RedisAddr     string        `koanf:"redis_addr"`
	RedisPassword string        `koanf:"redis_password"`
	LockTTL       time.Duration `koanf:"lock_ttl"`
}

// CacheConfig holds entry cache configuration
type CacheConfig struct {
	TTL time.Duration `koanf:"ttl"` // 0 disables the cache
}

// ClientConfig holds settings for the client side of the demo command
type ClientConfig struct {
	Endpoint        string        `koanf:"endpoint"`
	BasePath        string        `koanf:"base_path"`
	APIKey          string        `koanf:"api_key"`
	SharedKey       string        `koanf:"shared_key"`
	Subject         string        `koanf:"subject"`
	TokenURL        string        `koanf:"token_url"`
	ClientID        string        `koanf:"client_id"`
	ClientSecret    string        `koanf:"client_secret"`
	Scopes          []string      `koanf:"scopes"`
	WriteBufferSize int           `koanf:"write_buffer_size"`
	Timeout         time.Duration `koanf:"timeout"`
	SkipTLSVerify   bool          `koanf:"skip_tls_verify"`
}
