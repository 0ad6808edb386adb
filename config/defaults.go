package config

import "time"

// DefaultAppConfig returns an AppConfig struct with sensible default values
func DefaultAppConfig() AppConfig {
	return AppConfig{
		Server: ServerConfig{
			ListenAddr:        ":8080",
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      60 * time.Second,
			FileOpTimeout:     30 * time.Second,
			MetadataOpTimeout: 5 * time.Second,
			RateLimit:         100,
			RateBurst:         200,
		},
		Auth: AuthConfig{
			APIKeys:   []string{"default-api-key"},
			JWTIssuer: "hnsfs",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Backend: BackendConfig{
			Type:                   "memory",
			LocalFSRootPath:        "/var/lib/hnsfs",
			S3Region:               "us-east-1",
			S3ServerSideEncryption: "AES256",
			S3ACL:                  "private",
			SQLitePath:             "./hnsfs.sqlite3",
		},
		DLM: DLMConfig{
			Type:    "local",
			LockTTL: 30 * time.Second,
		},
		Cache: CacheConfig{
			TTL: 5 * time.Second,
		},
		Client: ClientConfig{
			Endpoint:        "http://localhost:8080",
			BasePath:        "/",
			Subject:         "root",
			WriteBufferSize: 4 * 1024 * 1024,
			Timeout:         60 * time.Second,
		},
	}
}
