package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Load loads configuration from file and environment variables. An empty
// configPath skips the file.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		v := viper.New()
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")

		// The file is optional; defaults and environment still apply
		if err := v.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Could not read config file %s: %v. Using defaults and environment variables.\n", configPath, err)
		} else if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	applyEnvironmentOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// applyEnvironmentOverrides applies environment variable overrides to config
func applyEnvironmentOverrides(cfg *Config) {
	// Client configuration
	if id := os.Getenv("DOCSYNC_CLIENT_ID"); id != "" {
		cfg.Client.ID = id
	}
	if tenantID := os.Getenv("DOCSYNC_TENANT_ID"); tenantID != "" {
		cfg.Client.TenantID = tenantID
	}
	if dir := os.Getenv("DOCSYNC_CACHE_DIR"); dir != "" {
		cfg.Client.CacheDir = dir
	}
	if keys := os.Getenv("DOCSYNC_LOCAL_ONLY_KEYS"); keys != "" {
		cfg.Client.LocalOnlyKeys = splitList(keys)
	}

	// Remote configuration
	if mode := os.Getenv("DOCSYNC_REMOTE_MODE"); mode != "" {
		cfg.Remote.Mode = mode
	}
	if url := os.Getenv("GATEWAY_URL"); url != "" {
		cfg.Remote.GatewayURL = url
	}
	if token := os.Getenv("DOCSYNC_AUTH_TOKEN"); token != "" {
		cfg.Remote.AuthToken = token
	}

	// Database configuration
	if dbHost := os.Getenv("DATABASE_HOST"); dbHost != "" {
		cfg.Database.Host = dbHost
	}
	if dbPort := os.Getenv("DATABASE_PORT"); dbPort != "" {
		if p, err := strconv.Atoi(dbPort); err == nil {
			cfg.Database.Port = p
		}
	}
	if dbName := os.Getenv("DATABASE_NAME"); dbName != "" {
		cfg.Database.Database = dbName
	}
	if dbUser := os.Getenv("DATABASE_USER"); dbUser != "" {
		cfg.Database.User = dbUser
	}
	if dbPassword := os.Getenv("DATABASE_PASSWORD"); dbPassword != "" {
		cfg.Database.Password = dbPassword
	}

	// Redis configuration
	if redisHost := os.Getenv("REDIS_HOST"); redisHost != "" {
		cfg.Redis.Host = redisHost
	}
	if redisPort := os.Getenv("REDIS_PORT"); redisPort != "" {
		if p, err := strconv.Atoi(redisPort); err == nil {
			cfg.Redis.Port = p
		}
	}
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		cfg.Redis.Password = redisPassword
	}

	// Gateway configuration
	if port := os.Getenv("GATEWAY_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Gateway.Port = p
		}
	}
	if secret := os.Getenv("GATEWAY_JWT_SECRET"); secret != "" {
		cfg.Gateway.JWTSecret = secret
	}

	// Logging configuration
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		cfg.Logging.Level = logLevel
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
