package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from an optional YAML file with environment
// variable overrides applied on top.
func Load(configFile string) (*Config, error) {
	cfg := Default()

	if configFile != "" {
		if err := loadFromFile(cfg, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromFile loads configuration from a YAML file.
func loadFromFile(cfg *Config, filename string) error {
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return fmt.Errorf("config file does not exist: %s", filename)
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return nil
}

// loadFromEnv applies environment variable overrides.
func loadFromEnv(cfg *Config) error {
	if port := os.Getenv("PORT"); port != "" {
		v, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Server.Port = v
	}

	if url := os.Getenv("SM_REDIS_URL"); url != "" {
		cfg.Registry.URL = url
	}

	if port := os.Getenv("SERV_REST_PORT"); port != "" {
		v, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid SERV_REST_PORT: %w", err)
		}
		cfg.Backend.RestPort = v
	}

	if ms := os.Getenv("SERVER_TIMEOUT_MS"); ms != "" {
		v, err := parseMillis(ms)
		if err != nil {
			return fmt.Errorf("invalid SERVER_TIMEOUT_MS: %w", err)
		}
		cfg.Backend.Timeout = v
	}

	if max := os.Getenv("MAX_CONCURRENT_REQUESTS"); max != "" {
		v, err := strconv.Atoi(max)
		if err != nil {
			return fmt.Errorf("invalid MAX_CONCURRENT_REQUESTS: %w", err)
		}
		cfg.Server.MaxConcurrentRequests = v
	}

	if threshold := os.Getenv("ERROR_THRESHOLD"); threshold != "" {
		v, err := strconv.Atoi(threshold)
		if err != nil {
			return fmt.Errorf("invalid ERROR_THRESHOLD: %w", err)
		}
		cfg.Breaker.ErrorThreshold = v
	}

	if ms := os.Getenv("ERROR_TIMEOUT"); ms != "" {
		v, err := parseMillis(ms)
		if err != nil {
			return fmt.Errorf("invalid ERROR_TIMEOUT: %w", err)
		}
		cfg.Breaker.ErrorTimeout = v
	}

	if threshold := os.Getenv("CRITICAL_LOAD_THRESHOLD"); threshold != "" {
		v, err := strconv.ParseFloat(threshold, 64)
		if err != nil {
			return fmt.Errorf("invalid CRITICAL_LOAD_THRESHOLD: %w", err)
		}
		cfg.Backend.CriticalLoadThreshold = v
	}

	if threshold := os.Getenv("REROUTE_THRESHOLD"); threshold != "" {
		v, err := strconv.Atoi(threshold)
		if err != nil {
			return fmt.Errorf("invalid REROUTE_THRESHOLD: %w", err)
		}
		cfg.Breaker.RerouteThreshold = v
	}

	if ms := os.Getenv("REROUTE_WINDOW_MS"); ms != "" {
		v, err := parseMillis(ms)
		if err != nil {
			return fmt.Errorf("invalid REROUTE_WINDOW_MS: %w", err)
		}
		cfg.Breaker.RerouteWindow = v
	}

	if ms := os.Getenv("HEALTH_INTERVAL_MS"); ms != "" {
		v, err := parseMillis(ms)
		if err != nil {
			return fmt.Errorf("invalid HEALTH_INTERVAL_MS: %w", err)
		}
		cfg.Health.Interval = v
	}

	if secret := os.Getenv("GATEWAY_SECRET"); secret != "" {
		cfg.Server.GatewaySecret = secret
	}

	if types := os.Getenv("SERVICE_TYPES"); types != "" {
		cfg.Backend.ServiceTypes = strings.Split(types, ",")
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}

	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}

	return nil
}

// parseMillis parses a millisecond count into a duration.
func parseMillis(s string) (time.Duration, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	return time.Duration(v) * time.Millisecond, nil
}
