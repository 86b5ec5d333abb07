package config

import (
	"fmt"
	"time"
)

// Config holds the full gateway configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Registry RegistryConfig `yaml:"registry"`
	Backend  BackendConfig  `yaml:"backend"`
	Breaker  BreakerConfig  `yaml:"circuit_breaker"`
	Health   HealthConfig   `yaml:"health_check"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig configures the inbound HTTP surface.
type ServerConfig struct {
	// Port is the gateway listen port.
	Port int `yaml:"port"`

	// MaxConcurrentRequests caps the number of in-flight forwarded requests.
	MaxConcurrentRequests int `yaml:"max_concurrent_requests"`

	// GatewaySecret is forwarded to backends in the X-Gateway-Token header.
	GatewaySecret string `yaml:"gateway_secret"`

	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// RegistryConfig configures the shared instance registry.
type RegistryConfig struct {
	// URL is the registry connection URL (redis://host:port).
	URL string `yaml:"url"`

	// KeyPrefix prefixes per-service list keys ("service" -> "service:A").
	KeyPrefix string `yaml:"key_prefix"`
}

// BackendConfig configures outbound traffic to service instances.
type BackendConfig struct {
	// RestPort is the port backends serve REST traffic on, used when a
	// registered address does not carry one.
	RestPort int `yaml:"rest_port"`

	// Timeout is the hard deadline applied to every outbound HTTP call.
	Timeout time.Duration `yaml:"timeout"`

	// CriticalLoadThreshold is the requests-per-second level above which a
	// load sample is logged as critical.
	CriticalLoadThreshold float64 `yaml:"critical_load_threshold"`

	// ServiceTypes is the fixed set of recognized service types.
	ServiceTypes []string `yaml:"service_types"`
}

// BreakerConfig configures the per-service circuit breakers.
type BreakerConfig struct {
	// ErrorThreshold is the number of failures inside the window that trips
	// the breaker.
	ErrorThreshold int `yaml:"error_threshold"`

	// ErrorTimeout is both the failure accumulation window and the OPEN
	// dwell time.
	ErrorTimeout time.Duration `yaml:"error_timeout"`

	// RerouteThreshold is the number of consecutive reroutes that trips the
	// breaker.
	RerouteThreshold int `yaml:"reroute_threshold"`

	// RerouteWindow bounds how long reroutes count as consecutive.
	RerouteWindow time.Duration `yaml:"reroute_window"`
}

// HealthConfig configures the background health monitor.
type HealthConfig struct {
	// Interval between probe cycles.
	Interval time.Duration `yaml:"interval"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the built-in configuration defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:                  8080,
			MaxConcurrentRequests: 100,
			GatewaySecret:         "test123",
			ReadTimeout:           10 * time.Second,
			WriteTimeout:          30 * time.Second,
			IdleTimeout:           60 * time.Second,
		},
		Registry: RegistryConfig{
			URL:       "redis://localhost:6379",
			KeyPrefix: "service",
		},
		Backend: BackendConfig{
			RestPort:              5000,
			Timeout:               5000 * time.Millisecond,
			CriticalLoadThreshold: 60,
			ServiceTypes:          []string{"A", "B"},
		},
		Breaker: BreakerConfig{
			ErrorThreshold:   3,
			ErrorTimeout:     17500 * time.Millisecond,
			RerouteThreshold: 2,
			RerouteWindow:    5000 * time.Millisecond,
		},
		Health: HealthConfig{
			Interval: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Validate checks the configuration for values the gateway cannot run with.
func Validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}

	if cfg.Server.MaxConcurrentRequests <= 0 {
		return fmt.Errorf("max_concurrent_requests must be positive, got %d", cfg.Server.MaxConcurrentRequests)
	}

	if cfg.Registry.URL == "" {
		return fmt.Errorf("registry url cannot be empty")
	}

	if len(cfg.Backend.ServiceTypes) == 0 {
		return fmt.Errorf("at least one service type must be configured")
	}

	if cfg.Backend.Timeout <= 0 {
		return fmt.Errorf("backend timeout must be positive")
	}

	if cfg.Breaker.ErrorThreshold <= 0 {
		return fmt.Errorf("error_threshold must be positive, got %d", cfg.Breaker.ErrorThreshold)
	}

	if cfg.Breaker.RerouteThreshold <= 0 {
		return fmt.Errorf("reroute_threshold must be positive, got %d", cfg.Breaker.RerouteThreshold)
	}

	if cfg.Health.Interval <= 0 {
		return fmt.Errorf("health check interval must be positive")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", cfg.Logging.Level)
	}

	return nil
}
