// Package config provides configuration loading and management for the application.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/yourorg/crossyield/internal/types"
)

// Config holds all application configuration
type Config struct {
	// HTTP server port
	Port string

	// Lending-pool adapter supplying local yield data
	PoolURL    string
	PoolAPIKey string
	ProtocolID string

	// Cross-chain relay destination
	RemoteChain   string
	RelayEndpoint string
	RelayAPIKey   string
	RelayFee      uint64

	// Identity this node signs messages with, and the default requester
	// recorded on ledger entries
	SenderID    string
	RequesterID string

	// Data-freshness and request lifecycle
	FreshnessWindow time.Duration
	RequestTimeout  time.Duration
	TickInterval    time.Duration

	// Inbound response bounds
	MaxClockSkewPast   time.Duration
	MaxClockSkewFuture time.Duration

	// Optimization policy
	LocalRiskScore  int
	RemoteRiskScore int

	// Circuit breaker for the local source
	EnableBreaker      bool
	BreakerMaxAPYBps   int
	BreakerMaxTVLJump  int
	BreakerMaxFailures int
	BreakerResetDelay  time.Duration

	// OpenTelemetry endpoint for observability
	OtelEndpoint string

	// Rate limiting on the HTTP facade
	RateLimitRPS   float64
	RateLimitBurst int
}

// Load creates a new Config from the environment. A .env file in the
// working directory is merged in first if present.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Port:               GetEnvOrDefault("PORT", "8080"),
		PoolURL:            GetEnvOrDefault("POOL_URL", "https://api.lendingpool.example/adapter"),
		PoolAPIKey:         os.Getenv("POOL_API_KEY"),
		ProtocolID:         GetEnvOrDefault("PROTOCOL_ID", "local-lending-pool"),
		RemoteChain:        GetEnvOrDefault("REMOTE_CHAIN", string(types.ChainPolygon)),
		RelayEndpoint:      GetEnvOrDefault("RELAY_ENDPOINT", "https://relay.example/messages"),
		RelayAPIKey:        os.Getenv("RELAY_API_KEY"),
		RelayFee:           GetEnvAsUint64("RELAY_FEE", 0),
		SenderID:           GetEnvOrDefault("SENDER_ID", "crossyield-node"),
		RequesterID:        GetEnvOrDefault("REQUESTER_ID", "crossyield-operator"),
		FreshnessWindow:    GetEnvAsDuration("FRESHNESS_WINDOW", 5*time.Minute),
		RequestTimeout:     GetEnvAsDuration("REQUEST_TIMEOUT", 10*time.Minute),
		TickInterval:       GetEnvAsDuration("TICK_INTERVAL", 30*time.Second),
		MaxClockSkewPast:   GetEnvAsDuration("MAX_CLOCK_SKEW_PAST", time.Hour),
		MaxClockSkewFuture: GetEnvAsDuration("MAX_CLOCK_SKEW_FUTURE", 5*time.Minute),
		LocalRiskScore:     GetEnvAsInt("LOCAL_RISK_SCORE", 10),
		RemoteRiskScore:    GetEnvAsInt("REMOTE_RISK_SCORE", 30),
		EnableBreaker:      GetEnvAsBool("ENABLE_BREAKER", true),
		BreakerMaxAPYBps:   GetEnvAsInt("BREAKER_MAX_APY_BPS", 50000),
		BreakerMaxTVLJump:  GetEnvAsInt("BREAKER_MAX_TVL_JUMP_BPS", 5000),
		BreakerMaxFailures: GetEnvAsInt("BREAKER_MAX_FAILURES", 5),
		BreakerResetDelay:  GetEnvAsDuration("BREAKER_RESET_DELAY", 5*time.Minute),
		OtelEndpoint:       GetEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		RateLimitRPS:       GetEnvAsFloat("RATE_LIMIT_RPS", 10.0),
		RateLimitBurst:     GetEnvAsInt("RATE_LIMIT_BURST", 20),
	}
}

// GetEnv retrieves an environment variable and whether it exists
func GetEnv(key string) (string, bool) {
	value, exists := os.LookupEnv(key)
	return value, exists
}

// GetEnvOrDefault retrieves an environment variable or returns the default value if not set
func GetEnvOrDefault(key, defaultValue string) string {
	if value, exists := GetEnv(key); exists {
		return value
	}
	return defaultValue
}

// GetEnvAsInt retrieves an environment variable as an integer with a default value
func GetEnvAsInt(key string, defaultValue int) int {
	if value, exists := GetEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetEnvAsUint64 retrieves an environment variable as a uint64 with a default value
func GetEnvAsUint64(key string, defaultValue uint64) uint64 {
	if value, exists := GetEnv(key); exists {
		if parsed, err := strconv.ParseUint(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// GetEnvAsFloat retrieves an environment variable as a float with a default value
func GetEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := GetEnv(key); exists {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// GetEnvAsBool retrieves an environment variable as a boolean with a default value
func GetEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := GetEnv(key); exists {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// GetEnvAsDuration retrieves an environment variable as a duration with a default value
func GetEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := GetEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
