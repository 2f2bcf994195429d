package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// App
	Port string
	Env  string

	// Store backend: "memory" or "neo4j"
	StoreBackend string

	// Neo4j
	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string

	// Dedup reservations
	LockBackend   string        // "local" or "redis"
	LockTimeout   time.Duration // bounded wait before ResolutionConflict
	LockTTL       time.Duration // redis reservation expiry safety net
	RedisAddr     string
	RedisPassword string

	// Cycle policy: "bounded", "two-cycle", "tag-only"
	CyclePolicy     string
	CycleMaxHops    int
	AllowCrossGroup bool
	AllowSelfLoops  bool

	// Traversal budgets (defaults and hard ceilings)
	DefaultMaxDepth int
	DefaultMaxPaths int
	DefaultMaxNodes int
	DefaultTimeout  time.Duration
	CeilingMaxDepth int
	CeilingMaxPaths int
	CeilingMaxNodes int
	CeilingTimeout  time.Duration
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		StoreBackend:  getEnv("STORE_BACKEND", "memory"),
		Neo4jURI:      getEnv("NEO4J_URI", "bolt://localhost:7687"),
		Neo4jUser:     getEnv("NEO4J_USER", "neo4j"),
		Neo4jPassword: getEnv("NEO4J_PASSWORD", "password"),
		LockBackend:   getEnv("LOCK_BACKEND", "local"),
		LockTimeout:   getEnvDuration("LOCK_TIMEOUT_MS", 2000),
		LockTTL:       getEnvDuration("LOCK_TTL_MS", 10000),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		CyclePolicy:     getEnv("CYCLE_POLICY", "bounded"),
		CycleMaxHops:    getEnvInt("CYCLE_MAX_HOPS", 2),
		AllowCrossGroup: getEnvBool("ALLOW_CROSS_GROUP", false),
		AllowSelfLoops:  getEnvBool("ALLOW_SELF_LOOPS", false),

		DefaultMaxDepth: getEnvInt("TRAVERSAL_MAX_DEPTH", 10),
		DefaultMaxPaths: getEnvInt("TRAVERSAL_MAX_PATHS", 10000),
		DefaultMaxNodes: getEnvInt("TRAVERSAL_MAX_NODES", 100000),
		DefaultTimeout:  getEnvDuration("TRAVERSAL_TIMEOUT_MS", 5000),
		CeilingMaxDepth: getEnvInt("TRAVERSAL_CEILING_DEPTH", 25),
		CeilingMaxPaths: getEnvInt("TRAVERSAL_CEILING_PATHS", 100000),
		CeilingMaxNodes: getEnvInt("TRAVERSAL_CEILING_NODES", 1000000),
		CeilingTimeout:  getEnvDuration("TRAVERSAL_CEILING_TIMEOUT_MS", 30000),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case "memory":
	case "neo4j":
		if c.Neo4jURI == "" {
			return fmt.Errorf("NEO4J_URI is required for the neo4j store backend")
		}
		if c.Neo4jUser == "" {
			return fmt.Errorf("NEO4J_USER is required for the neo4j store backend")
		}
		if c.Neo4jPassword == "" {
			return fmt.Errorf("NEO4J_PASSWORD is required for the neo4j store backend")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND: %s", c.StoreBackend)
	}

	switch c.LockBackend {
	case "local":
	case "redis":
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required for the redis lock backend")
		}
	default:
		return fmt.Errorf("unknown LOCK_BACKEND: %s", c.LockBackend)
	}

	switch c.CyclePolicy {
	case "bounded", "two-cycle", "tag-only":
	default:
		return fmt.Errorf("unknown CYCLE_POLICY: %s", c.CyclePolicy)
	}
	if c.CycleMaxHops < 1 {
		return fmt.Errorf("CYCLE_MAX_HOPS must be at least 1")
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("LOCK_TIMEOUT_MS must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultMillis int) time.Duration {
	return time.Duration(getEnvInt(key, defaultMillis)) * time.Millisecond
}
