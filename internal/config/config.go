// Package config loads EDGELESS process configuration from the environment,
// grounded on the teacher's common/config package. CLI parsing and
// template generation (spec.md §1, §6) are external collaborators; this
// package only models the settings struct they would populate.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all service configuration.
type Config struct {
	Service      ServiceConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	Orchestrator OrchestratorConfig
	Node         NodeConfig
	Transport    TransportConfig
	Telemetry    TelemetryConfig
}

// ServiceConfig holds process-wide settings.
type ServiceConfig struct {
	Name        string
	Environment string
	LogLevel    string
	LogFormat   string
	HTTPPort    int
}

// DatabaseConfig holds Postgres connection settings backing the
// orchestrator's durable instance table.
type DatabaseConfig struct {
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
	Enabled     bool
}

// RedisConfig backs the control-plane rate limiter and node-register
// peer-change pub/sub fanout.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Enabled  bool
}

// OrchestratorConfig tunes placement/reconciliation behavior.
type OrchestratorConfig struct {
	AgentRPCTimeout  time.Duration
	AgentRPCRetries  int
	ReconcileWorkers int
	DefaultReplicas  int
	// ParentUrl is the domain orchestrator this orchestrator registers
	// itself with, if set (SPEC_FULL.md "Domain registration handshake").
	// Empty means this orchestrator is a domain root.
	ParentUrl string
	// AgentUrl/InvocationUrl are how this domain presents itself to
	// ParentUrl, as if the whole domain were a single node.
	AgentUrl      string
	InvocationUrl string
}

// NodeConfig tunes the per-node agent/runtime/data-plane.
type NodeConfig struct {
	AgentUrl         string
	InvocationUrl    string
	ManagementAddr   string
	CallTimeout      time.Duration
	ReconnectRetries int
	HealthInterval   time.Duration
	WasmEngine       string   // "wazero" or "wasmtime"
	Labels           []string
	Runtimes         []string
}

// TransportConfig selects and tunes wire transports (spec.md §6).
type TransportConfig struct {
	GRPCEnabled bool
	CoAPEnabled bool
	CoAPAddr    string
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	EnableMetrics bool
	MetricsPort   int
}

// Load loads configuration from environment variables for the named
// service ("orchestrator" or "node").
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"),
			HTTPPort:    getEnvInt("PORT", 8080),
		},
		Database: DatabaseConfig{
			Enabled:     getEnvBool("POSTGRES_ENABLED", true),
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "edgeless"),
			User:        getEnv("POSTGRES_USER", "edgeless"),
			Password:    getEnv("POSTGRES_PASSWORD", "edgeless"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 20),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 2),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", true),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Orchestrator: OrchestratorConfig{
			AgentRPCTimeout:  getEnvDuration("ORC_AGENT_RPC_TIMEOUT", 5*time.Second),
			AgentRPCRetries:  getEnvInt("ORC_AGENT_RPC_RETRIES", 3),
			ReconcileWorkers: getEnvInt("ORC_RECONCILE_WORKERS", 8),
			DefaultReplicas:  getEnvInt("ORC_DEFAULT_REPLICAS", 1),
			ParentUrl:        getEnv("ORC_PARENT_URL", ""),
			AgentUrl:         getEnv("ORC_DOMAIN_AGENT_URL", "localhost:8443"),
			InvocationUrl:    getEnv("ORC_DOMAIN_INVOCATION_URL", "localhost:8444"),
		},
		Node: NodeConfig{
			AgentUrl:         getEnv("NODE_AGENT_URL", "localhost:7001"),
			InvocationUrl:    getEnv("NODE_INVOCATION_URL", "localhost:7002"),
			ManagementAddr:   getEnv("NODE_MANAGEMENT_ADDR", ":7003"),
			CallTimeout:      getEnvDuration("NODE_CALL_TIMEOUT", 10*time.Second),
			ReconnectRetries: getEnvInt("NODE_RECONNECT_RETRIES", 5),
			HealthInterval:   getEnvDuration("NODE_HEALTH_INTERVAL", 30*time.Second),
			WasmEngine:       getEnv("NODE_WASM_ENGINE", "wazero"),
			Labels:           getEnvSlice("NODE_LABELS", nil),
			Runtimes:         getEnvSlice("NODE_RUNTIMES", []string{"native"}),
		},
		Transport: TransportConfig{
			GRPCEnabled: getEnvBool("TRANSPORT_GRPC_ENABLED", true),
			CoAPEnabled: getEnvBool("TRANSPORT_COAP_ENABLED", false),
			CoAPAddr:    getEnv("TRANSPORT_COAP_ADDR", ":5683"),
		},
		Telemetry: TelemetryConfig{
			EnableMetrics: getEnvBool("ENABLE_METRICS", true),
			MetricsPort:   getEnvInt("METRICS_PORT", 9090),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks configuration consistency, reported at startup per
// spec.md §7 ("Configuration errors ... abort the process").
func (c *Config) Validate() error {
	if c.Service.HTTPPort < 1 || c.Service.HTTPPort > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.HTTPPort)
	}
	if c.Database.Enabled && c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns must be >= min_conns")
	}
	if c.Node.WasmEngine != "wazero" && c.Node.WasmEngine != "wasmtime" {
		return fmt.Errorf("unknown wasm engine: %s", c.Node.WasmEngine)
	}
	return nil
}

// DatabaseURL returns the PostgreSQL connection string.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User, c.Database.Password, c.Database.Host, c.Database.Port, c.Database.Database,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
