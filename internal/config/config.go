// Package config loads the engine's runtime settings from the environment and
// its remediation policy from YAML, optionally pulled from a git repository.
package config

import (
	"fmt"
	"time"

	"github.com/ortelius/pdvd-remediation/util"
)

// Config holds infrastructure settings read from the environment.
type Config struct {
	Port string

	KafkaEnabled   bool
	KafkaBrokers   []string
	KafkaAPIKey    string
	KafkaAPISecret string
	RequestTopic   string
	EventTopic     string
	AnchorTopic    string
	ConsumerGroup  string

	SimulateBackends bool
	SignalsFile      string
	SandboxURL       string
	DeployURL        string
	SnapshotURL      string
	IntelURL         string
	InventoryURL     string
	BackendToken     string
	BackendTimeout   time.Duration

	JWTSecret string

	PolicyPath      string
	PolicyRepo      string
	PolicyRepoToken string
	PolicyRepoFile  string

	MetricsInterval time.Duration
	SweepInterval   time.Duration
	TraceExporter   string
	InMemoryStore   bool
}

// Load reads the environment.
func Load() *Config {
	return &Config{
		Port: util.GetEnvDefault("PORT", "8080"),

		KafkaEnabled:   util.GetEnvBool("KAFKA_ENABLED", false),
		KafkaBrokers:   util.SplitList(util.GetEnvDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaAPIKey:    util.GetEnvDefault("KAFKA_API_KEY", ""),
		KafkaAPISecret: util.GetEnvDefault("KAFKA_API_SECRET", ""),
		RequestTopic:   util.GetEnvDefault("KAFKA_REQUEST_TOPIC", "remediation-requests"),
		EventTopic:     util.GetEnvDefault("KAFKA_EVENT_TOPIC", "remediation-events"),
		AnchorTopic:    util.GetEnvDefault("KAFKA_ANCHOR_TOPIC", ""),
		ConsumerGroup:  util.GetEnvDefault("KAFKA_GROUP_ID", "pdvd-remediation-worker"),

		SimulateBackends: util.GetEnvBool("SIMULATE_BACKENDS", true),
		SignalsFile:      util.GetEnvDefault("SIMULATED_SIGNALS_FILE", ""),
		SandboxURL:       util.GetEnvDefault("SANDBOX_URL", ""),
		DeployURL:        util.GetEnvDefault("DEPLOY_URL", ""),
		SnapshotURL:      util.GetEnvDefault("SNAPSHOT_URL", ""),
		IntelURL:         util.GetEnvDefault("VULN_INTEL_URL", ""),
		InventoryURL:     util.GetEnvDefault("ASSET_INVENTORY_URL", ""),
		BackendToken:     util.GetEnvDefault("BACKEND_TOKEN", ""),
		BackendTimeout:   util.GetEnvDuration("BACKEND_TIMEOUT", 30*time.Second),

		JWTSecret: util.GetEnvDefault("JWT_SECRET", ""),

		PolicyPath:      util.GetEnvDefault("POLICY_PATH", "/etc/pdvd/remediation-policy.yaml"),
		PolicyRepo:      util.GetEnvDefault("POLICY_REPO", ""),
		PolicyRepoToken: util.GetEnvDefault("POLICY_REPO_TOKEN", ""),
		PolicyRepoFile:  util.GetEnvDefault("POLICY_REPO_FILE", "remediation-policy.yaml"),

		MetricsInterval: util.GetEnvDuration("METRICS_INTERVAL", 5*time.Minute),
		SweepInterval:   util.GetEnvDuration("SNAPSHOT_SWEEP_INTERVAL", time.Hour),
		TraceExporter:   util.GetEnvDefault("OTEL_TRACES_EXPORTER", "none"),
		InMemoryStore:   util.GetEnvBool("IN_MEMORY_STORE", false),
	}
}

// Validate checks that remote backends are configured when simulation is off.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT must not be empty")
	}
	if c.KafkaEnabled && len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when KAFKA_ENABLED is set")
	}
	if c.SimulateBackends {
		return nil
	}
	for name, v := range map[string]string{
		"SANDBOX_URL":         c.SandboxURL,
		"DEPLOY_URL":          c.DeployURL,
		"SNAPSHOT_URL":        c.SnapshotURL,
		"VULN_INTEL_URL":      c.IntelURL,
		"ASSET_INVENTORY_URL": c.InventoryURL,
	} {
		if v == "" {
			return fmt.Errorf("%s is required when SIMULATE_BACKENDS is false", name)
		}
	}
	return nil
}
