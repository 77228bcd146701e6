// Package config holds the node's runtime configuration surface.
//
// The CLI flag parser and TOML file loader that would populate this struct
// are treated as an external collaborator (spec.md §1 scope) and are not
// implemented here; Load reads the same settings directly from the
// environment so the core can be exercised without them. Every option named
// in spec.md §6 has a field below, and every field except BlockTimeTarget is
// overridable by the environment variable DCHAT_<SECTION>_<KEY> that
// spec.md §6 specifies; BlockTimeTarget always keeps its Default() value.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration consumed by node components.
type Config struct {
	// network.*
	ListenAddresses []string
	BootstrapPeers  []string
	MaxConnections  int
	EnableUPnP      bool

	// storage.*
	DataDir       string
	RetentionDays int

	// crypto.*
	KeyRotationInterval time.Duration
	HybridPostQuantum   bool

	// relay.*
	RelayEnabled bool
	RelayMaxQueue int
	RelayStake    int64

	// consensus.*
	ConsensusRole      string // "observer" | "validator"
	QuorumThreshold    float64
	ChainID            string
	BlockTimeTarget    time.Duration

	// pruning.*
	PruningPolicy string // "Archive" | "Light" | "Mobile"

	// bridge.*
	BridgeAttestationTimeout time.Duration
	BridgeValidatorSet       []string

	// server surface
	HealthAddr  string
	MetricsAddr string

	// identity
	Ed25519KeyPath string
	ValidatorID    string
}

// Default returns the configuration with the defaults spec.md §4 names.
func Default() *Config {
	return &Config{
		ListenAddresses:     []string{"/ip4/0.0.0.0/tcp/0"},
		BootstrapPeers:      nil,
		MaxConnections:      50,
		EnableUPnP:          true,
		DataDir:             "./data",
		RetentionDays:       90,
		KeyRotationInterval: 24 * time.Hour,
		HybridPostQuantum:   false,
		RelayEnabled:        false,
		RelayMaxQueue:       10000,
		RelayStake:          0,
		ConsensusRole:       "observer",
		QuorumThreshold:     2.0 / 3.0,
		ChainID:             "dchat-devnet",
		BlockTimeTarget:     2500 * time.Millisecond,
		PruningPolicy:       "Light",
		BridgeAttestationTimeout: 10 * time.Minute,
		HealthAddr:          "0.0.0.0:8081",
		MetricsAddr:         "0.0.0.0:9090",
		Ed25519KeyPath:      "",
		ValidatorID:         "",
	}
}

// Load reads configuration from environment variables, layering them over
// Default(). Recognized variables follow DCHAT_<SECTION>_<KEY>, e.g.
// DCHAT_NETWORK_MAX_CONNECTIONS, DCHAT_PRUNING_POLICY.
func Load() (*Config, error) {
	cfg := Default()

	cfg.ListenAddresses = getEnvList("DCHAT_NETWORK_LISTEN_ADDRESSES", cfg.ListenAddresses)
	cfg.BootstrapPeers = getEnvList("DCHAT_NETWORK_BOOTSTRAP_PEERS", cfg.BootstrapPeers)
	cfg.MaxConnections = getEnvInt("DCHAT_NETWORK_MAX_CONNECTIONS", cfg.MaxConnections)
	cfg.EnableUPnP = getEnvBool("DCHAT_NETWORK_ENABLE_UPNP", cfg.EnableUPnP)

	cfg.DataDir = getEnv("DCHAT_STORAGE_DATA_DIR", cfg.DataDir)
	cfg.RetentionDays = getEnvInt("DCHAT_STORAGE_RETENTION_DAYS", cfg.RetentionDays)

	cfg.KeyRotationInterval = getEnvDuration("DCHAT_CRYPTO_KEY_ROTATION_HOURS", cfg.KeyRotationInterval)
	cfg.HybridPostQuantum = getEnvBool("DCHAT_CRYPTO_HYBRID_POST_QUANTUM", cfg.HybridPostQuantum)

	cfg.RelayEnabled = getEnvBool("DCHAT_RELAY_ENABLED", cfg.RelayEnabled)
	cfg.RelayMaxQueue = getEnvInt("DCHAT_RELAY_MAX_QUEUE", cfg.RelayMaxQueue)
	cfg.RelayStake = getEnvInt64("DCHAT_RELAY_STAKE", cfg.RelayStake)

	cfg.ConsensusRole = getEnv("DCHAT_CONSENSUS_ROLE", cfg.ConsensusRole)
	cfg.QuorumThreshold = getEnvFloat("DCHAT_CONSENSUS_QUORUM_THRESHOLD", cfg.QuorumThreshold)
	cfg.ChainID = getEnv("DCHAT_CONSENSUS_CHAIN_ID", cfg.ChainID)

	cfg.PruningPolicy = getEnv("DCHAT_PRUNING_POLICY", cfg.PruningPolicy)

	cfg.BridgeAttestationTimeout = getEnvDuration("DCHAT_BRIDGE_ATTESTATION_TIMEOUT_MINUTES", cfg.BridgeAttestationTimeout)
	if v := os.Getenv("DCHAT_BRIDGE_ATTESTATION_TIMEOUT_MINUTES"); v != "" {
		if m, err := strconv.Atoi(v); err == nil {
			cfg.BridgeAttestationTimeout = time.Duration(m) * time.Minute
		}
	}
	cfg.BridgeValidatorSet = getEnvList("DCHAT_BRIDGE_VALIDATOR_SET", cfg.BridgeValidatorSet)

	cfg.HealthAddr = getEnv("DCHAT_SERVER_HEALTH_ADDR", cfg.HealthAddr)
	cfg.MetricsAddr = getEnv("DCHAT_SERVER_METRICS_ADDR", cfg.MetricsAddr)

	cfg.Ed25519KeyPath = getEnv("DCHAT_IDENTITY_KEY_PATH", cfg.Ed25519KeyPath)
	cfg.ValidatorID = getEnv("DCHAT_IDENTITY_VALIDATOR_ID", cfg.ValidatorID)

	return cfg, nil
}

// Validate checks internal consistency of the loaded configuration.
func (c *Config) Validate() error {
	var problems []string

	if c.MaxConnections <= 0 {
		problems = append(problems, "network.max_connections must be positive")
	}
	if c.QuorumThreshold <= 0.5 || c.QuorumThreshold > 1.0 {
		problems = append(problems, "consensus.quorum_threshold must be in (0.5, 1.0]")
	}
	switch c.ConsensusRole {
	case "observer", "validator":
	default:
		problems = append(problems, fmt.Sprintf("consensus.role %q is not one of {observer, validator}", c.ConsensusRole))
	}
	switch c.PruningPolicy {
	case "Archive", "Light", "Mobile":
	default:
		problems = append(problems, fmt.Sprintf("pruning.policy %q is not one of {Archive, Light, Mobile}", c.PruningPolicy))
	}
	if c.RelayEnabled && c.RelayMaxQueue <= 0 {
		problems = append(problems, "relay.max_queue must be positive when relay.enabled")
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

// PruneHorizon returns the retention horizon for the configured policy per
// spec.md §4.F: Archive never prunes, Light is 90 days, Mobile is 30 days.
func (c *Config) PruneHorizon() (days int, neverPrune bool) {
	switch c.PruningPolicy {
	case "Archive":
		return 0, true
	case "Mobile":
		return 30, false
	default: // Light
		return 90, false
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if i, err := strconv.Atoi(v); err == nil {
			return time.Duration(i) * time.Hour
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
