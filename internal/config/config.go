// Package config builds the immutable runtime configuration from the
// process environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Configuration errors. These are fatal: the process refuses to start.
var (
	ErrMissingServerAddress = errors.New("config: SERVER_ADDRESS is required for the payment protocol")
	ErrInvalidServerAddress = errors.New("config: SERVER_ADDRESS is not a valid hex address")
	ErrMissingFacilitator   = errors.New("config: FACILITATOR_URL is required when D402_TESTING_MODE is disabled")
)

const (
	defaultPort    = 8000
	defaultNetwork = "sepolia"
)

// Config holds every startup setting. It is constructed once by FromEnv and
// passed explicitly to each component; nothing reads the environment after
// startup.
type Config struct {
	// ServerAddress is the payment recipient (IATP wallet contract).
	ServerAddress string

	// APIKey is the server's internal NewsAPI key. When set, callers
	// presenting it bypass the payment requirement and the key is forwarded
	// upstream as a bearer credential. When empty, payment is required for
	// every tool call.
	APIKey string

	// OperatorPrivateKey signs operator-side payment messages.
	OperatorPrivateKey string

	FacilitatorURL    string
	FacilitatorAPIKey string

	// TestingMode skips the facilitator entirely and admits any
	// well-formed payment payload.
	TestingMode bool

	Network  string
	Port     int
	LogLevel string
}

// FromEnv reads the configuration from the environment and validates it.
func FromEnv() (*Config, error) {
	cfg := &Config{
		ServerAddress:      os.Getenv("SERVER_ADDRESS"),
		APIKey:             os.Getenv("TEST_NEWSAPI_MCP_API_KEY"),
		OperatorPrivateKey: os.Getenv("MCP_OPERATOR_PRIVATE_KEY"),
		FacilitatorURL:     os.Getenv("FACILITATOR_URL"),
		FacilitatorAPIKey:  os.Getenv("D402_FACILITATOR_API_KEY"),
		TestingMode:        boolEnv("D402_TESTING_MODE"),
		Network:            os.Getenv("NETWORK"),
		LogLevel:           os.Getenv("LOG_LEVEL"),
		Port:               defaultPort,
	}

	if cfg.FacilitatorURL == "" {
		cfg.FacilitatorURL = os.Getenv("D402_FACILITATOR_URL")
	}
	if cfg.Network == "" {
		cfg.Network = defaultNetwork
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if raw := os.Getenv("PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("config: invalid PORT %q: %w", raw, err)
		}
		cfg.Port = port
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the startup invariants.
func (c *Config) Validate() error {
	if c.ServerAddress == "" {
		return ErrMissingServerAddress
	}
	if !common.IsHexAddress(c.ServerAddress) {
		return fmt.Errorf("%w: %q", ErrInvalidServerAddress, c.ServerAddress)
	}
	if c.FacilitatorURL == "" && !c.TestingMode {
		return ErrMissingFacilitator
	}
	return nil
}

func boolEnv(key string) bool {
	return strings.EqualFold(os.Getenv(key), "true")
}
