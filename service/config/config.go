package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/tokenburn/service/burn"
	solanaclient "github.com/brojonat/tokenburn/service/solana"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"gopkg.in/yaml.v3"
)

// FileEnvVar names an optional YAML file whose values are used as defaults.
// Keys are the environment variable names in any case, e.g. `solana_rpc_url: ...`.
const FileEnvVar = "TOKENBURN_CONFIG"

const (
	NetworkMainnet = "mainnet"
	NetworkDevnet  = "devnet"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string
	// AllowedOrigins are the browser origins (scheme://host[:port]) that may call
	// the server. Requests carrying any other Origin header are refused.
	AllowedOrigins []string

	// Solana configuration. SOLANA_RPC_URL may list several endpoints separated by commas.
	SolanaRPCURLs   []string
	SolanaNetwork   string
	TreasuryAddress solana.PublicKey

	// Fee bounds
	MinFeeLamports uint64
	MaxFeeLamports uint64

	// Confirmation configuration
	ConfirmCommitment      rpc.CommitmentType
	ConfirmInitialInterval time.Duration
	ConfirmMaxInterval     time.Duration
	ConfirmTimeout         time.Duration

	// RPC configuration
	RPCRequestTimeout time.Duration
	RPCRateLimit      float64
	RPCRateBurst      int

	// NATS configuration. An empty URL disables outcome notifications.
	NATSURL           string
	NATSSubjectPrefix string
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	src, err := newSource(os.Getenv(FileEnvVar))
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = src.getOrDefault("SERVER_ADDR", "127.0.0.1:8787")
	cfg.LogLevel = src.getOrDefault("LOG_LEVEL", "info")
	for _, origin := range splitList(src.get("ALLOWED_ORIGINS")) {
		cfg.AllowedOrigins = append(cfg.AllowedOrigins, strings.TrimSuffix(origin, "/"))
	}

	// Solana configuration
	cfg.SolanaRPCURLs = splitList(src.get("SOLANA_RPC_URL"))
	if len(cfg.SolanaRPCURLs) == 0 {
		errs = append(errs, fmt.Errorf("SOLANA_RPC_URL is required"))
	}

	cfg.SolanaNetwork = strings.ToLower(src.getOrDefault("SOLANA_NETWORK", NetworkMainnet))

	treasury := src.get("TREASURY_ADDRESS")
	if treasury == "" {
		errs = append(errs, fmt.Errorf("TREASURY_ADDRESS is required"))
	} else if pk, err := solana.PublicKeyFromBase58(treasury); err != nil {
		errs = append(errs, fmt.Errorf("TREASURY_ADDRESS: invalid address %q: %w", treasury, err))
	} else {
		cfg.TreasuryAddress = pk
	}

	// Fee bounds
	if v, err := src.parseUint("MIN_FEE_LAMPORTS", 0); err != nil {
		errs = append(errs, err)
	} else {
		cfg.MinFeeLamports = v
	}
	if v, err := src.parseUint("MAX_FEE_LAMPORTS", 100_000_000); err != nil {
		errs = append(errs, err)
	} else {
		cfg.MaxFeeLamports = v
	}

	// Confirmation configuration
	cfg.ConfirmCommitment = rpc.CommitmentType(strings.ToLower(src.getOrDefault("CONFIRM_COMMITMENT", string(rpc.CommitmentConfirmed))))

	durations := []struct {
		key string
		def string
		dst *time.Duration
	}{
		{"CONFIRM_INITIAL_INTERVAL", "500ms", &cfg.ConfirmInitialInterval},
		{"CONFIRM_MAX_INTERVAL", "8s", &cfg.ConfirmMaxInterval},
		{"CONFIRM_TIMEOUT", "90s", &cfg.ConfirmTimeout},
		{"RPC_REQUEST_TIMEOUT", "15s", &cfg.RPCRequestTimeout},
	}
	for _, d := range durations {
		v, err := src.parseDuration(d.key, d.def)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		*d.dst = v
	}

	// RPC rate limiting
	if v, err := src.parseFloat("RPC_RATE_LIMIT", 5); err != nil {
		errs = append(errs, err)
	} else {
		cfg.RPCRateLimit = v
	}
	if v, err := src.parseInt("RPC_RATE_BURST", 1); err != nil {
		errs = append(errs, err)
	} else {
		cfg.RPCRateBurst = v
	}

	// NATS configuration
	cfg.NATSURL = src.get("NATS_URL")
	cfg.NATSSubjectPrefix = src.getOrDefault("NATS_SUBJECT_PREFIX", "burns")

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	for _, origin := range c.AllowedOrigins {
		if !validOrigin(origin) {
			errs = append(errs, fmt.Errorf("AllowedOrigins: %q is not an origin of the form scheme://host[:port]", origin))
		}
	}

	if len(c.SolanaRPCURLs) == 0 {
		errs = append(errs, fmt.Errorf("SolanaRPCURLs is required"))
	}

	if c.SolanaNetwork != NetworkMainnet && c.SolanaNetwork != NetworkDevnet {
		errs = append(errs, fmt.Errorf("SolanaNetwork must be %q or %q, got %q", NetworkMainnet, NetworkDevnet, c.SolanaNetwork))
	}

	if c.TreasuryAddress.IsZero() {
		errs = append(errs, fmt.Errorf("TreasuryAddress is required"))
	}

	if c.MinFeeLamports > c.MaxFeeLamports {
		errs = append(errs, fmt.Errorf("MinFeeLamports (%d) cannot be greater than MaxFeeLamports (%d)",
			c.MinFeeLamports, c.MaxFeeLamports))
	}

	if c.ConfirmCommitment != rpc.CommitmentConfirmed && c.ConfirmCommitment != rpc.CommitmentFinalized {
		errs = append(errs, fmt.Errorf("ConfirmCommitment must be %q or %q, got %q",
			rpc.CommitmentConfirmed, rpc.CommitmentFinalized, c.ConfirmCommitment))
	}

	if c.ConfirmInitialInterval <= 0 {
		errs = append(errs, fmt.Errorf("ConfirmInitialInterval must be positive"))
	}

	if c.ConfirmMaxInterval < c.ConfirmInitialInterval {
		errs = append(errs, fmt.Errorf("ConfirmInitialInterval (%v) cannot be greater than ConfirmMaxInterval (%v)",
			c.ConfirmInitialInterval, c.ConfirmMaxInterval))
	}

	if c.ConfirmTimeout < c.ConfirmInitialInterval {
		errs = append(errs, fmt.Errorf("ConfirmTimeout must be at least ConfirmInitialInterval"))
	}

	if c.RPCRequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("RPCRequestTimeout must be positive"))
	}

	if c.RPCRateLimit < 0 {
		errs = append(errs, fmt.Errorf("RPCRateLimit cannot be negative"))
	}

	if c.RPCRateLimit > 0 && c.RPCRateBurst < 1 {
		errs = append(errs, fmt.Errorf("RPCRateBurst must be at least 1 when rate limiting is enabled"))
	}

	if c.NATSURL != "" && c.NATSSubjectPrefix == "" {
		errs = append(errs, fmt.Errorf("NATSSubjectPrefix is required when NATSURL is set"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// validOrigin accepts exactly an http(s) scheme and host, as browsers send them.
func validOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Host != "" && u.Scheme+"://"+u.Host == origin
}

// EngineConfig returns the burn engine settings.
func (c *Config) EngineConfig() burn.Config {
	return burn.Config{
		Treasury:               c.TreasuryAddress,
		MinFeeLamports:         c.MinFeeLamports,
		MaxFeeLamports:         c.MaxFeeLamports,
		ConfirmInitialInterval: c.ConfirmInitialInterval,
		ConfirmMaxInterval:     c.ConfirmMaxInterval,
		ConfirmTimeout:         c.ConfirmTimeout,
		RequestTimeout:         c.RPCRequestTimeout,
	}
}

// ClientOptions returns the network client settings.
func (c *Config) ClientOptions() solanaclient.Options {
	return solanaclient.Options{
		Commitment: c.ConfirmCommitment,
		RateLimit:  c.RPCRateLimit,
		RateBurst:  c.RPCRateBurst,
	}
}

// source resolves a setting from the environment first, then the config file.
type source struct {
	file map[string]string
}

func newSource(path string) (*source, error) {
	src := &source{file: map[string]string{}}
	if path == "" {
		return src, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	for k, v := range raw {
		if v == nil {
			continue
		}
		if list, ok := v.([]any); ok {
			parts := make([]string, 0, len(list))
			for _, item := range list {
				parts = append(parts, fmt.Sprint(item))
			}
			src.file[strings.ToUpper(k)] = strings.Join(parts, ",")
			continue
		}
		src.file[strings.ToUpper(k)] = fmt.Sprint(v)
	}
	return src, nil
}

func (s *source) get(key string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return s.file[key]
}

// getOrDefault returns the environment variable value or a default if not set.
func (s *source) getOrDefault(key, defaultValue string) string {
	if value := s.get(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func (s *source) parseDuration(key, defaultValue string) (time.Duration, error) {
	value := s.getOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func (s *source) parseInt(key string, defaultValue int) (int, error) {
	value := s.get(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

func (s *source) parseUint(key string, defaultValue uint64) (uint64, error) {
	value := s.get(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid unsigned integer %q: %w", key, value, err)
	}
	return result, nil
}

func (s *source) parseFloat(key string, defaultValue float64) (float64, error) {
	value := s.get(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid number %q: %w", key, value, err)
	}
	return result, nil
}

func splitList(value string) []string {
	var out []string
	for part := range strings.SplitSeq(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
