package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAppName         = "PKPRelay"
	defaultAppEnv          = "development"
	defaultPort            = "3000"
	defaultLogLevel        = "info"
	defaultRPCURL          = "https://yellowstone-rpc.litprotocol.com"
	defaultShutdownDelay   = 10 * time.Second
	defaultIdempotencyTTL  = 24 * time.Hour
	idemTTLSecondsEnvVar   = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar       = "IDEMPOTENCY_TTL"
	shutdownSecondsEnvVar  = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar = "SHUTDOWN_TIMEOUT"
	holderKeyEnvVar        = "LIT_CAPACITY_HOLDER_KEY"
	nodeURLsPrefix         = "NODE_URLS_"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	HolderKey      string
	RPCURL         string
	InMemoryLedger bool
	ContractsFile  string
	RedisURL       string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	GasLimitPercent     int64
	GasLimitBaseDefault uint64
	MintTimeout         time.Duration
	ReceiptPollInterval time.Duration
	RequireSignedAuth   bool
	MintRatePerMinute   int

	ConnectMaxAttempts     int
	ConnectInitialInterval time.Duration
	ConnectTimeout         time.Duration
	MinHandshakes          int
	// NodeURLs is keyed by the NODE_URLS_ suffix, e.g. "DATIL_TEST".
	NodeURLs map[string][]string

	CapacityTokenID       string
	CapacityRatePerSecond int
	CapacityExpiresAt     time.Time
	DelegationUses        int
	DelegationTTL         time.Duration
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	cfg := Config{
		AppName:         getEnv("APP_NAME", defaultAppName),
		AppEnv:          getEnv("APP_ENV", defaultAppEnv),
		Port:            getEnv("PORT", defaultPort),
		LogLevel:        strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		HolderKey:       strings.TrimSpace(os.Getenv(holderKeyEnvVar)),
		RPCURL:          getEnv("CHAIN_RPC_URL", defaultRPCURL),
		ContractsFile:   os.Getenv("CONTRACTS_FILE"),
		RedisURL:        os.Getenv("REDIS_URL"),
		ShutdownPeriod:  defaultShutdownDelay,
		IdempotencyTTL:  defaultIdempotencyTTL,
		CapacityTokenID: getEnv("CAPACITY_TOKEN_ID", "157000"),
		NodeURLs:        nodeURLs(os.Environ()),
	}

	if v := os.Getenv(shutdownSecondsEnvVar); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", shutdownSecondsEnvVar, err)
		}
		cfg.ShutdownPeriod = time.Duration(seconds) * time.Second
	} else if v := os.Getenv(shutdownDurationEnvVar); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", shutdownDurationEnvVar, err)
		}
		cfg.ShutdownPeriod = d
	}

	if v := os.Getenv(idemTTLSecondsEnvVar); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", idemTTLSecondsEnvVar, err)
		}
		cfg.IdempotencyTTL = time.Duration(seconds) * time.Second
	} else if v := os.Getenv(idemTTLDurEnvVar); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", idemTTLDurEnvVar, err)
		}
		cfg.IdempotencyTTL = d
	}

	var (
		expiresAtMillis int64
		percent         int
		base            int
	)
	p := parser{}
	p.boolean("USE_IN_MEMORY_LEDGER", false, &cfg.InMemoryLedger)
	p.boolean("REQUIRE_SIGNED_AUTH", false, &cfg.RequireSignedAuth)
	p.integer("GAS_LIMIT_INCREASE_PERCENT", 200, &percent)
	p.integer("GAS_LIMIT_BASE_DEFAULT", 7159600, &base)
	p.duration("MINT_TIMEOUT", 3*time.Minute, &cfg.MintTimeout)
	p.duration("RECEIPT_POLL_INTERVAL", time.Second, &cfg.ReceiptPollInterval)
	p.integer("MINT_RATE_LIMIT_PER_MINUTE", 5, &cfg.MintRatePerMinute)
	p.integer("CONNECT_MAX_ATTEMPTS", 10, &cfg.ConnectMaxAttempts)
	p.duration("CONNECT_INITIAL_INTERVAL", 100*time.Millisecond, &cfg.ConnectInitialInterval)
	p.duration("CONNECT_TIMEOUT", 60*time.Second, &cfg.ConnectTimeout)
	p.integer("NODE_MIN_HANDSHAKES", 1, &cfg.MinHandshakes)
	p.integer("CAPACITY_RATE_PER_SECOND", 10, &cfg.CapacityRatePerSecond)
	p.int64("CAPACITY_EXPIRES_AT", 1743616200700, &expiresAtMillis)
	p.integer("DELEGATION_USES", 1, &cfg.DelegationUses)
	p.duration("DELEGATION_TTL", 2*time.Minute, &cfg.DelegationTTL)
	if p.err != nil {
		return Config{}, p.err
	}

	if percent <= 0 {
		return Config{}, fmt.Errorf("GAS_LIMIT_INCREASE_PERCENT must be positive")
	}
	if base < 0 {
		return Config{}, fmt.Errorf("GAS_LIMIT_BASE_DEFAULT must not be negative")
	}
	if cfg.DelegationUses <= 0 {
		return Config{}, fmt.Errorf("DELEGATION_USES must be positive")
	}
	if cfg.DelegationTTL <= 0 {
		return Config{}, fmt.Errorf("DELEGATION_TTL must be positive")
	}
	cfg.GasLimitPercent = int64(percent)
	cfg.GasLimitBaseDefault = uint64(base)
	cfg.CapacityExpiresAt = time.UnixMilli(expiresAtMillis).UTC()

	if cfg.HolderKey == "" {
		return Config{}, fmt.Errorf("%s must be set", holderKeyEnvVar)
	}

	if cfg.InMemoryLedger && !cfg.IsDevelopment() {
		return Config{}, fmt.Errorf("USE_IN_MEMORY_LEDGER is only allowed when APP_ENV=development, got %s", cfg.AppEnv)
	}

	return cfg, nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// IsDevelopment reports whether the service runs in a local environment.
func (c Config) IsDevelopment() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}

// NodeURLsFor returns the threshold node URLs configured for network.
func (c Config) NodeURLsFor(network string) []string {
	return c.NodeURLs[envSuffix(network)]
}

func envSuffix(network string) string {
	return strings.ToUpper(strings.ReplaceAll(network, "-", "_"))
}

func nodeURLs(environ []string) map[string][]string {
	out := map[string][]string{}
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, nodeURLsPrefix) {
			continue
		}
		var urls []string
		for _, u := range strings.Split(value, ",") {
			if u = strings.TrimSpace(u); u != "" {
				urls = append(urls, strings.TrimRight(u, "/"))
			}
		}
		if len(urls) > 0 {
			out[strings.TrimPrefix(key, nodeURLsPrefix)] = urls
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// parser keeps the first error so Load can read every typed variable in sequence.
type parser struct {
	err error
}

func (p *parser) lookup(key string) (string, bool) {
	if p.err != nil {
		return "", false
	}
	v := strings.TrimSpace(os.Getenv(key))
	return v, v != ""
}

func (p *parser) fail(key string, err error) {
	p.err = fmt.Errorf("invalid %s: %w", key, err)
}

func (p *parser) boolean(key string, fallback bool, dst *bool) {
	*dst = fallback
	if v, ok := p.lookup(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			p.fail(key, err)
			return
		}
		*dst = b
	}
}

func (p *parser) integer(key string, fallback int, dst *int) {
	*dst = fallback
	if v, ok := p.lookup(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			p.fail(key, err)
			return
		}
		*dst = n
	}
}

func (p *parser) int64(key string, fallback int64, dst *int64) {
	*dst = fallback
	if v, ok := p.lookup(key); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			p.fail(key, err)
			return
		}
		*dst = n
	}
}

func (p *parser) duration(key string, fallback time.Duration, dst *time.Duration) {
	*dst = fallback
	if v, ok := p.lookup(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			p.fail(key, err)
			return
		}
		*dst = d
	}
}
