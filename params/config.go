package params

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/uhyunpark/hlrelay/pkg/errs"
)

const (
	MainnetAPIURL = "https://api.hyperliquid.xyz"
	TestnetAPIURL = "https://api.hyperliquid-testnet.xyz"

	// 0xa4b1 = 42161 (Arbitrum One), the chain browser wallets sign user actions on.
	DefaultSignatureChainID = "0xa4b1"
)

type Exchange struct {
	APIURL           string
	Network          string // "Mainnet" or "Testnet"
	SignatureChainID string
	Timeout          time.Duration
	// VaultAddress is attached to order envelopes when set.
	VaultAddress string
}

type Signing struct {
	// ServerKey is the server-custodied API wallet used for orders that
	// arrive without an owner address. Optional.
	ServerKey            string
	AbortOnMismatch      bool
	OrderSignaturePrefix bool
	AgentSignaturePrefix bool
}

type Registry struct {
	Backend string // "file" or "pebble"
	Path    string
}

type Server struct {
	Addr          string
	CORSOrigins   []string
	FrontendBuild string
	JournalPath   string
}

type Log struct {
	File  string
	Level string
}

type Config struct {
	Exchange Exchange
	Signing  Signing
	Registry Registry
	Server   Server
	Log      Log
}

func Default() Config {
	return Config{
		Exchange: Exchange{
			APIURL:           MainnetAPIURL,
			Network:          "Mainnet",
			SignatureChainID: DefaultSignatureChainID,
			Timeout:          10 * time.Second,
		},
		Signing: Signing{
			AgentSignaturePrefix: true,
		},
		Registry: Registry{
			Backend: "file",
			Path:    "data/api-wallets.json",
		},
		Server: Server{
			Addr:          ":3001",
			CORSOrigins:   []string{"http://localhost:3000", "http://localhost:3001"},
			FrontendBuild: "frontend/build",
			JournalPath:   "data/journal.log",
		},
		Log: Log{
			Level: "info",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
			return cfg, errs.Wrap(errs.KindConfiguration, "params.load", err)
		}
	} else {
		_ = godotenv.Load()
	}

	cfg.Exchange.APIURL = strings.TrimRight(getEnv("HYPERLIQUID_API_URL", cfg.Exchange.APIURL), "/")
	cfg.Exchange.Network = getEnv("HYPERLIQUID_NETWORK", cfg.Exchange.Network)
	cfg.Exchange.SignatureChainID = getEnv("SIGNATURE_CHAIN_ID", cfg.Exchange.SignatureChainID)
	cfg.Exchange.VaultAddress = strings.ToLower(os.Getenv("VAULT_ADDRESS"))
	if ms := getEnvInt("HTTP_TIMEOUT_MS", 0); ms > 0 {
		cfg.Exchange.Timeout = time.Duration(ms) * time.Millisecond
	}

	cfg.Signing.ServerKey = os.Getenv("API_WALLET_PRIVATE_KEY")
	cfg.Signing.AbortOnMismatch = getEnvBool("ABORT_ON_SIGNER_MISMATCH", false)
	cfg.Signing.OrderSignaturePrefix = getEnvBool("ORDER_SIGNATURE_PREFIXED", cfg.Signing.OrderSignaturePrefix)
	cfg.Signing.AgentSignaturePrefix = getEnvBool("AGENT_SIGNATURE_PREFIXED", cfg.Signing.AgentSignaturePrefix)

	cfg.Registry.Backend = getEnv("REGISTRY_BACKEND", cfg.Registry.Backend)
	cfg.Registry.Path = getEnv("REGISTRY_PATH", cfg.Registry.Path)

	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.Addr = ":" + port
	}
	cfg.Server.Addr = getEnv("API_ADDR", cfg.Server.Addr)
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.Server.CORSOrigins = splitList(origins)
	}
	cfg.Server.FrontendBuild = getEnv("FRONTEND_BUILD_PATH", cfg.Server.FrontendBuild)
	cfg.Server.JournalPath = getEnv("JOURNAL_PATH", cfg.Server.JournalPath)

	cfg.Log.File = os.Getenv("LOG_FILE")
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)

	return cfg, cfg.Validate()
}

// Validate fails fast on anything the relay cannot run without. All problems
// are reported together.
func (c Config) Validate() error {
	var problems []string

	if c.Exchange.APIURL == "" {
		problems = append(problems, "HYPERLIQUID_API_URL is empty")
	}
	switch c.Exchange.Network {
	case "Mainnet", "Testnet":
	default:
		problems = append(problems, fmt.Sprintf("HYPERLIQUID_NETWORK must be Mainnet or Testnet, got %q", c.Exchange.Network))
	}
	if _, err := strconv.ParseUint(strings.TrimPrefix(c.Exchange.SignatureChainID, "0x"), 16, 64); err != nil || !strings.HasPrefix(c.Exchange.SignatureChainID, "0x") {
		problems = append(problems, fmt.Sprintf("SIGNATURE_CHAIN_ID must be a 0x-prefixed hex chain id, got %q", c.Exchange.SignatureChainID))
	}
	if c.Exchange.VaultAddress != "" && !isHexAddress(c.Exchange.VaultAddress) {
		problems = append(problems, "VAULT_ADDRESS is not a valid address")
	}
	if c.Signing.ServerKey == "YOUR_API_PRIVATE_KEY_HERE" {
		problems = append(problems, "API_WALLET_PRIVATE_KEY still holds the placeholder value")
	}
	switch c.Registry.Backend {
	case "file", "pebble":
	default:
		problems = append(problems, fmt.Sprintf("REGISTRY_BACKEND must be file or pebble, got %q", c.Registry.Backend))
	}
	if c.Registry.Path == "" {
		problems = append(problems, "REGISTRY_PATH is empty")
	}
	if c.Server.Addr == "" {
		problems = append(problems, "API_ADDR is empty")
	}

	if len(problems) > 0 {
		return errs.E(errs.KindConfiguration, "params.validate", strings.Join(problems, "; "))
	}
	return nil
}

// IsMainnet reports whether L1 actions should be signed with the mainnet source byte.
func (c Config) IsMainnet() bool { return c.Exchange.Network == "Mainnet" }

func isHexAddress(s string) bool {
	s = strings.TrimPrefix(s, "0x")
	if len(s) != 40 {
		return false
	}
	for _, c := range s {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return false
		}
	}
	return true
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvBool(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return defaultValue
	}
	return parsed
}
