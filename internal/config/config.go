package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

type Config struct {
	Port     int
	WSPort   int
	AppEnv   string
	LogLevel string

	RPCURL           string
	ChainID          uint64
	ContractAddress  string
	AgentPK          string
	HistoryFromBlock uint64

	PythonSaaSURL   string
	DataLogEndpoint string
	DatabaseURL     string

	RiskRejectionThreshold uint64
	RiskConsultTimeout     time.Duration
	LedgerTimeout          time.Duration
	WaitForReceipt         bool

	CORSOrigin    string
	MintRateLimit float64
	MintRateBurst int

	EnableRiskSentinel bool
	RiskCheckInterval  time.Duration

	DomainName    string
	DomainVersion string
}

// Load reads .env when present, then the environment.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}
	return FromEnv()
}

func FromEnv() (Config, error) {
	var errs []error

	cfg := Config{
		AppEnv:   envDefault("APP_ENV", "development"),
		LogLevel: envDefault("LOG_LEVEL", "info"),

		RPCURL:          envDefault("RPC_URL", "https://rpc.sepolia.mantle.xyz"),
		ContractAddress: strings.TrimSpace(os.Getenv("CONTRACT_ADDRESS")),
		AgentPK:         strings.TrimSpace(os.Getenv("AGENT_PK")),

		PythonSaaSURL:   envDefault("PYTHON_SAAS_URL", "http://localhost:5000"),
		DataLogEndpoint: strings.TrimSpace(os.Getenv("MANTLE_DA_ENDPOINT")),
		DatabaseURL:     strings.TrimSpace(os.Getenv("DATABASE_URL")),

		CORSOrigin: envDefault("CORS_ORIGIN", "*"),

		DomainName:    envDefault("EIP712_DOMAIN_NAME", "MantleForge"),
		DomainVersion: envDefault("EIP712_DOMAIN_VERSION", "1"),
	}

	cfg.Port = envInt("PORT", 3000, &errs)
	cfg.WSPort = envInt("WS_PORT", 3001, &errs)
	cfg.ChainID = envUint("MANTLE_CHAIN_ID", 5003, &errs)
	cfg.HistoryFromBlock = envUint("HISTORY_FROM_BLOCK", 0, &errs)
	cfg.RiskRejectionThreshold = envUint("RISK_REJECTION_THRESHOLD", 90, &errs)
	cfg.RiskConsultTimeout = envDuration("RISK_CONSULT_TIMEOUT", 5*time.Second, &errs)
	cfg.LedgerTimeout = envDuration("LEDGER_TIMEOUT", 45*time.Second, &errs)
	cfg.WaitForReceipt = envBool("WAIT_FOR_RECEIPT", true, &errs)
	cfg.MintRateLimit = envFloat("MINT_RATE_LIMIT", 2, &errs)
	cfg.MintRateBurst = envInt("MINT_RATE_BURST", 5, &errs)
	cfg.EnableRiskSentinel = envBool("ENABLE_RISK_SENTINEL", false, &errs)
	cfg.RiskCheckInterval = envDuration("RISK_CHECK_INTERVAL", time.Hour, &errs)

	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	return cfg, nil
}

// Validate checks what the server needs to start. The CLI's offline
// commands do not call it.
func (c Config) Validate() error {
	var errs []error

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT out of range: %d", c.Port))
	}
	if c.WSPort <= 0 || c.WSPort > 65535 {
		errs = append(errs, fmt.Errorf("WS_PORT out of range: %d", c.WSPort))
	}
	if c.Port == c.WSPort {
		errs = append(errs, errors.New("PORT and WS_PORT must differ"))
	}
	if c.RPCURL == "" {
		errs = append(errs, errors.New("RPC_URL is required"))
	}
	if c.ChainID == 0 {
		errs = append(errs, errors.New("MANTLE_CHAIN_ID must be non-zero"))
	}
	if !common.IsHexAddress(c.ContractAddress) {
		errs = append(errs, errors.New("CONTRACT_ADDRESS must be a 0x-prefixed 20-byte hex address"))
	}
	if c.AgentPK == "" {
		errs = append(errs, errors.New("AGENT_PK is required"))
	}
	if c.RiskRejectionThreshold == 0 || c.RiskRejectionThreshold > 100 {
		errs = append(errs, fmt.Errorf("RISK_REJECTION_THRESHOLD must be within 1..100, got %d", c.RiskRejectionThreshold))
	}
	if c.RiskConsultTimeout <= 0 || c.LedgerTimeout <= 0 {
		errs = append(errs, errors.New("RISK_CONSULT_TIMEOUT and LEDGER_TIMEOUT must be positive"))
	}
	if c.MintRateLimit <= 0 || c.MintRateBurst <= 0 {
		errs = append(errs, errors.New("MINT_RATE_LIMIT and MINT_RATE_BURST must be positive"))
	}
	if c.EnableRiskSentinel && c.RiskCheckInterval <= 0 {
		errs = append(errs, errors.New("RISK_CHECK_INTERVAL must be positive"))
	}

	return errors.Join(errs...)
}

// Redacted is the only form of the config that may be logged.
func (c Config) Redacted() map[string]any {
	agentPK := "not set"
	if c.AgentPK != "" {
		agentPK = "[redacted]"
	}
	return map[string]any{
		"port":                     c.Port,
		"ws_port":                  c.WSPort,
		"app_env":                  c.AppEnv,
		"log_level":                c.LogLevel,
		"rpc_url":                  redactURL(c.RPCURL),
		"chain_id":                 c.ChainID,
		"contract_address":         c.ContractAddress,
		"agent_pk":                 agentPK,
		"python_saas_url":          redactURL(c.PythonSaaSURL),
		"mantle_da_endpoint":       redactURL(c.DataLogEndpoint),
		"database_url":             redactURL(c.DatabaseURL),
		"risk_rejection_threshold": c.RiskRejectionThreshold,
		"risk_consult_timeout":     c.RiskConsultTimeout.String(),
		"ledger_timeout":           c.LedgerTimeout.String(),
		"wait_for_receipt":         c.WaitForReceipt,
		"cors_origin":              c.CORSOrigin,
		"mint_rate_limit":          c.MintRateLimit,
		"mint_rate_burst":          c.MintRateBurst,
		"enable_risk_sentinel":     c.EnableRiskSentinel,
		"risk_check_interval":      c.RiskCheckInterval.String(),
	}
}

// redactURL drops credentials and query strings, which often carry API keys.
func redactURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "[redacted]"
	}
	if u.User != nil {
		u.User = url.User("redacted")
	}
	u.RawQuery = ""
	return u.String()
}

func envDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int, errs *[]error) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: invalid integer %q", key, v))
		return def
	}
	return n
}

func envUint(key string, def uint64, errs *[]error) uint64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: invalid unsigned integer %q", key, v))
		return def
	}
	return n
}

func envFloat(key string, def float64, errs *[]error) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: invalid number %q", key, v))
		return def
	}
	return f
}

func envBool(key string, def bool, errs *[]error) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: invalid boolean %q", key, v))
		return def
	}
	return b
}

// envDuration accepts Go durations ("45s") and bare integers, read as
// milliseconds.
func envDuration(key string, def time.Duration, errs *[]error) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: invalid duration %q", key, v))
		return def
	}
	return d
}
