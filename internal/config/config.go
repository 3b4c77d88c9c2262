package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	EnvProduction = "production"

	// DefaultSecretPrefix namespaces credentials when they are served from
	// the environment rather than Parameter Store.
	DefaultSecretPrefix = "/vibe-trader"
)

// Market data providers.
const (
	ProviderAuto        = "auto"
	ProviderCodex       = "codex"
	ProviderDexScreener = "dexscreener"
)

type Config struct {
	Server struct {
		Env         string `yaml:"env"`
		Port        int    `yaml:"port"`
		FrontendURL string `yaml:"frontend_url"`
		LogLevel    string `yaml:"log_level"`
	} `yaml:"server"`
	Auth struct {
		// JWTPublicKey is the PEM key the identity provider signs session
		// tokens with. Without it, and without a trusted header, every caller
		// is anonymous.
		JWTPublicKey string `yaml:"jwt_public_key"`
		JWTIssuer    string `yaml:"jwt_issuer"`
		// TrustedUserHeader is only safe behind a proxy that strips it from
		// client requests.
		TrustedUserHeader string `yaml:"trusted_user_header"`
	} `yaml:"auth"`
	OpenAI struct {
		APIKey            string `yaml:"api_key"`
		Model             string `yaml:"model"`
		BaseURL           string `yaml:"base_url"`
		ModerationEnabled bool   `yaml:"moderation_enabled"`
		MaxMessageLen     int    `yaml:"max_message_length"`
	} `yaml:"openai"`
	Solana struct {
		PrivateKey string `yaml:"private_key"`
		RPCURL     string `yaml:"rpc_url"`
	} `yaml:"solana"`
	Jupiter struct {
		APIKey  string `yaml:"api_key"`
		BaseURL string `yaml:"base_url"`
	} `yaml:"jupiter"`
	Market struct {
		Provider     string `yaml:"provider"`
		CodexAPIKey  string `yaml:"codex_api_key"`
		CodexBaseURL string `yaml:"codex_base_url"`
	} `yaml:"market"`
	Limits struct {
		UserDaily int `yaml:"user_daily"`
		AnonDaily int `yaml:"anon_daily"`
	} `yaml:"limits"`
	Trading struct {
		BuyAmountSOL  string `yaml:"buy_amount_sol"`
		TokenDecimals int32  `yaml:"token_decimals"`
	} `yaml:"trading"`
	Storage struct {
		DatabaseURL string `yaml:"database_url"`
		RedisURL    string `yaml:"redis_url"`
	} `yaml:"storage"`
	Conversation struct {
		MaxEntries int           `yaml:"max_entries"`
		IdleTTL    time.Duration `yaml:"idle_ttl"`
	} `yaml:"conversation"`
	Secrets struct {
		ParamPrefix string `yaml:"param_prefix"`
	} `yaml:"secrets"`
}

func Default() Config {
	cfg := Config{}
	cfg.Server.Env = "development"
	cfg.Server.Port = 3001
	cfg.Server.FrontendURL = "http://localhost:3000"
	cfg.Server.LogLevel = "info"
	cfg.OpenAI.Model = "gpt-4-turbo-preview"
	cfg.OpenAI.MaxMessageLen = 4000
	cfg.Solana.RPCURL = "https://api.mainnet-beta.solana.com"
	cfg.Market.Provider = ProviderAuto
	cfg.Limits.UserDaily = 20
	cfg.Limits.AnonDaily = 2
	cfg.Trading.BuyAmountSOL = "0.1"
	cfg.Trading.TokenDecimals = 6
	cfg.Storage.DatabaseURL = "sqlite://vibe-trader.db"
	cfg.Conversation.MaxEntries = 10000
	cfg.Conversation.IdleTTL = 2 * time.Hour
	return cfg
}

// Load builds the configuration from defaults, the optional YAML file named
// by CONFIG_FILE and the environment, in increasing precedence. A .env file
// in the working directory is loaded first when present.
func Load() (Config, error) {
	_ = godotenv.Load()
	return LoadFrom(os.LookupEnv)
}

// LoadFrom is Load with an explicit environment lookup.
func LoadFrom(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	if path, ok := lookup("CONFIG_FILE"); ok && strings.TrimSpace(path) != "" {
		if err := overlayFile(&cfg, strings.TrimSpace(path)); err != nil {
			return Config{}, err
		}
	}
	if err := overlayEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func overlayFile(cfg *Config, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func overlayEnv(cfg *Config, lookup func(string) (string, bool)) error {
	e := envReader{lookup: lookup}

	e.strVar("APP_ENV", &cfg.Server.Env)
	e.intVar("PORT", &cfg.Server.Port)
	e.strVar("FRONTEND_URL", &cfg.Server.FrontendURL)
	e.strVar("LOG_LEVEL", &cfg.Server.LogLevel)

	e.strVar("AUTH_JWT_PUBLIC_KEY", &cfg.Auth.JWTPublicKey)
	e.strVar("AUTH_JWT_ISSUER", &cfg.Auth.JWTIssuer)
	e.strVar("TRUSTED_USER_HEADER", &cfg.Auth.TrustedUserHeader)

	e.strVar("OPENAI_API_KEY", &cfg.OpenAI.APIKey)
	e.strVar("OPENAI_MODEL", &cfg.OpenAI.Model)
	e.strVar("OPENAI_BASE_URL", &cfg.OpenAI.BaseURL)
	e.boolVar("MODERATION_ENABLED", &cfg.OpenAI.ModerationEnabled)
	e.intVar("MAX_MESSAGE_LENGTH", &cfg.OpenAI.MaxMessageLen)

	e.strVar("SOLANA_PRIVATE_KEY", &cfg.Solana.PrivateKey)
	e.strVar("SOLANA_RPC_URL", &cfg.Solana.RPCURL)

	e.strVar("JUPITER_API_KEY", &cfg.Jupiter.APIKey)
	e.strVar("JUPITER_BASE_URL", &cfg.Jupiter.BaseURL)

	e.strVar("MARKET_PROVIDER", &cfg.Market.Provider)
	e.strVar("CODEX_API_KEY", &cfg.Market.CodexAPIKey)
	e.strVar("CODEX_BASE_URL", &cfg.Market.CodexBaseURL)

	e.intVar("USER_DAILY_LIMIT", &cfg.Limits.UserDaily)
	e.intVar("ANON_DAILY_LIMIT", &cfg.Limits.AnonDaily)

	e.strVar("BUY_AMOUNT_SOL", &cfg.Trading.BuyAmountSOL)
	e.int32Var("TOKEN_DECIMALS", &cfg.Trading.TokenDecimals)

	e.strVar("DATABASE_URL", &cfg.Storage.DatabaseURL)
	e.strVar("REDIS_URL", &cfg.Storage.RedisURL)

	e.intVar("CONVERSATION_MAX_ENTRIES", &cfg.Conversation.MaxEntries)
	e.durationVar("CONVERSATION_IDLE_TTL", &cfg.Conversation.IdleTTL)

	e.strVar("PARAM_PREFIX", &cfg.Secrets.ParamPrefix)

	return errors.Join(e.errs...)
}

// Validate rejects values the service cannot start with.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("config: PORT %d out of range", c.Server.Port))
	}
	if _, err := url.Parse(c.Server.FrontendURL); err != nil || c.Server.FrontendURL == "" {
		errs = append(errs, fmt.Errorf("config: FRONTEND_URL %q is not a URL", c.Server.FrontendURL))
	}
	switch strings.ToLower(c.Server.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("config: LOG_LEVEL %q is not one of debug, info, warn, error", c.Server.LogLevel))
	}
	if strings.TrimSpace(c.OpenAI.Model) == "" {
		errs = append(errs, errors.New("config: OPENAI_MODEL must not be empty"))
	}
	if c.OpenAI.MaxMessageLen <= 0 {
		errs = append(errs, errors.New("config: MAX_MESSAGE_LENGTH must be positive"))
	}
	switch c.Market.Provider {
	case ProviderAuto, ProviderCodex, ProviderDexScreener:
	default:
		errs = append(errs, fmt.Errorf("config: MARKET_PROVIDER %q is not one of auto, codex, dexscreener", c.Market.Provider))
	}
	if c.Limits.UserDaily <= 0 || c.Limits.AnonDaily <= 0 {
		errs = append(errs, errors.New("config: daily limits must be positive"))
	}
	if amt, err := decimal.NewFromString(c.Trading.BuyAmountSOL); err != nil || !amt.IsPositive() {
		errs = append(errs, fmt.Errorf("config: BUY_AMOUNT_SOL %q must be a positive number", c.Trading.BuyAmountSOL))
	}
	if c.Trading.TokenDecimals < 0 || c.Trading.TokenDecimals > 18 {
		errs = append(errs, fmt.Errorf("config: TOKEN_DECIMALS %d out of range", c.Trading.TokenDecimals))
	}
	if _, _, err := c.Store(); err != nil {
		errs = append(errs, err)
	}
	if c.Conversation.MaxEntries <= 0 {
		errs = append(errs, errors.New("config: CONVERSATION_MAX_ENTRIES must be positive"))
	}
	if c.Conversation.IdleTTL <= 0 {
		errs = append(errs, errors.New("config: CONVERSATION_IDLE_TTL must be positive"))
	}
	return errors.Join(errs...)
}

func (c Config) Production() bool {
	return strings.EqualFold(c.Server.Env, EnvProduction)
}

// BuyAmount is the fixed SOL notional of every buy. It is only meaningful
// on a validated Config.
func (c Config) BuyAmount() decimal.Decimal {
	amt, _ := decimal.NewFromString(c.Trading.BuyAmountSOL)
	return amt
}

// SecretPrefix is the parameter namespace credentials are looked up under.
func (c Config) SecretPrefix() string {
	if p := strings.TrimSpace(c.Secrets.ParamPrefix); p != "" {
		return strings.TrimRight(p, "/")
	}
	return DefaultSecretPrefix
}

// UseParamStore reports whether credentials come from SSM.
func (c Config) UseParamStore() bool {
	return strings.TrimSpace(c.Secrets.ParamPrefix) != ""
}

// Store kinds selected by the DATABASE_URL scheme.
const (
	StoreDynamo = "dynamodb"
	StoreSQL    = "sql"
)

// Store returns the storage kind and its target: the table name for
// DynamoDB or the DSN for SQL stores.
func (c Config) Store() (kind, target string, err error) {
	raw := strings.TrimSpace(c.Storage.DatabaseURL)
	u, err := url.Parse(raw)
	if err != nil || raw == "" {
		return "", "", fmt.Errorf("config: DATABASE_URL %q is not a URL", raw)
	}
	switch u.Scheme {
	case "dynamodb":
		table := u.Host + strings.TrimPrefix(u.Path, "/")
		if table == "" {
			return "", "", errors.New("config: DATABASE_URL dynamodb:// needs a table name")
		}
		return StoreDynamo, table, nil
	case "postgres", "postgresql", "sqlite", "file":
		return StoreSQL, raw, nil
	default:
		return "", "", fmt.Errorf("config: DATABASE_URL scheme %q is not supported", u.Scheme)
	}
}

type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (e *envReader) strVar(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) intVar(key string, dst *int) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("config: %s: %w", key, err))
		return
	}
	*dst = n
}

func (e *envReader) int32Var(key string, dst *int32) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("config: %s: %w", key, err))
		return
	}
	*dst = int32(n)
}

func (e *envReader) boolVar(key string, dst *bool) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("config: %s: %w", key, err))
		return
	}
	*dst = b
}

func (e *envReader) durationVar(key string, dst *time.Duration) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("config: %s: %w", key, err))
		return
	}
	*dst = d
}
