// Package app assembles the service graph from a validated configuration.
// Entry points read configuration and call Build; nothing below reads the
// environment.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"vibe-trader/internal/admission"
	"vibe-trader/internal/config"
	"vibe-trader/internal/decision"
	"vibe-trader/internal/events"
	"vibe-trader/internal/execution"
	"vibe-trader/internal/integrations/openai"
	"vibe-trader/internal/integrations/paramstore"
	"vibe-trader/internal/marketdata"
	"vibe-trader/internal/observ"
	"vibe-trader/internal/repository"
	"vibe-trader/internal/usecase"
)

const memoryCacheEntries = 2048

// App is the assembled service graph.
type App struct {
	Store       repository.Store
	Auth        *admission.Authenticator
	Gate        *admission.Gate
	Events      *events.Broadcaster
	Market      *marketdata.Service
	Execution   *execution.Engine
	Chat        *usecase.ChatService
	Portfolio   *usecase.PortfolioService
	Leaderboard *usecase.LeaderboardService
	Admin       *usecase.AdminService
	Metrics     http.Handler

	closers []func() error
}

// Close releases the store and cache connections.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

// NewLogger returns a JSON logger at the named level.
func NewLogger(level string) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: l}))
}

// Build wires every component. Read-only deployments pass readOnly to skip
// generation and require a configured signing key.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger, readOnly bool) (*App, error) {
	a := &App{}
	fail := func(err error) (*App, error) {
		_ = a.Close()
		return nil, err
	}

	auth, err := admission.NewAuthenticator(admission.AuthConfig{
		PublicKey:     cfg.Auth.JWTPublicKey,
		Issuer:        cfg.Auth.JWTIssuer,
		TrustedHeader: cfg.Auth.TrustedUserHeader,
	})
	if err != nil {
		return nil, err
	}
	a.Auth = auth
	if !auth.Enabled() {
		logger.Warn("no session verification configured, every caller gets the anonymous quota")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observ.NewMetrics(reg)
	a.Metrics = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return fail(err)
	}

	secrets, err := loadSecrets(ctx, cfg, awsCfg)
	if err != nil {
		return fail(err)
	}

	store, closeStore, err := openStore(ctx, cfg, awsCfg)
	if err != nil {
		return fail(err)
	}
	a.Store = store
	a.closers = append(a.closers, closeStore)

	cache, closeCache, err := snapshotCache(ctx, cfg, logger, metrics)
	if err != nil {
		return fail(err)
	}
	a.closers = append(a.closers, closeCache)

	providers, err := marketProviders(cfg, secrets)
	if err != nil {
		return fail(err)
	}
	a.Market, err = marketdata.NewService(cache, logger, providers...)
	if err != nil {
		return fail(err)
	}

	signer, err := loadSigner(cfg, secrets, logger, readOnly)
	if err != nil {
		return fail(err)
	}
	wallet, err := execution.NewWallet(execution.NewRPCClient(cfg.Solana.RPCURL), signer.PublicKey())
	if err != nil {
		return fail(err)
	}

	a.Portfolio, err = usecase.NewPortfolioService(wallet, store, a.Market, logger)
	if err != nil {
		return fail(err)
	}
	a.Leaderboard, err = usecase.NewLeaderboardService(store, nil)
	if err != nil {
		return fail(err)
	}
	if readOnly {
		return a, nil
	}

	a.Gate, err = admission.NewGate(store, admission.Limits{
		User:      cfg.Limits.UserDaily,
		Anonymous: cfg.Limits.AnonDaily,
	}, logger, admission.WithMetrics(metrics))
	if err != nil {
		return fail(err)
	}
	a.Events = events.NewBroadcaster(metrics)

	if secrets.JupiterAPIKey == "" {
		return fail(errors.New("app: JUPITER_API_KEY is required"))
	}
	var jupOpts []execution.JupiterOption
	if cfg.Jupiter.BaseURL != "" {
		jupOpts = append(jupOpts, execution.WithJupiterURL(cfg.Jupiter.BaseURL))
	}
	venue, err := execution.NewJupiterClient(secrets.JupiterAPIKey, jupOpts...)
	if err != nil {
		return fail(err)
	}
	a.Execution, err = execution.NewEngine(venue, signer, wallet, execution.Config{
		FallbackDecimals: cfg.Trading.TokenDecimals,
		Metrics:          metrics,
	}, logger)
	if err != nil {
		return fail(err)
	}

	if secrets.OpenAIToken == "" {
		return fail(errors.New("app: OPENAI_API_KEY is required"))
	}
	var aiOpts []openai.Option
	if cfg.OpenAI.BaseURL != "" {
		aiOpts = append(aiOpts, openai.WithBaseURL(cfg.OpenAI.BaseURL))
	}
	prefix := cfg.SecretPrefix()
	llm, err := openai.NewClient(paramstore.Static{prefix + paramstore.OpenAITokenParam: secrets.OpenAIToken}, prefix, aiOpts...)
	if err != nil {
		return fail(err)
	}

	engineCfg := decision.Config{Model: cfg.OpenAI.Model, MaxMessageLen: cfg.OpenAI.MaxMessageLen}
	if cfg.OpenAI.ModerationEnabled {
		engineCfg.Moderator = llm
	}
	conversations := decision.NewStore(cfg.Conversation.MaxEntries, cfg.Conversation.IdleTTL)
	observ.TrackConversations(reg, conversations.Len)
	engine, err := decision.NewEngine(conversations, llm, a.Market, a.Portfolio, engineCfg, logger)
	if err != nil {
		return fail(err)
	}

	a.Chat, err = usecase.NewChatService(engine, a.Execution, store, a.Events, usecase.ChatConfig{
		BuyAmount: cfg.BuyAmount(),
		Metrics:   metrics,
	}, logger)
	if err != nil {
		return fail(err)
	}
	a.Admin, err = usecase.NewAdminService(a.Gate, a.Execution, logger)
	if err != nil {
		return fail(err)
	}
	return a, nil
}

// loadAWSConfig loads the SDK configuration only when a component needs it.
func loadAWSConfig(ctx context.Context, cfg config.Config) (*aws.Config, error) {
	kind, _, err := cfg.Store()
	if err != nil {
		return nil, err
	}
	if kind != config.StoreDynamo && !cfg.UseParamStore() {
		return nil, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: load AWS config: %w", err)
	}
	return &awsCfg, nil
}

// loadSecrets reads credentials from Parameter Store when a prefix is
// configured. Values missing there fall back to the environment.
func loadSecrets(ctx context.Context, cfg config.Config, awsCfg *aws.Config) (paramstore.Secrets, error) {
	env := paramstore.Secrets{
		OpenAIToken:      cfg.OpenAI.APIKey,
		SolanaPrivateKey: cfg.Solana.PrivateKey,
		JupiterAPIKey:    cfg.Jupiter.APIKey,
		CodexAPIKey:      cfg.Market.CodexAPIKey,
	}
	if !cfg.UseParamStore() {
		return env, nil
	}

	ps, err := paramstore.New(awsssm.NewFromConfig(*awsCfg))
	if err != nil {
		return paramstore.Secrets{}, err
	}
	s, err := paramstore.LoadSecrets(ctx, ps, cfg.SecretPrefix())
	if err != nil {
		return paramstore.Secrets{}, err
	}
	s.OpenAIToken = firstNonEmpty(s.OpenAIToken, env.OpenAIToken)
	s.SolanaPrivateKey = firstNonEmpty(s.SolanaPrivateKey, env.SolanaPrivateKey)
	s.JupiterAPIKey = firstNonEmpty(s.JupiterAPIKey, env.JupiterAPIKey)
	s.CodexAPIKey = firstNonEmpty(s.CodexAPIKey, env.CodexAPIKey)
	return s, nil
}

func openStore(ctx context.Context, cfg config.Config, awsCfg *aws.Config) (repository.Store, func() error, error) {
	kind, target, err := cfg.Store()
	if err != nil {
		return nil, nil, err
	}
	if kind == config.StoreDynamo {
		c, err := repository.New(awsdynamodb.NewFromConfig(*awsCfg), target)
		if err != nil {
			return nil, nil, err
		}
		return c, func() error { return nil }, nil
	}

	c, err := repository.OpenSQL(target)
	if err != nil {
		return nil, nil, err
	}
	if err := c.EnsureSchema(ctx); err != nil {
		_ = c.Close()
		return nil, nil, err
	}
	return c, c.Close, nil
}

// snapshotCache shares snapshots through Redis when REDIS_URL is set, else
// keeps them in process.
func snapshotCache(ctx context.Context, cfg config.Config, logger *slog.Logger, metrics *observ.Metrics) (*marketdata.Cache, func() error, error) {
	if strings.TrimSpace(cfg.Storage.RedisURL) == "" {
		return marketdata.NewCache(marketdata.NewMemoryBackend(memoryCacheEntries), logger, metrics), func() error { return nil }, nil
	}
	opt, err := redis.ParseURL(cfg.Storage.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("app: parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable, snapshot cache will fail open", "err", err)
	}
	backend, err := marketdata.NewRedisBackend(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return marketdata.NewCache(backend, logger, metrics), client.Close, nil
}

// marketProviders orders the snapshot sources. auto prefers Codex when a
// key is configured and keeps DexScreener as the fallback.
func marketProviders(cfg config.Config, secrets paramstore.Secrets) ([]marketdata.Provider, error) {
	newCodex := func() (marketdata.Provider, error) {
		var opts []marketdata.CodexOption
		if cfg.Market.CodexBaseURL != "" {
			opts = append(opts, marketdata.WithCodexURL(cfg.Market.CodexBaseURL))
		}
		return marketdata.NewCodexClient(secrets.CodexAPIKey, opts...)
	}
	dex := marketdata.NewDexScreenerClient()

	switch cfg.Market.Provider {
	case config.ProviderCodex:
		codex, err := newCodex()
		if err != nil {
			return nil, err
		}
		return []marketdata.Provider{codex}, nil
	case config.ProviderDexScreener:
		return []marketdata.Provider{dex}, nil
	default:
		if secrets.CodexAPIKey == "" {
			return []marketdata.Provider{dex}, nil
		}
		codex, err := newCodex()
		if err != nil {
			return nil, err
		}
		return []marketdata.Provider{codex, dex}, nil
	}
}

// loadSigner loads the wallet key. Without one, a fresh keypair is
// generated unless the deployment is read-only.
func loadSigner(cfg config.Config, secrets paramstore.Secrets, logger *slog.Logger, readOnly bool) (*execution.Signer, error) {
	if secrets.SolanaPrivateKey != "" {
		return execution.NewSigner(secrets.SolanaPrivateKey)
	}
	if readOnly {
		return nil, errors.New("app: SOLANA_PRIVATE_KEY is required")
	}
	signer, err := execution.GenerateSigner()
	if err != nil {
		return nil, err
	}
	attrs := []any{"address", signer.PublicKey()}
	if !cfg.Production() {
		attrs = append(attrs, "secret", signer.Secret())
	}
	logger.Warn("no wallet key configured, generated a new keypair; fund it before trading", attrs...)
	return signer, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
