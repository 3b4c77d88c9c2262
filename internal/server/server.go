package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"vibe-trader/internal/admission"
	"vibe-trader/internal/domain"
	"vibe-trader/internal/execution"
	"vibe-trader/internal/usecase"
)

const (
	defaultPingInterval = 30 * time.Second
	defaultFrontendURL  = "http://localhost:3000"
	shutdownGracePeriod = 10 * time.Second
	readHeaderTimeout   = 5 * time.Second
)

type ChatAPI interface {
	Chat(ctx context.Context, in usecase.ChatInput) (usecase.ChatOutput, error)
	ChatStream(ctx context.Context, in usecase.ChatInput, emit func(usecase.StreamEvent) error) (usecase.ChatOutput, error)
}

type PortfolioAPI interface {
	Portfolio(ctx context.Context) (usecase.PortfolioView, error)
}

type LeaderboardAPI interface {
	Leaderboard(ctx context.Context, q usecase.LeaderboardQuery) (usecase.LeaderboardView, error)
	Me(ctx context.Context, userID string) (domain.UserStats, error)
}

type AdminAPI interface {
	ResetQuota(ctx context.Context, identity string) error
	TestOrder(ctx context.Context, req usecase.SwapRequest) (execution.Quote, error)
	TestExecute(ctx context.Context, req usecase.SwapRequest) (usecase.SwapReport, error)
}

type Admitter interface {
	CheckAndAdmit(ctx context.Context, id domain.Identity) admission.Result
}

type EventSource interface {
	Subscribe(buffer int) (<-chan domain.TokenEvent, func())
}

// Deps are the services behind the routes. Admin may be nil, which
// disables the /dev routes. A nil Auth treats every caller as anonymous.
type Deps struct {
	Chat        ChatAPI
	Portfolio   PortfolioAPI
	Leaderboard LeaderboardAPI
	Admin       AdminAPI
	Gate        Admitter
	Events      EventSource
	Auth        *admission.Authenticator
	// Metrics is served on /metrics when set.
	Metrics http.Handler
}

type Options struct {
	FrontendURL  string
	Production   bool
	PingInterval time.Duration
}

type Server struct {
	deps   Deps
	opts   Options
	router *gin.Engine
	logger *slog.Logger
}

func New(deps Deps, opts Options, logger *slog.Logger) (*Server, error) {
	if deps.Chat == nil {
		return nil, errors.New("server: chat service must not be nil")
	}
	if deps.Portfolio == nil {
		return nil, errors.New("server: portfolio service must not be nil")
	}
	if deps.Leaderboard == nil {
		return nil, errors.New("server: leaderboard service must not be nil")
	}
	if deps.Gate == nil {
		return nil, errors.New("server: admission gate must not be nil")
	}
	if deps.Events == nil {
		return nil, errors.New("server: event source must not be nil")
	}
	if opts.FrontendURL == "" {
		opts.FrontendURL = defaultFrontendURL
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	s := &Server{deps: deps, opts: opts, router: gin.New(), logger: logger}
	s.router.Use(gin.Recovery(), s.requestLogger(), s.cors(), s.identify())
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	r := s.router
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if s.deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.deps.Metrics))
	}

	chat := r.Group("/chat", s.admit())
	{
		chat.POST("", s.handleChat)
		chat.POST("/stream", s.handleChatStream)
	}

	r.GET("/portfolio", s.handlePortfolio)
	r.GET("/leaderboard", s.handleLeaderboard)
	r.GET("/leaderboard/me", s.handleLeaderboardMe)
	r.GET("/ws/events", s.handleEvents)

	if !s.opts.Production && s.deps.Admin != nil {
		dev := r.Group("/dev")
		{
			dev.POST("/reset-rate-limit", s.handleResetQuota)
			dev.POST("/test-swap-order", s.handleTestOrder)
			dev.POST("/test-swap-execute", s.handleTestExecute)
		}
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("route not found: %s %s", c.Request.Method, c.Request.URL.Path)})
	})
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: listen: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGracePeriod)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
