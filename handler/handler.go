package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"vibe-trader/internal/admission"
	"vibe-trader/internal/domain"
	"vibe-trader/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

type PortfolioReader interface {
	Portfolio(ctx context.Context) (usecase.PortfolioView, error)
}

type LeaderboardReader interface {
	Leaderboard(ctx context.Context, q usecase.LeaderboardQuery) (usecase.LeaderboardView, error)
	Me(ctx context.Context, userID string) (domain.UserStats, error)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Handler serves the stateless read routes behind API Gateway.
type Handler struct {
	portfolio   PortfolioReader
	leaderboard LeaderboardReader
	auth        *admission.Authenticator
	logger      *slog.Logger
}

// NewHandler creates a Handler. A nil auth treats every caller as anonymous.
func NewHandler(portfolio PortfolioReader, leaderboard LeaderboardReader, auth *admission.Authenticator, logger *slog.Logger) (*Handler, error) {
	if portfolio == nil {
		return nil, errors.New("handler: portfolio reader must not be nil")
	}
	if leaderboard == nil {
		return nil, errors.New("handler: leaderboard reader must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{portfolio: portfolio, leaderboard: leaderboard, auth: auth, logger: logger}, nil
}

func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := header(req, correlationHeader)
	if corrID == "" {
		corrID = req.RequestContext.RequestID
	}
	if corrID == "" {
		corrID = newUUID()
	}
	log := h.logger.With("request_id", corrID, "path", req.Path)

	if req.HTTPMethod != http.MethodGet {
		return respond(corrID, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"}), nil
	}

	switch strings.TrimRight(req.Path, "/") {
	case "/health":
		return respond(corrID, http.StatusOK, map[string]string{"status": "ok"}), nil
	case "/portfolio":
		view, err := h.portfolio.Portfolio(ctx)
		if err != nil {
			return h.fail(log, corrID, err), nil
		}
		return respond(corrID, http.StatusOK, view), nil
	case "/leaderboard":
		q := usecase.LeaderboardQuery{
			Sort:   domain.LeaderboardSort(req.QueryStringParameters["sort"]),
			Limit:  atoi(req.QueryStringParameters["limit"]),
			Offset: atoi(req.QueryStringParameters["offset"]),
		}
		view, err := h.leaderboard.Leaderboard(ctx, q)
		if err != nil {
			return h.fail(log, corrID, err), nil
		}
		return respond(corrID, http.StatusOK, view), nil
	case "/leaderboard/me":
		id := h.auth.Identify(h.credentials(req), header(req, "X-Forwarded-For"), req.RequestContext.Identity.SourceIP)
		stats, err := h.leaderboard.Me(ctx, id.ID)
		if err != nil {
			return h.fail(log, corrID, err), nil
		}
		return respond(corrID, http.StatusOK, stats), nil
	default:
		return respond(corrID, http.StatusNotFound, errorResponse{Error: "route not found: " + req.Path}), nil
	}
}

func (h *Handler) fail(log *slog.Logger, corrID string, err error) events.APIGatewayProxyResponse {
	status := usecase.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "err", err)
	} else {
		log.Info("request rejected", "err", err)
	}
	body := errorResponse{Error: usecase.PublicMessage(err), Code: string(usecase.ErrorInternal)}
	var ucErr *usecase.Error
	if errors.As(err, &ucErr) {
		body.Code = string(ucErr.Code)
	}
	return respond(corrID, status, body)
}

func respond(corrID string, status int, body any) events.APIGatewayProxyResponse {
	b, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		b = []byte(`{"error":"Internal server error"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: corrID,
		},
		Body: string(b),
	}
}

func (h *Handler) credentials(req events.APIGatewayProxyRequest) admission.Credentials {
	cred := admission.Credentials{Authorization: header(req, "Authorization")}
	if name := h.auth.TrustedHeader(); name != "" {
		cred.Trusted = header(req, name)
	}
	if raw := header(req, "Cookie"); raw != "" {
		cookies, err := http.ParseCookie(raw)
		if err == nil {
			for _, c := range cookies {
				if c.Name == admission.SessionCookie {
					cred.Session = c.Value
				}
			}
		}
	}
	return cred
}

// header looks name up case-insensitively, as API Gateway preserves the
// client's casing.
func header(req events.APIGatewayProxyRequest, name string) string {
	for k, v := range req.Headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

var newUUID = func() string {
	return uuid.NewString()
}
