package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"vibe-trader/internal/admission"
	"vibe-trader/internal/domain"
	"vibe-trader/internal/usecase"
)

type stubPortfolio struct {
	out usecase.PortfolioView
	err error
}

func (s *stubPortfolio) Portfolio(context.Context) (usecase.PortfolioView, error) {
	return s.out, s.err
}

type stubLeaderboard struct {
	q      usecase.LeaderboardQuery
	out    usecase.LeaderboardView
	userID string
	stats  domain.UserStats
	err    error
}

func (s *stubLeaderboard) Leaderboard(_ context.Context, q usecase.LeaderboardQuery) (usecase.LeaderboardView, error) {
	s.q = q
	return s.out, s.err
}

func (s *stubLeaderboard) Me(_ context.Context, userID string) (domain.UserStats, error) {
	s.userID = userID
	return s.stats, s.err
}

func makeEvent(path string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodGet,
		Path:       path,
		Headers:    map[string]string{},
	}
}

func parseBody[T any](t *testing.T, body string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(body), &v))
	return v
}

func newTestHandler(t *testing.T, pf *stubPortfolio, lb *stubLeaderboard) *Handler {
	t.Helper()
	auth, err := admission.NewAuthenticator(admission.AuthConfig{TrustedHeader: "X-Auth-User"})
	require.NoError(t, err)
	h, err := NewHandler(pf, lb, auth, nil)
	require.NoError(t, err)
	return h
}

func TestNewHandler_ValidatesDependencies(t *testing.T) {
	_, err := NewHandler(nil, &stubLeaderboard{}, nil, nil)
	require.Error(t, err)
	_, err = NewHandler(&stubPortfolio{}, nil, nil, nil)
	require.Error(t, err)
}

func TestHandle_Portfolio(t *testing.T) {
	pf := &stubPortfolio{out: usecase.PortfolioView{Balance: 0.75, Purchases: []domain.TradeRecord{{ID: "t1"}}}}
	h := newTestHandler(t, pf, &stubLeaderboard{})

	resp, err := h.Handle(context.Background(), makeEvent("/portfolio"))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := parseBody[usecase.PortfolioView](t, resp.Body)
	require.InDelta(t, 0.75, out.Balance, 1e-12)
	require.Len(t, out.Purchases, 1)
	require.NotEmpty(t, resp.Headers["X-Correlation-Id"])
}

func TestHandle_Leaderboard(t *testing.T) {
	lb := &stubLeaderboard{out: usecase.LeaderboardView{LastUpdated: "2026-05-04T00:00:00.000Z"}}
	h := newTestHandler(t, &stubPortfolio{}, lb)

	event := makeEvent("/leaderboard")
	event.QueryStringParameters = map[string]string{"sort": "winRate", "limit": "10", "offset": "x"}
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, usecase.LeaderboardQuery{Sort: domain.SortByWinRate, Limit: 10}, lb.q)
	require.Equal(t, "2026-05-04T00:00:00.000Z", parseBody[usecase.LeaderboardView](t, resp.Body).LastUpdated)
}

func TestHandle_LeaderboardMe(t *testing.T) {
	lb := &stubLeaderboard{stats: domain.UserStats{TotalTrades: 7}}
	h := newTestHandler(t, &stubPortfolio{}, lb)

	event := makeEvent("/leaderboard/me")
	event.Headers["x-auth-user"] = "user_42"
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "user_42", lb.userID)

	event = makeEvent("/leaderboard/me")
	event.RequestContext.Identity.SourceIP = "198.51.100.4"
	_, err = h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, "ip:198.51.100.4", lb.userID)

	event = makeEvent("/leaderboard/me")
	event.Headers["X-User-Id"] = "user_spoofed"
	event.Headers["Cookie"] = "theme=dark; __session=not-a-token"
	event.RequestContext.Identity.SourceIP = "198.51.100.4"
	_, err = h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, "ip:198.51.100.4", lb.userID, "unverified claims resolve to the network identity")
}

func TestHandle_MapsUseCaseErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "invalid input", err: &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_sort"}, status: http.StatusBadRequest, code: string(usecase.ErrorInvalidInput)},
		{name: "rate limited", err: &usecase.Error{Code: usecase.ErrorRateLimited, Reason: "x"}, status: http.StatusTooManyRequests, code: string(usecase.ErrorRateLimited)},
		{name: "upstream", err: &usecase.Error{Code: usecase.ErrorUpstream, Reason: "balance_error"}, status: http.StatusBadGateway, code: string(usecase.ErrorUpstream)},
		{name: "internal", err: &usecase.Error{Code: usecase.ErrorInternal, Reason: "ledger_error"}, status: http.StatusInternalServerError, code: string(usecase.ErrorInternal)},
		{name: "unexpected", err: errors.New("boom"), status: http.StatusInternalServerError, code: string(usecase.ErrorInternal)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHandler(t, &stubPortfolio{err: tc.err}, &stubLeaderboard{})

			resp, err := h.Handle(context.Background(), makeEvent("/portfolio"))
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)

			out := parseBody[errorResponse](t, resp.Body)
			require.Equal(t, tc.code, out.Code)
			require.NotEmpty(t, out.Error)
		})
	}
}

func TestHandle_RoutingErrors(t *testing.T) {
	h := newTestHandler(t, &stubPortfolio{}, &stubLeaderboard{})

	resp, err := h.Handle(context.Background(), makeEvent("/nope"))
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	event := makeEvent("/portfolio")
	event.HTTPMethod = http.MethodPost
	resp, err = h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = h.Handle(context.Background(), makeEvent("/health/"))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandle_UsesProvidedCorrelationID_CaseInsensitive(t *testing.T) {
	h := newTestHandler(t, &stubPortfolio{}, &stubLeaderboard{})

	event := makeEvent("/portfolio")
	event.Headers["x-correlation-id"] = "corr-123"
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, "corr-123", resp.Headers["X-Correlation-Id"])
}

func TestHandle_FallsBackToGatewayRequestID(t *testing.T) {
	h := newTestHandler(t, &stubPortfolio{}, &stubLeaderboard{})

	event := makeEvent("/portfolio")
	event.RequestContext.RequestID = "gw-1"
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, "gw-1", resp.Headers["X-Correlation-Id"])
}
