package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"vibe-trader/internal/execution"
)

type mockResetter struct {
	identity string
	err      error
}

func (m *mockResetter) Reset(_ context.Context, identity string) error {
	m.identity = identity
	return m.err
}

type mockSwaps struct {
	mockExecutor
	quote    execution.Quote
	quoteErr error
	quoted   decimal.Decimal
}

func (m *mockSwaps) Quote(_ context.Context, _ string, amount decimal.Decimal) (execution.Quote, error) {
	m.quoted = amount
	return m.quote, m.quoteErr
}

func newAdmin(t *testing.T) (*AdminService, *mockResetter, *mockSwaps) {
	t.Helper()
	r := &mockResetter{}
	s := &mockSwaps{quote: execution.Quote{RequestID: "req-1"}}
	s.res = successResult()
	svc, err := NewAdminService(r, s, nil)
	require.NoError(t, err)
	return svc, r, s
}

func requireCode(t *testing.T, err error, code ErrorCode) *Error {
	t.Helper()
	var ucErr *Error
	require.ErrorAs(t, err, &ucErr)
	require.Equal(t, code, ucErr.Code)
	return ucErr
}

func TestNewAdminService_ValidatesDependencies(t *testing.T) {
	_, err := NewAdminService(nil, &mockSwaps{}, nil)
	require.Error(t, err)
	_, err = NewAdminService(&mockResetter{}, nil, nil)
	require.Error(t, err)
}

func TestResetQuota(t *testing.T) {
	svc, r, _ := newAdmin(t)
	require.NoError(t, svc.ResetQuota(context.Background(), "ip:1.2.3.4"))
	require.Equal(t, "ip:1.2.3.4", r.identity)

	requireCode(t, svc.ResetQuota(context.Background(), ""), ErrorInvalidInput)

	r.err = errors.New("db")
	requireCode(t, svc.ResetQuota(context.Background(), "x"), ErrorInternal)
}

func TestTestOrder_DefaultsAmount(t *testing.T) {
	svc, _, s := newAdmin(t)
	q, err := svc.TestOrder(context.Background(), SwapRequest{OutputMint: testMint})
	require.NoError(t, err)
	require.Equal(t, "req-1", q.RequestID)
	require.True(t, s.quoted.Equal(decimal.RequireFromString("0.001")))

	_, err = svc.TestOrder(context.Background(), SwapRequest{})
	requireCode(t, err, ErrorInvalidInput)

	s.quoteErr = errors.New("venue down")
	_, err = svc.TestOrder(context.Background(), SwapRequest{OutputMint: testMint})
	requireCode(t, err, ErrorUpstream)
}

func TestTestExecute_CapsAmount(t *testing.T) {
	svc, _, s := newAdmin(t)

	_, err := svc.TestExecute(context.Background(), SwapRequest{OutputMint: testMint, AmountSOL: decimal.RequireFromString("0.02")})
	ucErr := requireCode(t, err, ErrorInvalidInput)
	require.Equal(t, "Dev test limited to 0.01 SOL max", ucErr.Public())
	require.Zero(t, s.calls)

	_, err = svc.TestExecute(context.Background(), SwapRequest{OutputMint: testMint, AmountSOL: decimal.RequireFromString("-1")})
	requireCode(t, err, ErrorInvalidInput)

	report, err := svc.TestExecute(context.Background(), SwapRequest{OutputMint: testMint, AmountSOL: decimal.RequireFromString("0.01")})
	require.NoError(t, err)
	require.Equal(t, 1, s.calls)
	require.Equal(t, "5sig", report.Signature)
	require.InDelta(t, 2000, report.AmountToken, 1e-9)

	s.err = errors.New("failed")
	_, err = svc.TestExecute(context.Background(), SwapRequest{OutputMint: testMint})
	requireCode(t, err, ErrorUpstream)
	require.True(t, s.amount.Equal(decimal.RequireFromString("0.001")))
}
