package decision

import (
	"testing"

	"github.com/stretchr/testify/require"

	"vibe-trader/internal/domain"
)

const (
	tokenA = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"
	tokenB = "EKpQGSJtjMFqKZ9KQanSqYXRcF8fBopzLHYxdM65zcjm"
)

func TestAddressLock_FirstMentionWins(t *testing.T) {
	var l addressLock

	require.Equal(t, "", l.candidate("gm, any plays today?"))
	require.False(t, l.commit(""))

	require.Equal(t, tokenA, l.candidate("check out "+tokenA))
	require.True(t, l.commit(tokenA))

	require.Equal(t, tokenA, l.candidate("actually, "+tokenB+" is better"))
	require.False(t, l.commit(tokenB))
	require.Equal(t, tokenA, l.locked)
}

func TestEnforce(t *testing.T) {
	t.Run("overrides a different target", func(t *testing.T) {
		d := &domain.Decision{Verdict: domain.VerdictAct, Target: tokenB}
		require.True(t, Enforce(d, tokenA))
		require.Equal(t, tokenA, d.Target)
	})

	t.Run("same target unchanged", func(t *testing.T) {
		d := &domain.Decision{Verdict: domain.VerdictAct, Target: tokenA}
		require.False(t, Enforce(d, tokenA))
		require.Equal(t, tokenA, d.Target)
	})

	t.Run("no lock keeps parsed target", func(t *testing.T) {
		d := &domain.Decision{Verdict: domain.VerdictAct, Target: tokenB}
		require.False(t, Enforce(d, ""))
		require.Equal(t, tokenB, d.Target)
	})

	t.Run("empty target stays ineligible", func(t *testing.T) {
		d := &domain.Decision{Verdict: domain.VerdictAct}
		require.False(t, Enforce(d, tokenA))
		require.False(t, d.Executable())
	})

	t.Run("non-identifier targets stay ineligible", func(t *testing.T) {
		for _, target := range []string{"token_address", "ING", "IT", "0xdeadbeef", "<token_address>"} {
			d := &domain.Decision{Verdict: domain.VerdictAct, Target: target}
			require.False(t, Enforce(d, tokenA), target)
			require.Empty(t, d.Target, target)
			require.False(t, d.Executable(), target)
		}
	})

	t.Run("non-identifier target without lock", func(t *testing.T) {
		d := &domain.Decision{Verdict: domain.VerdictAct, Target: "IT"}
		require.False(t, Enforce(d, ""))
		require.False(t, d.Executable())
	})

	t.Run("parsed placeholder is not rescued by the lock", func(t *testing.T) {
		for _, text := range []string{
			"DECISION: BUY <token_address>",
			"DECISION: BUY IT NOW",
			"DECISION: BUY ING",
			"DECISION: BUY",
		} {
			d := Parse(text)
			require.NotNil(t, d, text)
			require.False(t, Enforce(d, tokenA), text)
			require.False(t, d.Executable(), text)
		}
		require.Nil(t, Parse("DECISION: BUYING more soon"))
	})

	t.Run("decline untouched", func(t *testing.T) {
		d := &domain.Decision{Verdict: domain.VerdictDecline}
		require.False(t, Enforce(d, tokenA))
		require.Empty(t, d.Target)
	})

	t.Run("nil decision", func(t *testing.T) {
		require.False(t, Enforce(nil, tokenA))
	})
}
