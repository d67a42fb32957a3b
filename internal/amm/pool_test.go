package amm

import (
	"math/big"
	"testing"

	"computex/internal/common"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Setup & Helpers --------------------------------------------------------

func u(n uint64) *uint256.Int { return uint256.NewInt(n) }

// seededPool builds a pool with the given reserves held by a single provider.
func seededPool(t *testing.T, resource, token uint64, feeBps uint64) *Pool {
	t.Helper()
	p, err := NewPool(common.GPU, feeBps)
	require.NoError(t, err)
	p.ResourceReserve.SetUint64(resource)
	p.TokenReserve.SetUint64(token)
	p.TotalShares.SetUint64(resource)
	p.positions["seed"] = &Position{Shares: u(resource), Contributed: u(resource)}
	return p
}

func addLiquidity(t *testing.T, p *Pool, provider common.Account, resource, token *uint256.Int) *uint256.Int {
	t.Helper()
	shares, err := p.QuoteAddLiquidity(resource, token)
	require.NoError(t, err)
	p.ApplyAddLiquidity(provider, resource, token, shares)
	return shares
}

func product(p *Pool) *big.Int {
	return new(big.Int).Mul(p.ResourceReserve.ToBig(), p.TokenReserve.ToBig())
}

// --- Liquidity --------------------------------------------------------------

func TestAddLiquidity_FirstDepositLocksMinimum(t *testing.T) {
	p, err := NewPool(common.CPU, 30)
	require.NoError(t, err)

	shares := addLiquidity(t, p, "alice", u(10_000), u(40_000))

	// sqrt(10_000 * 40_000) = 20_000
	assert.Equal(t, u(19_000), shares)
	assert.Equal(t, u(20_000), p.TotalShares)
	assert.Equal(t, u(19_000), p.Position("alice").Shares)
	assert.Equal(t, u(10_000), p.Position("alice").Contributed)
}

func TestAddLiquidity_FirstDepositTooSmall(t *testing.T) {
	p, err := NewPool(common.CPU, 30)
	require.NoError(t, err)

	_, err = p.QuoteAddLiquidity(u(1000), u(1000))
	assert.ErrorIs(t, err, common.ErrInsufficientLiquidity)

	_, err = p.QuoteAddLiquidity(common.Zero(), u(1000))
	assert.ErrorIs(t, err, common.ErrInvalidArgument)
}

func TestAddLiquidity_ProportionalTakesMinimum(t *testing.T) {
	p, err := NewPool(common.CPU, 30)
	require.NoError(t, err)
	addLiquidity(t, p, "alice", u(10_000), u(40_000))

	// 1000 * 20000 / 10000 = 2000 by resource, 8000 * 20000 / 40000 = 4000 by token.
	shares := addLiquidity(t, p, "bob", u(1000), u(8000))
	assert.Equal(t, u(2000), shares)
	assert.Equal(t, u(11_000), p.ResourceReserve)
	assert.Equal(t, u(48_000), p.TokenReserve)

	_, err = p.QuoteAddLiquidity(u(1), u(1))
	assert.ErrorIs(t, err, common.ErrInsufficientLiquidity, "1 token mints zero shares")
}

func TestRemoveLiquidity_NeverReturnsMoreThanDeposited(t *testing.T) {
	p, err := NewPool(common.CPU, 30)
	require.NoError(t, err)
	addLiquidity(t, p, "alice", u(10_000), u(40_000))

	deposits := []struct{ resource, token uint64 }{{1000, 8000}, {333, 1337}, {7, 29}}
	for _, d := range deposits {
		shares := addLiquidity(t, p, "bob", u(d.resource), u(d.token))

		res, tok, err := p.QuoteRemoveLiquidity("bob", shares)
		require.NoError(t, err)
		assert.True(t, res.Cmp(u(d.resource)) <= 0, "resource %s > %d", res.Dec(), d.resource)
		assert.True(t, tok.Cmp(u(d.token)) <= 0, "token %s > %d", tok.Dec(), d.token)
		p.ApplyRemoveLiquidity("bob", shares, res, tok)
		assert.True(t, p.Position("bob").Shares.IsZero())
	}
}

func TestRemoveLiquidity_Validation(t *testing.T) {
	p, err := NewPool(common.CPU, 30)
	require.NoError(t, err)
	shares := addLiquidity(t, p, "alice", u(10_000), u(40_000))

	_, _, err = p.QuoteRemoveLiquidity("alice", new(uint256.Int).AddUint64(shares, 1))
	assert.ErrorIs(t, err, common.ErrInsufficientBalance)

	_, _, err = p.QuoteRemoveLiquidity("mallory", u(1))
	assert.ErrorIs(t, err, common.ErrInsufficientBalance)

	_, _, err = p.QuoteRemoveLiquidity("alice", common.Zero())
	assert.ErrorIs(t, err, common.ErrInvalidArgument)

	// Withdrawing everything leaves the locked floor behind.
	res, tok, err := p.QuoteRemoveLiquidity("alice", shares)
	require.NoError(t, err)
	p.ApplyRemoveLiquidity("alice", shares, res, tok)
	assert.Equal(t, u(MinLiquidity), p.TotalShares)
	assert.False(t, p.Empty())
}

// --- Swaps ------------------------------------------------------------------

func TestBuy_FeeReducesOutput(t *testing.T) {
	p := seededPool(t, 1000, 1000, 30)

	out, err := p.QuoteBuy(u(100), common.Zero())
	require.NoError(t, err)

	// 100*9970*1000 / (1000*10000 + 100*9970) = 997000000 / 10997000
	assert.Equal(t, u(90), out)

	// The no-fee value 100*1000/1100 is ~90.9; with the fee the exact
	// rational output is strictly smaller.
	exact := new(big.Rat).SetFrac64(997000000, 10997000)
	noFee := new(big.Rat).SetFrac64(100*1000, 1100)
	assert.Equal(t, -1, exact.Cmp(noFee))
}

func TestBuy_ScaledScenarioMatchesFormula(t *testing.T) {
	p, err := NewPool(common.GPU, 30)
	require.NoError(t, err)
	addLiquidity(t, p, "alice", common.Units(1000), common.Units(1000))

	in := common.Units(100)
	out, err := p.QuoteBuy(in, common.Zero())
	require.NoError(t, err)

	inWithFee := new(big.Int).Mul(in.ToBig(), big.NewInt(9970))
	num := new(big.Int).Mul(inWithFee, common.Units(1000).ToBig())
	den := new(big.Int).Add(new(big.Int).Mul(common.Units(1000).ToBig(), big.NewInt(10000)), inWithFee)
	assert.Equal(t, new(big.Int).Quo(num, den), out.ToBig())

	noFee := new(big.Int).Quo(new(big.Int).Mul(in.ToBig(), common.Units(1000).ToBig()), common.Units(1100).ToBig())
	assert.Equal(t, -1, out.ToBig().Cmp(noFee))
}

func TestSwap_ProductNeverDecreases(t *testing.T) {
	for _, fee := range []uint64{0, 30, 100} {
		p := seededPool(t, 1_000_000, 3_000_000, fee)
		amounts := []uint64{1, 17, 250, 9999, 123_456}
		for i, amount := range amounts {
			before := product(p)
			if i%2 == 0 {
				out, err := p.QuoteBuy(u(amount), common.Zero())
				if err != nil {
					assert.ErrorIs(t, err, common.ErrInsufficientLiquidity)
					continue
				}
				p.ApplyBuy(u(amount), out)
			} else {
				out, err := p.QuoteSell(u(amount), common.Zero())
				if err != nil {
					assert.ErrorIs(t, err, common.ErrInsufficientLiquidity)
					continue
				}
				p.ApplySell(u(amount), out)
			}
			assert.True(t, product(p).Cmp(before) >= 0, "fee %d swap %d shrank the product", fee, i)
		}
	}
}

func TestSwap_Failures(t *testing.T) {
	empty, err := NewPool(common.GPU, 30)
	require.NoError(t, err)
	_, err = empty.QuoteBuy(u(100), common.Zero())
	assert.ErrorIs(t, err, common.ErrEmptyPool)

	p := seededPool(t, 1000, 1000, 30)

	_, err = p.QuoteBuy(u(100), u(91))
	assert.ErrorIs(t, err, common.ErrSlippageExceeded)

	_, err = p.QuoteBuy(u(1), common.Zero())
	assert.ErrorIs(t, err, common.ErrInsufficientLiquidity, "rounds to zero output")

	_, err = p.QuoteSell(common.Zero(), common.Zero())
	assert.ErrorIs(t, err, common.ErrInvalidArgument)
}

func TestPrice_IsPure(t *testing.T) {
	p := seededPool(t, 1000, 1000, 30)

	cost, err := p.Price(true, u(10))
	require.NoError(t, err)
	// 1000*10*10000 / (990*9970) + 1
	assert.Equal(t, u(11), cost)

	// Paying the quoted cost buys at least the requested amount.
	out, err := AmountOut(cost, p.TokenReserve, p.ResourceReserve, p.FeeRateBps)
	require.NoError(t, err)
	assert.True(t, out.Cmp(u(10)) >= 0)

	proceeds, err := p.Price(false, u(10))
	require.NoError(t, err)
	assert.Equal(t, u(9), proceeds)

	_, err = p.Price(true, u(1000))
	assert.ErrorIs(t, err, common.ErrInsufficientLiquidity)

	assert.Equal(t, u(1000), p.ResourceReserve)
	assert.Equal(t, u(1000), p.TokenReserve)
}

func TestSetFeeRate(t *testing.T) {
	p := seededPool(t, 1000, 1000, 30)
	assert.ErrorIs(t, p.SetFeeRate(10_001), common.ErrInvalidArgument)
	require.NoError(t, p.SetFeeRate(0))
	assert.Equal(t, uint64(0), p.FeeRateBps)

	fee, err := SwapFee(u(10_000), 30)
	require.NoError(t, err)
	assert.Equal(t, u(30), fee)
}
