// Package amm implements the constant-product resource pools. A Pool only
// does the arithmetic and bookkeeping; moving tokens is the caller's job, so
// every mutation comes as a Quote* computation followed by an Apply* commit.
package amm

import (
	"fmt"

	"computex/internal/common"

	"github.com/holiman/uint256"
)

// MinLiquidity shares are locked forever by the first deposit.
const MinLiquidity = 1000

var (
	minLiquidity = uint256.NewInt(MinLiquidity)
	bpsScale     = uint256.NewInt(common.BpsDenominator)
)

// Position is a provider's stake in a pool.
type Position struct {
	Shares      *uint256.Int
	Contributed *uint256.Int // Gross resource units deposited
}

type Pool struct {
	Resource        common.ResourceType
	ResourceReserve *uint256.Int
	TokenReserve    *uint256.Int
	TotalShares     *uint256.Int
	FeeRateBps      uint64

	positions map[common.Account]*Position
}

func NewPool(resource common.ResourceType, feeRateBps uint64) (*Pool, error) {
	if feeRateBps > common.BpsDenominator {
		return nil, fmt.Errorf("%w: fee rate %d bps", common.ErrInvalidArgument, feeRateBps)
	}
	return &Pool{
		Resource:        resource,
		ResourceReserve: common.Zero(),
		TokenReserve:    common.Zero(),
		TotalShares:     common.Zero(),
		FeeRateBps:      feeRateBps,
		positions:       make(map[common.Account]*Position),
	}, nil
}

// Empty reports whether either reserve is zero.
func (p *Pool) Empty() bool {
	return p.ResourceReserve.IsZero() || p.TokenReserve.IsZero()
}

func (p *Pool) SetFeeRate(bps uint64) error {
	if bps > common.BpsDenominator {
		return fmt.Errorf("%w: fee rate %d bps", common.ErrInvalidArgument, bps)
	}
	p.FeeRateBps = bps
	return nil
}

// Position returns a copy of the provider's stake.
func (p *Pool) Position(provider common.Account) Position {
	pos, ok := p.positions[provider]
	if !ok {
		return Position{Shares: common.Zero(), Contributed: common.Zero()}
	}
	return Position{Shares: pos.Shares.Clone(), Contributed: pos.Contributed.Clone()}
}

// QuoteAddLiquidity computes the shares a deposit would mint.
func (p *Pool) QuoteAddLiquidity(resourceAmount, tokenAmount *uint256.Int) (*uint256.Int, error) {
	if resourceAmount.IsZero() || tokenAmount.IsZero() {
		return nil, fmt.Errorf("%w: liquidity amounts must be positive", common.ErrInvalidArgument)
	}

	if p.TotalShares.IsZero() {
		product, err := common.Mul(resourceAmount, tokenAmount)
		if err != nil {
			return nil, err
		}
		root := new(uint256.Int).Sqrt(product)
		if !root.Gt(minLiquidity) {
			return nil, fmt.Errorf("%w: initial deposit mints %s shares, at most the %d locked",
				common.ErrInsufficientLiquidity, root.Dec(), MinLiquidity)
		}
		return root.Sub(root, minLiquidity), nil
	}

	byResource, err := common.MulDiv(resourceAmount, p.TotalShares, p.ResourceReserve)
	if err != nil {
		return nil, err
	}
	byToken, err := common.MulDiv(tokenAmount, p.TotalShares, p.TokenReserve)
	if err != nil {
		return nil, err
	}
	shares := common.Min(byResource, byToken)
	if shares.IsZero() {
		return nil, fmt.Errorf("%w: deposit mints no shares", common.ErrInsufficientLiquidity)
	}
	return shares, nil
}

// ApplyAddLiquidity commits a deposit quoted by QuoteAddLiquidity.
func (p *Pool) ApplyAddLiquidity(provider common.Account, resourceAmount, tokenAmount, shares *uint256.Int) {
	if p.TotalShares.IsZero() {
		// The locked floor belongs to nobody.
		p.TotalShares.Set(minLiquidity)
	}
	p.TotalShares.Add(p.TotalShares, shares)
	p.ResourceReserve.Add(p.ResourceReserve, resourceAmount)
	p.TokenReserve.Add(p.TokenReserve, tokenAmount)

	pos := p.position(provider)
	pos.Shares.Add(pos.Shares, shares)
	pos.Contributed.Add(pos.Contributed, resourceAmount)
}

// QuoteRemoveLiquidity computes the reserves paid out for burning shares.
func (p *Pool) QuoteRemoveLiquidity(provider common.Account, shares *uint256.Int) (resourceAmount, tokenAmount *uint256.Int, err error) {
	if shares.IsZero() {
		return nil, nil, fmt.Errorf("%w: shares must be positive", common.ErrInvalidArgument)
	}
	held := p.Position(provider).Shares
	if held.Lt(shares) {
		return nil, nil, fmt.Errorf("%w: %s holds %s shares, burning %s",
			common.ErrInsufficientBalance, provider, held.Dec(), shares.Dec())
	}

	resourceAmount, err = common.MulDiv(shares, p.ResourceReserve, p.TotalShares)
	if err != nil {
		return nil, nil, err
	}
	tokenAmount, err = common.MulDiv(shares, p.TokenReserve, p.TotalShares)
	if err != nil {
		return nil, nil, err
	}
	return resourceAmount, tokenAmount, nil
}

// ApplyRemoveLiquidity commits a withdrawal quoted by QuoteRemoveLiquidity.
// The gross contribution shrinks by the resource amount paid out, floored at zero.
func (p *Pool) ApplyRemoveLiquidity(provider common.Account, shares, resourceAmount, tokenAmount *uint256.Int) {
	p.TotalShares.Sub(p.TotalShares, shares)
	p.ResourceReserve.Sub(p.ResourceReserve, resourceAmount)
	p.TokenReserve.Sub(p.TokenReserve, tokenAmount)

	pos := p.position(provider)
	pos.Shares.Sub(pos.Shares, shares)
	if pos.Contributed.Lt(resourceAmount) {
		pos.Contributed.Clear()
	} else {
		pos.Contributed.Sub(pos.Contributed, resourceAmount)
	}
}

// QuoteBuy prices spending tokenIn on resources.
func (p *Pool) QuoteBuy(tokenIn, minResourceOut *uint256.Int) (*uint256.Int, error) {
	return p.quoteSwap(tokenIn, minResourceOut, p.TokenReserve, p.ResourceReserve)
}

// QuoteSell prices selling resourceIn for tokens.
func (p *Pool) QuoteSell(resourceIn, minTokenOut *uint256.Int) (*uint256.Int, error) {
	return p.quoteSwap(resourceIn, minTokenOut, p.ResourceReserve, p.TokenReserve)
}

func (p *Pool) ApplyBuy(tokenIn, resourceOut *uint256.Int) {
	p.TokenReserve.Add(p.TokenReserve, tokenIn)
	p.ResourceReserve.Sub(p.ResourceReserve, resourceOut)
}

func (p *Pool) ApplySell(resourceIn, tokenOut *uint256.Int) {
	p.ResourceReserve.Add(p.ResourceReserve, resourceIn)
	p.TokenReserve.Sub(p.TokenReserve, tokenOut)
}

func (p *Pool) quoteSwap(amountIn, minOut, reserveIn, reserveOut *uint256.Int) (*uint256.Int, error) {
	if amountIn.IsZero() {
		return nil, fmt.Errorf("%w: swap amount must be positive", common.ErrInvalidArgument)
	}
	if p.Empty() {
		return nil, fmt.Errorf("%w: %v", common.ErrEmptyPool, p.Resource)
	}
	out, err := AmountOut(amountIn, reserveIn, reserveOut, p.FeeRateBps)
	if err != nil {
		return nil, err
	}
	if out.IsZero() || !out.Lt(reserveOut) {
		return nil, fmt.Errorf("%w: output %s against reserve %s",
			common.ErrInsufficientLiquidity, out.Dec(), reserveOut.Dec())
	}
	if out.Lt(minOut) {
		return nil, fmt.Errorf("%w: output %s below minimum %s",
			common.ErrSlippageExceeded, out.Dec(), minOut.Dec())
	}
	if _, err := common.Add(reserveIn, amountIn); err != nil {
		return nil, err
	}
	return out, nil
}

// Price quotes without mutating: when buying, the tokens needed to receive
// amount resources; when selling, the tokens received for amount resources.
func (p *Pool) Price(isBuying bool, amount *uint256.Int) (*uint256.Int, error) {
	if amount.IsZero() {
		return nil, fmt.Errorf("%w: quote amount must be positive", common.ErrInvalidArgument)
	}
	if p.Empty() {
		return nil, fmt.Errorf("%w: %v", common.ErrEmptyPool, p.Resource)
	}
	if isBuying {
		return AmountIn(amount, p.TokenReserve, p.ResourceReserve, p.FeeRateBps)
	}
	return AmountOut(amount, p.ResourceReserve, p.TokenReserve, p.FeeRateBps)
}

// SwapFee is the portion of amountIn retained as fee.
func SwapFee(amountIn *uint256.Int, feeRateBps uint64) (*uint256.Int, error) {
	return common.Bps(amountIn, feeRateBps)
}

func (p *Pool) position(provider common.Account) *Position {
	pos, ok := p.positions[provider]
	if !ok {
		pos = &Position{Shares: common.Zero(), Contributed: common.Zero()}
		p.positions[provider] = pos
	}
	return pos
}
