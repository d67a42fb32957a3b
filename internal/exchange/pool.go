package exchange

import (
	"context"
	"fmt"

	"computex/internal/amm"
	"computex/internal/common"
	"computex/internal/events"
	"computex/internal/ledger"

	"github.com/holiman/uint256"
)

// AddLiquidity deposits into rt's pool, creating it on first use, and returns
// the shares minted. Tokens move to the pool account and the resource amount
// is taken from the provider's balance in the market. Allowed while halted.
func (x *Exchange) AddLiquidity(ctx context.Context, provider common.Account, rt common.ResourceType, resourceAmount, tokenAmount *uint256.Int) (*uint256.Int, error) {
	if err := positive("resource amount", resourceAmount); err != nil {
		return nil, err
	}
	if err := positive("token amount", tokenAmount); err != nil {
		return nil, err
	}

	var shares *uint256.Int
	err := x.do(ctx, rt, func(m *market) error {
		p := m.pool
		if p == nil {
			var err error
			if p, err = amm.NewPool(rt, m.feeRateBps); err != nil {
				return err
			}
		}

		minted, err := p.QuoteAddLiquidity(resourceAmount, tokenAmount)
		if err != nil {
			return err
		}
		held := m.resourceBalance(provider)
		if held.Lt(resourceAmount) {
			return fmt.Errorf("%w: %s holds %s %v, deposit needs %s",
				common.ErrInsufficientBalance, provider, held.Dec(), rt, resourceAmount.Dec())
		}
		left := new(uint256.Int).Sub(held, resourceAmount)

		err = ledger.Apply(x.ledger, []ledger.Transfer{
			{From: provider, To: x.cfg.PoolAccount, Amount: tokenAmount.Clone()},
		})
		if err != nil {
			return fmt.Errorf("add liquidity: %w", err)
		}

		p.ApplyAddLiquidity(provider, resourceAmount, tokenAmount, minted)
		m.pool = p
		m.resources[provider] = left
		shares = minted

		x.publish([]events.Event{&events.LiquidityAdded{
			Header:         x.header(rt),
			Provider:       provider,
			ResourceAmount: resourceAmount.Clone(),
			TokenAmount:    tokenAmount.Clone(),
			Shares:         minted.Clone(),
		}})
		return nil
	})
	return shares, err
}

// RemoveLiquidity burns shares for a pro-rata slice of both reserves. Tokens
// are paid from the pool account and resources credited to the provider's
// balance in the market. Allowed while halted.
func (x *Exchange) RemoveLiquidity(ctx context.Context, provider common.Account, rt common.ResourceType, shares *uint256.Int) (resourceAmount, tokenAmount *uint256.Int, err error) {
	if err := positive("shares", shares); err != nil {
		return nil, nil, err
	}

	err = x.do(ctx, rt, func(m *market) error {
		if m.pool == nil {
			return fmt.Errorf("%w: %s has no %v liquidity", common.ErrInsufficientBalance, provider, rt)
		}
		res, tok, err := m.pool.QuoteRemoveLiquidity(provider, shares)
		if err != nil {
			return err
		}
		credited, err := common.Add(m.resourceBalance(provider), res)
		if err != nil {
			return err
		}
		err = ledger.Apply(x.ledger, []ledger.Transfer{
			{From: x.cfg.PoolAccount, To: provider, Amount: tok.Clone()},
		})
		if err != nil {
			return fmt.Errorf("remove liquidity: %w", err)
		}

		m.pool.ApplyRemoveLiquidity(provider, shares, res, tok)
		m.resources[provider] = credited
		resourceAmount, tokenAmount = res, tok

		x.publish([]events.Event{&events.LiquidityRemoved{
			Header:         x.header(rt),
			Provider:       provider,
			ResourceAmount: res.Clone(),
			TokenAmount:    tok.Clone(),
			Shares:         shares.Clone(),
		}})
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return resourceAmount, tokenAmount, nil
}

// BuyResources swaps tokenIn for resources from the pool, failing with
// ErrSlippageExceeded when fewer than minResourceOut would come back.
func (x *Exchange) BuyResources(ctx context.Context, buyer common.Account, rt common.ResourceType, tokenIn, minResourceOut *uint256.Int) (*uint256.Int, error) {
	if err := positive("token amount", tokenIn); err != nil {
		return nil, err
	}
	minOut := common.Clone(minResourceOut)

	var out *uint256.Int
	err := x.do(ctx, rt, func(m *market) error {
		if err := m.halted(); err != nil {
			return err
		}
		if m.pool == nil {
			return fmt.Errorf("%w: %v", common.ErrEmptyPool, rt)
		}
		p := m.pool

		resourceOut, err := p.QuoteBuy(tokenIn, minOut)
		if err != nil {
			return err
		}
		fee, err := amm.SwapFee(tokenIn, p.FeeRateBps)
		if err != nil {
			return err
		}
		credited, err := common.Add(m.resourceBalance(buyer), resourceOut)
		if err != nil {
			return err
		}
		err = ledger.Apply(x.ledger, []ledger.Transfer{
			{From: buyer, To: x.cfg.PoolAccount, Amount: tokenIn.Clone()},
		})
		if err != nil {
			return fmt.Errorf("buy %v: %w", rt, err)
		}

		p.ApplyBuy(tokenIn, resourceOut)
		m.resources[buyer] = credited
		out = resourceOut

		x.publish([]events.Event{&events.ComputeSwap{
			Header:    x.header(rt),
			Account:   buyer,
			IsBuy:     true,
			AmountIn:  tokenIn.Clone(),
			AmountOut: resourceOut.Clone(),
			Fee:       fee,
		}})
		return nil
	})
	return out, err
}

// SellResources swaps resourceIn from the seller's balance for tokens,
// failing with ErrSlippageExceeded when fewer than minTokenOut would come
// back.
func (x *Exchange) SellResources(ctx context.Context, seller common.Account, rt common.ResourceType, resourceIn, minTokenOut *uint256.Int) (*uint256.Int, error) {
	if err := positive("resource amount", resourceIn); err != nil {
		return nil, err
	}
	minOut := common.Clone(minTokenOut)

	var out *uint256.Int
	err := x.do(ctx, rt, func(m *market) error {
		if err := m.halted(); err != nil {
			return err
		}
		if m.pool == nil {
			return fmt.Errorf("%w: %v", common.ErrEmptyPool, rt)
		}
		p := m.pool

		held := m.resourceBalance(seller)
		if held.Lt(resourceIn) {
			return fmt.Errorf("%w: %s holds %s %v, selling %s",
				common.ErrInsufficientBalance, seller, held.Dec(), rt, resourceIn.Dec())
		}
		tokenOut, err := p.QuoteSell(resourceIn, minOut)
		if err != nil {
			return err
		}
		fee, err := amm.SwapFee(resourceIn, p.FeeRateBps)
		if err != nil {
			return err
		}
		err = ledger.Apply(x.ledger, []ledger.Transfer{
			{From: x.cfg.PoolAccount, To: seller, Amount: tokenOut.Clone()},
		})
		if err != nil {
			return fmt.Errorf("sell %v: %w", rt, err)
		}

		m.resources[seller] = held.Sub(held, resourceIn)
		p.ApplySell(resourceIn, tokenOut)
		out = tokenOut

		x.publish([]events.Event{&events.ComputeSwap{
			Header:    x.header(rt),
			Account:   seller,
			IsBuy:     false,
			AmountIn:  resourceIn.Clone(),
			AmountOut: tokenOut.Clone(),
			Fee:       fee,
		}})
		return nil
	})
	return out, err
}

// GetPrice quotes without side effects: the tokens needed to buy amount
// resources, or the tokens received for selling them.
func (x *Exchange) GetPrice(ctx context.Context, rt common.ResourceType, isBuying bool, amount *uint256.Int) (*uint256.Int, error) {
	if err := positive("amount", amount); err != nil {
		return nil, err
	}
	var price *uint256.Int
	err := x.do(ctx, rt, func(m *market) error {
		if m.pool == nil {
			return fmt.Errorf("%w: %v", common.ErrEmptyPool, rt)
		}
		var err error
		price, err = m.pool.Price(isBuying, amount)
		return err
	})
	return price, err
}

type PoolInfo struct {
	Resource        common.ResourceType
	ResourceReserve *uint256.Int
	TokenReserve    *uint256.Int
	TotalShares     *uint256.Int
	FeeRateBps      uint64
}

func (x *Exchange) GetPoolInfo(ctx context.Context, rt common.ResourceType) (PoolInfo, error) {
	var info PoolInfo
	err := x.do(ctx, rt, func(m *market) error {
		info = PoolInfo{
			Resource:        rt,
			ResourceReserve: common.Zero(),
			TokenReserve:    common.Zero(),
			TotalShares:     common.Zero(),
			FeeRateBps:      m.feeRateBps,
		}
		if p := m.pool; p != nil {
			info.ResourceReserve = p.ResourceReserve.Clone()
			info.TokenReserve = p.TokenReserve.Clone()
			info.TotalShares = p.TotalShares.Clone()
		}
		return nil
	})
	return info, err
}

func (x *Exchange) GetUserLiquidity(ctx context.Context, provider common.Account, rt common.ResourceType) (amm.Position, error) {
	pos := amm.Position{Shares: common.Zero(), Contributed: common.Zero()}
	err := x.do(ctx, rt, func(m *market) error {
		if m.pool != nil {
			pos = m.pool.Position(provider)
		}
		return nil
	})
	return pos, err
}

// ResourceBalance is the amount of rt that acct holds in the exchange.
func (x *Exchange) ResourceBalance(ctx context.Context, acct common.Account, rt common.ResourceType) (*uint256.Int, error) {
	var bal *uint256.Int
	err := x.do(ctx, rt, func(m *market) error {
		bal = m.resourceBalance(acct)
		return nil
	})
	return bal, err
}
