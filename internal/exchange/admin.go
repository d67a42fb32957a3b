package exchange

import (
	"context"
	"fmt"
	"time"

	"computex/internal/common"
	"computex/internal/events"
	"computex/internal/safety"

	"github.com/holiman/uint256"
	"github.com/rs/zerolog/log"
)

// SetFeeRate changes the swap fee of rt's pool, including a pool not yet
// created.
func (x *Exchange) SetFeeRate(ctx context.Context, caller common.Account, rt common.ResourceType, bps uint64) error {
	if err := x.authorize(caller); err != nil {
		return err
	}
	if bps > common.BpsDenominator {
		return fmt.Errorf("%w: fee rate %d bps", common.ErrInvalidArgument, bps)
	}

	return x.do(ctx, rt, func(m *market) error {
		if m.pool != nil {
			if err := m.pool.SetFeeRate(bps); err != nil {
				return err
			}
		}
		old := m.feeRateBps
		m.feeRateBps = bps

		log.Info().
			Str("resource", rt.String()).
			Uint64("old_bps", old).
			Uint64("new_bps", bps).
			Msg("pool fee rate updated")
		x.publish([]events.Event{&events.FeeRateUpdated{
			Header: x.header(rt),
			OldBps: old,
			NewBps: bps,
		}})
		return nil
	})
}

// UpdateCircuitBreaker replaces rt's breaker thresholds. A zero threshold
// disables that check.
func (x *Exchange) UpdateCircuitBreaker(ctx context.Context, caller common.Account, rt common.ResourceType, priceChangeThresholdBps uint64, volumeThreshold *uint256.Int, cooldown time.Duration) error {
	if err := x.authorize(caller); err != nil {
		return err
	}

	return x.do(ctx, rt, func(m *market) error {
		if err := m.monitor.UpdateBreaker(priceChangeThresholdBps, volumeThreshold, cooldown); err != nil {
			return err
		}
		x.publish([]events.Event{&events.CircuitBreakerUpdated{
			Header:                  x.header(rt),
			PriceChangeThresholdBps: priceChangeThresholdBps,
			VolumeThreshold:         common.Clone(volumeThreshold),
			Cooldown:                cooldown,
		}})
		return nil
	})
}

// ResumeMarket clears a halt. Resuming a market that is not halted is an
// ErrInvalidState.
func (x *Exchange) ResumeMarket(ctx context.Context, caller common.Account, rt common.ResourceType) error {
	if err := x.authorize(caller); err != nil {
		return err
	}

	return x.do(ctx, rt, func(m *market) error {
		if err := m.monitor.Resume(); err != nil {
			return err
		}
		log.Info().Str("resource", rt.String()).Msg("market resumed")
		x.publish([]events.Event{&events.MarketResumed{Header: x.header(rt)}})
		return nil
	})
}

// ResetMarketStats zeroes rt's 24h accumulators, which otherwise grow for
// the life of the market. The halt flag is untouched.
func (x *Exchange) ResetMarketStats(ctx context.Context, caller common.Account, rt common.ResourceType) error {
	if err := x.authorize(caller); err != nil {
		return err
	}

	return x.do(ctx, rt, func(m *market) error {
		now := x.now()
		m.monitor.Reset(now)
		x.publish([]events.Event{&events.MarketStatsReset{
			Header: events.Header{Resource: rt, Timestamp: now},
		}})
		return nil
	})
}

// GrantResources credits resource units to an account. It is how a host
// brings externally provisioned capacity into a market.
func (x *Exchange) GrantResources(ctx context.Context, caller, acct common.Account, rt common.ResourceType, amount *uint256.Int) error {
	if err := x.authorize(caller); err != nil {
		return err
	}
	if err := positive("amount", amount); err != nil {
		return err
	}
	return x.do(ctx, rt, func(m *market) error {
		return m.credit(acct, amount)
	})
}

func (x *Exchange) GetMarket(ctx context.Context, rt common.ResourceType) (safety.Market, error) {
	var mk safety.Market
	err := x.do(ctx, rt, func(m *market) error {
		mk = m.monitor.Market()
		return nil
	})
	return mk, err
}

func (x *Exchange) GetCircuitBreaker(ctx context.Context, rt common.ResourceType) (safety.CircuitBreaker, error) {
	var b safety.CircuitBreaker
	err := x.do(ctx, rt, func(m *market) error {
		b = m.monitor.Breaker()
		return nil
	})
	return b, err
}
