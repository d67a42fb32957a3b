// Package safety tracks per-market trading statistics and trips the circuit
// breaker that halts a market.
package safety

import (
	"fmt"
	"time"

	"computex/internal/common"

	"github.com/holiman/uint256"
)

// Halt reasons.
const (
	ReasonVolume      = "volume threshold exceeded"
	ReasonPriceChange = "price change threshold exceeded"
)

// Market is the rolling statistics of one resource market. The 24h figures
// accumulate until an explicit Reset; they are not time-decayed.
type Market struct {
	LastPrice      *uint256.Int
	High24h        *uint256.Int
	Low24h         *uint256.Int
	Volume24h      *uint256.Int // Resource units
	QuoteVolume24h *uint256.Int // Token units
	Halted         bool
	LastUpdate     time.Time
	Trades         uint64
}

func (m Market) Clone() Market {
	c := m
	c.LastPrice = common.Clone(m.LastPrice)
	c.High24h = common.Clone(m.High24h)
	c.Low24h = common.Clone(m.Low24h)
	c.Volume24h = common.Clone(m.Volume24h)
	c.QuoteVolume24h = common.Clone(m.QuoteVolume24h)
	return c
}

// CircuitBreaker thresholds. A zero threshold disables its check.
type CircuitBreaker struct {
	PriceChangeThresholdBps uint64
	VolumeThreshold         *uint256.Int
	Cooldown                time.Duration
	LastTrigger             time.Time
}

func (b CircuitBreaker) Clone() CircuitBreaker {
	c := b
	c.VolumeThreshold = common.Clone(b.VolumeThreshold)
	return c
}

// Monitor owns a market's statistics and breaker. Like the order book it is
// driven from the market's sequencer only.
type Monitor struct {
	resource common.ResourceType
	market   Market
	breaker  CircuitBreaker
}

func NewMonitor(resource common.ResourceType, breaker CircuitBreaker) *Monitor {
	m := &Monitor{resource: resource, breaker: breaker.Clone()}
	m.Reset(time.Time{})
	return m
}

// Clone returns an independent copy, used to stage trades before they are
// known to settle.
func (m *Monitor) Clone() *Monitor {
	return &Monitor{resource: m.resource, market: m.market.Clone(), breaker: m.breaker.Clone()}
}

func (m *Monitor) Market() Market {
	return m.market.Clone()
}

func (m *Monitor) Breaker() CircuitBreaker {
	return m.breaker.Clone()
}

func (m *Monitor) Halted() bool {
	return m.market.Halted
}

// RecordTrade folds one execution into the statistics, then evaluates the
// breaker. It returns the halt reason when this trade tripped it.
func (m *Monitor) RecordTrade(amount, price *uint256.Int, now time.Time) (string, bool, error) {
	quote, err := common.Mul(amount, price)
	if err != nil {
		return "", false, err
	}
	volume, err := common.Add(m.market.Volume24h, amount)
	if err != nil {
		return "", false, err
	}
	quoteVolume, err := common.Add(m.market.QuoteVolume24h, quote)
	if err != nil {
		return "", false, err
	}

	mk := &m.market
	if mk.Trades == 0 || mk.High24h.IsZero() {
		mk.High24h = price.Clone()
		mk.Low24h = price.Clone()
	} else {
		if price.Gt(mk.High24h) {
			mk.High24h = price.Clone()
		}
		if price.Lt(mk.Low24h) {
			mk.Low24h = price.Clone()
		}
	}
	mk.LastPrice = price.Clone()
	mk.Volume24h = volume
	mk.QuoteVolume24h = quoteVolume
	mk.LastUpdate = now
	mk.Trades++

	reason, trip := m.evaluate(now)
	if trip {
		mk.Halted = true
		m.breaker.LastTrigger = now
	}
	return reason, trip, nil
}

func (m *Monitor) evaluate(now time.Time) (string, bool) {
	mk := &m.market
	if mk.Halted {
		return "", false
	}
	if !m.breaker.LastTrigger.IsZero() && now.Before(m.breaker.LastTrigger.Add(m.breaker.Cooldown)) {
		return "", false
	}

	if threshold := m.breaker.VolumeThreshold; threshold != nil && !threshold.IsZero() {
		if mk.Volume24h.Gt(threshold) {
			return ReasonVolume, true
		}
	}

	if m.breaker.PriceChangeThresholdBps > 0 && !mk.Low24h.IsZero() {
		spread := new(uint256.Int).Sub(mk.High24h, mk.Low24h)
		changeBps, err := common.MulDiv(spread, uint256.NewInt(common.BpsDenominator), mk.Low24h)
		if err != nil || changeBps.Gt(uint256.NewInt(m.breaker.PriceChangeThresholdBps)) {
			return ReasonPriceChange, true
		}
	}
	return "", false
}

// Resume clears a halt. Resuming a running market is an InvalidState.
func (m *Monitor) Resume() error {
	if !m.market.Halted {
		return fmt.Errorf("%w: market %v is not halted", common.ErrInvalidState, m.resource)
	}
	m.market.Halted = false
	return nil
}

// UpdateBreaker replaces the thresholds, keeping the last trigger time so a
// running cooldown is honoured.
func (m *Monitor) UpdateBreaker(priceChangeThresholdBps uint64, volumeThreshold *uint256.Int, cooldown time.Duration) error {
	if cooldown < 0 {
		return fmt.Errorf("%w: negative cooldown %v", common.ErrInvalidArgument, cooldown)
	}
	m.breaker.PriceChangeThresholdBps = priceChangeThresholdBps
	m.breaker.VolumeThreshold = common.Clone(volumeThreshold)
	m.breaker.Cooldown = cooldown
	return nil
}

// Reset zeroes the 24h accumulators and last price. The halt flag is left
// alone.
func (m *Monitor) Reset(now time.Time) {
	m.market = Market{
		LastPrice:      common.Zero(),
		High24h:        common.Zero(),
		Low24h:         common.Zero(),
		Volume24h:      common.Zero(),
		QuoteVolume24h: common.Zero(),
		Halted:         m.market.Halted,
		LastUpdate:     now,
	}
}
