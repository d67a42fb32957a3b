// Package events defines what the exchange announces after an operation has
// fully succeeded, and the sinks those announcements are delivered to.
package events

import (
	"fmt"
	"time"

	"computex/internal/common"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

type Kind uint16

const (
	KindLiquidityAdded Kind = iota + 1
	KindLiquidityRemoved
	KindComputeSwap
	KindOrderCreated
	KindOrderFilled
	KindOrderCancelled
	KindTrade
	KindMarketHalted
	KindMarketResumed
	KindFeeRateUpdated
	KindCircuitBreakerUpdated
	KindMarketStatsReset

	numKinds = iota
)

var kindNames = [numKinds + 1]string{
	KindLiquidityAdded:        "liquidity_added",
	KindLiquidityRemoved:      "liquidity_removed",
	KindComputeSwap:           "compute_swap",
	KindOrderCreated:          "order_created",
	KindOrderFilled:           "order_filled",
	KindOrderCancelled:        "order_cancelled",
	KindTrade:                 "trade",
	KindMarketHalted:          "market_halted",
	KindMarketResumed:         "market_resumed",
	KindFeeRateUpdated:        "fee_rate_updated",
	KindCircuitBreakerUpdated: "circuit_breaker_updated",
	KindMarketStatsReset:      "market_stats_reset",
}

func (k Kind) Valid() bool {
	return k >= KindLiquidityAdded && k <= KindMarketStatsReset
}

func (k Kind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("kind(%d)", uint16(k))
	}
	return kindNames[k]
}

type Event interface {
	Kind() Kind
	Market() common.ResourceType
	Time() time.Time
}

// Header is embedded by every event.
type Header struct {
	Resource  common.ResourceType `json:"resource"`
	Timestamp time.Time           `json:"timestamp"`
}

func (h Header) Market() common.ResourceType { return h.Resource }
func (h Header) Time() time.Time             { return h.Timestamp }

type LiquidityAdded struct {
	Header
	Provider       common.Account `json:"provider"`
	ResourceAmount *uint256.Int   `json:"resource_amount"`
	TokenAmount    *uint256.Int   `json:"token_amount"`
	Shares         *uint256.Int   `json:"shares"`
}

type LiquidityRemoved struct {
	Header
	Provider       common.Account `json:"provider"`
	ResourceAmount *uint256.Int   `json:"resource_amount"`
	TokenAmount    *uint256.Int   `json:"token_amount"`
	Shares         *uint256.Int   `json:"shares"`
}

// ComputeSwap is a pool trade. Fee is the part of AmountIn kept by the pool.
type ComputeSwap struct {
	Header
	Account   common.Account `json:"account"`
	IsBuy     bool           `json:"is_buy"`
	AmountIn  *uint256.Int   `json:"amount_in"`
	AmountOut *uint256.Int   `json:"amount_out"`
	Fee       *uint256.Int   `json:"fee"`
}

type OrderCreated struct {
	Header
	OrderID    uuid.UUID        `json:"order_id"`
	Owner      common.Account   `json:"owner"`
	OrderType  common.OrderType `json:"order_type"`
	Side       common.Side      `json:"side"`
	Amount     *uint256.Int     `json:"amount"`
	LimitPrice *uint256.Int     `json:"limit_price"`
	ExpiryTime time.Time        `json:"expiry_time"`
}

// OrderFilled is emitted for each side of every fill.
type OrderFilled struct {
	Header
	OrderID    uuid.UUID          `json:"order_id"`
	Owner      common.Account     `json:"owner"`
	Side       common.Side        `json:"side"`
	FillAmount *uint256.Int       `json:"fill_amount"`
	Price      *uint256.Int       `json:"price"`
	Filled     *uint256.Int       `json:"filled"`
	Status     common.OrderStatus `json:"status"`
}

type OrderCancelled struct {
	Header
	OrderID   uuid.UUID      `json:"order_id"`
	Owner     common.Account `json:"owner"`
	Remaining *uint256.Int   `json:"remaining"`
	Expired   bool           `json:"expired"`
}

type Trade struct {
	Header
	BuyOrder  uuid.UUID      `json:"buy_order"`
	SellOrder uuid.UUID      `json:"sell_order"`
	Maker     uuid.UUID      `json:"maker"`
	Buyer     common.Account `json:"buyer"`
	Seller    common.Account `json:"seller"`
	Amount    *uint256.Int   `json:"amount"`
	Price     *uint256.Int   `json:"price"`
	Notional  *uint256.Int   `json:"notional"`
	MakerFee  *uint256.Int   `json:"maker_fee"`
	TakerFee  *uint256.Int   `json:"taker_fee"`
}

// NewTrade converts a settled trade.
func NewTrade(t common.Trade) *Trade {
	return &Trade{
		Header:    Header{Resource: t.Resource, Timestamp: t.Timestamp},
		BuyOrder:  t.BuyOrder,
		SellOrder: t.SellOrder,
		Maker:     t.Maker,
		Buyer:     t.Buyer,
		Seller:    t.Seller,
		Amount:    t.Amount,
		Price:     t.Price,
		Notional:  t.Notional,
		MakerFee:  t.MakerFee,
		TakerFee:  t.TakerFee,
	}
}

type MarketHalted struct {
	Header
	Reason string `json:"reason"`
}

type MarketResumed struct {
	Header
}

type FeeRateUpdated struct {
	Header
	OldBps uint64 `json:"old_bps"`
	NewBps uint64 `json:"new_bps"`
}

type CircuitBreakerUpdated struct {
	Header
	PriceChangeThresholdBps uint64        `json:"price_change_threshold_bps"`
	VolumeThreshold         *uint256.Int  `json:"volume_threshold"`
	Cooldown                time.Duration `json:"cooldown"`
}

type MarketStatsReset struct {
	Header
}

func (*LiquidityAdded) Kind() Kind        { return KindLiquidityAdded }
func (*LiquidityRemoved) Kind() Kind      { return KindLiquidityRemoved }
func (*ComputeSwap) Kind() Kind           { return KindComputeSwap }
func (*OrderCreated) Kind() Kind          { return KindOrderCreated }
func (*OrderFilled) Kind() Kind           { return KindOrderFilled }
func (*OrderCancelled) Kind() Kind        { return KindOrderCancelled }
func (*Trade) Kind() Kind                 { return KindTrade }
func (*MarketHalted) Kind() Kind          { return KindMarketHalted }
func (*MarketResumed) Kind() Kind         { return KindMarketResumed }
func (*FeeRateUpdated) Kind() Kind        { return KindFeeRateUpdated }
func (*CircuitBreakerUpdated) Kind() Kind { return KindCircuitBreakerUpdated }
func (*MarketStatsReset) Kind() Kind      { return KindMarketStatsReset }

// New returns an empty event of kind k, for decoding into.
func New(k Kind) (Event, error) {
	switch k {
	case KindLiquidityAdded:
		return &LiquidityAdded{}, nil
	case KindLiquidityRemoved:
		return &LiquidityRemoved{}, nil
	case KindComputeSwap:
		return &ComputeSwap{}, nil
	case KindOrderCreated:
		return &OrderCreated{}, nil
	case KindOrderFilled:
		return &OrderFilled{}, nil
	case KindOrderCancelled:
		return &OrderCancelled{}, nil
	case KindTrade:
		return &Trade{}, nil
	case KindMarketHalted:
		return &MarketHalted{}, nil
	case KindMarketResumed:
		return &MarketResumed{}, nil
	case KindFeeRateUpdated:
		return &FeeRateUpdated{}, nil
	case KindCircuitBreakerUpdated:
		return &CircuitBreakerUpdated{}, nil
	case KindMarketStatsReset:
		return &MarketStatsReset{}, nil
	}
	return nil, fmt.Errorf("%w: %d", ErrInvalidKind, uint16(k))
}
