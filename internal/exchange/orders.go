package exchange

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"computex/internal/common"
	"computex/internal/engine"
	"computex/internal/events"
	"computex/internal/ledger"
	"computex/internal/safety"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog/log"
)

// CreateLimitOrder submits a limit order, matches it immediately and rests
// any remainder. The returned order reflects the state after matching.
func (x *Exchange) CreateLimitOrder(ctx context.Context, owner common.Account, side common.Side, rt common.ResourceType, amount, price *uint256.Int, expiry time.Time) (*common.Order, error) {
	if !side.Valid() {
		return nil, fmt.Errorf("%w: side %d", common.ErrInvalidArgument, uint8(side))
	}
	if err := positive("amount", amount); err != nil {
		return nil, err
	}
	if err := positive("price", price); err != nil {
		return nil, err
	}

	var placed *common.Order
	err := x.do(ctx, rt, func(m *market) error {
		now := x.now()
		if !expiry.After(now) {
			return fmt.Errorf("%w: expiry %v is not after %v", common.ErrInvalidArgument, expiry, now)
		}
		if err := m.halted(); err != nil {
			return err
		}

		order := x.newOrder(owner, common.LimitOrder, side, rt, amount, price, now, expiry)
		if err := x.execute(m, order, now, true); err != nil {
			return err
		}
		placed = order.Clone()
		return nil
	})
	return placed, err
}

// CreateMarketOrder executes immediately within a band around the last
// traded price and never rests. A remainder is abandoned with the order left
// PartiallyFilled; no fill at all fails with ErrInsufficientLiquidity.
func (x *Exchange) CreateMarketOrder(ctx context.Context, owner common.Account, side common.Side, rt common.ResourceType, amount *uint256.Int) (*common.Order, error) {
	if !side.Valid() {
		return nil, fmt.Errorf("%w: side %d", common.ErrInvalidArgument, uint8(side))
	}
	if err := positive("amount", amount); err != nil {
		return nil, err
	}

	var placed *common.Order
	err := x.do(ctx, rt, func(m *market) error {
		now := x.now()
		if err := m.halted(); err != nil {
			return err
		}
		bound, err := x.marketBound(m, side)
		if err != nil {
			return err
		}

		order := x.newOrder(owner, common.MarketOrder, side, rt, amount, bound, now, now.Add(x.cfg.MarketOrderTTL))
		if err := x.execute(m, order, now, false); err != nil {
			return err
		}
		placed = order.Clone()
		return nil
	})
	return placed, err
}

// marketBound is the worst price a market order accepts. Without a last
// trade a buy is unbounded and a sell takes any bid.
func (x *Exchange) marketBound(m *market, side common.Side) (*uint256.Int, error) {
	last := m.monitor.Market().LastPrice
	if last.IsZero() {
		if side == common.Buy {
			return common.MaxAmount(), nil
		}
		return common.Zero(), nil
	}

	slip := x.cfg.MarketOrderSlippageBps
	if side == common.Buy {
		return common.MulDiv(last, uint256.NewInt(common.BpsDenominator+slip), uint256.NewInt(common.BpsDenominator))
	}
	return common.MulDiv(last, uint256.NewInt(common.BpsDenominator-slip), uint256.NewInt(common.BpsDenominator))
}

func (x *Exchange) newOrder(owner common.Account, typ common.OrderType, side common.Side, rt common.ResourceType, amount, price *uint256.Int, now, expiry time.Time) *common.Order {
	seq := x.seq.Add(1)
	return &common.Order{
		ID:         common.NewOrderID(owner, now, seq),
		Owner:      owner,
		OrderType:  typ,
		Side:       side,
		Resource:   rt,
		Amount:     amount.Clone(),
		LimitPrice: price.Clone(),
		Filled:     common.Zero(),
		Status:     common.Open,
		Timestamp:  now,
		ExpiryTime: expiry,
		Sequence:   seq,
	}
}

// settlement is everything a match will change outside the book, staged so
// that nothing is applied unless all of it can be.
type settlement struct {
	trades    []common.Trade
	transfers []ledger.Transfer
	monitor   *safety.Monitor // Staged copy with the trades recorded
	halts     []string
}

func (x *Exchange) stage(m *market, match *engine.Match, now time.Time) (*settlement, error) {
	s := &settlement{monitor: m.monitor.Clone()}
	taker := match.Taker

	for _, fill := range match.Fills {
		buy, sell := taker, fill.Maker
		if taker.Side == common.Sell {
			buy, sell = fill.Maker, taker
		}

		b, err := x.cfg.Fees.Compute(fill.Amount, fill.Price)
		if err != nil {
			return nil, err
		}
		s.transfers = append(s.transfers, b.Transfers(buy.Owner, sell.Owner, x.cfg.FeeCollector)...)
		s.trades = append(s.trades, common.Trade{
			Resource:  m.resource,
			Buyer:     buy.Owner,
			Seller:    sell.Owner,
			BuyOrder:  buy.ID,
			SellOrder: sell.ID,
			Maker:     fill.Maker.ID,
			Taker:     taker.ID,
			Amount:    fill.Amount.Clone(),
			Price:     fill.Price.Clone(),
			Notional:  b.Notional,
			MakerFee:  b.MakerFee,
			TakerFee:  b.TakerFee,
			Timestamp: now,
		})

		reason, tripped, err := s.monitor.RecordTrade(fill.Amount, fill.Price, now)
		if err != nil {
			return nil, err
		}
		if tripped {
			s.halts = append(s.halts, reason)
		}
	}
	return s, nil
}

// execute matches a new taker, settles every fill through the ledger as one
// unit, and only then commits book and statistics. A settlement failure
// leaves the market exactly as it was.
func (x *Exchange) execute(m *market, taker *common.Order, now time.Time, rest bool) error {
	if _, dup := m.book.Order(taker.ID); dup {
		return fmt.Errorf("%w: duplicate order %v", common.ErrInvalidState, taker.ID)
	}

	match := m.book.Match(taker, now)
	if taker.OrderType == common.MarketOrder && match.Filled.IsZero() {
		// The order itself leaves no trace, but the makers it found expired
		// are still cancelled.
		if len(match.Expired) > 0 {
			m.book.Expire(match.Expired)
			x.publish(expiredEvents(events.Header{Resource: m.resource, Timestamp: now}, match.Expired))
		}
		return fmt.Errorf("%w: no %v liquidity for %v market order",
			common.ErrInsufficientLiquidity, m.resource, taker.Side)
	}

	staged, err := x.stage(m, match, now)
	if err != nil {
		return err
	}
	if err := ledger.Apply(x.ledger, staged.transfers); err != nil {
		log.Warn().
			Err(err).
			Str("resource", m.resource.String()).
			Str("order", taker.ID.String()).
			Msg("order settlement failed")
		return fmt.Errorf("settle order: %w", err)
	}

	// Events describe the fills as they land, so build them before the
	// commit advances the makers.
	evs := x.orderEvents(m.resource, match, staged, now)

	if err := m.book.Commit(match, rest); err != nil {
		log.Error().
			Err(err).
			Str("resource", m.resource.String()).
			Str("order", taker.ID.String()).
			Msg("unable to commit settled order")
		return err
	}
	m.monitor = staged.monitor
	x.index.add(taker)

	for _, reason := range staged.halts {
		log.Warn().
			Str("resource", m.resource.String()).
			Str("reason", reason).
			Msg("market halted")
	}
	x.publish(evs)
	return nil
}

func (x *Exchange) orderEvents(rt common.ResourceType, match *engine.Match, staged *settlement, now time.Time) []events.Event {
	header := events.Header{Resource: rt, Timestamp: now}
	taker := match.Taker

	evs := []events.Event{&events.OrderCreated{
		Header:     header,
		OrderID:    taker.ID,
		Owner:      taker.Owner,
		OrderType:  taker.OrderType,
		Side:       taker.Side,
		Amount:     taker.Amount.Clone(),
		LimitPrice: taker.LimitPrice.Clone(),
		ExpiryTime: taker.ExpiryTime,
	}}

	evs = append(evs, expiredEvents(header, match.Expired)...)

	takerFilled := taker.Filled.Clone()
	for i, fill := range match.Fills {
		maker := fill.Maker
		makerFilled := new(uint256.Int).Add(maker.Filled, fill.Amount)
		takerFilled = new(uint256.Int).Add(takerFilled, fill.Amount)

		evs = append(evs,
			events.NewTrade(staged.trades[i]),
			filledEvent(header, maker, fill, makerFilled),
			filledEvent(header, taker, fill, takerFilled),
		)
	}

	for _, reason := range staged.halts {
		evs = append(evs, &events.MarketHalted{Header: header, Reason: reason})
	}
	return evs
}

func expiredEvents(header events.Header, orders []*common.Order) []events.Event {
	evs := make([]events.Event, 0, len(orders))
	for _, o := range orders {
		evs = append(evs, &events.OrderCancelled{
			Header:    header,
			OrderID:   o.ID,
			Owner:     o.Owner,
			Remaining: o.Remaining(),
			Expired:   true,
		})
	}
	return evs
}

func filledEvent(header events.Header, o *common.Order, fill engine.Fill, filled *uint256.Int) *events.OrderFilled {
	status := common.PartiallyFilled
	if filled.Eq(o.Amount) {
		status = common.Filled
	}
	return &events.OrderFilled{
		Header:     header,
		OrderID:    o.ID,
		Owner:      o.Owner,
		Side:       o.Side,
		FillAmount: fill.Amount.Clone(),
		Price:      fill.Price.Clone(),
		Filled:     filled,
		Status:     status,
	}
}

// CancelOrder cancels an Open or PartiallyFilled order on behalf of its
// owner. Allowed while halted.
func (x *Exchange) CancelOrder(ctx context.Context, caller common.Account, id uuid.UUID) (*common.Order, error) {
	rt, ok := x.index.lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %v", common.ErrOrderNotFound, id)
	}

	var cancelled *common.Order
	err := x.do(ctx, rt, func(m *market) error {
		order, err := m.book.Cancel(id, caller)
		if err != nil {
			return err
		}
		cancelled = order.Clone()
		x.publish([]events.Event{&events.OrderCancelled{
			Header:    x.header(rt),
			OrderID:   order.ID,
			Owner:     order.Owner,
			Remaining: order.Remaining(),
		}})
		return nil
	})
	return cancelled, err
}

func (x *Exchange) GetOrder(ctx context.Context, id uuid.UUID) (*common.Order, error) {
	rt, ok := x.index.lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %v", common.ErrOrderNotFound, id)
	}
	var order *common.Order
	err := x.do(ctx, rt, func(m *market) error {
		x.reap(m, []uuid.UUID{id})
		o, ok := m.book.Order(id)
		if !ok {
			return fmt.Errorf("%w: %v", common.ErrOrderNotFound, id)
		}
		order = o.Clone()
		return nil
	})
	return order, err
}

// GetUserOrders returns every order owner submitted, terminal ones included,
// in submission order.
func (x *Exchange) GetUserOrders(ctx context.Context, owner common.Account) ([]*common.Order, error) {
	var orders []*common.Order
	for rt, ids := range x.index.owned(owner) {
		err := x.do(ctx, rt, func(m *market) error {
			x.reap(m, ids)
			for _, id := range ids {
				if o, ok := m.book.Order(id); ok {
					orders = append(orders, o.Clone())
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	slices.SortFunc(orders, func(a, b *common.Order) int {
		return cmp.Compare(a.Sequence, b.Sequence)
	})
	return orders, nil
}

// reap lazily cancels any of ids that expired while resting where no taker
// reached them, so lookups never report a dead order as live.
func (x *Exchange) reap(m *market, ids []uuid.UUID) {
	now := x.now()
	var expired []*common.Order
	for _, id := range ids {
		if o, ok := m.book.Reap(id, now); ok {
			expired = append(expired, o)
		}
	}
	if len(expired) > 0 {
		x.publish(expiredEvents(events.Header{Resource: m.resource, Timestamp: now}, expired))
	}
}

// Depth is an aggregated view of a book, best prices first.
type Depth struct {
	Resource common.ResourceType
	Bids     []engine.Level
	Asks     []engine.Level
}

func (x *Exchange) GetOrderBookDepth(ctx context.Context, rt common.ResourceType, levels int) (Depth, error) {
	if levels <= 0 {
		return Depth{}, fmt.Errorf("%w: depth levels %d", common.ErrInvalidArgument, levels)
	}
	depth := Depth{Resource: rt}
	err := x.do(ctx, rt, func(m *market) error {
		depth.Bids, depth.Asks = m.book.Depth(levels, x.now())
		return nil
	})
	return depth, err
}

func (x *Exchange) header(rt common.ResourceType) events.Header {
	return events.Header{Resource: rt, Timestamp: x.now()}
}
