package engine

import (
	"fmt"
	"time"

	"computex/internal/common"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Fill is one execution of a taker against a resting maker, always at the
// maker's price.
type Fill struct {
	Maker  *common.Order
	Amount *uint256.Int
	Price  *uint256.Int
}

// Match is the outcome of matching a taker, computed without touching the
// book. Nothing happens until Commit.
type Match struct {
	Taker   *common.Order
	Fills   []Fill
	Expired []*common.Order // Resting orders found past expiry
	Filled  *uint256.Int    // Sum of fill amounts
}

// crosses reports whether a resting price is acceptable to the taker.
func crosses(taker *common.Order, price *uint256.Int) bool {
	if taker.Side == common.Buy {
		return price.Cmp(taker.LimitPrice) <= 0
	}
	return price.Cmp(taker.LimitPrice) >= 0
}

// Match walks the opposite side best price first and, within a level, in
// arrival order. Expired resting orders it meets are recorded for lazy
// cancellation and never fill. The walk stops at the first level that does
// not cross or once the taker is satisfied.
func (book *OrderBook) Match(taker *common.Order, now time.Time) *Match {
	m := &Match{Taker: taker, Filled: common.Zero()}
	remaining := taker.Remaining()

	book.levels(taker.Side.Opposite()).Scan(func(level *PriceLevel) bool {
		if !crosses(taker, level.price) {
			return false
		}
		for _, maker := range level.orders {
			if remaining.IsZero() {
				return false
			}
			if maker.Expired(now) {
				m.Expired = append(m.Expired, maker)
				continue
			}
			qty := common.Min(remaining, maker.Remaining())
			m.Fills = append(m.Fills, Fill{
				Maker:  maker,
				Amount: qty,
				Price:  maker.LimitPrice.Clone(),
			})
			remaining.Sub(remaining, qty)
			m.Filled.Add(m.Filled, qty)
		}
		return !remaining.IsZero()
	})
	return m
}

// Commit applies a Match: expired makers become Cancelled, makers and the
// taker advance their fills and statuses, consumed makers leave the book, and
// a taker with a remainder rests when rest is set. The taker is recorded
// either way so it stays queryable.
func (book *OrderBook) Commit(m *Match, rest bool) error {
	taker := m.Taker
	if _, dup := book.orders[taker.ID]; dup {
		return fmt.Errorf("%w: duplicate order %v", common.ErrInvalidState, taker.ID)
	}

	book.Expire(m.Expired)

	for _, fill := range m.Fills {
		maker := fill.Maker
		maker.Filled.Add(maker.Filled, fill.Amount)
		if maker.Filled.Eq(maker.Amount) {
			maker.Status = common.Filled
			book.unrest(maker)
		} else {
			maker.Status = common.PartiallyFilled
		}
	}

	taker.Filled.Add(taker.Filled, m.Filled)
	switch {
	case taker.Filled.Eq(taker.Amount):
		taker.Status = common.Filled
	case !taker.Filled.IsZero():
		taker.Status = common.PartiallyFilled
	}

	book.orders[taker.ID] = taker
	if rest && !taker.Status.Terminal() {
		book.rest(taker)
	}
	return nil
}

// Expire cancels resting orders already found past their expiry.
func (book *OrderBook) Expire(orders []*common.Order) {
	for _, o := range orders {
		if o.Status.Terminal() {
			continue
		}
		book.unrest(o)
		o.Status = common.Cancelled
	}
}

// Reap cancels the resting order with id if it has expired at now, for
// orders no taker has walked past. It reports whether the order was cancelled.
func (book *OrderBook) Reap(id uuid.UUID, now time.Time) (*common.Order, bool) {
	o, ok := book.orders[id]
	if !ok || o.OrderType == common.MarketOrder || o.Status.Terminal() || !o.Expired(now) {
		return nil, false
	}
	book.Expire([]*common.Order{o})
	return o, true
}
