package engine

import (
	"fmt"
	"time"

	"computex/internal/common"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/tidwall/btree"
)

type PriceLevel struct {
	price  *uint256.Int
	orders []*common.Order
}

type PriceLevels = btree.BTreeG[*PriceLevel]

// OrderBook holds one resource market's resting orders. It is not safe for
// concurrent use; the exchange drives each book from a single sequencer.
type OrderBook struct {
	resource common.ResourceType

	// Price levels to orders sat on the price level, sorted by time added
	// as they will be push-back'd.
	Bids *PriceLevels
	Asks *PriceLevels

	// Every order ever accepted, terminal ones included, for queries.
	orders map[uuid.UUID]*common.Order

	// Some book keeping
	nBuyOrders  uint64 // Track the number of bids in the book.
	nSellOrders uint64 // Track the number of asks in the book.
}

func NewOrderBook(resource common.ResourceType) *OrderBook {
	opts := btree.Options{NoLocks: true}
	// Sorted greatest first.
	bids := btree.NewBTreeGOptions(func(a, b *PriceLevel) bool {
		return a.price.Gt(b.price)
	}, opts)
	// Sorted least first.
	asks := btree.NewBTreeGOptions(func(a, b *PriceLevel) bool {
		return a.price.Lt(b.price)
	}, opts)
	return &OrderBook{
		resource: resource,
		Bids:     bids,
		Asks:     asks,
		orders:   make(map[uuid.UUID]*common.Order),
	}
}

func (book *OrderBook) Resource() common.ResourceType {
	return book.resource
}

// Order returns the live record for id, resting or terminal.
func (book *OrderBook) Order(id uuid.UUID) (*common.Order, bool) {
	o, ok := book.orders[id]
	return o, ok
}

// Resting returns the number of orders resting on side.
func (book *OrderBook) Resting(side common.Side) uint64 {
	if side == common.Buy {
		return book.nBuyOrders
	}
	return book.nSellOrders
}

func (book *OrderBook) levels(side common.Side) *PriceLevels {
	if side == common.Buy {
		return book.Bids
	}
	return book.Asks
}

// rest places an order at its price level (tick size handling is assumed to
// have already been done). Later arrivals queue behind earlier ones.
func (book *OrderBook) rest(order *common.Order) {
	levels := book.levels(order.Side)

	// Levels comparator only accounts for price levels, so we create a dummy price
	// level for the search.
	level, ok := levels.GetMut(&PriceLevel{price: order.LimitPrice})
	if ok {
		// If the price level already exists, just append onto the existing orders.
		level.orders = append(level.orders, order)
	} else {
		// Otherwise, if the price level does not exist, create the price level.
		levels.Set(&PriceLevel{
			price:  order.LimitPrice.Clone(),
			orders: []*common.Order{order},
		})
	}

	if order.Side == common.Buy {
		book.nBuyOrders++
	} else {
		book.nSellOrders++
	}
}

// unrest takes an order off its price level, dropping the level once empty.
func (book *OrderBook) unrest(order *common.Order) {
	levels := book.levels(order.Side)
	level, ok := levels.GetMut(&PriceLevel{price: order.LimitPrice})
	if !ok {
		return
	}
	for i, o := range level.orders {
		if o == order {
			level.orders = append(level.orders[:i], level.orders[i+1:]...)
			if order.Side == common.Buy {
				book.nBuyOrders--
			} else {
				book.nSellOrders--
			}
			break
		}
	}
	// Full consumption cases (i.e. empty levels).
	if len(level.orders) == 0 {
		levels.Delete(level)
	}
}

// Cancel moves an Open or PartiallyFilled order owned by caller to
// Cancelled and takes it off the book.
func (book *OrderBook) Cancel(id uuid.UUID, caller common.Account) (*common.Order, error) {
	order, ok := book.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %v", common.ErrOrderNotFound, id)
	}
	if order.Owner != caller {
		return nil, fmt.Errorf("%w: %s does not own order %v", common.ErrUnauthorized, caller, id)
	}
	if order.Status.Terminal() {
		return nil, fmt.Errorf("%w: order %v is %v", common.ErrInvalidState, id, order.Status)
	}

	book.unrest(order)
	order.Status = common.Cancelled
	return order, nil
}

// Level is an aggregated view of one price level.
type Level struct {
	Price  *uint256.Int
	Amount *uint256.Int // Sum of remaining amounts
	Orders int
}

// Depth aggregates up to n best levels per side, skipping orders that have
// expired at now.
func (book *OrderBook) Depth(n int, now time.Time) (bids, asks []Level) {
	return aggregate(book.Bids, n, now), aggregate(book.Asks, n, now)
}

func aggregate(levels *PriceLevels, n int, now time.Time) []Level {
	out := make([]Level, 0, min(n, levels.Len()))
	levels.Scan(func(level *PriceLevel) bool {
		if len(out) >= n {
			return false
		}
		agg := Level{Price: level.price.Clone(), Amount: common.Zero()}
		for _, o := range level.orders {
			if o.Expired(now) {
				continue
			}
			agg.Amount.Add(agg.Amount, o.Remaining())
			agg.Orders++
		}
		if agg.Orders > 0 {
			out = append(out, agg)
		}
		return true
	})
	return out
}

// FlatPriceLevel is a snapshot of a level, for inspection and tests.
type FlatPriceLevel struct {
	PriceLevel *uint256.Int
	Orders     []*common.Order
}

func FlattenLevels(levels []*PriceLevel) []FlatPriceLevel {
	flat := make([]FlatPriceLevel, len(levels))
	for i, level := range levels {
		orders := make([]*common.Order, len(level.orders))
		for j, o := range level.orders {
			orders[j] = o.Clone()
		}
		flat[i] = FlatPriceLevel{PriceLevel: level.price.Clone(), Orders: orders}
	}
	return flat
}
