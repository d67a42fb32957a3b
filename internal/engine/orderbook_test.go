package engine_test

import (
	"testing"
	"time"

	"computex/internal/common"
	"computex/internal/engine"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Setup & Helpers --------------------------------------------------------

var epoch = time.Unix(1_700_000_000, 0)

type testBook struct {
	*engine.OrderBook
	seq uint64
	now time.Time
}

func createTestOrderBook() *testBook {
	return &testBook{OrderBook: engine.NewOrderBook(common.CPU), now: epoch}
}

func (b *testBook) newOrder(owner common.Account, price uint64, side common.Side, qty uint64) *common.Order {
	b.seq++
	b.now = b.now.Add(time.Millisecond)
	return &common.Order{
		ID:         common.NewOrderID(owner, b.now, b.seq),
		Owner:      owner,
		OrderType:  common.LimitOrder,
		Side:       side,
		Resource:   common.CPU,
		Amount:     uint256.NewInt(qty),
		LimitPrice: uint256.NewInt(price),
		Filled:     common.Zero(),
		Timestamp:  b.now,
		ExpiryTime: b.now.Add(time.Hour),
		Sequence:   b.seq,
	}
}

// place submits a limit order that rests any remainder and returns its match.
func (b *testBook) place(t *testing.T, order *common.Order) *engine.Match {
	t.Helper()
	m := b.Match(order, b.now)
	require.NoError(t, b.Commit(m, true))
	return m
}

func placeTestOrders(t *testing.T, book *testBook, price uint64, side common.Side, quantities ...uint64) []*common.Order {
	t.Helper()
	orders := make([]*common.Order, 0, len(quantities))
	for _, qty := range quantities {
		o := book.newOrder("trader", price, side, qty)
		book.place(t, o)
		orders = append(orders, o)
	}
	return orders
}

type Quantity struct {
	remaining uint64
	total     uint64
}

// newQuantity creates a quantity with nothing filled yet.
func newQuantity(quantity uint64) Quantity {
	return Quantity{quantity, quantity}
}

type levelView struct {
	price  uint64
	orders []Quantity
}

func flatten(levels []engine.FlatPriceLevel) []levelView {
	out := make([]levelView, len(levels))
	for i, level := range levels {
		out[i].price = level.PriceLevel.Uint64()
		for _, o := range level.Orders {
			out[i].orders = append(out[i].orders, Quantity{o.Remaining().Uint64(), o.Amount.Uint64()})
		}
	}
	return out
}

func asks(b *testBook) []levelView { return flatten(engine.FlattenLevels(b.Asks.Items())) }
func bids(b *testBook) []levelView { return flatten(engine.FlattenLevels(b.Bids.Items())) }

// --- Tests ------------------------------------------------------------------

func TestPlaceOrder_Limit(t *testing.T) {
	book := createTestOrderBook()

	// 1. Setup: Place 3 orders on Buy side and 3 on Sell side
	placeTestOrders(t, book, 99, common.Buy, 100, 90, 80)
	placeTestOrders(t, book, 100, common.Sell, 100, 90, 80)

	// 2. Assertions
	assert.Equal(t, []levelView{
		{100, []Quantity{newQuantity(100), newQuantity(90), newQuantity(80)}},
	}, asks(book))
	assert.Equal(t, []levelView{
		{99, []Quantity{newQuantity(100), newQuantity(90), newQuantity(80)}},
	}, bids(book))
	assert.Equal(t, uint64(3), book.Resting(common.Buy))
	assert.Equal(t, uint64(3), book.Resting(common.Sell))
}

func TestPlaceOrder_Limit_MultipleLevels_WithMatch(t *testing.T) {
	book := createTestOrderBook()

	// 1. Setup BIDS: Highest price first (99 -> 98)
	placeTestOrders(t, book, 99, common.Buy, 100, 90, 80)
	placeTestOrders(t, book, 98, common.Buy, 50)

	// 2. Setup ASKS: Lowest price first (100 -> 101)
	placeTestOrders(t, book, 100, common.Sell, 100, 90)
	placeTestOrders(t, book, 101, common.Sell, 20)

	// Validates that the engine correctly sorts levels based on price priority
	assert.Equal(t, []levelView{
		{100, []Quantity{newQuantity(100), newQuantity(90)}},
		{101, []Quantity{newQuantity(20)}},
	}, asks(book), "Asks should be sorted Low -> High")
	assert.Equal(t, []levelView{
		{99, []Quantity{newQuantity(100), newQuantity(90), newQuantity(80)}},
		{98, []Quantity{newQuantity(50)}},
	}, bids(book), "Bids should be sorted High -> Low")

	// 3. Check complete match.
	placeTestOrders(t, book, 100, common.Buy, 100)
	assert.Equal(t, []levelView{
		{100, []Quantity{newQuantity(90)}},
		{101, []Quantity{newQuantity(20)}},
	}, asks(book))

	// 4. Check partial match.
	placeTestOrders(t, book, 100, common.Buy, 20)
	assert.Equal(t, []levelView{
		{100, []Quantity{{70, 90}}},
		{101, []Quantity{newQuantity(20)}},
	}, asks(book))
}

func TestPlaceOrder_Limit_MultipleLevels_WithMatchSweep_Bid(t *testing.T) {
	book := createTestOrderBook()

	placeTestOrders(t, book, 99, common.Buy, 100, 90, 80)
	placeTestOrders(t, book, 98, common.Buy, 50)
	placeTestOrders(t, book, 100, common.Sell, 100, 90)
	placeTestOrders(t, book, 101, common.Sell, 20)

	// Sweep within the 100 level.
	placeTestOrders(t, book, 100, common.Buy, 120)
	assert.Equal(t, []levelView{
		{100, []Quantity{{70, 90}}},
		{101, []Quantity{newQuantity(20)}},
	}, asks(book))

	// Multi-level sweep with a deep into the book order (100, 101).
	placeTestOrders(t, book, 103, common.Buy, 80)
	assert.Equal(t, []levelView{
		{101, []Quantity{{10, 20}}},
	}, asks(book))
}

func TestPlaceOrder_Limit_MultipleLevels_WithMatchSweep_Ask(t *testing.T) {
	book := createTestOrderBook()

	placeTestOrders(t, book, 99, common.Buy, 100, 90, 80)
	placeTestOrders(t, book, 98, common.Buy, 50)
	placeTestOrders(t, book, 100, common.Sell, 100, 90)
	placeTestOrders(t, book, 101, common.Sell, 20)

	placeTestOrders(t, book, 96, common.Sell, 310)
	assert.Equal(t, []levelView{
		{98, []Quantity{{10, 50}}},
	}, bids(book))
	assert.Equal(t, uint64(1), book.Resting(common.Buy))
}

func TestMatch_FillsAtMakerPrice(t *testing.T) {
	book := createTestOrderBook()
	maker := book.newOrder("alice", 100, common.Buy, 10)
	book.place(t, maker)

	taker := book.newOrder("bob", 90, common.Sell, 10)
	m := book.place(t, taker)

	require.Len(t, m.Fills, 1)
	assert.Equal(t, uint64(100), m.Fills[0].Price.Uint64(), "resting price wins")
	assert.Equal(t, uint64(10), m.Fills[0].Amount.Uint64())
	assert.Equal(t, common.Filled, maker.Status)
	assert.Equal(t, common.Filled, taker.Status)
	assert.Empty(t, bids(book))
	assert.Empty(t, asks(book))
}

func TestMatch_TimePriorityWithinLevel(t *testing.T) {
	book := createTestOrderBook()
	first := book.newOrder("alice", 100, common.Sell, 5)
	second := book.newOrder("carol", 100, common.Sell, 5)
	book.place(t, first)
	book.place(t, second)

	m := book.place(t, book.newOrder("bob", 100, common.Buy, 7))

	require.Len(t, m.Fills, 2)
	assert.Same(t, first, m.Fills[0].Maker)
	assert.Equal(t, uint64(5), m.Fills[0].Amount.Uint64())
	assert.Same(t, second, m.Fills[1].Maker)
	assert.Equal(t, uint64(2), m.Fills[1].Amount.Uint64())
	assert.Equal(t, common.Filled, first.Status)
	assert.Equal(t, common.PartiallyFilled, second.Status)
}

func TestMatch_DoesNotMutateUntilCommit(t *testing.T) {
	book := createTestOrderBook()
	maker := book.newOrder("alice", 100, common.Sell, 10)
	book.place(t, maker)

	taker := book.newOrder("bob", 100, common.Buy, 4)
	m := book.Match(taker, book.now)
	require.Len(t, m.Fills, 1)

	assert.True(t, maker.Filled.IsZero())
	assert.Equal(t, common.Open, maker.Status)
	_, known := book.Order(taker.ID)
	assert.False(t, known)

	require.NoError(t, book.Commit(m, true))
	assert.Equal(t, uint64(4), maker.Filled.Uint64())
	assert.Error(t, book.Commit(m, true), "a taker is committed once")
}

func TestMatch_LazyExpiry(t *testing.T) {
	book := createTestOrderBook()
	stale := book.newOrder("alice", 100, common.Sell, 10)
	stale.ExpiryTime = book.now.Add(time.Second)
	book.place(t, stale)
	fresh := book.newOrder("carol", 101, common.Sell, 10)
	book.place(t, fresh)

	book.now = book.now.Add(time.Minute)
	taker := book.newOrder("bob", 101, common.Buy, 10)
	m := book.place(t, taker)

	require.Len(t, m.Expired, 1)
	assert.Same(t, stale, m.Expired[0])
	assert.Equal(t, common.Cancelled, stale.Status)
	assert.True(t, stale.Filled.IsZero(), "expired orders never fill")

	require.Len(t, m.Fills, 1)
	assert.Same(t, fresh, m.Fills[0].Maker)
	assert.Equal(t, common.Filled, taker.Status)
	assert.Empty(t, asks(book))
}

func TestReap(t *testing.T) {
	book := createTestOrderBook()
	stale := book.newOrder("alice", 120, common.Sell, 10)
	stale.ExpiryTime = book.now.Add(time.Second)
	book.place(t, stale)
	fresh := book.newOrder("carol", 130, common.Sell, 10)
	book.place(t, fresh)

	_, ok := book.Reap(stale.ID, book.now)
	assert.False(t, ok, "not yet expired")

	// A taker that never reaches the stale level leaves it resting.
	book.now = book.now.Add(time.Minute)
	book.place(t, book.newOrder("bob", 100, common.Buy, 1))
	assert.Equal(t, common.Open, stale.Status)

	o, ok := book.Reap(stale.ID, book.now)
	require.True(t, ok)
	assert.Same(t, stale, o)
	assert.Equal(t, common.Cancelled, stale.Status)
	assert.Equal(t, uint64(1), book.Resting(common.Sell))
	assert.Equal(t, []levelView{{price: 130, orders: []Quantity{newQuantity(10)}}}, asks(book))

	_, ok = book.Reap(stale.ID, book.now)
	assert.False(t, ok, "already cancelled")
	_, ok = book.Reap(fresh.ID, book.now)
	assert.False(t, ok)
}

func TestExpire_WithoutCommit(t *testing.T) {
	book := createTestOrderBook()
	stale := book.newOrder("alice", 100, common.Sell, 10)
	stale.ExpiryTime = book.now.Add(time.Second)
	book.place(t, stale)

	book.now = book.now.Add(time.Minute)
	taker := book.newOrder("bob", 100, common.Buy, 10)
	m := book.Match(taker, book.now)
	require.Len(t, m.Expired, 1)
	assert.True(t, m.Filled.IsZero())

	book.Expire(m.Expired)
	assert.Equal(t, common.Cancelled, stale.Status)
	assert.Empty(t, asks(book))
	_, known := book.Order(taker.ID)
	assert.False(t, known, "the taker was never committed")
}

func TestMatch_NoCrossRests(t *testing.T) {
	book := createTestOrderBook()
	placeTestOrders(t, book, 105, common.Sell, 10)

	taker := book.newOrder("bob", 100, common.Buy, 10)
	m := book.place(t, taker)

	assert.Empty(t, m.Fills)
	assert.Equal(t, common.Open, taker.Status)
	assert.Equal(t, []levelView{{100, []Quantity{newQuantity(10)}}}, bids(book))
}

func TestCommit_WithoutRestLeavesRemainderOffBook(t *testing.T) {
	book := createTestOrderBook()
	placeTestOrders(t, book, 100, common.Sell, 4)

	taker := book.newOrder("bob", 110, common.Buy, 10)
	taker.OrderType = common.MarketOrder
	m := book.Match(taker, book.now)
	require.NoError(t, book.Commit(m, false))

	assert.Equal(t, common.PartiallyFilled, taker.Status)
	assert.Empty(t, bids(book))
	got, ok := book.Order(taker.ID)
	require.True(t, ok)
	assert.Equal(t, uint64(4), got.Filled.Uint64())
}

func TestCancel(t *testing.T) {
	book := createTestOrderBook()
	order := book.newOrder("alice", 100, common.Buy, 10)
	book.place(t, order)

	_, err := book.Cancel(order.ID, "mallory")
	assert.ErrorIs(t, err, common.ErrUnauthorized)

	_, err = book.Cancel(common.NewOrderID("alice", epoch, 999), "alice")
	assert.ErrorIs(t, err, common.ErrOrderNotFound)

	cancelled, err := book.Cancel(order.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, common.Cancelled, cancelled.Status)
	assert.Empty(t, bids(book))
	assert.Equal(t, uint64(0), book.Resting(common.Buy))

	_, err = book.Cancel(order.ID, "alice")
	assert.ErrorIs(t, err, common.ErrInvalidState)

	// Terminal orders stay queryable.
	got, ok := book.Order(order.ID)
	require.True(t, ok)
	assert.Equal(t, common.Cancelled, got.Status)
}

func TestCancel_FilledOrder(t *testing.T) {
	book := createTestOrderBook()
	maker := book.newOrder("alice", 100, common.Sell, 10)
	book.place(t, maker)
	book.place(t, book.newOrder("bob", 100, common.Buy, 10))

	_, err := book.Cancel(maker.ID, "alice")
	assert.ErrorIs(t, err, common.ErrInvalidState)
}

func TestDepth(t *testing.T) {
	book := createTestOrderBook()
	placeTestOrders(t, book, 99, common.Buy, 10, 5)
	placeTestOrders(t, book, 98, common.Buy, 1)
	placeTestOrders(t, book, 97, common.Buy, 1)
	placeTestOrders(t, book, 100, common.Sell, 7)

	bidLevels, askLevels := book.Depth(2, book.now)
	require.Len(t, bidLevels, 2)
	assert.Equal(t, uint64(99), bidLevels[0].Price.Uint64())
	assert.Equal(t, uint64(15), bidLevels[0].Amount.Uint64())
	assert.Equal(t, 2, bidLevels[0].Orders)
	assert.Equal(t, uint64(98), bidLevels[1].Price.Uint64())

	require.Len(t, askLevels, 1)
	assert.Equal(t, uint64(7), askLevels[0].Amount.Uint64())
}

func TestDepth_LevelsBeyondBook(t *testing.T) {
	book := createTestOrderBook()
	placeTestOrders(t, book, 99, common.Buy, 1)
	placeTestOrders(t, book, 101, common.Sell, 2)

	bidLevels, askLevels := book.Depth(1<<40, book.now)
	require.Len(t, bidLevels, 1)
	require.Len(t, askLevels, 1)
	assert.Equal(t, uint64(2), askLevels[0].Amount.Uint64())
}

func TestFilledNeverExceedsAmount(t *testing.T) {
	book := createTestOrderBook()
	makers := placeTestOrders(t, book, 100, common.Sell, 3, 3, 3)

	for i := 0; i < 5; i++ {
		book.place(t, book.newOrder("bob", 100, common.Buy, 2))
		for _, m := range makers {
			assert.True(t, m.Filled.Cmp(m.Amount) <= 0)
			assert.Equal(t, m.Filled.Eq(m.Amount), m.Status == common.Filled)
		}
	}
}
