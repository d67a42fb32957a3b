package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"computex/internal/common"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ts = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

func TestMarshalRoundTrip_Trade(t *testing.T) {
	in := NewTrade(common.Trade{
		Resource:  common.GPU,
		Buyer:     "alice",
		Seller:    "bob",
		BuyOrder:  uuid.New(),
		SellOrder: uuid.New(),
		Amount:    uint256.NewInt(90),
		Price:     common.Units(100),
		Notional:  new(uint256.Int).Mul(uint256.NewInt(90), common.Units(100)),
		MakerFee:  uint256.NewInt(9),
		TakerFee:  uint256.NewInt(18),
		Timestamp: ts,
	})
	in.Maker = in.BuyOrder

	kind, body, err := Marshal(in)
	require.NoError(t, err)
	assert.Equal(t, KindTrade, kind)
	assert.Contains(t, string(body), `"resource":"gpu"`)

	out, err := Unmarshal(kind, body)
	require.NoError(t, err)
	trade, ok := out.(*Trade)
	require.True(t, ok)
	assert.Equal(t, in.BuyOrder, trade.BuyOrder)
	assert.Equal(t, common.Account("bob"), trade.Seller)
	assert.True(t, in.Notional.Eq(trade.Notional))
	assert.Equal(t, common.GPU, trade.Market())
	assert.True(t, ts.Equal(trade.Time()))
}

func TestUnmarshal_UnknownKind(t *testing.T) {
	_, err := Unmarshal(Kind(999), []byte(`{}`))
	assert.ErrorIs(t, err, ErrInvalidKind)
}

func TestKindNames(t *testing.T) {
	for k := KindLiquidityAdded; k <= KindMarketStatsReset; k++ {
		ev, err := New(k)
		require.NoError(t, err)
		assert.Equal(t, k, ev.Kind())
		assert.NotEmpty(t, k.String())
	}
	assert.False(t, Kind(0).Valid())
}

func TestBus_FanOutInOrder(t *testing.T) {
	var a, b Recorder
	bus := NewBus(&a)
	bus.Add(&b)

	bus.Publish(&MarketHalted{Header: Header{Resource: common.CPU}, Reason: "x"})
	bus.Publish(&MarketResumed{Header: Header{Resource: common.CPU}})

	want := []Kind{KindMarketHalted, KindMarketResumed}
	assert.Equal(t, want, a.Kinds())
	assert.Equal(t, want, b.Kinds())
}

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func TestKafkaSink_DrainsOnClose(t *testing.T) {
	w := &fakeWriter{}
	s := NewKafkaSink(w)
	for i := 0; i < 10; i++ {
		s.Publish(&FeeRateUpdated{Header: Header{Resource: common.Wasm, Timestamp: ts}, NewBps: uint64(i)})
	}
	require.NoError(t, s.Close())

	w.mu.Lock()
	defer w.mu.Unlock()
	assert.True(t, w.closed)
	require.Len(t, w.msgs, 10)
	assert.Equal(t, "wasm", string(w.msgs[0].Key))
	assert.Equal(t, "fee_rate_updated", string(w.msgs[0].Headers[0].Value))
}
