// Package metrics exports exchange activity to Prometheus by listening to the
// event stream.
package metrics

import (
	"net/http"

	"computex/internal/common"
	"computex/internal/events"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "computex"

// Sink is an events.Sink that keeps the collectors current.
type Sink struct {
	events      *prometheus.CounterVec
	trades      *prometheus.CounterVec
	volume      *prometheus.CounterVec
	quoteVolume *prometheus.CounterVec
	fees        *prometheus.CounterVec
	swaps       *prometheus.CounterVec
	orders      *prometheus.CounterVec
	liquidity   *prometheus.CounterVec
	lastPrice   *prometheus.GaugeVec
	halted      *prometheus.GaugeVec
}

func New(reg prometheus.Registerer) *Sink {
	f := promauto.With(reg)
	return &Sink{
		events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Events published, by kind.",
		}, []string{"kind"}),
		trades: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_total",
			Help:      "Order book fills.",
		}, []string{"resource"}),
		volume: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trade_volume_units_total",
			Help:      "Resource units traded on the order book.",
		}, []string{"resource"}),
		quoteVolume: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trade_volume_tokens_total",
			Help:      "Token notional traded on the order book.",
		}, []string{"resource"}),
		fees: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fees_tokens_total",
			Help:      "Order book fees collected, by role.",
		}, []string{"resource", "role"}),
		swaps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swaps_total",
			Help:      "Pool swaps, by direction.",
		}, []string{"resource", "direction"}),
		orders: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_total",
			Help:      "Order lifecycle transitions.",
		}, []string{"resource", "transition"}),
		liquidity: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "liquidity_changes_total",
			Help:      "Pool deposits and withdrawals.",
		}, []string{"resource", "action"}),
		lastPrice: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_price_tokens",
			Help:      "Last order book trade price.",
		}, []string{"resource"}),
		halted: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "market_halted",
			Help:      "1 while the circuit breaker holds the market halted.",
		}, []string{"resource"}),
	}
}

func (s *Sink) Publish(ev events.Event) {
	s.events.WithLabelValues(ev.Kind().String()).Inc()
	rt := ev.Market().String()

	switch e := ev.(type) {
	case *events.Trade:
		s.trades.WithLabelValues(rt).Inc()
		s.volume.WithLabelValues(rt).Add(units(e.Amount))
		s.quoteVolume.WithLabelValues(rt).Add(tokens(e.Notional))
		s.fees.WithLabelValues(rt, "maker").Add(tokens(e.MakerFee))
		s.fees.WithLabelValues(rt, "taker").Add(tokens(e.TakerFee))
		s.lastPrice.WithLabelValues(rt).Set(tokens(e.Price))
	case *events.ComputeSwap:
		direction := "sell"
		if e.IsBuy {
			direction = "buy"
		}
		s.swaps.WithLabelValues(rt, direction).Inc()
	case *events.OrderCreated:
		s.orders.WithLabelValues(rt, "created").Inc()
	case *events.OrderCancelled:
		transition := "cancelled"
		if e.Expired {
			transition = "expired"
		}
		s.orders.WithLabelValues(rt, transition).Inc()
	case *events.OrderFilled:
		if e.Status == common.Filled {
			s.orders.WithLabelValues(rt, "filled").Inc()
		}
	case *events.LiquidityAdded:
		s.liquidity.WithLabelValues(rt, "add").Inc()
	case *events.LiquidityRemoved:
		s.liquidity.WithLabelValues(rt, "remove").Inc()
	case *events.MarketHalted:
		s.halted.WithLabelValues(rt).Set(1)
	case *events.MarketResumed:
		s.halted.WithLabelValues(rt).Set(0)
	}
}

// Handler serves the registry in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Resource units are whole integers; tokens carry 18 decimals.
func units(x *uint256.Int) float64 {
	return common.ToDecimal(x, 0).InexactFloat64()
}

func tokens(x *uint256.Int) float64 {
	return common.ToDecimal(x, common.Decimals).InexactFloat64()
}
