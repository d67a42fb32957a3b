// Package exchange runs the resource markets. Every ResourceType has its own
// sequencer goroutine that owns the market's pool, order book and safety
// monitor; operations are shipped to it as tasks so no two mutations of one
// market ever interleave, while different markets run in parallel.
package exchange

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"computex/internal/common"
	"computex/internal/events"
	"computex/internal/fees"
	"computex/internal/ledger"
	"computex/internal/safety"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

const (
	defaultInboxSize       = 256
	defaultPoolFeeBps      = 30
	defaultMarketOrderTTL  = time.Minute
	defaultMarketSlippage  = 500
	defaultBreakerCooldown = time.Hour
)

type Config struct {
	Operator     common.Account // Sole caller allowed to run admin operations
	FeeCollector common.Account // Receives order-book fees
	PoolAccount  common.Account // Ledger custody of every pool's token reserve

	DefaultPoolFeeBps uint64
	Fees              fees.Schedule

	MarketOrderTTL         time.Duration
	MarketOrderSlippageBps uint64 // Band around the last price a market order may trade in

	InboxSize int
	Breaker   safety.CircuitBreaker // Initial breaker of every market
}

func DefaultConfig() Config {
	return Config{
		Operator:               "operator",
		FeeCollector:           "fee-collector",
		PoolAccount:            "pool",
		DefaultPoolFeeBps:      defaultPoolFeeBps,
		Fees:                   fees.DefaultSchedule(),
		MarketOrderTTL:         defaultMarketOrderTTL,
		MarketOrderSlippageBps: defaultMarketSlippage,
		InboxSize:              defaultInboxSize,
		Breaker: safety.CircuitBreaker{
			PriceChangeThresholdBps: 2000,
			VolumeThreshold:         common.Zero(),
			Cooldown:                defaultBreakerCooldown,
		},
	}
}

func (c Config) Validate() error {
	if c.Operator == "" || c.FeeCollector == "" || c.PoolAccount == "" {
		return fmt.Errorf("%w: operator, fee collector and pool account are required", common.ErrInvalidArgument)
	}
	if c.DefaultPoolFeeBps > common.BpsDenominator {
		return fmt.Errorf("%w: default pool fee %d bps", common.ErrInvalidArgument, c.DefaultPoolFeeBps)
	}
	if c.MarketOrderSlippageBps > common.BpsDenominator {
		return fmt.Errorf("%w: market order slippage %d bps", common.ErrInvalidArgument, c.MarketOrderSlippageBps)
	}
	if c.MarketOrderTTL <= 0 {
		return fmt.Errorf("%w: market order ttl %v", common.ErrInvalidArgument, c.MarketOrderTTL)
	}
	if c.Breaker.Cooldown < 0 {
		return fmt.Errorf("%w: breaker cooldown %v", common.ErrInvalidArgument, c.Breaker.Cooldown)
	}
	return c.Fees.Validate()
}

type Option func(*Exchange)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(x *Exchange) { x.now = now }
}

type Exchange struct {
	cfg    Config
	ledger ledger.Ledger
	sink   events.Sink
	now    func() time.Time

	markets [common.NumResourceTypes]*market
	seq     atomic.Uint64 // Exchange-wide order submission sequence

	index orderIndex

	t       tomb.Tomb
	started atomic.Bool
}

func New(cfg Config, l ledger.Ledger, sink events.Sink, opts ...Option) (*Exchange, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = defaultInboxSize
	}
	if sink == nil {
		sink = events.Discard
	}

	x := &Exchange{
		cfg:    cfg,
		ledger: l,
		sink:   sink,
		now:    time.Now,
		index: orderIndex{
			market:  make(map[uuid.UUID]common.ResourceType),
			byOwner: make(map[common.Account][]uuid.UUID),
		},
	}
	for _, opt := range opts {
		opt(x)
	}
	for _, rt := range common.AllResourceTypes() {
		x.markets[rt] = newMarket(rt, cfg)
	}
	return x, nil
}

func (x *Exchange) Config() Config {
	return x.cfg
}

// Start launches one sequencer per market. They run until Stop or until ctx
// is done.
func (x *Exchange) Start(ctx context.Context) {
	if !x.started.CompareAndSwap(false, true) {
		return
	}
	for _, m := range x.markets {
		x.t.Go(func() error {
			return m.loop(x.t.Dying())
		})
	}
	x.t.Go(func() error {
		select {
		case <-ctx.Done():
			x.t.Kill(nil)
		case <-x.t.Dying():
		}
		return nil
	})
	log.Info().Int("markets", len(x.markets)).Msg("exchange running")
}

func (x *Exchange) Stop() error {
	x.t.Kill(nil)
	if !x.started.Load() {
		return nil
	}
	err := x.t.Wait()
	log.Info().Msg("exchange stopped")
	return err
}

// task is one unit of work for a market sequencer.
type task struct {
	fn   func(m *market) error
	done chan error
}

func (t task) run(m *market) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("resource", m.resource.String()).
				Msg("recovered panic in market sequencer")
			err = fmt.Errorf("%w: panic in %v sequencer: %v", common.ErrInvalidState, m.resource, r)
		}
	}()
	return t.fn(m)
}

// do runs fn on the sequencer of rt and waits for its result. ctx only
// bounds the wait for a free inbox slot: once accepted, a task runs to
// completion.
func (x *Exchange) do(ctx context.Context, rt common.ResourceType, fn func(m *market) error) error {
	if !rt.Valid() {
		return fmt.Errorf("%w: resource type %d", common.ErrInvalidArgument, uint8(rt))
	}
	if !x.started.Load() {
		return common.ErrStopped
	}

	m := x.markets[rt]
	t := task{fn: fn, done: make(chan error, 1)}
	select {
	case m.inbox <- t:
	case <-ctx.Done():
		return ctx.Err()
	case <-x.t.Dying():
		return common.ErrStopped
	}

	select {
	case err := <-t.done:
		return err
	case <-x.t.Dead():
		select {
		case err := <-t.done:
			return err
		default:
			return common.ErrStopped
		}
	}
}

// publish hands events to the sink in emission order. It runs on the
// sequencer so a market's events are never reordered.
func (x *Exchange) publish(evs []events.Event) {
	for _, ev := range evs {
		x.sink.Publish(ev)
	}
}

func (x *Exchange) authorize(caller common.Account) error {
	if caller != x.cfg.Operator {
		return fmt.Errorf("%w: %s is not the operator", common.ErrUnauthorized, caller)
	}
	return nil
}

func positive(name string, v *uint256.Int) error {
	if v == nil || v.IsZero() {
		return fmt.Errorf("%w: %s must be positive", common.ErrInvalidArgument, name)
	}
	return nil
}

// orderIndex maps order ids to their market and owners to their orders. The
// orders themselves live in the books.
type orderIndex struct {
	mu      sync.RWMutex
	market  map[uuid.UUID]common.ResourceType
	byOwner map[common.Account][]uuid.UUID
}

func (idx *orderIndex) add(o *common.Order) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.market[o.ID] = o.Resource
	idx.byOwner[o.Owner] = append(idx.byOwner[o.Owner], o.ID)
}

func (idx *orderIndex) lookup(id uuid.UUID) (common.ResourceType, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	rt, ok := idx.market[id]
	return rt, ok
}

// owned groups an owner's order ids by market.
func (idx *orderIndex) owned(owner common.Account) map[common.ResourceType][]uuid.UUID {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make(map[common.ResourceType][]uuid.UUID)
	for _, id := range idx.byOwner[owner] {
		rt := idx.market[id]
		out[rt] = append(out[rt], id)
	}
	return out
}
