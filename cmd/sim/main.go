package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand/v2"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"computex/internal/common"
	"computex/internal/events"
	"computex/internal/exchange"
	"computex/internal/ledger"
	"computex/internal/logging"
	"computex/internal/utils"

	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

const (
	provider      = common.Account("lp")
	poolUnits     = 10_000
	poolPrice     = 10 // Tokens per unit
	traderTokens  = 1_000_000
	traderUnits   = 5_000
	maxOrderUnits = 50
)

// step is one random action by one trader.
type step struct {
	trader common.Account
	rt     common.ResourceType
	seed   uint64
}

func main() {
	traders := flag.Int("traders", 8, "Number of simulated traders")
	steps := flag.Int("steps", 2000, "Number of actions to run")
	workers := flag.Uint("workers", 4, "Concurrent workers")
	seed := flag.Uint64("seed", uint64(time.Now().UnixNano()), "Random seed")
	level := flag.String("log", "info", "Log level")
	flag.Parse()

	logging.Setup(*level, true)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	var published atomic.Uint64
	bus := events.NewBus(
		events.LogSink{Level: zerolog.DebugLevel},
		events.SinkFunc(func(events.Event) { published.Add(1) }),
	)

	book := ledger.NewMemory()
	cfg := exchange.DefaultConfig()
	ex, err := exchange.New(cfg, book, bus)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to create exchange")
	}
	ex.Start(ctx)
	defer func() {
		if err := ex.Stop(); err != nil {
			log.Error().Err(err).Msg("exchange stopped with error")
		}
	}()

	accounts := make([]common.Account, *traders)
	for i := range accounts {
		accounts[i] = common.Account(fmt.Sprintf("trader-%02d", i))
	}
	if err := seedMarkets(ctx, ex, book, accounts); err != nil {
		log.Fatal().Err(err).Msg("unable to seed markets")
	}

	// Fan the actions out over the worker pool.
	var outcomes sync.Map
	var wg sync.WaitGroup
	t, _ := tomb.WithContext(ctx)
	pool := utils.NewWorkerPool(*workers)
	pool.Setup(t, func(t *tomb.Tomb, task any) error {
		defer wg.Done()
		s, ok := task.(step)
		if !ok {
			return fmt.Errorf("unexpected task %T", task)
		}
		outcome := "ok"
		if err := act(t.Context(nil), ex, s); err != nil {
			outcome = classify(err)
		}
		n, _ := outcomes.LoadOrStore(outcome, new(atomic.Uint64))
		n.(*atomic.Uint64).Add(1)
		return nil
	})

	rng := rand.New(rand.NewPCG(*seed, *seed^0x9e3779b97f4a7c15))
	resources := common.AllResourceTypes()
	started := time.Now()
	queued := 0
	for ; queued < *steps; queued++ {
		wg.Add(1)
		s := step{
			trader: accounts[rng.IntN(len(accounts))],
			rt:     resources[rng.IntN(len(resources))],
			seed:   rng.Uint64(),
		}
		if !pool.Submit(t, s) {
			wg.Done()
			break
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-t.Dying():
		log.Warn().Int("queued", queued).Msg("simulation interrupted")
	}
	t.Kill(nil)
	if err := t.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("workers stopped with error")
	}

	log.Info().
		Int("steps", queued).
		Uint64("events", published.Load()).
		Dur("elapsed", time.Since(started)).
		Uint64("seed", *seed).
		Msg("simulation finished")

	outcomes.Range(func(k, v any) bool {
		fmt.Printf("%-24s %d\n", k, v.(*atomic.Uint64).Load())
		return true
	})
	report(ctx, ex)
}

func seedMarkets(ctx context.Context, ex *exchange.Exchange, book *ledger.Memory, accounts []common.Account) error {
	cfg := ex.Config()
	resources := common.AllResourceTypes()

	depth := common.Units(poolUnits * poolPrice * uint64(len(resources)))
	if err := book.Mint(provider, depth); err != nil {
		return err
	}
	for _, rt := range resources {
		if err := ex.GrantResources(ctx, cfg.Operator, provider, rt, uint256.NewInt(poolUnits)); err != nil {
			return err
		}
		if _, err := ex.AddLiquidity(ctx, provider, rt, uint256.NewInt(poolUnits), common.Units(poolUnits*poolPrice)); err != nil {
			return fmt.Errorf("%v pool: %w", rt, err)
		}
	}

	for _, acct := range accounts {
		if err := book.Mint(acct, common.Units(traderTokens)); err != nil {
			return err
		}
		for _, rt := range resources {
			if err := ex.GrantResources(ctx, cfg.Operator, acct, rt, uint256.NewInt(traderUnits)); err != nil {
				return err
			}
		}
	}
	return nil
}

// act performs one swap, limit order, market order or cancellation around
// the current pool price.
func act(ctx context.Context, ex *exchange.Exchange, s step) error {
	rng := rand.New(rand.NewPCG(s.seed, s.seed>>1))
	amount := uint256.NewInt(1 + rng.Uint64N(maxOrderUnits))
	side := common.Buy
	if rng.IntN(2) == 1 {
		side = common.Sell
	}

	switch n := rng.IntN(10); {
	case n < 3:
		if side == common.Buy {
			tokens := new(uint256.Int).Mul(amount, common.Units(poolPrice))
			_, err := ex.BuyResources(ctx, s.trader, s.rt, tokens, common.Zero())
			return err
		}
		_, err := ex.SellResources(ctx, s.trader, s.rt, amount, common.Zero())
		return err
	case n < 8:
		price, err := ex.GetPrice(ctx, s.rt, side == common.Buy, uint256.NewInt(1))
		if err != nil {
			return err
		}
		// Scatter within 2% of the pool price.
		skew := 9_800 + rng.Uint64N(401)
		limit, err := common.Bps(price, skew)
		if err != nil {
			return err
		}
		expiry := time.Now().Add(time.Duration(1+rng.IntN(60)) * time.Second)
		_, err = ex.CreateLimitOrder(ctx, s.trader, side, s.rt, amount, limit, expiry)
		return err
	case n < 9:
		_, err := ex.CreateMarketOrder(ctx, s.trader, side, s.rt, amount)
		return err
	default:
		orders, err := ex.GetUserOrders(ctx, s.trader)
		if err != nil || len(orders) == 0 {
			return err
		}
		o := orders[rng.IntN(len(orders))]
		if o.Status.Terminal() {
			return nil
		}
		_, err = ex.CancelOrder(ctx, s.trader, o.ID)
		return err
	}
}

func classify(err error) string {
	for _, known := range []error{
		common.ErrMarketHalted,
		common.ErrInsufficientLiquidity,
		common.ErrInsufficientBalance,
		common.ErrSlippageExceeded,
		common.ErrEmptyPool,
		common.ErrStopped,
		common.ErrInvalidState,
		common.ErrInvalidArgument,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	log.Warn().Err(err).Msg("unexpected simulation error")
	return "other"
}

func report(ctx context.Context, ex *exchange.Exchange) {
	for _, rt := range common.AllResourceTypes() {
		info, err := ex.GetPoolInfo(ctx, rt)
		if err != nil {
			log.Error().Err(err).Str("resource", rt.String()).Msg("unable to read pool")
			continue
		}
		stats, err := ex.GetMarket(ctx, rt)
		if err != nil {
			log.Error().Err(err).Str("resource", rt.String()).Msg("unable to read market")
			continue
		}
		depth, err := ex.GetOrderBookDepth(ctx, rt, 3)
		if err != nil {
			log.Error().Err(err).Str("resource", rt.String()).Msg("unable to read book")
			continue
		}

		fmt.Printf("\n== %s ==\n", rt)
		fmt.Printf("pool     %s units / %s tokens, %s shares\n",
			info.ResourceReserve.Dec(), common.FormatUnits(info.TokenReserve), info.TotalShares.Dec())
		fmt.Printf("market   %d trades, last %s, volume %s units, halted %v\n",
			stats.Trades, common.FormatUnits(stats.LastPrice), stats.Volume24h.Dec(), stats.Halted)
		for _, l := range depth.Asks {
			fmt.Printf("  ask  %12s x %-6s (%d)\n", common.FormatUnits(l.Price), l.Amount.Dec(), l.Orders)
		}
		for _, l := range depth.Bids {
			fmt.Printf("  bid  %12s x %-6s (%d)\n", common.FormatUnits(l.Price), l.Amount.Dec(), l.Orders)
		}
	}
}
