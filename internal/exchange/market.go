package exchange

import (
	"fmt"

	"computex/internal/amm"
	"computex/internal/common"
	"computex/internal/engine"
	"computex/internal/safety"

	"github.com/holiman/uint256"
)

// market is everything one sequencer owns. Only the sequencer goroutine may
// touch it.
type market struct {
	resource common.ResourceType
	inbox    chan task

	pool       *amm.Pool // Created by the first deposit
	feeRateBps uint64    // Applies to the pool, also before it exists

	book    *engine.OrderBook
	monitor *safety.Monitor

	// Resource units held per account, credited by pool purchases and
	// withdrawals and spent by pool sales.
	resources map[common.Account]*uint256.Int
}

func newMarket(rt common.ResourceType, cfg Config) *market {
	return &market{
		resource:   rt,
		inbox:      make(chan task, cfg.InboxSize),
		feeRateBps: cfg.DefaultPoolFeeBps,
		book:       engine.NewOrderBook(rt),
		monitor:    safety.NewMonitor(rt, cfg.Breaker),
		resources:  make(map[common.Account]*uint256.Int),
	}
}

// loop executes tasks one at a time until dying closes. Tasks still queued
// at that point fail with ErrStopped.
func (m *market) loop(dying <-chan struct{}) error {
	for {
		select {
		case t := <-m.inbox:
			t.done <- t.run(m)
		case <-dying:
			for {
				select {
				case t := <-m.inbox:
					t.done <- common.ErrStopped
				default:
					return nil
				}
			}
		}
	}
}

func (m *market) halted() error {
	if m.monitor.Halted() {
		return fmt.Errorf("%w: %v", common.ErrMarketHalted, m.resource)
	}
	return nil
}

func (m *market) resourceBalance(acct common.Account) *uint256.Int {
	return common.Clone(m.resources[acct])
}

func (m *market) credit(acct common.Account, amount *uint256.Int) error {
	next, err := common.Add(m.resourceBalance(acct), amount)
	if err != nil {
		return err
	}
	m.resources[acct] = next
	return nil
}
