// Package fees computes maker/taker trade fees and the ledger transfers that
// settle an order-book fill.
package fees

import (
	"fmt"

	"computex/internal/common"
	"computex/internal/ledger"

	"github.com/holiman/uint256"
)

// Schedule holds order-book fee rates in basis points of notional.
type Schedule struct {
	MakerBps uint64
	TakerBps uint64
}

func DefaultSchedule() Schedule {
	return Schedule{MakerBps: 10, TakerBps: 20}
}

func (s Schedule) Validate() error {
	if s.MakerBps > common.BpsDenominator || s.TakerBps > common.BpsDenominator {
		return fmt.Errorf("%w: fee schedule maker=%d taker=%d bps",
			common.ErrInvalidArgument, s.MakerBps, s.TakerBps)
	}
	return nil
}

type Breakdown struct {
	Notional *uint256.Int
	MakerFee *uint256.Int
	TakerFee *uint256.Int
}

// Compute prices a fill of amount units at price.
func (s Schedule) Compute(amount, price *uint256.Int) (Breakdown, error) {
	notional, err := common.Mul(amount, price)
	if err != nil {
		return Breakdown{}, err
	}
	makerFee, err := common.Bps(notional, s.MakerBps)
	if err != nil {
		return Breakdown{}, err
	}
	takerFee, err := common.Bps(notional, s.TakerBps)
	if err != nil {
		return Breakdown{}, err
	}
	return Breakdown{Notional: notional, MakerFee: makerFee, TakerFee: takerFee}, nil
}

// Total is what the buyer is debited for the fill.
func (b Breakdown) Total() (*uint256.Int, error) {
	return common.Add(b.Notional, b.TakerFee)
}

// Transfers settles a fill: the buyer pays the seller notional minus the
// maker fee, and pays both fees to the collector.
func (b Breakdown) Transfers(buyer, seller, collector common.Account) []ledger.Transfer {
	proceeds := new(uint256.Int).Sub(b.Notional, b.MakerFee)
	return []ledger.Transfer{
		{From: buyer, To: seller, Amount: proceeds},
		{From: buyer, To: collector, Amount: b.MakerFee.Clone()},
		{From: buyer, To: collector, Amount: b.TakerFee.Clone()},
	}
}
