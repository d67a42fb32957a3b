// Package ledger describes the fungible-token ledger the exchange settles
// through, and ships an in-memory implementation for hosts and tests.
package ledger

import (
	"errors"
	"fmt"

	"computex/internal/common"

	"github.com/holiman/uint256"
	"github.com/rs/zerolog/log"
)

// Ledger moves payment-token value between accounts. Transfer must be
// synchronous and either fully apply or fail with no effect.
type Ledger interface {
	Transfer(from, to common.Account, amount *uint256.Int) error
	BalanceOf(account common.Account) *uint256.Int
}

// Batcher is implemented by ledgers able to apply several transfers as one
// all-or-nothing unit.
type Batcher interface {
	TransferBatch(transfers []Transfer) error
}

type Transfer struct {
	From   common.Account
	To     common.Account
	Amount *uint256.Int
}

func (t Transfer) String() string {
	return fmt.Sprintf("%s -> %s: %s", t.From, t.To, t.Amount.Dec())
}

// Apply settles transfers in order. Ledgers implementing Batcher apply them
// atomically. Otherwise transfers are applied one at a time and, on failure,
// the already applied ones are reversed in opposite order.
func Apply(l Ledger, transfers []Transfer) error {
	transfers = nonZero(transfers)
	if len(transfers) == 0 {
		return nil
	}
	if b, ok := l.(Batcher); ok {
		return b.TransferBatch(transfers)
	}

	for i, tr := range transfers {
		if err := l.Transfer(tr.From, tr.To, tr.Amount); err != nil {
			if uerr := unwind(l, transfers[:i]); uerr != nil {
				return errors.Join(err, uerr)
			}
			return err
		}
	}
	return nil
}

func unwind(l Ledger, applied []Transfer) error {
	for i := len(applied) - 1; i >= 0; i-- {
		tr := applied[i]
		if err := l.Transfer(tr.To, tr.From, tr.Amount); err != nil {
			log.Error().
				Err(err).
				Str("transfer", tr.String()).
				Msg("unable to reverse transfer")
			return fmt.Errorf("reverse %s: %w", tr, err)
		}
	}
	return nil
}

func nonZero(transfers []Transfer) []Transfer {
	out := transfers[:0:0]
	for _, tr := range transfers {
		if tr.Amount != nil && !tr.Amount.IsZero() {
			out = append(out, tr)
		}
	}
	return out
}
