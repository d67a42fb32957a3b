package ledger

import (
	"fmt"
	"sync"

	"computex/internal/common"

	"github.com/holiman/uint256"
)

// Memory is a mutex guarded in-process ledger. It implements Batcher.
type Memory struct {
	mu       sync.Mutex
	balances map[common.Account]*uint256.Int
}

func NewMemory() *Memory {
	return &Memory{balances: make(map[common.Account]*uint256.Int)}
}

// Mint credits amount to account out of thin air. Issuance is outside the
// exchange; hosts use this to seed balances.
func (m *Memory) Mint(account common.Account, amount *uint256.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sum, err := common.Add(m.balance(account), amount)
	if err != nil {
		return err
	}
	m.balances[account] = sum
	return nil
}

func (m *Memory) BalanceOf(account common.Account) *uint256.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balance(account).Clone()
}

func (m *Memory) Transfer(from, to common.Account, amount *uint256.Int) error {
	return m.TransferBatch([]Transfer{{From: from, To: to, Amount: amount}})
}

// TransferBatch validates every transfer against a scratch copy of the touched
// balances before writing any of them back.
func (m *Memory) TransferBatch(transfers []Transfer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	scratch := make(map[common.Account]*uint256.Int)
	get := func(a common.Account) *uint256.Int {
		if b, ok := scratch[a]; ok {
			return b
		}
		b := m.balance(a).Clone()
		scratch[a] = b
		return b
	}

	for _, tr := range transfers {
		if tr.Amount == nil || tr.Amount.IsZero() {
			continue
		}
		from := get(tr.From)
		if from.Lt(tr.Amount) {
			return fmt.Errorf("%w: %s holds %s, needs %s",
				common.ErrInsufficientBalance, tr.From, from.Dec(), tr.Amount.Dec())
		}
		from.Sub(from, tr.Amount)

		to := get(tr.To)
		if _, overflow := to.AddOverflow(to, tr.Amount); overflow {
			return fmt.Errorf("%w: crediting %s", common.ErrOverflow, tr.To)
		}
	}

	for account, balance := range scratch {
		m.balances[account] = balance
	}
	return nil
}

func (m *Memory) balance(account common.Account) *uint256.Int {
	if b, ok := m.balances[account]; ok {
		return b
	}
	return common.Zero()
}
