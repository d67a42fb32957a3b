package common

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Trade accounts for the two parties who matched. The price is always the
// resting (maker) order's limit price.
type Trade struct {
	Resource  ResourceType
	Buyer     Account
	Seller    Account
	BuyOrder  uuid.UUID
	SellOrder uuid.UUID
	Maker     uuid.UUID
	Taker     uuid.UUID
	Amount    *uint256.Int
	Price     *uint256.Int
	Notional  *uint256.Int
	MakerFee  *uint256.Int
	TakerFee  *uint256.Int
	Timestamp time.Time
}

func (t Trade) String() string {
	return fmt.Sprintf(
		`Resource:  %v
Buyer:     %s (%v)
Seller:    %s (%v)
Amount:    %s
Price:     %s
Notional:  %s
Fees:      maker %s / taker %s
Timestamp: %v`,
		t.Resource,
		t.Buyer, t.BuyOrder,
		t.Seller, t.SellOrder,
		t.Amount.Dec(),
		t.Price.Dec(),
		t.Notional.Dec(),
		t.MakerFee.Dec(), t.TakerFee.Dec(),
		t.Timestamp.Format(time.RFC3339),
	)
}
