package common

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// orderNamespace scopes the name-based order identifiers.
var orderNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("computex.order"))

// NewOrderID derives an order identity from its submitter, submission time and
// the exchange-wide submission sequence. The sequence alone keeps it unique.
func NewOrderID(owner Account, ts time.Time, seq uint64) uuid.UUID {
	name := make([]byte, 0, len(owner)+48)
	name = append(name, owner...)
	name = append(name, '|')
	name = strconv.AppendInt(name, ts.UnixNano(), 10)
	name = append(name, '|')
	name = strconv.AppendUint(name, seq, 10)
	return uuid.NewSHA1(orderNamespace, name)
}

type Order struct {
	ID         uuid.UUID    // Derived order identity
	Owner      Account      // Who submitted this order
	OrderType  OrderType    //
	Side       Side         // Order side
	Resource   ResourceType // Market the order trades in
	Amount     *uint256.Int // Total resource units requested
	LimitPrice *uint256.Int // Token price per unit; the protective bound for market orders
	Filled     *uint256.Int // Units executed so far
	Status     OrderStatus  //
	Timestamp  time.Time    // Time of arrival of order
	ExpiryTime time.Time    // Resting orders past this instant are cancelled lazily
	Sequence   uint64       // Exchange-wide submission sequence
}

// Remaining is the unfilled amount.
func (o *Order) Remaining() *uint256.Int {
	return new(uint256.Int).Sub(o.Amount, o.Filled)
}

// Expired reports whether the expiry instant has passed at now.
func (o *Order) Expired(now time.Time) bool {
	return now.After(o.ExpiryTime)
}

// Clone returns a deep copy safe to hand to callers outside the market
// sequencer.
func (o *Order) Clone() *Order {
	c := *o
	c.Amount = Clone(o.Amount)
	c.LimitPrice = Clone(o.LimitPrice)
	c.Filled = Clone(o.Filled)
	return &c
}

func (o *Order) String() string {
	return fmt.Sprintf(
		`ID:         %v
Owner:      %s
OrderType:  %v
Side:       %v
Resource:   %v
LimitPrice: %s
Amount:     %s (Filled: %s)
Status:     %v
Timestamp:  %v
Expiry:     %v`,
		o.ID,
		o.Owner,
		o.OrderType,
		o.Side,
		o.Resource,
		o.LimitPrice.Dec(),
		o.Amount.Dec(),
		o.Filled.Dec(),
		o.Status,
		o.Timestamp.Format(time.RFC3339), // Formatted for readability
		o.ExpiryTime.Format(time.RFC3339),
	)
}
