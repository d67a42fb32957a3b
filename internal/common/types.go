package common

import (
	"fmt"
	"strings"
)

// ResourceType is the closed set of tradeable compute resource categories. Every
// per-market structure in the exchange is keyed by it.
type ResourceType uint8

const (
	CPU ResourceType = iota
	GPU
	Memory
	Storage
	Bandwidth
	Wasm
	Container
	Pod

	// NumResourceTypes is the number of defined resource types.
	NumResourceTypes = 8
)

var resourceNames = [NumResourceTypes]string{
	CPU:       "cpu",
	GPU:       "gpu",
	Memory:    "memory",
	Storage:   "storage",
	Bandwidth: "bandwidth",
	Wasm:      "wasm",
	Container: "container",
	Pod:       "pod",
}

// AllResourceTypes lists every resource type in declaration order.
func AllResourceTypes() []ResourceType {
	all := make([]ResourceType, NumResourceTypes)
	for i := range all {
		all[i] = ResourceType(i)
	}
	return all
}

func (r ResourceType) Valid() bool {
	return r < NumResourceTypes
}

func (r ResourceType) String() string {
	if !r.Valid() {
		return fmt.Sprintf("resource(%d)", uint8(r))
	}
	return resourceNames[r]
}

// ParseResourceType accepts the lower-case names produced by String.
func ParseResourceType(s string) (ResourceType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range resourceNames {
		if name == s {
			return ResourceType(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown resource type %q", ErrInvalidArgument, s)
}

func (r ResourceType) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w: resource type %d", ErrInvalidArgument, uint8(r))
	}
	return []byte(r.String()), nil
}

func (r *ResourceType) UnmarshalText(text []byte) error {
	parsed, err := ParseResourceType(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

type Side uint8

const (
	Buy Side = iota
	Sell
)

// Opposite returns the side a taker on s matches against.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	}
	return fmt.Sprintf("side(%d)", uint8(s))
}

func (s Side) Valid() bool {
	return s == Buy || s == Sell
}

type OrderType uint8

const (
	// Limit orders are an order to buy or sell a resource at a specified
	// price or better. Limit orders may rest on the order book until
	// filled, cancelled or expired.
	LimitOrder OrderType = iota
	// Market orders execute immediately against resting liquidity within a
	// protective price band and never rest on the book.
	MarketOrder
)

func (t OrderType) String() string {
	switch t {
	case LimitOrder:
		return "limit"
	case MarketOrder:
		return "market"
	}
	return fmt.Sprintf("ordertype(%d)", uint8(t))
}

type OrderStatus uint8

const (
	Open OrderStatus = iota
	PartiallyFilled
	Filled
	Cancelled
)

func (s OrderStatus) String() string {
	switch s {
	case Open:
		return "open"
	case PartiallyFilled:
		return "partially_filled"
	case Filled:
		return "filled"
	case Cancelled:
		return "cancelled"
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// Terminal reports whether no further transition is legal from s.
func (s OrderStatus) Terminal() bool {
	return s == Filled || s == Cancelled
}

// Account identifies a ledger balance holder.
type Account string
