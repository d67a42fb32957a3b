package common

import (
	"errors"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMulDiv_UsesWideIntermediate(t *testing.T) {
	// (2^255 * 4) / 8 overflows as a plain product but not as a quotient.
	x := new(uint256.Int).Lsh(uint256.NewInt(1), 255)
	got, err := MulDiv(x, uint256.NewInt(4), uint256.NewInt(8))
	require.NoError(t, err)
	assert.Equal(t, new(uint256.Int).Lsh(uint256.NewInt(1), 254), got)

	_, err = MulDiv(x, uint256.NewInt(4), uint256.NewInt(1))
	assert.True(t, errors.Is(err, ErrOverflow))
	assert.True(t, errors.Is(err, ErrInvalidArgument))

	_, err = MulDiv(x, x, Zero())
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestMulDiv_Floors(t *testing.T) {
	got, err := MulDiv(uint256.NewInt(10), uint256.NewInt(10), uint256.NewInt(3))
	require.NoError(t, err)
	assert.Equal(t, uint64(33), got.Uint64())
}

func TestCheckedArithmetic(t *testing.T) {
	_, err := Sub(uint256.NewInt(1), uint256.NewInt(2))
	assert.ErrorIs(t, err, ErrOverflow)

	_, err = Add(MaxAmount(), uint256.NewInt(1))
	assert.ErrorIs(t, err, ErrOverflow)

	_, err = Mul(MaxAmount(), uint256.NewInt(2))
	assert.ErrorIs(t, err, ErrOverflow)

	fee, err := Bps(uint256.NewInt(1000), 30)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), fee.Uint64())
}

func TestParseAndFormatUnits(t *testing.T) {
	x, err := ParseUnits("1.5")
	require.NoError(t, err)
	assert.Equal(t, "1500000000000000000", x.Dec())
	assert.Equal(t, "1.5", FormatUnits(x))
	assert.Equal(t, "42", FormatUnits(Units(42)))

	_, err = ParseUnits("-1")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = ParseUnits("0.0000000000000000001")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = ParseUnits("abc")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestResourceType_TextRoundTrip(t *testing.T) {
	for _, rt := range AllResourceTypes() {
		text, err := rt.MarshalText()
		require.NoError(t, err)

		var parsed ResourceType
		require.NoError(t, parsed.UnmarshalText(text))
		assert.Equal(t, rt, parsed)
	}

	_, err := ParseResourceType("quantum")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.False(t, ResourceType(NumResourceTypes).Valid())
}

func TestNewOrderID_Unique(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	a := NewOrderID("alice", ts, 1)
	b := NewOrderID("alice", ts, 2)
	c := NewOrderID("alice", ts, 1)

	assert.NotEqual(t, a, b)
	assert.Equal(t, a, c, "identity is derived, not random")
}

func TestOrder_RemainingAndExpiry(t *testing.T) {
	now := time.Unix(1700000000, 0)
	o := &Order{
		Amount:     uint256.NewInt(10),
		Filled:     uint256.NewInt(4),
		LimitPrice: uint256.NewInt(1),
		ExpiryTime: now,
	}
	assert.Equal(t, uint64(6), o.Remaining().Uint64())
	assert.False(t, o.Expired(now))
	assert.True(t, o.Expired(now.Add(time.Nanosecond)))

	c := o.Clone()
	c.Filled.SetUint64(10)
	assert.Equal(t, uint64(4), o.Filled.Uint64(), "clone must not alias amounts")
}
