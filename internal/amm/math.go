package amm

import (
	"fmt"

	"computex/internal/common"

	"github.com/holiman/uint256"
)

// AmountOut is the constant-product output for amountIn, fee taken from the
// input side:
//
//	out = in*(10000-fee)*reserveOut / (reserveIn*10000 + in*(10000-fee))
//
// Division floors, which always favours the pool.
func AmountOut(amountIn, reserveIn, reserveOut *uint256.Int, feeRateBps uint64) (*uint256.Int, error) {
	if feeRateBps > common.BpsDenominator {
		return nil, fmt.Errorf("%w: fee rate %d bps", common.ErrInvalidArgument, feeRateBps)
	}
	inWithFee, err := common.Mul(amountIn, uint256.NewInt(common.BpsDenominator-feeRateBps))
	if err != nil {
		return nil, err
	}
	scaledReserve, err := common.Mul(reserveIn, bpsScale)
	if err != nil {
		return nil, err
	}
	denominator, err := common.Add(scaledReserve, inWithFee)
	if err != nil {
		return nil, err
	}
	if denominator.IsZero() {
		return nil, fmt.Errorf("%w: empty input reserve", common.ErrEmptyPool)
	}
	return common.MulDiv(inWithFee, reserveOut, denominator)
}

// AmountIn inverts AmountOut: the smallest input, rounded up by one unit,
// that yields amountOut.
//
//	in = reserveIn*amountOut*10000 / ((reserveOut-amountOut)*(10000-fee)) + 1
func AmountIn(amountOut, reserveIn, reserveOut *uint256.Int, feeRateBps uint64) (*uint256.Int, error) {
	if feeRateBps >= common.BpsDenominator {
		return nil, fmt.Errorf("%w: fee rate %d bps leaves no output", common.ErrInsufficientLiquidity, feeRateBps)
	}
	if !amountOut.Lt(reserveOut) {
		return nil, fmt.Errorf("%w: output %s against reserve %s",
			common.ErrInsufficientLiquidity, amountOut.Dec(), reserveOut.Dec())
	}
	scaledOut, err := common.Mul(amountOut, bpsScale)
	if err != nil {
		return nil, err
	}
	left := new(uint256.Int).Sub(reserveOut, amountOut)
	denominator, err := common.Mul(left, uint256.NewInt(common.BpsDenominator-feeRateBps))
	if err != nil {
		return nil, err
	}
	in, err := common.MulDiv(reserveIn, scaledOut, denominator)
	if err != nil {
		return nil, err
	}
	return common.Add(in, uint256.NewInt(1))
}
