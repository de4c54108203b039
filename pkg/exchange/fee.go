package exchange

import "github.com/holiman/uint256"

var hundred = uint256.NewInt(100)

// FeeFor returns amountGet * feePercent / 100, truncated.
// The intermediate product is computed at 512 bits, so it never overflows;
// with feePercent <= 100 the result is at most amountGet.
func FeeFor(amountGet *uint256.Int, feePercent uint64) *uint256.Int {
	if amountGet == nil || feePercent == 0 {
		return new(uint256.Int)
	}
	fee, _ := new(uint256.Int).MulDivOverflow(amountGet, uint256.NewInt(feePercent), hundred)
	return fee
}
