package ledger

import (
	"math/big"
	"math/bits"

	"github.com/shopspring/decimal"
)

// stakerShare is one staker's input to a distribution.
type stakerShare struct {
	HolderID string
	Staked   uint64
}

// perTokenAmount returns total/staked as an exact-as-possible decimal ratio.
func perTokenAmount(total, staked uint64) decimal.Decimal {
	return decimalFromUint64(total).Div(decimalFromUint64(staked))
}

// shareOf returns floor(total * staked / totalStaked) without overflow.
// staked must not exceed totalStaked.
func shareOf(total, staked, totalStaked uint64) uint64 {
	hi, lo := bits.Mul64(total, staked)
	q, _ := bits.Div64(hi, lo, totalStaked)
	return q
}

// distribute splits total across stakers pro rata, flooring each share.
// The shares never sum to more than total; the remainder stays undistributed.
func distribute(total uint64, stakers []stakerShare) (uint64, []uint64) {
	var totalStaked uint64
	for _, s := range stakers {
		totalStaked += s.Staked
	}
	if totalStaked == 0 {
		return 0, nil
	}

	shares := make([]uint64, len(stakers))
	for i, s := range stakers {
		shares[i] = shareOf(total, s.Staked, totalStaked)
	}
	return totalStaked, shares
}

func decimalFromUint64(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}
