// Package treasury derives the treasury's on-chain token position from the
// indexer snapshot and reconciles the off-chain ledger against it.
package treasury

import (
	"github.com/samber/lo"

	"github.com/b0ase/bsv20-treasury/network"
)

// Balance is the treasury's position in a holder snapshot.
type Balance struct {
	Treasury    uint64 `json:"treasury"`
	Circulating uint64 `json:"circulating"`
	TotalSupply uint64 `json:"totalSupply"`
	// Derived is set when the treasury address was absent from the snapshot
	// and Treasury was computed as supply minus everyone else.
	Derived bool `json:"derived"`
}

// ComputeBalance returns the treasury balance and circulating supply. The
// treasury balance is the snapshot entry for treasuryAddr when present,
// otherwise totalSupply minus the other holders, floored at zero.
func ComputeBalance(treasuryAddr string, totalSupply uint64, holders []network.Holder) Balance {
	others := lo.Filter(holders, func(h network.Holder, _ int) bool { return h.Address != treasuryAddr })
	circulating := sumHolders(others)

	b := Balance{Circulating: circulating, TotalSupply: totalSupply}
	if own, ok := lo.Find(holders, func(h network.Holder) bool { return h.Address == treasuryAddr }); ok {
		b.Treasury = own.Balance
		return b
	}

	b.Derived = true
	if circulating < totalSupply {
		b.Treasury = totalSupply - circulating
	}
	return b
}

func sumHolders(holders []network.Holder) uint64 {
	var total uint64
	for _, h := range holders {
		if total+h.Balance < total {
			return ^uint64(0)
		}
		total += h.Balance
	}
	return total
}
