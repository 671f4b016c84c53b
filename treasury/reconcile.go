package treasury

import (
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/b0ase/bsv20-treasury/ledger"
	"github.com/b0ase/bsv20-treasury/network"
)

// Discrepancy is a holder whose ledger balance differs from the chain.
// Difference is Database minus OnChain.
type Discrepancy struct {
	Address    string `json:"address"`
	OnChain    uint64 `json:"onChain"`
	Database   uint64 `json:"database"`
	Difference int64  `json:"difference"`
}

// Report is the outcome of one reconciliation.
type Report struct {
	InSync        bool          `json:"inSync"`
	Discrepancies []Discrepancy `json:"discrepancies"`
	CheckedAt     time.Time     `json:"checkedAt"`
}

// Compare matches ledger holders against the on-chain snapshot by on-chain
// address. Ledger holders without an on-chain address and the operator row
// are skipped. On-chain holders missing from the ledger are reported with a
// zero database balance. Discrepancies are sorted by address.
func Compare(ledgerHolders []ledger.Holder, onchain []network.Holder) []Discrepancy {
	chain := make(map[string]uint64, len(onchain))
	for _, h := range onchain {
		chain[h.Address] += h.Balance
	}

	db := map[string]uint64{}
	for _, h := range ledgerHolders {
		addr := h.OnChainAddress()
		if addr == "" || h.Address == ledger.OperatorAddress {
			continue
		}
		db[addr] += h.Balance
	}

	discrepancies := []Discrepancy{}
	for addr, balance := range db {
		if onChain := chain[addr]; onChain != balance {
			discrepancies = append(discrepancies, newDiscrepancy(addr, onChain, balance))
		}
	}
	for _, addr := range lo.Keys(chain) {
		if _, known := db[addr]; !known && chain[addr] > 0 {
			discrepancies = append(discrepancies, newDiscrepancy(addr, chain[addr], 0))
		}
	}

	sort.Slice(discrepancies, func(i, j int) bool { return discrepancies[i].Address < discrepancies[j].Address })
	return discrepancies
}

func newDiscrepancy(addr string, onChain, database uint64) Discrepancy {
	return Discrepancy{
		Address:    addr,
		OnChain:    onChain,
		Database:   database,
		Difference: signedDiff(database, onChain),
	}
}

// signedDiff returns a-b saturated to the int64 range.
func signedDiff(a, b uint64) int64 {
	const maxInt = uint64(1<<63 - 1)
	if a >= b {
		if d := a - b; d <= maxInt {
			return int64(d)
		}
		return int64(maxInt)
	}
	if d := b - a; d <= maxInt+1 {
		return -int64(d-1) - 1
	}
	return -int64(maxInt) - 1
}
