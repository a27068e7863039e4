package service

import (
	"math/bits"

	"github.com/google/uuid"

	"github.com/peervest/lending-engine/internal/domain"
)

// prorate splits a repayment across contributions in proportion to each
// contribution's share of the funded amount. Shares are floored; the
// rounding remainder goes to the largest share, ties broken by the
// earliest contribution. The returned slices always sum to amount exactly.
func prorate(contributions []*domain.Contribution, amount, fundedAmount int64) []*domain.Distribution {
	if len(contributions) == 0 || fundedAmount <= 0 {
		return nil
	}

	shares := make([]int64, len(contributions))
	var assigned int64
	for i, c := range contributions {
		shares[i] = prorated(amount, c.Amount, fundedAmount)
		assigned += shares[i]
	}

	if remainder := amount - assigned; remainder > 0 {
		// Contributions arrive ordered by funded_at, so the first index
		// with the maximum share is also the earliest on ties.
		largest := 0
		for i := 1; i < len(shares); i++ {
			if shares[i] > shares[largest] {
				largest = i
			}
		}
		shares[largest] += remainder
	}

	// Merge per lender: a lender with several contributions receives one
	// distribution row covering all of them.
	byLender := make(map[uuid.UUID]*domain.Distribution)
	var out []*domain.Distribution
	for i, c := range contributions {
		if d, ok := byLender[c.LenderID]; ok {
			d.Amount += shares[i]
			continue
		}
		d := &domain.Distribution{
			ID:       uuid.New(),
			LenderID: c.LenderID,
			Amount:   shares[i],
		}
		byLender[c.LenderID] = d
		out = append(out, d)
	}

	return out
}

// prorated computes amount * part / whole with a 128-bit intermediate
// product. The plain int64 multiplication overflows once amount and part
// both pass ~3e9 minor units, which real loans can reach. All inputs are
// positive and part <= whole, so the quotient always fits in int64.
func prorated(amount, part, whole int64) int64 {
	hi, lo := bits.Mul64(uint64(amount), uint64(part))
	q, _ := bits.Div64(hi, lo, uint64(whole))
	return int64(q)
}
