package benefit

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/tuition-hub/benefit-resolver/internal/domain/shared"
)

// Tier is one row of the family-support schedule. Rank 0 is the member with
// the highest credit load.
type Tier struct {
	Rank       int             `json:"rank"`
	Percentage decimal.Decimal `json:"percentage"`
}

// TierTable is the ordered rank to percentage schedule.
type TierTable []Tier

// NewTierTable builds a table from percentages ordered by rank.
func NewTierTable(percentages []decimal.Decimal) (TierTable, error) {
	table := make(TierTable, 0, len(percentages))
	for rank, p := range percentages {
		if !IsFraction(p) {
			return nil, shared.NewDomainError("tiers", "Build", shared.ErrValueOutOfRange,
				fmt.Sprintf("tier %d percentage %s is outside [0,1]", rank, p))
		}
		table = append(table, Tier{Rank: rank, Percentage: p})
	}
	return table, nil
}

// PercentageFor returns the percentage of the given rank. Ranks beyond the
// table get zero.
func (t TierTable) PercentageFor(rank int) decimal.Decimal {
	for _, tier := range t {
		if tier.Rank == rank {
			return tier.Percentage
		}
	}
	return decimal.Zero
}
