package benefit

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/tuition-hub/benefit-resolver/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// FAMILY GROUP
// ══════════════════════════════════════════════════════════════════════════════

// FamilyGroup is a set of related students requesting the family-support
// benefit together. After ranking, Members is sorted by TotalCreditWeight
// descending. A group with unresolved ties is not committable.
type FamilyGroup struct {
	RequestID string       `json:"request_id"`
	Members   []*Candidate `json:"members"`
	Ties      []TieGroup   `json:"ties,omitempty"`
	Finalized bool         `json:"finalized"`

	// ManualOrder is the operator order that broke the ties, if any.
	ManualOrder []string `json:"manual_order,omitempty"`
}

// Committable reports whether percentages have been finalized.
func (g *FamilyGroup) Committable() bool {
	return g != nil && g.Finalized
}

// TieGroup is a run of members with exactly equal credit weight.
type TieGroup struct {
	CreditWeight decimal.Decimal `json:"credit_weight"`
	FirstRank    int             `json:"first_rank"`
	LastRank     int             `json:"last_rank"`
	NationalIDs  []string        `json:"national_ids"`
}

// Size returns the number of tied members.
func (t TieGroup) Size() int {
	return len(t.NationalIDs)
}

// String formats the tie for operator messages.
func (t TieGroup) String() string {
	return fmt.Sprintf("ranks %d-%d tied at %s credits: %s",
		t.FirstRank, t.LastRank, t.CreditWeight.String(), strings.Join(t.NationalIDs, ", "))
}

// RankByCreditWeight returns a copy of members sorted by TotalCreditWeight
// descending. Equal weights keep their input order.
func RankByCreditWeight(members []*Candidate) []*Candidate {
	ranked := make([]*Candidate, len(members))
	copy(ranked, members)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].TotalCreditWeight.GreaterThan(ranked[j].TotalCreditWeight)
	})
	return ranked
}

// DetectTies groups ranked members by exactly equal weight and returns every
// group with more than one member. It does not modify its input.
func DetectTies(ranked []*Candidate) []TieGroup {
	var ties []TieGroup
	for start := 0; start < len(ranked); {
		end := start + 1
		for end < len(ranked) && ranked[end].TotalCreditWeight.Equal(ranked[start].TotalCreditWeight) {
			end++
		}
		if end-start > 1 {
			ids := make([]string, 0, end-start)
			for _, c := range ranked[start:end] {
				ids = append(ids, c.NationalID)
			}
			ties = append(ties, TieGroup{
				CreditWeight: ranked[start].TotalCreditWeight,
				FirstRank:    start,
				LastRank:     end - 1,
				NationalIDs:  ids,
			})
		}
		start = end
	}
	return ties
}

// ApplyManualOrder breaks ties using an operator-supplied order of national
// IDs. Members keep their weight order; within a tie group they follow their
// position in order. Every tied member must appear in order.
func ApplyManualOrder(ranked []*Candidate, order []string) ([]*Candidate, error) {
	position := make(map[string]int, len(order))
	for i, id := range order {
		if _, dup := position[id]; dup {
			return nil, shared.NewDomainError("family", "ApplyManualOrder", shared.ErrValidation,
				fmt.Sprintf("national id %s appears twice in manual order", id))
		}
		position[id] = i
	}

	for _, tie := range DetectTies(ranked) {
		var missing []string
		for _, id := range tie.NationalIDs {
			if _, ok := position[id]; !ok {
				missing = append(missing, id)
			}
		}
		if len(missing) > 0 {
			return nil, shared.NewDomainError("family", "ApplyManualOrder", shared.ErrUnresolvedTies,
				fmt.Sprintf("%s: no manual order for %s", tie, strings.Join(missing, ", ")))
		}
	}

	resolved := make([]*Candidate, len(ranked))
	copy(resolved, ranked)
	sort.SliceStable(resolved, func(i, j int) bool {
		wi, wj := resolved[i].TotalCreditWeight, resolved[j].TotalCreditWeight
		if !wi.Equal(wj) {
			return wi.GreaterThan(wj)
		}
		pi, iok := position[resolved[i].NationalID]
		pj, jok := position[resolved[j].NationalID]
		if iok && jok {
			return pi < pj
		}
		return false
	})
	return resolved, nil
}

// VerifyRanking checks that members are in final rank order: credit weight
// descending, with every tie broken by manualOrder. Members already ranked
// this way are exactly what AssignFamily produces for a finalized group.
func VerifyRanking(members []*Candidate, manualOrder []string) error {
	for i := 1; i < len(members); i++ {
		if members[i].TotalCreditWeight.GreaterThan(members[i-1].TotalCreditWeight) {
			return shared.NewDomainError("family", "VerifyRanking", shared.ErrInvalidState,
				fmt.Sprintf("member %s outranks %s but is listed after it", members[i].NationalID, members[i-1].NationalID))
		}
	}
	if len(DetectTies(members)) == 0 {
		return nil
	}

	resolved, err := ApplyManualOrder(members, manualOrder)
	if err != nil {
		return err
	}
	for i := range members {
		if resolved[i] != members[i] {
			return shared.NewDomainError("family", "VerifyRanking", shared.ErrInvalidState,
				fmt.Sprintf("rank %d is %s but the manual order puts %s there", i, members[i].NationalID, resolved[i].NationalID))
		}
	}
	return nil
}
