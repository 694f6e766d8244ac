package benefit

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuition-hub/benefit-resolver/internal/domain/shared"
)

func member(id string, weight int64) *Candidate {
	c := NewCandidate("ext-"+id, id, "Student "+id)
	c.TotalCreditWeight = decimal.NewFromInt(weight)
	c.TuitionRate = decimal.NewFromInt(100)
	return c
}

func nationalIDs(members []*Candidate) []string {
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.NationalID)
	}
	return ids
}

func TestRankByCreditWeight_DescendingAndStable(t *testing.T) {
	members := []*Candidate{member("a", 20), member("b", 30), member("c", 25), member("d", 30)}

	ranked := RankByCreditWeight(members)

	assert.Equal(t, []string{"b", "d", "c", "a"}, nationalIDs(ranked))
	assert.Equal(t, []string{"a", "b", "c", "d"}, nationalIDs(members), "input must not be reordered")
}

func TestDetectTies_SinglePairAtTop(t *testing.T) {
	ranked := RankByCreditWeight([]*Candidate{member("a", 30), member("b", 30), member("c", 25), member("d", 20)})

	ties := DetectTies(ranked)

	require.Len(t, ties, 1)
	assert.Equal(t, 2, ties[0].Size())
	assert.Equal(t, 0, ties[0].FirstRank)
	assert.Equal(t, 1, ties[0].LastRank)
	assert.True(t, ties[0].CreditWeight.Equal(decimal.NewFromInt(30)))
	assert.ElementsMatch(t, []string{"a", "b"}, ties[0].NationalIDs)

	again := DetectTies(ranked)
	assert.Equal(t, ties, again)
	assert.Equal(t, []string{"a", "b", "c", "d"}, nationalIDs(ranked))
}

func TestDetectTies_NoTies(t *testing.T) {
	ranked := RankByCreditWeight([]*Candidate{member("a", 10), member("b", 20)})
	assert.Empty(t, DetectTies(ranked))
}

func TestApplyManualOrder(t *testing.T) {
	ranked := RankByCreditWeight([]*Candidate{member("a", 30), member("b", 30), member("c", 25), member("d", 20)})

	t.Run("reorders tied members only", func(t *testing.T) {
		resolved, err := ApplyManualOrder(ranked, []string{"b", "a"})
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "a", "c", "d"}, nationalIDs(resolved))
	})

	t.Run("cannot lift a lower weight above a higher one", func(t *testing.T) {
		resolved, err := ApplyManualOrder(ranked, []string{"d", "c", "b", "a"})
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "a", "c", "d"}, nationalIDs(resolved))
	})

	t.Run("missing tie member", func(t *testing.T) {
		_, err := ApplyManualOrder(ranked, []string{"a"})
		assert.ErrorIs(t, err, shared.ErrUnresolvedTies)
	})

	t.Run("duplicate id", func(t *testing.T) {
		_, err := ApplyManualOrder(ranked, []string{"a", "a", "b"})
		assert.ErrorIs(t, err, shared.ErrValidation)
	})
}

func TestVerifyRanking(t *testing.T) {
	a, b, c, d := member("a", 30), member("b", 30), member("c", 25), member("d", 20)

	t.Run("no ties needs no order", func(t *testing.T) {
		assert.NoError(t, VerifyRanking([]*Candidate{a, c, d}, nil))
	})

	t.Run("out of weight order", func(t *testing.T) {
		err := VerifyRanking([]*Candidate{c, a, d}, nil)
		assert.ErrorIs(t, err, shared.ErrInvalidState)
	})

	t.Run("tie without manual order", func(t *testing.T) {
		err := VerifyRanking([]*Candidate{a, b, c, d}, nil)
		assert.ErrorIs(t, err, shared.ErrUnresolvedTies)
	})

	t.Run("tie listed against manual order", func(t *testing.T) {
		err := VerifyRanking([]*Candidate{a, b, c, d}, []string{"b", "a"})
		assert.ErrorIs(t, err, shared.ErrInvalidState)
	})

	t.Run("tie broken by manual order", func(t *testing.T) {
		assert.NoError(t, VerifyRanking([]*Candidate{b, a, c, d}, []string{"b", "a"}))
	})
}
