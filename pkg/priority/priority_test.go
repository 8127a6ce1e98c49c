package priority

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	name    string
	tier    Tier
	arrival int64
}

func keyOf(i item) Key { return Key{Tier: i.tier, Arrival: i.arrival} }

func names(items []item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.name
	}
	return out
}

func TestRank(t *testing.T) {
	assert.Equal(t, 1, Rank(Emergency))
	assert.Equal(t, 2, Rank(VIP))
	assert.Equal(t, 3, Rank(Senior))
	assert.Equal(t, 4, Rank(Normal))
	assert.Greater(t, Rank(Tier("walk-in")), Rank(Normal))
}

func TestParseTier(t *testing.T) {
	got, err := ParseTier(" VIP ")
	require.NoError(t, err)
	assert.Equal(t, VIP, got)

	_, err = ParseTier("urgent")
	assert.Error(t, err)

	_, err = ParseTier("")
	assert.Error(t, err)
}

func TestSort_TierDominatesArrival(t *testing.T) {
	items := []item{
		{name: "emergency(3)", tier: Emergency, arrival: 3},
		{name: "normal(1)", tier: Normal, arrival: 1},
		{name: "vip(2)", tier: VIP, arrival: 2},
	}

	Sort(items, keyOf)

	assert.Equal(t, []string{"emergency(3)", "vip(2)", "normal(1)"}, names(items))
}

func TestSort_ArrivalBreaksTies(t *testing.T) {
	items := []item{
		{name: "senior-9", tier: Senior, arrival: 9},
		{name: "normal-4", tier: Normal, arrival: 4},
		{name: "senior-2", tier: Senior, arrival: 2},
		{name: "normal-1", tier: Normal, arrival: 1},
	}

	Sort(items, keyOf)

	assert.Equal(t, []string{"senior-2", "senior-9", "normal-1", "normal-4"}, names(items))
}

func TestSort_StableForEqualKeys(t *testing.T) {
	items := []item{
		{name: "first", tier: Normal, arrival: 5},
		{name: "second", tier: Normal, arrival: 5},
		{name: "third", tier: Normal, arrival: 5},
	}

	Sort(items, keyOf)

	assert.Equal(t, []string{"first", "second", "third"}, names(items))
}

func TestSort_UnknownTierLast(t *testing.T) {
	items := []item{
		{name: "unknown", tier: Tier("other"), arrival: 1},
		{name: "normal", tier: Normal, arrival: 2},
	}

	Sort(items, keyOf)

	assert.Equal(t, []string{"normal", "unknown"}, names(items))
}

func TestCompare_Total(t *testing.T) {
	keys := []Key{
		{Emergency, 1}, {Emergency, 2}, {VIP, 1}, {Senior, 7}, {Normal, 0},
	}
	for _, a := range keys {
		for _, b := range keys {
			ab, ba := Compare(a, b), Compare(b, a)
			assert.Equal(t, -ab, ba, "antisymmetry for %v %v", a, b)
			if a == b {
				assert.Zero(t, ab)
			}
		}
	}
	assert.True(t, Less(Key{Emergency, 9}, Key{Normal, 1}))
	assert.False(t, Less(Key{Normal, 1}, Key{Normal, 1}))
}
