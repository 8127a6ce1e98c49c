// Package priority orders pending clinic work by priority tier and arrival.
//
// Queues are never stored. Every projection re-reads its records and sorts
// them with Sort, so the order always reflects the committed state.
package priority

import (
	"fmt"
	"slices"
	"strings"
)

// Tier is the priority classification assigned to a patient at registration.
type Tier string

const (
	Emergency Tier = "emergency"
	VIP       Tier = "vip"
	Senior    Tier = "senior"
	Normal    Tier = "normal"
)

// Tiers lists the known tiers from most to least urgent.
var Tiers = []Tier{Emergency, VIP, Senior, Normal}

// unknownRank places unrecognised tiers after every known tier.
const unknownRank = 5

// Rank returns the serving rank of a tier. Lower ranks are served first.
func Rank(t Tier) int {
	switch t {
	case Emergency:
		return 1
	case VIP:
		return 2
	case Senior:
		return 3
	case Normal:
		return 4
	default:
		return unknownRank
	}
}

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	return Rank(t) != unknownRank
}

func (t Tier) String() string { return string(t) }

// ParseTier parses a tier name case-insensitively.
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("invalid priority level: %q (valid: emergency, vip, senior, normal)", s)
	}
	return t, nil
}

// Key is the ordering key of a pending work item.
type Key struct {
	Tier    Tier
	Arrival int64
}

// Compare returns -1 when a is served before b, 1 when after, 0 when equal.
func Compare(a, b Key) int {
	if ra, rb := Rank(a.Tier), Rank(b.Tier); ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch {
	case a.Arrival < b.Arrival:
		return -1
	case a.Arrival > b.Arrival:
		return 1
	}
	return 0
}

// Less reports whether a is served before b.
func Less(a, b Key) bool {
	return Compare(a, b) < 0
}

// Sort orders items in place by the key returned for each item.
// Items with equal keys keep their input order.
func Sort[T any](items []T, key func(T) Key) {
	slices.SortStableFunc(items, func(a, b T) int {
		return Compare(key(a), key(b))
	})
}
