package population

import (
	"fmt"

	"codeberg.org/mutker/serverpop/internal/errors"
)

// RegionSet assigns a list of raw region codes to a group.
type RegionSet struct {
	Group RegionGroup
	Codes []int
}

// RegionTable maps region codes to groups. Codes not present resolve to Other.
type RegionTable struct {
	sets   []RegionSet
	lookup map[int]RegionGroup
	order  map[RegionGroup]int
}

// DefaultRegionSets is the static grouping of the Steam server-list region codes.
var DefaultRegionSets = []RegionSet{
	{Group: NorthAmerica, Codes: []int{1, 2, 22, 23, 27}},
	{Group: Europe, Codes: []int{3, 8, 9, 21, 28}},
	{Group: SouthAmerica, Codes: []int{10, 14, 15, 38}},
	{Group: Other, Codes: []int{11, 7}},
	{Group: Asia, Codes: []int{5, 6, 16, 19, 24, 26, 39}},
	{Group: China, Codes: []int{12, 17, 25}},
}

// NewRegionTable builds a lookup table. Groups must be unique and codes disjoint.
func NewRegionTable(sets []RegionSet) (*RegionTable, error) {
	errFactory := errors.New()

	t := &RegionTable{
		sets:   sets,
		lookup: make(map[int]RegionGroup),
		order:  make(map[RegionGroup]int, len(sets)+1),
	}

	for i, set := range sets {
		if set.Group == "" {
			return nil, errFactory.WithData(ErrInvalidRegionTable, fmt.Sprintf("set %d has no group name", i))
		}
		if _, dup := t.order[set.Group]; dup {
			return nil, errFactory.WithData(ErrInvalidRegionTable, fmt.Sprintf("group %q listed twice", set.Group))
		}
		t.order[set.Group] = i

		for _, code := range set.Codes {
			if owner, taken := t.lookup[code]; taken {
				return nil, errFactory.WithData(ErrInvalidRegionTable,
					fmt.Sprintf("region %d in both %q and %q", code, owner, set.Group))
			}
			t.lookup[code] = set.Group
		}
	}

	if _, ok := t.order[Other]; !ok {
		t.order[Other] = len(sets)
	}

	return t, nil
}

// MustDefaultRegionTable returns the table for DefaultRegionSets.
func MustDefaultRegionTable() *RegionTable {
	t, err := NewRegionTable(DefaultRegionSets)
	if err != nil {
		panic(err)
	}
	return t
}

// Resolve returns the group for a region code. Absent and unknown codes map to Other.
func (t *RegionTable) Resolve(region *int) RegionGroup {
	if region == nil {
		return Other
	}
	if group, ok := t.lookup[*region]; ok {
		return group
	}
	return Other
}

// Known reports whether a region code belongs to one of the named sets.
func (t *RegionTable) Known(code int) bool {
	_, ok := t.lookup[code]
	return ok
}

func (t *RegionTable) rank(group RegionGroup) int {
	return t.order[group]
}
