package steam

import (
	"strconv"
	"strings"
)

// Condition is a single \key\value pair of the server-list filter language.
type Condition struct {
	Key   string
	Value string
}

func (c Condition) String() string {
	return `\` + c.Key + `\` + c.Value
}

// Filter builds a server-list filter string. The zero value matches everything.
type Filter struct {
	parts []string
}

// Where appends an equality condition.
func (f Filter) Where(key, value string) Filter {
	return f.append(Condition{Key: key, Value: value}.String())
}

// Nand appends a negation: servers matching all of conds are excluded.
func (f Filter) Nand(conds ...Condition) Filter {
	if len(conds) == 0 {
		return f
	}

	var b strings.Builder
	b.WriteString(`\nand\`)
	b.WriteString(strconv.Itoa(len(conds)))
	for _, c := range conds {
		b.WriteString(c.String())
	}
	return f.append(b.String())
}

func (f Filter) append(part string) Filter {
	parts := make([]string, len(f.parts), len(f.parts)+1)
	copy(parts, f.parts)
	return Filter{parts: append(parts, part)}
}

func (f Filter) String() string {
	return strings.Join(f.parts, "")
}

// Query is a named filter issued in one collection cycle.
type Query struct {
	Name   string
	Filter string
}

// OtherMapsQuery is the name of the query for every untracked map.
const OtherMapsQuery = "other_maps"

// BaseFilter selects whitelisted, non-empty servers of one application.
func BaseFilter(appID int) Filter {
	return Filter{}.
		Where("appid", strconv.Itoa(appID)).
		Where("white", "1").
		Where("empty", "1")
}

// DefaultQueries returns one query per tracked map plus one for all other
// maps, so that every populated server is returned by exactly one query.
func DefaultQueries(appID int, maps []string) []Query {
	base := BaseFilter(appID)
	queries := make([]Query, 0, len(maps)+1)

	for _, m := range maps {
		queries = append(queries, Query{Name: m, Filter: base.Where("map", m).String()})
	}

	other := base
	if len(maps) > 0 {
		other = base.Nand(Condition{Key: "map", Value: strings.Join(maps, ",")})
	}
	queries = append(queries, Query{Name: OtherMapsQuery, Filter: other.String()})

	return queries
}
