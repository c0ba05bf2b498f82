package population

import (
	"sort"
	"time"
)

type groupKey struct {
	Map        string
	MaxPlayers int
	Region     RegionGroup
}

// Aggregator turns raw server lists into per-cycle measurements.
type Aggregator struct {
	regions *RegionTable
}

func NewAggregator(regions *RegionTable) *Aggregator {
	if regions == nil {
		regions = MustDefaultRegionTable()
	}
	return &Aggregator{regions: regions}
}

// Aggregate sums players per (map, max_players, region group) across all
// server lists and stamps every row with at. Servers without a map are
// counted as skipped. Zero sums produce no row. Servers whose region is
// unknown share the Other row with the codes explicitly assigned to Other.
func (a *Aggregator) Aggregate(at time.Time, lists ...[]Server) *Batch {
	batch := &Batch{Timestamp: at}
	sums := make(map[groupKey]int)

	for _, servers := range lists {
		for i := range servers {
			s := &servers[i]
			batch.Servers++
			if s.Map == "" {
				batch.Skipped++
				continue
			}

			key := groupKey{
				Map:        s.Map,
				MaxPlayers: s.MaxPlayers,
				Region:     a.regions.Resolve(s.Region),
			}
			sums[key] += s.Players
		}
	}

	keys := make([]groupKey, 0, len(sums))
	for key, players := range sums {
		if players == 0 {
			continue
		}
		keys = append(keys, key)
	}

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Map != keys[j].Map {
			return keys[i].Map < keys[j].Map
		}
		if keys[i].MaxPlayers != keys[j].MaxPlayers {
			return keys[i].MaxPlayers < keys[j].MaxPlayers
		}
		return a.regions.rank(keys[i].Region) < a.regions.rank(keys[j].Region)
	})

	batch.Measurements = make([]Measurement, 0, len(keys))
	for _, key := range keys {
		batch.Measurements = append(batch.Measurements, Measurement{
			Map:        key.Map,
			Region:     key.Region,
			MaxPlayers: key.MaxPlayers,
			Players:    sums[key],
			Timestamp:  at,
		})
	}

	return batch
}
