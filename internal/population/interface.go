package population

import "time"

// Server is one entry of the upstream server list. Only the fields used for
// aggregation are required; Region is nil when the API omits it.
type Server struct {
	Addr       string `json:"addr"`
	Name       string `json:"name"`
	Map        string `json:"map"`
	Players    int    `json:"players"`
	MaxPlayers int    `json:"max_players"`
	Bots       int    `json:"bots"`
	Region     *int   `json:"region"`
}

// RegionGroup names an aggregation bucket of raw region codes.
type RegionGroup string

const (
	NorthAmerica RegionGroup = "north_america"
	Europe       RegionGroup = "europe"
	SouthAmerica RegionGroup = "south_america"
	Other        RegionGroup = "other"
	Asia         RegionGroup = "asia"
	China        RegionGroup = "china"
)

// Measurement is one aggregated row of a collection cycle.
type Measurement struct {
	Map        string
	Region     RegionGroup
	MaxPlayers int
	Players    int
	Timestamp  time.Time
}

// Batch is the output of one aggregation pass.
type Batch struct {
	Timestamp    time.Time
	Measurements []Measurement
	Servers      int
	Skipped      int
}

// Players returns the total player count across all rows.
func (b *Batch) Players() int {
	total := 0
	for _, m := range b.Measurements {
		total += m.Players
	}
	return total
}
