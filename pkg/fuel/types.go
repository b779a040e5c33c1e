// Package fuel aggregates fuel prices from the state government price feeds.
// Each feed is wrapped by an adapter that normalizes its native format into
// the common Station record; the Aggregator fans out to the adapters matching
// a query's state filter and merges their results into one sorted list.
package fuel

// Normalized fuel type codes. Adapters map their source's native vocabulary
// onto these before emitting a record; stations lacking the requested type
// are dropped, never emitted with a missing price.
const (
	FuelDiesel        = "DL"
	FuelPremiumDiesel = "PDL"
	FuelUnleaded91    = "U91"
	FuelPremium95     = "P95"
	FuelPremium98     = "P98"
	FuelE10           = "E10"
	FuelE85           = "E85"
	FuelLPG           = "LPG"
)

// Sort keys accepted by queries.
const (
	SortByPrice    = "price"
	SortByDistance = "distance"
)

// StateAll is the state filter sentinel selecting every available jurisdiction.
const StateAll = "all"

// DefaultRadiusKm is applied when a query does not specify a search radius.
const DefaultRadiusKm = 50.0

// Location is a WGS84 coordinate pair in degrees.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Station is the unified record produced by every source adapter.
//
// Code is globally unique: each adapter prefixes its state code to the
// source's native station identifier. Price is always cents per litre no
// matter what unit the source reports. Distance is kilometres from the query
// point and is computed by the aggregator, not the adapters.
type Station struct {
	Code              string   `json:"code"`
	Brand             string   `json:"brand"`
	Name              string   `json:"name"`
	Address           string   `json:"address"`
	Location          Location `json:"location"`
	Price             float64  `json:"price"`
	FuelType          string   `json:"fueltype"`
	LastUpdated       string   `json:"lastupdated"`
	Distance          float64  `json:"distance"`
	State             string   `json:"state"`
	Source            string   `json:"source"`
	IsAdBlueAvailable bool     `json:"isAdBlueAvailable"`
}

// Query describes one aggregated price lookup.
type Query struct {
	Latitude  float64
	Longitude float64
	FuelType  string
	SortBy    string
	State     string
	RadiusKm  float64
}

func (q Query) radiusKm() float64 {
	if q.RadiusKm <= 0 {
		return DefaultRadiusKm
	}
	return q.RadiusKm
}

func (q Query) sortBy() string {
	if q.SortBy == SortByDistance {
		return SortByDistance
	}
	return SortByPrice
}
