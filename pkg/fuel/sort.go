package fuel

import (
	"sort"

	"github.com/scottleimroth/berrima-diesel-app-sub000/pkg/geo"
)

// SortStations orders stations ascending by the requested key. The sort is
// stable so exactly-equal values keep their relative order.
func SortStations(stations []Station, sortBy string) {
	if sortBy == SortByDistance {
		sort.SliceStable(stations, func(i, j int) bool {
			return stations[i].Distance < stations[j].Distance
		})
		return
	}
	sort.SliceStable(stations, func(i, j int) bool {
		return stations[i].Price < stations[j].Price
	})
}

// AnnotateDistances recomputes every station's distance from the query point
// with the shared haversine, so records from all sources sort on identical
// math regardless of what the upstream reported.
func AnnotateDistances(stations []Station, lat, lng float64) {
	for i := range stations {
		stations[i].Distance = geo.DistanceKm(lat, lng, stations[i].Location.Latitude, stations[i].Location.Longitude)
	}
}

// sortAdvisory orders an adapter's own output the same way the aggregator
// will. Adapters never populate Distance, so distance ordering is computed
// on the fly from the query point.
func sortAdvisory(stations []Station, q Query) {
	if q.sortBy() == SortByDistance {
		sort.SliceStable(stations, func(i, j int) bool {
			di := geo.DistanceKm(q.Latitude, q.Longitude, stations[i].Location.Latitude, stations[i].Location.Longitude)
			dj := geo.DistanceKm(q.Latitude, q.Longitude, stations[j].Location.Latitude, stations[j].Location.Longitude)
			return di < dj
		})
		return
	}
	SortStations(stations, SortByPrice)
}

// WithinRadius keeps stations no further than radiusKm from the given point.
// Used by the bulk-dataset adapters that must filter client-side.
func WithinRadius(stations []Station, lat, lng, radiusKm float64) []Station {
	out := stations[:0]
	for _, s := range stations {
		if geo.DistanceKm(lat, lng, s.Location.Latitude, s.Location.Longitude) <= radiusKm {
			out = append(out, s)
		}
	}
	return out
}
