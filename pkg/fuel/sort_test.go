package fuel

import "testing"

func TestSortStations_Price(t *testing.T) {
	stations := []Station{
		{Code: "C", Price: 199.9},
		{Code: "A", Price: 169.9},
		{Code: "B", Price: 185.5},
	}

	SortStations(stations, SortByPrice)

	for i, code := range []string{"A", "B", "C"} {
		if stations[i].Code != code {
			t.Errorf("position %d: expected %s, got %s", i, code, stations[i].Code)
		}
	}
}

func TestSortStations_Distance(t *testing.T) {
	stations := []Station{
		{Code: "FAR", Distance: 42.1},
		{Code: "NEAR", Distance: 0.8},
		{Code: "MID", Distance: 12.0},
	}

	SortStations(stations, SortByDistance)

	for i, code := range []string{"NEAR", "MID", "FAR"} {
		if stations[i].Code != code {
			t.Errorf("position %d: expected %s, got %s", i, code, stations[i].Code)
		}
	}
}

func TestSortStations_StableOnTies(t *testing.T) {
	stations := []Station{
		{Code: "FIRST", Price: 180.0},
		{Code: "SECOND", Price: 180.0},
		{Code: "CHEAP", Price: 170.0},
	}

	SortStations(stations, SortByPrice)

	if stations[1].Code != "FIRST" || stations[2].Code != "SECOND" {
		t.Errorf("tied prices must keep input order, got %s then %s", stations[1].Code, stations[2].Code)
	}
}

func TestWithinRadius(t *testing.T) {
	// Query point Sydney; Newcastle is ~120 km away.
	stations := []Station{
		{Code: "SYD", Location: Location{Latitude: -33.8700, Longitude: 151.2100}},
		{Code: "NEWY", Location: Location{Latitude: -32.9283, Longitude: 151.7817}},
	}

	got := WithinRadius(append([]Station(nil), stations...), -33.8688, 151.2093, 50)
	if len(got) != 1 || got[0].Code != "SYD" {
		t.Fatalf("expected only SYD within 50 km, got %v", got)
	}

	got = WithinRadius(append([]Station(nil), stations...), -33.8688, 151.2093, 200)
	if len(got) != 2 {
		t.Fatalf("expected both stations within 200 km, got %d", len(got))
	}
}

func TestAnnotateDistances(t *testing.T) {
	stations := []Station{
		{Code: "HERE", Location: Location{Latitude: -33.8688, Longitude: 151.2093}},
		{Code: "THERE", Location: Location{Latitude: -37.8136, Longitude: 144.9631}},
	}

	AnnotateDistances(stations, -33.8688, 151.2093)

	if stations[0].Distance != 0 {
		t.Errorf("distance to the query point itself should be 0, got %f", stations[0].Distance)
	}
	if stations[1].Distance < 700 || stations[1].Distance > 730 {
		t.Errorf("Sydney-Melbourne distance out of range: %f", stations[1].Distance)
	}
}
