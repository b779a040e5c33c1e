package fuel

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestParseResourceMonth(t *testing.T) {
	tests := []struct {
		title    string
		expected string
		ok       bool
	}{
		{"Fuel Prices - July 2026", "2026-07", true},
		{"fuel_prices_august_2026", "2026-08", true},
		{"December 2025 fuel prices", "2025-12", true},
		{"Data dictionary", "", false},
		{"Fuel Prices - July", "", false},
		{"Fuel Prices 1999 July", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			got, ok := parseResourceMonth(tt.title)
			if ok != tt.ok {
				t.Fatalf("parseResourceMonth(%q) ok = %v, expected %v", tt.title, ok, tt.ok)
			}
			if ok && got.Format("2006-01") != tt.expected {
				t.Errorf("parseResourceMonth(%q) = %s, expected %s", tt.title, got.Format("2006-01"), tt.expected)
			}
		})
	}
}

func TestResolveLatestResource(t *testing.T) {
	resources := []ckanResource{
		{ID: "dict", Name: "Data dictionary"},
		{ID: "jun", Name: "Fuel Prices - June 2026"},
		{ID: "aug", Name: "Fuel Prices - August 2026"},
		{ID: "jul", Name: "Fuel Prices - July 2026"},
	}

	got, err := resolveLatestResource(resources)
	if err != nil {
		t.Fatalf("resolveLatestResource failed: %v", err)
	}
	if got.ID != "aug" {
		t.Errorf("expected the August resource, got %s", got.ID)
	}

	if _, err := resolveLatestResource([]ckanResource{{ID: "dict", Name: "Data dictionary"}}); err == nil {
		t.Error("expected an error when no resource title parses")
	}
}

const vicPackageFixture = `{
	"success": true,
	"result": {
		"resources": [
			{"id": "old-resource", "name": "Fuel Prices - July 2026"},
			{"id": "current-resource", "name": "Fuel Prices - August 2026"},
			{"id": "dict", "name": "Data dictionary"}
		]
	}
}`

// Two observations for site 9001; the 14:00 row must win.
const vicRecordsFixture = `{
	"success": true,
	"result": {
		"records": [
			{"site_id": 9001, "site_name": "7-Eleven Brunswick", "brand": "7-Eleven",
			 "address": "312 Sydney Rd", "suburb": "Brunswick",
			 "latitude": -37.767, "longitude": 144.960,
			 "fuel_type": "Diesel", "price": 1.899, "date_time": "2026-08-27 09:30:00"},
			{"site_id": 9001, "site_name": "7-Eleven Brunswick", "brand": "7-Eleven",
			 "address": "312 Sydney Rd", "suburb": "Brunswick",
			 "latitude": -37.767, "longitude": 144.960,
			 "fuel_type": "Diesel", "price": 1.959, "date_time": "2026-08-27 14:00:00"},
			{"site_id": 9002, "site_name": "Shell Coburg", "brand": "Shell",
			 "address": "2 Bell St", "suburb": "Coburg",
			 "latitude": -37.744, "longitude": 144.963,
			 "fuel_type": "Diesel", "price": 1.879, "date_time": "2026-08-27 11:00:00"},
			{"site_id": 0, "site_name": "Broken row", "brand": "",
			 "address": "", "suburb": "",
			 "latitude": -37.70, "longitude": 144.90,
			 "fuel_type": "Diesel", "price": 1.500, "date_time": "2026-08-27 11:00:00"}
		]
	}
}`

func newVICTestAdapter(t *testing.T, packageCalls, queryCalls *atomic.Int32, queriedSQL *string) *VICAdapter {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/3/action/package_show":
			if packageCalls != nil {
				packageCalls.Add(1)
			}
			w.Write([]byte(vicPackageFixture))
		case "/api/3/action/datastore_search_sql":
			if queryCalls != nil {
				queryCalls.Add(1)
			}
			if queriedSQL != nil {
				*queriedSQL = r.URL.Query().Get("sql")
			}
			w.Write([]byte(vicRecordsFixture))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return NewVICAdapter(VICOptions{BaseURL: srv.URL, CacheTTL: time.Minute}, testLogger())
}

func vicQuery() Query {
	return Query{Latitude: -37.77, Longitude: 144.96, FuelType: FuelDiesel, SortBy: SortByPrice, RadiusKm: 50}
}

func TestVICAdapter_FetchAndNormalize(t *testing.T) {
	var queriedSQL string
	adapter := newVICTestAdapter(t, nil, nil, &queriedSQL)

	stations, err := adapter.FetchNearby(context.Background(), vicQuery())
	if err != nil {
		t.Fatalf("FetchNearby failed: %v", err)
	}

	if !strings.Contains(queriedSQL, `"current-resource"`) {
		t.Errorf("query must target the newest monthly resource, got: %s", queriedSQL)
	}
	if !strings.Contains(queriedSQL, "fuel_type = 'Diesel'") {
		t.Errorf("query must filter on the native fuel label, got: %s", queriedSQL)
	}

	// Site 9001's two change-log rows collapse to one, broken row dropped.
	if len(stations) != 2 {
		t.Fatalf("expected 2 stations, got %d", len(stations))
	}

	byCode := map[string]Station{}
	for _, s := range stations {
		byCode[s.Code] = s
	}

	brunswick, ok := byCode["VIC9001"]
	if !ok {
		t.Fatal("expected VIC9001 in results")
	}
	if math.Abs(brunswick.Price-195.9) > 1e-9 {
		t.Errorf("the newest observation (dollars to cents) must win: expected 195.9, got %f", brunswick.Price)
	}
	if brunswick.LastUpdated != "2026-08-27T14:00:00Z" {
		t.Errorf("expected ISO-8601 timestamp of the winning row, got %s", brunswick.LastUpdated)
	}
	if brunswick.State != "VIC" || brunswick.Source != vicSource {
		t.Errorf("unexpected attribution: %s/%s", brunswick.State, brunswick.Source)
	}
	if brunswick.Address != "312 Sydney Rd, Brunswick" {
		t.Errorf("suburb should be appended to the address, got %q", brunswick.Address)
	}
}

func TestVICAdapter_DatasetCachedPerFuelType(t *testing.T) {
	var packageCalls, queryCalls atomic.Int32
	adapter := newVICTestAdapter(t, &packageCalls, &queryCalls, nil)

	q1 := vicQuery()
	q2 := vicQuery()
	q2.Latitude, q2.Longitude = -37.74, 144.96 // different location, same dataset

	if _, err := adapter.FetchNearby(context.Background(), q1); err != nil {
		t.Fatalf("first FetchNearby failed: %v", err)
	}
	if _, err := adapter.FetchNearby(context.Background(), q2); err != nil {
		t.Fatalf("second FetchNearby failed: %v", err)
	}

	if packageCalls.Load() != 1 || queryCalls.Load() != 1 {
		t.Errorf("dataset is cached per fuel type; expected 1 listing and 1 query, got %d and %d",
			packageCalls.Load(), queryCalls.Load())
	}
}

func TestVICAdapter_UnknownFuelType(t *testing.T) {
	var packageCalls atomic.Int32
	adapter := newVICTestAdapter(t, &packageCalls, nil, nil)

	q := vicQuery()
	q.FuelType = "ADBLUE"

	stations, err := adapter.FetchNearby(context.Background(), q)
	if err != nil {
		t.Fatalf("FetchNearby failed: %v", err)
	}
	if len(stations) != 0 || packageCalls.Load() != 0 {
		t.Error("an unmapped fuel type should return empty without touching the network")
	}
}

func TestVICAdapter_ColdStartFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)
	adapter := NewVICAdapter(VICOptions{BaseURL: srv.URL}, testLogger())

	if _, err := adapter.FetchNearby(context.Background(), vicQuery()); err == nil {
		t.Fatal("expected an error on a cold-start upstream failure")
	}
}
