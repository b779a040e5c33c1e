package history

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/scottleimroth/berrima-diesel-app-sub000/pkg/fuel"
)

func testStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := NewStorage(context.Background(), filepath.Join(t.TempDir(), "test.db"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewStorage failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleStations() []fuel.Station {
	return []fuel.Station{
		{Code: "NSW2086", Name: "Shell Berrima", Price: 189.9, FuelType: fuel.FuelDiesel, State: "NSW", Source: "fuelcheck-nsw"},
		{Code: "VIC9001", Name: "7-Eleven Brunswick", Price: 195.9, FuelType: fuel.FuelDiesel, State: "VIC", Source: "opendata-vic"},
	}
}

func TestSaveAndLatestSnapshot(t *testing.T) {
	s := testStorage(t)
	ctx := context.Background()
	takenAt := time.Date(2026, 8, 28, 6, 0, 0, 0, time.UTC)

	if err := s.SaveSnapshot(ctx, takenAt, fuel.FuelDiesel, sampleStations()); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	stations, got, err := s.LatestSnapshot(ctx, fuel.FuelDiesel)
	if err != nil {
		t.Fatalf("LatestSnapshot failed: %v", err)
	}
	if !got.Equal(takenAt) {
		t.Errorf("expected snapshot time %v, got %v", takenAt, got)
	}
	if len(stations) != 2 || stations[0].Code != "NSW2086" {
		t.Errorf("unexpected snapshot contents: %+v", stations)
	}
}

func TestLatestSnapshot_PicksNewest(t *testing.T) {
	s := testStorage(t)
	ctx := context.Background()

	older := time.Date(2026, 8, 27, 6, 0, 0, 0, time.UTC)
	newer := time.Date(2026, 8, 28, 6, 0, 0, 0, time.UTC)

	old := sampleStations()
	old[0].Price = 179.9
	if err := s.SaveSnapshot(ctx, older, fuel.FuelDiesel, old); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveSnapshot(ctx, newer, fuel.FuelDiesel, sampleStations()); err != nil {
		t.Fatal(err)
	}

	stations, got, err := s.LatestSnapshot(ctx, fuel.FuelDiesel)
	if err != nil {
		t.Fatalf("LatestSnapshot failed: %v", err)
	}
	if !got.Equal(newer) {
		t.Errorf("expected the newer snapshot, got %v", got)
	}
	if stations[0].Price != 189.9 {
		t.Errorf("expected the newer price, got %f", stations[0].Price)
	}
}

func TestLatestSnapshot_Empty(t *testing.T) {
	s := testStorage(t)
	if _, _, err := s.LatestSnapshot(context.Background(), fuel.FuelDiesel); err == nil {
		t.Fatal("expected an error when no snapshot exists")
	}
}

func TestLatestSnapshot_PerFuelType(t *testing.T) {
	s := testStorage(t)
	ctx := context.Background()
	takenAt := time.Date(2026, 8, 28, 6, 0, 0, 0, time.UTC)

	if err := s.SaveSnapshot(ctx, takenAt, fuel.FuelDiesel, sampleStations()); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.LatestSnapshot(ctx, fuel.FuelUnleaded91); err == nil {
		t.Error("a snapshot for one fuel type must not answer for another")
	}
}

func TestPriceHistory(t *testing.T) {
	s := testStorage(t)
	ctx := context.Background()

	for day := 25; day <= 28; day++ {
		stations := sampleStations()
		stations[0].Price = float64(180 + day)
		takenAt := time.Date(2026, 8, day, 6, 0, 0, 0, time.UTC)
		if err := s.SaveSnapshot(ctx, takenAt, fuel.FuelDiesel, stations); err != nil {
			t.Fatal(err)
		}
	}

	points, err := s.PriceHistory(ctx, "NSW2086", fuel.FuelDiesel, 0)
	if err != nil {
		t.Fatalf("PriceHistory failed: %v", err)
	}
	if len(points) != 4 {
		t.Fatalf("expected 4 observations, got %d", len(points))
	}
	for i := 1; i < len(points); i++ {
		if points[i].TakenAt.Before(points[i-1].TakenAt) {
			t.Fatal("observations must be ordered oldest first")
		}
	}
	if points[0].Price != 205 || points[3].Price != 208 {
		t.Errorf("unexpected price sequence: %+v", points)
	}

	if points, err = s.PriceHistory(ctx, "TAS0000", fuel.FuelDiesel, 0); err != nil {
		t.Fatalf("PriceHistory for unknown code failed: %v", err)
	} else if len(points) != 0 {
		t.Errorf("expected no observations for an unknown code, got %d", len(points))
	}
}

func TestSearchLocationClustering(t *testing.T) {
	s := testStorage(t)
	ctx := context.Background()

	// Three searches from roughly the same spot cluster into one row.
	for i := 0; i < 3; i++ {
		if err := s.LogSearchLocation(ctx, -33.8688+float64(i)*0.001, 151.2093, 50); err != nil {
			t.Fatalf("LogSearchLocation failed: %v", err)
		}
	}
	if err := s.LogSearchLocation(ctx, -37.8136, 144.9631, 25); err != nil {
		t.Fatal(err)
	}

	locations, err := s.PopularLocations(ctx, 10)
	if err != nil {
		t.Fatalf("PopularLocations failed: %v", err)
	}
	if len(locations) != 2 {
		t.Fatalf("expected 2 clustered locations, got %d", len(locations))
	}
	if locations[0].SearchCount != 3 {
		t.Errorf("expected the Sydney cluster first with 3 searches, got %d", locations[0].SearchCount)
	}
}

func TestDeleteOldSnapshots(t *testing.T) {
	s := testStorage(t)
	ctx := context.Background()

	if err := s.SaveSnapshot(ctx, time.Now().AddDate(0, 0, -30), fuel.FuelDiesel, sampleStations()); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveSnapshot(ctx, time.Now(), fuel.FuelDiesel, sampleStations()); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteOldSnapshots(ctx, 7); err != nil {
		t.Fatalf("DeleteOldSnapshots failed: %v", err)
	}

	times, err := s.SnapshotTimes(ctx)
	if err != nil {
		t.Fatalf("SnapshotTimes failed: %v", err)
	}
	if len(times) != 1 {
		t.Errorf("expected only the recent snapshot to survive, got %d", len(times))
	}

	points, err := s.PriceHistory(ctx, "NSW2086", fuel.FuelDiesel, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(points) != 1 {
		t.Errorf("expected old observations to be removed too, got %d", len(points))
	}
}
