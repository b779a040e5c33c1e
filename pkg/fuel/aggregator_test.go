package fuel

import (
	"context"
	"io"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type fakeAdapter struct {
	source   string
	states   []string
	stations []Station
	err      error
	delay    time.Duration
	panics   bool

	mu    sync.Mutex
	calls int
}

func (f *fakeAdapter) Source() string   { return f.source }
func (f *fakeAdapter) States() []string { return f.states }

func (f *fakeAdapter) FetchNearby(ctx context.Context, q Query) ([]Station, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.panics {
		panic("adapter blew up")
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.stations, nil
}

func (f *fakeAdapter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGetUnifiedPrices_GlobalSortByPrice(t *testing.T) {
	a := &fakeAdapter{source: "a", states: []string{"NSW"}, stations: []Station{
		{Code: "A1", Price: 190.0, State: "NSW"},
		{Code: "A2", Price: 170.0, State: "NSW"},
	}}
	b := &fakeAdapter{source: "b", states: []string{"VIC"}, stations: []Station{
		{Code: "B1", Price: 180.0, State: "VIC"},
	}}

	agg := NewAggregator(testLogger(), a, b)
	got := agg.GetUnifiedPrices(context.Background(), Query{FuelType: FuelDiesel, SortBy: SortByPrice, State: StateAll})

	want := []string{"A2", "B1", "A1"}
	if len(got) != len(want) {
		t.Fatalf("expected %d stations, got %d", len(want), len(got))
	}
	for i, code := range want {
		if got[i].Code != code {
			t.Errorf("position %d: expected %s, got %s (price %.1f)", i, code, got[i].Code, got[i].Price)
		}
	}
}

func TestGetUnifiedPrices_GlobalSortByDistance(t *testing.T) {
	// Query point is Sydney; far station first in adapter output.
	far := Station{Code: "FAR", State: "NSW", Location: Location{Latitude: -32.9283, Longitude: 151.7817}}
	near := Station{Code: "NEAR", State: "NSW", Location: Location{Latitude: -33.8700, Longitude: 151.2100}}
	a := &fakeAdapter{source: "a", states: []string{"NSW"}, stations: []Station{far, near}}

	agg := NewAggregator(testLogger(), a)
	got := agg.GetUnifiedPrices(context.Background(), Query{
		Latitude: -33.8688, Longitude: 151.2093,
		FuelType: FuelDiesel, SortBy: SortByDistance, State: "NSW",
	})

	if len(got) != 2 {
		t.Fatalf("expected 2 stations, got %d", len(got))
	}
	if got[0].Code != "NEAR" || got[1].Code != "FAR" {
		t.Errorf("expected NEAR before FAR, got %s, %s", got[0].Code, got[1].Code)
	}
	if got[0].Distance < 0 || got[1].Distance < got[0].Distance {
		t.Errorf("distances not annotated ascending: %f, %f", got[0].Distance, got[1].Distance)
	}
}

func TestGetUnifiedPrices_FaultTolerance(t *testing.T) {
	ok := &fakeAdapter{source: "ok", states: []string{"NSW"}, stations: []Station{
		{Code: "N1", Price: 180.0, State: "NSW"},
		{Code: "N2", Price: 175.0, State: "NSW"},
	}}
	broken := &fakeAdapter{source: "broken", states: []string{"VIC"}, err: errors.New("connection refused")}

	agg := NewAggregator(testLogger(), ok, broken)
	got := agg.GetUnifiedPrices(context.Background(), Query{FuelType: FuelDiesel, State: StateAll})

	if len(got) != 2 {
		t.Fatalf("expected the healthy adapter's 2 stations, got %d", len(got))
	}
}

func TestGetUnifiedPrices_PanicRecovery(t *testing.T) {
	ok := &fakeAdapter{source: "ok", states: []string{"NSW"}, stations: []Station{{Code: "N1", State: "NSW"}}}
	bad := &fakeAdapter{source: "bad", states: []string{"VIC"}, panics: true}

	agg := NewAggregator(testLogger(), ok, bad)
	got := agg.GetUnifiedPrices(context.Background(), Query{FuelType: FuelDiesel, State: StateAll})

	if len(got) != 1 || got[0].Code != "N1" {
		t.Fatalf("expected the healthy adapter's station to survive a sibling panic, got %v", got)
	}
}

func TestGetUnifiedPrices_StateNarrowing(t *testing.T) {
	// One feed covering two jurisdictions; the aggregator must post-filter.
	combined := &fakeAdapter{source: "combined", states: []string{"QLD", "NT"}, stations: []Station{
		{Code: "Q1", Price: 190.0, State: "QLD"},
		{Code: "T1", Price: 200.0, State: "NT"},
		{Code: "Q2", Price: 185.0, State: "QLD"},
	}}

	agg := NewAggregator(testLogger(), combined)
	got := agg.GetUnifiedPrices(context.Background(), Query{FuelType: FuelDiesel, State: "NT"})

	if len(got) != 1 {
		t.Fatalf("expected only the NT record, got %d records", len(got))
	}
	if got[0].Code != "T1" {
		t.Errorf("expected T1, got %s", got[0].Code)
	}
}

func TestGetUnifiedPrices_AdapterSelection(t *testing.T) {
	nsw := &fakeAdapter{source: "nsw", states: []string{"NSW"}}
	vic := &fakeAdapter{source: "vic", states: []string{"VIC"}}

	agg := NewAggregator(testLogger(), nsw, vic)
	agg.GetUnifiedPrices(context.Background(), Query{FuelType: FuelDiesel, State: "NSW"})

	if nsw.callCount() != 1 {
		t.Errorf("expected NSW adapter to be called once, got %d", nsw.callCount())
	}
	if vic.callCount() != 0 {
		t.Errorf("expected VIC adapter to be skipped, got %d calls", vic.callCount())
	}
}

func TestGetUnifiedPrices_UnavailableStateSkipped(t *testing.T) {
	pending := &fakeAdapter{source: "sa", states: []string{"SA"}}
	live := &fakeAdapter{source: "nsw", states: []string{"NSW"}}

	agg := NewAggregator(testLogger(), pending, live)
	agg.GetUnifiedPrices(context.Background(), Query{FuelType: FuelDiesel, State: StateAll})

	if pending.callCount() != 0 {
		t.Errorf("adapter for a pending state must not be invoked on %q", StateAll)
	}
	if live.callCount() != 1 {
		t.Errorf("expected live adapter to be called once, got %d", live.callCount())
	}
}

func TestGetUnifiedPrices_ConcurrentFanOut(t *testing.T) {
	delay := 80 * time.Millisecond
	adapters := []Adapter{
		&fakeAdapter{source: "a", states: []string{"NSW"}, delay: delay, stations: []Station{{Code: "A", State: "NSW"}}},
		&fakeAdapter{source: "b", states: []string{"VIC"}, delay: delay, stations: []Station{{Code: "B", State: "VIC"}}},
		&fakeAdapter{source: "c", states: []string{"WA"}, delay: delay, stations: []Station{{Code: "C", State: "WA"}}},
	}

	agg := NewAggregator(testLogger(), adapters...)
	start := time.Now()
	got := agg.GetUnifiedPrices(context.Background(), Query{FuelType: FuelDiesel, State: StateAll})
	elapsed := time.Since(start)

	if len(got) != 3 {
		t.Fatalf("expected 3 stations, got %d", len(got))
	}
	// Sequential awaits would take >= 3x the delay.
	if elapsed > 2*delay {
		t.Errorf("fan-out took %v, expected about one adapter delay (%v)", elapsed, delay)
	}
}

func TestGetUnifiedPrices_AllSourcesFailed(t *testing.T) {
	a := &fakeAdapter{source: "a", states: []string{"NSW"}, err: errors.New("timeout")}
	b := &fakeAdapter{source: "b", states: []string{"VIC"}, err: errors.New("timeout")}

	agg := NewAggregator(testLogger(), a, b)
	got := agg.GetUnifiedPrices(context.Background(), Query{FuelType: FuelDiesel, State: StateAll})

	if len(got) != 0 {
		t.Fatalf("expected empty result when every source fails, got %d", len(got))
	}
}
