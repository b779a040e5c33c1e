package fuel

import (
	"context"
	"log/slog"
	"slices"
	"sync"
)

// Aggregator fans a price query out to the adapters matching the state
// filter and merges their results into one globally sorted list. It has no
// failure mode visible to callers: the worst case is an empty list.
type Aggregator struct {
	adapters []Adapter
	log      *slog.Logger
}

func NewAggregator(log *slog.Logger, adapters ...Adapter) *Aggregator {
	return &Aggregator{adapters: adapters, log: log}
}

// Adapters returns the configured adapters, mainly for diagnostics.
func (a *Aggregator) Adapters() []Adapter {
	return a.adapters
}

// GetUnifiedPrices queries every adapter selected by q.State concurrently
// and returns the merged result sorted ascending by the requested key.
// A failed adapter contributes an empty list; it never aborts the call.
func (a *Aggregator) GetUnifiedPrices(ctx context.Context, q Query) []Station {
	selected := a.adaptersFor(q.State)
	results := make([][]Station, len(selected))

	// Issue every call before waiting on any of them, so source latencies
	// overlap instead of serializing.
	var wg sync.WaitGroup
	for i, ad := range selected {
		wg.Add(1)
		go func(i int, ad Adapter) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					a.log.Error("adapter panicked", "source", ad.Source(), "panic", r)
				}
			}()
			stations, err := ad.FetchNearby(ctx, q)
			if err != nil {
				a.log.Warn("source unavailable", "source", ad.Source(), "error", err)
				return
			}
			results[i] = stations
		}(i, ad)
	}
	wg.Wait()

	var merged []Station
	for _, r := range results {
		merged = append(merged, r...)
	}

	// An adapter whose feed covers several jurisdictions returns them all;
	// narrow to the requested one here.
	if q.State != "" && q.State != StateAll {
		kept := merged[:0]
		for _, s := range merged {
			if s.State == q.State {
				kept = append(kept, s)
			}
		}
		merged = kept
	}

	AnnotateDistances(merged, q.Latitude, q.Longitude)

	// Mandatory even when every adapter is already sorted: merging sorted
	// lists does not yield a sorted list.
	SortStations(merged, q.sortBy())
	return merged
}

func (a *Aggregator) adaptersFor(state string) []Adapter {
	if state == "" || state == StateAll {
		selected := make([]Adapter, 0, len(a.adapters))
		for _, ad := range a.adapters {
			if slices.ContainsFunc(ad.States(), StateAvailable) {
				selected = append(selected, ad)
			}
		}
		return selected
	}

	var selected []Adapter
	for _, ad := range a.adapters {
		if slices.Contains(ad.States(), state) {
			selected = append(selected, ad)
		}
	}
	return selected
}
