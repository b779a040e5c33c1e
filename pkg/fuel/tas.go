package fuel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/patrickmn/go-cache"
)

// The Tasmanian feed accepts the query parameters directly and returns
// already-sorted results with a server-computed distance in kilometres, so
// this adapter is mostly format translation.
const (
	tasSource         = "fuelcheck-tas"
	tasDefaultBaseURL = "https://api.fuelcheck.tas.gov.au"
	tasDefaultTTL     = 15 * time.Minute
	tasDefaultTimeout = 15 * time.Second
)

// TASOptions configures the TAS adapter.
type TASOptions struct {
	BaseURL  string
	APIKey   string
	CacheTTL time.Duration
	Timeout  time.Duration
}

type TASAdapter struct {
	baseURL string
	apiKey  string
	client  *http.Client
	cache   *cache.Cache
	log     *slog.Logger
}

func NewTASAdapter(opts TASOptions, log *slog.Logger) *TASAdapter {
	if opts.BaseURL == "" {
		opts.BaseURL = tasDefaultBaseURL
	}
	if opts.CacheTTL == 0 {
		opts.CacheTTL = tasDefaultTTL
	}
	if opts.Timeout == 0 {
		opts.Timeout = tasDefaultTimeout
	}
	return &TASAdapter{
		baseURL: opts.BaseURL,
		apiKey:  opts.APIKey,
		client:  &http.Client{Timeout: opts.Timeout},
		cache:   cache.New(opts.CacheTTL, 2*opts.CacheTTL),
		log:     log,
	}
}

func (a *TASAdapter) Source() string   { return tasSource }
func (a *TASAdapter) States() []string { return []string{"TAS"} }

type tasResponse struct {
	Stations []tasStation `json:"stations"`
}

type tasStation struct {
	Code        string  `json:"code"`
	Brand       string  `json:"brand"`
	Name        string  `json:"name"`
	Address     string  `json:"address"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Price       float64 `json:"price"` // cents per litre
	FuelType    string  `json:"fuel_type"`
	LastUpdated string  `json:"last_updated"`
	DistanceKm  float64 `json:"distance_km"`
	AdBlue      bool    `json:"adblue"`
}

func (a *TASAdapter) FetchNearby(ctx context.Context, q Query) ([]Station, error) {
	key := fmt.Sprintf("nearby|%.2f|%.2f|%.0f|%s|%s", q.Latitude, q.Longitude, q.radiusKm(), q.FuelType, q.sortBy())
	if v, ok := cacheFresh(a.cache, key); ok {
		return v.([]Station), nil
	}

	stations, err := a.fetch(ctx, q)
	if err != nil {
		if v, ok := cacheStale(a.cache, key); ok {
			a.log.Debug("serving stale tas data", "error", err)
			return v.([]Station), nil
		}
		return nil, err
	}

	cachePut(a.cache, key, stations)
	return stations, nil
}

func (a *TASAdapter) fetch(ctx context.Context, q Query) ([]Station, error) {
	now := time.Now()

	params := url.Values{}
	params.Set("latitude", fmt.Sprintf("%f", q.Latitude))
	params.Set("longitude", fmt.Sprintf("%f", q.Longitude))
	params.Set("radius_km", fmt.Sprintf("%.1f", q.radiusKm()))
	params.Set("fuel_type", q.FuelType)
	params.Set("sort_by", q.sortBy())

	u := a.baseURL + "/api/v1/prices/nearby?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("X-Api-Key", a.apiKey)

	body, err := doRequest(a.client, req)
	if err != nil {
		return nil, err
	}

	var parsed tasResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("error unmarshaling JSON: %w", err)
	}

	stations := make([]Station, 0, len(parsed.Stations))
	for _, st := range parsed.Stations {
		if st.Code == "" || st.Price <= 0 || st.FuelType != q.FuelType {
			continue
		}
		stations = append(stations, Station{
			Code:              "TAS" + st.Code,
			Brand:             st.Brand,
			Name:              st.Name,
			Address:           st.Address,
			Location:          Location{Latitude: st.Latitude, Longitude: st.Longitude},
			Price:             st.Price,
			FuelType:          st.FuelType,
			LastUpdated:       tasTimestamp(st.LastUpdated, now),
			Distance:          st.DistanceKm, // server-side, same unit as ours
			State:             "TAS",
			Source:            tasSource,
			IsAdBlueAvailable: st.AdBlue,
		})
	}
	return stations, nil
}

func tasTimestamp(raw string, fetchedAt time.Time) string {
	if _, err := time.Parse(time.RFC3339, raw); err == nil {
		return raw
	}
	return fetchTimeISO(fetchedAt)
}
