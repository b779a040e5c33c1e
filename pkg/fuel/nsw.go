package fuel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/patrickmn/go-cache"
)

// The NSW FuelCheck API is the only real-time authenticated feed: every call
// carries the subscription key, a freshly generated transaction id and a
// request timestamp in the API's own format, and the upstream enforces a
// strict rate limit. The short cache TTL is what keeps us under that limit.
const (
	nswSource          = "fuelcheck-nsw"
	nswDefaultBaseURL  = "https://api.onegov.nsw.gov.au"
	nswDefaultTTL      = 5 * time.Minute
	nswDefaultTimeout  = 10 * time.Second
	nswTimestampFormat = "02/01/2006 03:04:05 PM"
	nswUpdatedFormat   = "02/01/2006 15:04:05"
)

// NSWOptions configures the NSW adapter. Zero values fall back to defaults;
// BaseURL is overridable for tests.
type NSWOptions struct {
	BaseURL  string
	APIKey   string
	CacheTTL time.Duration
	Timeout  time.Duration
}

type NSWAdapter struct {
	baseURL string
	apiKey  string
	client  *http.Client
	cache   *cache.Cache
	log     *slog.Logger
}

func NewNSWAdapter(opts NSWOptions, log *slog.Logger) *NSWAdapter {
	if opts.BaseURL == "" {
		opts.BaseURL = nswDefaultBaseURL
	}
	if opts.CacheTTL == 0 {
		opts.CacheTTL = nswDefaultTTL
	}
	if opts.Timeout == 0 {
		opts.Timeout = nswDefaultTimeout
	}
	return &NSWAdapter{
		baseURL: opts.BaseURL,
		apiKey:  opts.APIKey,
		client:  &http.Client{Timeout: opts.Timeout},
		cache:   cache.New(opts.CacheTTL, 2*opts.CacheTTL),
		log:     log,
	}
}

func (a *NSWAdapter) Source() string   { return nswSource }
func (a *NSWAdapter) States() []string { return []string{"NSW"} }

func (a *NSWAdapter) FetchNearby(ctx context.Context, q Query) ([]Station, error) {
	key := fmt.Sprintf("nearby|%.2f|%.2f|%.0f|%s|%s", q.Latitude, q.Longitude, q.radiusKm(), q.FuelType, q.sortBy())
	if v, ok := cacheFresh(a.cache, key); ok {
		return v.([]Station), nil
	}

	stations, err := a.fetch(ctx, q)
	if err != nil {
		if errors.Is(err, ErrRateLimited) {
			a.log.Warn("nsw feed rate limited", "source", nswSource)
		}
		if v, ok := cacheStale(a.cache, key); ok {
			a.log.Debug("serving stale nsw data", "key", key, "error", err)
			return v.([]Station), nil
		}
		return nil, err
	}

	cachePut(a.cache, key, stations)
	return stations, nil
}

type nswRequest struct {
	FuelType      string  `json:"fueltype"`
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
	Radius        float64 `json:"radius"`
	SortBy        string  `json:"sortby"`
	SortAscending bool    `json:"sortascending"`
}

type nswResponse struct {
	Stations []nswStation `json:"stations"`
}

type nswStation struct {
	Code     string `json:"code"`
	Brand    string `json:"brand"`
	Name     string `json:"name"`
	Address  string `json:"address"`
	Location struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"location"`
	Price       float64 `json:"price"`
	FuelType    string  `json:"fueltype"`
	LastUpdated string  `json:"lastupdated"`
	AdBlue      bool    `json:"isadblueavailable"`
}

func (a *NSWAdapter) fetch(ctx context.Context, q Query) ([]Station, error) {
	now := time.Now()

	payload, err := json.Marshal(nswRequest{
		FuelType:      q.FuelType,
		Latitude:      q.Latitude,
		Longitude:     q.Longitude,
		Radius:        q.radiusKm(),
		SortBy:        q.sortBy(),
		SortAscending: true,
	})
	if err != nil {
		return nil, fmt.Errorf("error marshaling request: %w", err)
	}

	url := a.baseURL + "/FuelPriceCheck/v1/fuel/prices/nearby"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", a.apiKey)
	req.Header.Set("transactionid", newTransactionID())
	req.Header.Set("requesttimestamp", now.Format(nswTimestampFormat))

	body, err := doRequest(a.client, req)
	if err != nil {
		return nil, err
	}

	var parsed nswResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("error unmarshaling JSON: %w", err)
	}

	stations := make([]Station, 0, len(parsed.Stations))
	for _, st := range parsed.Stations {
		// The upstream filters by fuel type server-side; the checks here
		// guard against schema drift on individual records.
		if st.Code == "" || st.Price <= 0 || st.FuelType != q.FuelType {
			continue
		}
		stations = append(stations, Station{
			Code:    "NSW" + st.Code,
			Brand:   st.Brand,
			Name:    st.Name,
			Address: st.Address,
			Location: Location{
				Latitude:  st.Location.Latitude,
				Longitude: st.Location.Longitude,
			},
			Price:             st.Price, // already cents per litre
			FuelType:          st.FuelType,
			LastUpdated:       nswTimestamp(st.LastUpdated, now),
			State:             "NSW",
			Source:            nswSource,
			IsAdBlueAvailable: st.AdBlue,
		})
	}

	sortAdvisory(stations, q)
	return stations, nil
}

func nswTimestamp(raw string, fetchedAt time.Time) string {
	t, err := time.Parse(nswUpdatedFormat, raw)
	if err != nil {
		return fetchTimeISO(fetchedAt)
	}
	return t.UTC().Format(time.RFC3339)
}
