package fuel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
)

// Victoria publishes fuel prices as monthly CKAN datastore resources whose
// titles follow a human-readable naming convention ("Fuel Prices - July
// 2026"). A fetch first resolves which resource id is current by listing the
// dataset's resources and parsing month names out of the titles, then runs a
// SQL-style filtered query against it. The resource is an append-only log of
// price change events, so records are reduced to the most recent observation
// per site. Data only changes monthly; the TTL reflects that.
const (
	vicSource         = "opendata-vic"
	vicDefaultBaseURL = "https://discover.data.vic.gov.au"
	vicDefaultDataset = "fuel-prices"
	vicDefaultTTL     = 6 * time.Hour
	vicDefaultTimeout = 30 * time.Second
	vicUpdatedFormat  = "2006-01-02 15:04:05"
)

// Native fuel type labels used in the published tables.
var vicFuelLabels = map[string]string{
	FuelDiesel:        "Diesel",
	FuelPremiumDiesel: "Premium Diesel",
	FuelUnleaded91:    "Unleaded 91",
	FuelPremium95:     "Premium 95",
	FuelPremium98:     "Premium 98",
	FuelE10:           "E10",
	FuelLPG:           "LPG",
}

// VICOptions configures the VIC adapter.
type VICOptions struct {
	BaseURL  string
	Dataset  string
	CacheTTL time.Duration
	Timeout  time.Duration
}

type VICAdapter struct {
	baseURL string
	dataset string
	client  *http.Client
	cache   *cache.Cache
	log     *slog.Logger
}

func NewVICAdapter(opts VICOptions, log *slog.Logger) *VICAdapter {
	if opts.BaseURL == "" {
		opts.BaseURL = vicDefaultBaseURL
	}
	if opts.Dataset == "" {
		opts.Dataset = vicDefaultDataset
	}
	if opts.CacheTTL == 0 {
		opts.CacheTTL = vicDefaultTTL
	}
	if opts.Timeout == 0 {
		opts.Timeout = vicDefaultTimeout
	}
	return &VICAdapter{
		baseURL: opts.BaseURL,
		dataset: opts.Dataset,
		client:  &http.Client{Timeout: opts.Timeout},
		cache:   cache.New(opts.CacheTTL, 2*opts.CacheTTL),
		log:     log,
	}
}

func (a *VICAdapter) Source() string   { return vicSource }
func (a *VICAdapter) States() []string { return []string{"VIC"} }

func (a *VICAdapter) FetchNearby(ctx context.Context, q Query) ([]Station, error) {
	label, ok := vicFuelLabels[q.FuelType]
	if !ok {
		return []Station{}, nil
	}

	key := "dataset|" + q.FuelType
	var all []Station
	if v, ok := cacheFresh(a.cache, key); ok {
		all = v.([]Station)
	} else {
		fetched, err := a.fetchDataset(ctx, label, q.FuelType)
		if err != nil {
			if v, ok := cacheStale(a.cache, key); ok {
				a.log.Debug("serving stale vic data", "error", err)
				fetched = v.([]Station)
			} else {
				return nil, err
			}
		} else {
			cachePut(a.cache, key, fetched)
		}
		all = fetched
	}

	stations := WithinRadius(append([]Station(nil), all...), q.Latitude, q.Longitude, q.radiusKm())
	sortAdvisory(stations, q)
	return stations, nil
}

type ckanResource struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type ckanPackageResponse struct {
	Success bool `json:"success"`
	Result  struct {
		Resources []ckanResource `json:"resources"`
	} `json:"result"`
}

type ckanSearchResponse struct {
	Success bool `json:"success"`
	Result  struct {
		Records []vicRecord `json:"records"`
	} `json:"result"`
}

type vicRecord struct {
	SiteID    int64   `json:"site_id"`
	SiteName  string  `json:"site_name"`
	Brand     string  `json:"brand"`
	Address   string  `json:"address"`
	Suburb    string  `json:"suburb"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	FuelType  string  `json:"fuel_type"`
	Price     float64 `json:"price"` // dollars per litre
	DateTime  string  `json:"date_time"`
}

func (a *VICAdapter) fetchDataset(ctx context.Context, label, fuelType string) ([]Station, error) {
	resources, err := a.listResources(ctx)
	if err != nil {
		return nil, err
	}

	resource, err := resolveLatestResource(resources)
	if err != nil {
		return nil, err
	}

	records, err := a.queryResource(ctx, resource.ID, label)
	if err != nil {
		return nil, err
	}

	fetchedAt := time.Now()

	// The resource is a change log; keep only the newest observation per site.
	latest := make(map[int64]vicRecord, len(records))
	for _, rec := range records {
		if rec.SiteID == 0 || rec.Price <= 0 || (rec.Latitude == 0 && rec.Longitude == 0) {
			continue
		}
		prev, seen := latest[rec.SiteID]
		if !seen || vicObservedAt(rec).After(vicObservedAt(prev)) {
			latest[rec.SiteID] = rec
		}
	}

	stations := make([]Station, 0, len(latest))
	for _, rec := range latest {
		address := rec.Address
		if rec.Suburb != "" {
			address = address + ", " + rec.Suburb
		}
		stations = append(stations, Station{
			Code:        fmt.Sprintf("VIC%d", rec.SiteID),
			Brand:       rec.Brand,
			Name:        rec.SiteName,
			Address:     address,
			Location:    Location{Latitude: rec.Latitude, Longitude: rec.Longitude},
			Price:       rec.Price * 100, // dollars -> cents
			FuelType:    fuelType,
			LastUpdated: vicTimestamp(rec.DateTime, fetchedAt),
			State:       "VIC",
			Source:      vicSource,
		})
	}
	return stations, nil
}

func (a *VICAdapter) listResources(ctx context.Context) ([]ckanResource, error) {
	u := fmt.Sprintf("%s/api/3/action/package_show?id=%s", a.baseURL, url.QueryEscape(a.dataset))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	body, err := doRequest(a.client, req)
	if err != nil {
		return nil, err
	}

	var parsed ckanPackageResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("error unmarshaling package listing: %w", err)
	}
	if !parsed.Success {
		return nil, fmt.Errorf("package listing returned non-success result")
	}
	return parsed.Result.Resources, nil
}

func (a *VICAdapter) queryResource(ctx context.Context, resourceID, label string) ([]vicRecord, error) {
	sql := fmt.Sprintf(`SELECT * FROM %q WHERE fuel_type = '%s'`, resourceID, strings.ReplaceAll(label, "'", "''"))
	u := fmt.Sprintf("%s/api/3/action/datastore_search_sql?sql=%s", a.baseURL, url.QueryEscape(sql))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	body, err := doRequest(a.client, req)
	if err != nil {
		return nil, err
	}

	var parsed ckanSearchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("error unmarshaling datastore response: %w", err)
	}
	if !parsed.Success {
		return nil, fmt.Errorf("datastore query returned non-success result")
	}
	return parsed.Result.Records, nil
}

var vicMonths = map[string]time.Month{
	"january": time.January, "february": time.February, "march": time.March,
	"april": time.April, "may": time.May, "june": time.June,
	"july": time.July, "august": time.August, "september": time.September,
	"october": time.October, "november": time.November, "december": time.December,
}

// resolveLatestResource picks the most recent monthly resource by parsing
// month and year out of the human-readable titles. Titles that do not follow
// the convention are ignored. Kept separate so a silent upstream renaming
// shows up as a failure here rather than as an empty query result.
func resolveLatestResource(resources []ckanResource) (ckanResource, error) {
	var (
		best     ckanResource
		bestTime time.Time
		found    bool
	)

	for _, res := range resources {
		t, ok := parseResourceMonth(res.Name)
		if !ok {
			continue
		}
		if !found || t.After(bestTime) {
			best = res
			bestTime = t
			found = true
		}
	}

	if !found {
		return ckanResource{}, fmt.Errorf("no monthly resource found among %d resources", len(resources))
	}
	return best, nil
}

func parseResourceMonth(title string) (time.Time, bool) {
	fields := strings.FieldsFunc(strings.ToLower(title), func(r rune) bool {
		return r == ' ' || r == '-' || r == '_'
	})

	var (
		month    time.Month
		year     int
		hasMonth bool
		hasYear  bool
	)
	for _, f := range fields {
		if m, ok := vicMonths[f]; ok {
			month = m
			hasMonth = true
			continue
		}
		if len(f) == 4 {
			var y int
			if _, err := fmt.Sscanf(f, "%d", &y); err == nil && y >= 2000 && y <= 2100 {
				year = y
				hasYear = true
			}
		}
	}

	if !hasMonth || !hasYear {
		return time.Time{}, false
	}
	return time.Date(year, month, 1, 0, 0, 0, 0, time.UTC), true
}

func vicObservedAt(rec vicRecord) time.Time {
	t, err := time.Parse(vicUpdatedFormat, rec.DateTime)
	if err != nil {
		return time.Time{}
	}
	return t
}

func vicTimestamp(raw string, fetchedAt time.Time) string {
	t, err := time.Parse(vicUpdatedFormat, raw)
	if err != nil {
		return fetchTimeISO(fetchedAt)
	}
	return t.UTC().Format(time.RFC3339)
}
