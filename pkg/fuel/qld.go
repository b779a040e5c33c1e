package fuel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"
)

// The Queensland price reporting feed returns station metadata and price
// observations as two separate tables in a single response; the records are
// joined in memory on site id. One download covers both Queensland and the
// Northern Territory, so the whole dataset is cached regardless of query
// parameters and filtered per request.
const (
	qldSource         = "fpp-qld"
	qldDefaultBaseURL = "https://fppdirectapi-prod.fuelpricesqld.com.au"
	qldDefaultTTL     = 10 * time.Minute
	qldDefaultTimeout = 20 * time.Second
	qldDatasetKey     = "dataset"
	qldUpdatedFormat  = "2006-01-02T15:04:05.999"
)

// Native fuel identifiers used by the feed.
var qldFuelIDs = map[string]int{
	FuelUnleaded91:    1,
	FuelPremium95:     2,
	FuelE10:           3,
	FuelPremium98:     5,
	FuelDiesel:        14,
	FuelPremiumDiesel: 16,
	FuelLPG:           19,
	FuelE85:           21,
}

// QLDOptions configures the QLD adapter.
type QLDOptions struct {
	BaseURL  string
	Token    string
	CacheTTL time.Duration
	Timeout  time.Duration
}

type QLDAdapter struct {
	baseURL string
	token   string
	client  *http.Client
	cache   *cache.Cache
	log     *slog.Logger
}

func NewQLDAdapter(opts QLDOptions, log *slog.Logger) *QLDAdapter {
	if opts.BaseURL == "" {
		opts.BaseURL = qldDefaultBaseURL
	}
	if opts.CacheTTL == 0 {
		opts.CacheTTL = qldDefaultTTL
	}
	if opts.Timeout == 0 {
		opts.Timeout = qldDefaultTimeout
	}
	return &QLDAdapter{
		baseURL: opts.BaseURL,
		token:   opts.Token,
		client:  &http.Client{Timeout: opts.Timeout},
		cache:   cache.New(opts.CacheTTL, 2*opts.CacheTTL),
		log:     log,
	}
}

func (a *QLDAdapter) Source() string   { return qldSource }
func (a *QLDAdapter) States() []string { return []string{"QLD", "NT"} }

type qldDataset struct {
	Sites      []qldSite      `json:"Sites"`
	SitePrices []qldSitePrice `json:"SitePrices"`
	fetchedAt  time.Time
}

type qldSite struct {
	SiteID  int64   `json:"SiteId"`
	Name    string  `json:"Name"`
	Brand   string  `json:"Brand"`
	Address string  `json:"Address"`
	Lat     float64 `json:"Lat"`
	Long    float64 `json:"Long"`
	State   string  `json:"State"`
	AdBlue  bool    `json:"AdBlue"`
}

type qldSitePrice struct {
	SiteID             int64   `json:"SiteId"`
	FuelID             int     `json:"FuelId"`
	Price              float64 `json:"Price"` // tenths of a cent per litre
	TransactionDateUTC string  `json:"TransactionDateUtc"`
}

func (a *QLDAdapter) FetchNearby(ctx context.Context, q Query) ([]Station, error) {
	fuelID, ok := qldFuelIDs[q.FuelType]
	if !ok {
		return []Station{}, nil
	}

	ds, err := a.dataset(ctx)
	if err != nil {
		return nil, err
	}

	// Join: site id -> the requested fuel's price observation.
	prices := make(map[int64]qldSitePrice, len(ds.SitePrices))
	for _, p := range ds.SitePrices {
		if p.FuelID == fuelID && p.Price > 0 {
			prices[p.SiteID] = p
		}
	}

	stations := make([]Station, 0, len(prices))
	for _, site := range ds.Sites {
		p, ok := prices[site.SiteID]
		if !ok {
			continue
		}
		if site.SiteID == 0 || (site.Lat == 0 && site.Long == 0) {
			continue
		}
		state := site.State
		if state == "" {
			state = "QLD"
		}
		stations = append(stations, Station{
			Code:              "QLD" + strconv.FormatInt(site.SiteID, 10),
			Brand:             site.Brand,
			Name:              site.Name,
			Address:           site.Address,
			Location:          Location{Latitude: site.Lat, Longitude: site.Long},
			Price:             p.Price / 10, // tenths of a cent -> cents
			FuelType:          q.FuelType,
			LastUpdated:       qldTimestamp(p.TransactionDateUTC, ds.fetchedAt),
			State:             state,
			Source:            qldSource,
			IsAdBlueAvailable: site.AdBlue,
		})
	}

	stations = WithinRadius(stations, q.Latitude, q.Longitude, q.radiusKm())
	sortAdvisory(stations, q)
	return stations, nil
}

func (a *QLDAdapter) dataset(ctx context.Context) (*qldDataset, error) {
	if v, ok := cacheFresh(a.cache, qldDatasetKey); ok {
		return v.(*qldDataset), nil
	}

	ds, err := a.fetchDataset(ctx)
	if err != nil {
		if v, ok := cacheStale(a.cache, qldDatasetKey); ok {
			a.log.Debug("serving stale qld dataset", "error", err)
			return v.(*qldDataset), nil
		}
		return nil, err
	}

	cachePut(a.cache, qldDatasetKey, ds)
	return ds, nil
}

func (a *QLDAdapter) fetchDataset(ctx context.Context) (*qldDataset, error) {
	url := a.baseURL + "/Price/GetAllSitesPrices?countryId=21"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Authorization", "FPDAPI SubscriberToken="+a.token)

	body, err := doRequest(a.client, req)
	if err != nil {
		return nil, err
	}

	var ds qldDataset
	if err := json.Unmarshal(body, &ds); err != nil {
		return nil, fmt.Errorf("error unmarshaling JSON: %w", err)
	}
	if ds.Sites == nil || ds.SitePrices == nil {
		return nil, fmt.Errorf("response missing site or price tables")
	}
	ds.fetchedAt = time.Now()
	return &ds, nil
}

func qldTimestamp(raw string, fetchedAt time.Time) string {
	t, err := time.Parse(qldUpdatedFormat, raw)
	if err != nil {
		return fetchTimeISO(fetchedAt)
	}
	return t.UTC().Format(time.RFC3339)
}
