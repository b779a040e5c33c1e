package fuel

import (
	"context"
	"encoding/xml"
	"fmt"
	"hash/fnv"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// FuelWatch publishes one RSS feed per geographic region with no all-regions
// endpoint, so a fetch walks every region and merges the items. The origin
// does not grant cross-origin access, which is why requests are routed
// through a configurable relay. Stations near region borders can appear in
// two feeds; duplicates are collapsed on trading name + rounded coordinates.
const (
	waSource         = "fuelwatch-wa"
	waDefaultBaseURL = "https://www.fuelwatch.wa.gov.au"
	waDefaultProxy   = "https://corsproxy.io/?"
	waDefaultTTL     = 30 * time.Minute
	waDefaultTimeout = 30 * time.Second
	waDateFormat     = "2006-01-02"
)

// Native product identifiers used in the feed URLs.
var waProductIDs = map[string]int{
	FuelUnleaded91:    1,
	FuelPremium95:     2,
	FuelDiesel:        4,
	FuelLPG:           5,
	FuelPremium98:     6,
	FuelE85:           10,
	FuelPremiumDiesel: 11,
}

// Metro and surrounding FuelWatch region identifiers.
var waRegions = []int{25, 26, 27, 28, 29, 30}

// WAOptions configures the WA adapter. An empty ProxyURL disables the relay,
// which tests use to hit a local fixture server directly.
type WAOptions struct {
	BaseURL  string
	ProxyURL *string
	CacheTTL time.Duration
	Timeout  time.Duration
}

type WAAdapter struct {
	baseURL  string
	proxyURL string
	client   *http.Client
	cache    *cache.Cache
	log      *slog.Logger
}

func NewWAAdapter(opts WAOptions, log *slog.Logger) *WAAdapter {
	if opts.BaseURL == "" {
		opts.BaseURL = waDefaultBaseURL
	}
	proxy := waDefaultProxy
	if opts.ProxyURL != nil {
		proxy = *opts.ProxyURL
	}
	if opts.CacheTTL == 0 {
		opts.CacheTTL = waDefaultTTL
	}
	if opts.Timeout == 0 {
		opts.Timeout = waDefaultTimeout
	}
	return &WAAdapter{
		baseURL:  opts.BaseURL,
		proxyURL: proxy,
		client:   &http.Client{Timeout: opts.Timeout},
		cache:    cache.New(opts.CacheTTL, 2*opts.CacheTTL),
		log:      log,
	}
}

func (a *WAAdapter) Source() string   { return waSource }
func (a *WAAdapter) States() []string { return []string{"WA"} }

type waFeed struct {
	Channel struct {
		Items []waItem `xml:"item"`
	} `xml:"channel"`
}

type waItem struct {
	TradingName string  `xml:"trading-name"`
	Brand       string  `xml:"brand"`
	Price       float64 `xml:"price"` // cents per litre
	Address     string  `xml:"address"`
	Suburb      string  `xml:"location"`
	Latitude    float64 `xml:"latitude"`
	Longitude   float64 `xml:"longitude"`
	Date        string  `xml:"date"`
}

func (a *WAAdapter) FetchNearby(ctx context.Context, q Query) ([]Station, error) {
	product, ok := waProductIDs[q.FuelType]
	if !ok {
		return []Station{}, nil
	}

	key := fmt.Sprintf("product|%d", product)
	var all []Station
	if v, ok := cacheFresh(a.cache, key); ok {
		all = v.([]Station)
	} else {
		fetched, err := a.fetchAllRegions(ctx, product, q.FuelType)
		if err != nil {
			if v, ok := cacheStale(a.cache, key); ok {
				a.log.Debug("serving stale wa data", "error", err)
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

// fetchAllRegions walks every regional feed concurrently. A single failed
// region is skipped; the fetch only fails as a whole when no region yields a
// feed.
func (a *WAAdapter) fetchAllRegions(ctx context.Context, product int, fuelType string) ([]Station, error) {
	fetchedAt := time.Now()

	var (
		mu      sync.Mutex
		items   []waItem
		okCount int
		lastErr error
		wg      sync.WaitGroup
	)

	for _, region := range waRegions {
		wg.Add(1)
		go func(region int) {
			defer wg.Done()
			feed, err := a.fetchRegion(ctx, product, region)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				a.log.Debug("wa region fetch failed", "region", region, "error", err)
				lastErr = err
				return
			}
			okCount++
			items = append(items, feed.Channel.Items...)
		}(region)
	}
	wg.Wait()

	if okCount == 0 {
		return nil, fmt.Errorf("all fuelwatch regions failed: %w", lastErr)
	}

	seen := make(map[string]struct{}, len(items))
	stations := make([]Station, 0, len(items))
	for _, item := range items {
		if item.TradingName == "" || item.Price <= 0 || (item.Latitude == 0 && item.Longitude == 0) {
			continue
		}
		dk := dedupeKey(item.TradingName, item.Latitude, item.Longitude)
		if _, dup := seen[dk]; dup {
			continue
		}
		seen[dk] = struct{}{}

		address := item.Address
		if item.Suburb != "" {
			address = strings.TrimSuffix(address, " ") + ", " + item.Suburb
		}
		stations = append(stations, Station{
			Code:        "WA" + stationHash(dk),
			Brand:       item.Brand,
			Name:        item.TradingName,
			Address:     address,
			Location:    Location{Latitude: item.Latitude, Longitude: item.Longitude},
			Price:       item.Price,
			FuelType:    fuelType,
			LastUpdated: waTimestamp(item.Date, fetchedAt),
			State:       "WA",
			Source:      waSource,
		})
	}
	return stations, nil
}

func (a *WAAdapter) fetchRegion(ctx context.Context, product, region int) (*waFeed, error) {
	feedURL := fmt.Sprintf("%s/fuelwatch/fuelWatchRSS?Product=%d&Region=%d", a.baseURL, product, region)
	requestURL := feedURL
	if a.proxyURL != "" {
		requestURL = a.proxyURL + url.QueryEscape(feedURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	body, err := doRequest(a.client, req)
	if err != nil {
		return nil, err
	}

	var feed waFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("error unmarshaling feed: %w", err)
	}
	return &feed, nil
}

// dedupeKey identifies a station across overlapping regional feeds.
// Coordinates are rounded to ~100m so tiny per-feed jitter still matches.
func dedupeKey(name string, lat, lng float64) string {
	return fmt.Sprintf("%s|%.3f|%.3f", strings.ToLower(strings.TrimSpace(name)), lat, lng)
}

// stationHash derives a stable station code for a feed that has no native
// station identifier.
func stationHash(key string) string {
	h := fnv.New64a()
	h.Write([]byte(key))
	return fmt.Sprintf("%016x", h.Sum64())
}

func waTimestamp(raw string, fetchedAt time.Time) string {
	t, err := time.Parse(waDateFormat, raw)
	if err != nil {
		return fetchTimeISO(fetchedAt)
	}
	return t.UTC().Format(time.RFC3339)
}
