package fuel

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/patrickmn/go-cache"
)

// Adapter wraps one government fuel-price source behind a common contract.
// FetchNearby returns stations normalized to the shared schema, already
// filtered to the requested fuel type and tagged with the adapter's source
// and state constants. An error return means the source contributed nothing;
// the aggregator converts it to an empty contribution and never propagates it.
type Adapter interface {
	// Source identifies the adapter in logs and record attribution.
	Source() string

	// States lists the jurisdiction codes this adapter's feed covers.
	States() []string

	// FetchNearby returns normalized stations for the query. Implementations
	// consult their private cache before touching the network, serve a stale
	// entry when a refresh fails, and only return an error on a cold-start
	// failure where no cached value exists.
	FetchNearby(ctx context.Context, q Query) ([]Station, error)
}

// ErrRateLimited marks an upstream HTTP 429. It alters logging only, never
// the adapter's return contract.
var ErrRateLimited = errors.New("rate limited by upstream")

const staleSuffix = "|stale"

// cachePut stores a value under the adapter cache's own TTL plus a
// never-expiring stale copy, so a later failed refresh can fall back to the
// last good response.
func cachePut(c *cache.Cache, key string, v interface{}) {
	c.Set(key, v, cache.DefaultExpiration)
	c.Set(key+staleSuffix, v, cache.NoExpiration)
}

func cacheFresh(c *cache.Cache, key string) (interface{}, bool) {
	return c.Get(key)
}

func cacheStale(c *cache.Cache, key string) (interface{}, bool) {
	return c.Get(key + staleSuffix)
}

// doRequest executes an HTTP request and returns the response body.
// A 429 response is distinguishable via ErrRateLimited; any other non-2xx
// status is a plain error.
func doRequest(client *http.Client, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error fetching data: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%s: %w", req.URL.Host, ErrRateLimited)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response body: %w", err)
	}
	return body, nil
}

// newTransactionID generates the fresh per-request identifier required by
// the NSW feed.
func newTransactionID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		// rand.Read never fails on supported platforms; fall back to a
		// timestamp so the header is still unique enough.
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b[:])
}

// fetchTimeISO formats a fetch timestamp for sources without a native
// last-updated field.
func fetchTimeISO(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
