package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog/v2"
	"github.com/go-chi/httprate"
	"github.com/muesli/gominatim"
	"github.com/patrickmn/go-cache"

	"github.com/scottleimroth/berrima-diesel-app-sub000/internal/history"
	"github.com/scottleimroth/berrima-diesel-app-sub000/pkg/fuel"
)

const (
	geocodeCacheExpiry  = 30 * time.Minute
	geocodeCacheCleanup = 90 * time.Minute
	defaultRateLimit    = 20 // requests per minute per IP
	nominatimServer     = "https://nominatim.openstreetmap.org/"
)

// Options configures the HTTP server.
type Options struct {
	RequestsPerMin int
	// Geocode overrides the Nominatim lookup, used by tests.
	Geocode func(location string) (lat, lng float64, err error)
}

// Server exposes the aggregated prices, the state registry and the stored
// price history as a JSON API.
type Server struct {
	router     chi.Router
	aggregator *fuel.Aggregator
	storage    *history.Storage
	logger     *httplog.Logger
	geocache   *cache.Cache
	geocode    func(location string) (lat, lng float64, err error)
}

// New builds the server. storage may be nil, in which case the history
// endpoints report the feature as unavailable.
func New(aggregator *fuel.Aggregator, storage *history.Storage, logger *httplog.Logger, opts Options) *Server {
	s := &Server{
		aggregator: aggregator,
		storage:    storage,
		logger:     logger,
		geocache:   cache.New(geocodeCacheExpiry, geocodeCacheCleanup),
	}
	s.geocode = opts.Geocode
	if s.geocode == nil {
		s.geocode = s.geocodeLocation
	}

	rateLimit := opts.RequestsPerMin
	if rateLimit <= 0 {
		rateLimit = defaultRateLimit
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(httplog.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(httprate.LimitByIP(rateLimit, time.Minute))

	r.Get("/healthz", s.handleHealth)
	r.Get("/api/states", s.handleStates)
	r.Get("/api/prices", s.handlePrices)
	r.Get("/api/history/{code}", s.handleHistory)
	r.Get("/api/popular", s.handlePopular)

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, fuel.States)
}

type pricesResponse struct {
	Query    queryEcho      `json:"query"`
	Stations []fuel.Station `json:"stations"`
}

type queryEcho struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	FuelType  string  `json:"fuelType"`
	RadiusKm  float64 `json:"radiusKm"`
	SortBy    string  `json:"sortBy"`
	State     string  `json:"state"`
}

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()

	q := fuel.Query{
		FuelType: params.Get("fuel"),
		SortBy:   params.Get("sort"),
		State:    params.Get("state"),
	}
	if q.FuelType == "" {
		q.FuelType = fuel.FuelDiesel
	}

	if radiusStr := params.Get("radius"); radiusStr != "" {
		radius, err := strconv.ParseFloat(radiusStr, 64)
		if err != nil || radius <= 0 {
			writeError(w, http.StatusBadRequest, "invalid radius value")
			return
		}
		q.RadiusKm = radius
	}

	location := params.Get("location")
	latStr, lngStr := params.Get("lat"), params.Get("lng")

	switch {
	case location != "":
		lat, lng, err := s.cachedGeocode(location)
		if err != nil {
			writeError(w, http.StatusNotFound, fmt.Sprintf("could not resolve location %q", location))
			return
		}
		q.Latitude, q.Longitude = lat, lng
	case latStr != "" && lngStr != "":
		lat, err := strconv.ParseFloat(latStr, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid latitude value")
			return
		}
		lng, err := strconv.ParseFloat(lngStr, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid longitude value")
			return
		}
		q.Latitude, q.Longitude = lat, lng
	default:
		writeError(w, http.StatusBadRequest, "either location or lat and lng are required")
		return
	}

	if s.storage != nil {
		radius := q.RadiusKm
		if radius == 0 {
			radius = fuel.DefaultRadiusKm
		}
		if err := s.storage.LogSearchLocation(r.Context(), q.Latitude, q.Longitude, radius); err != nil {
			s.logger.Error("Failed to log search location", "error", err)
		}
	}

	stations := s.aggregator.GetUnifiedPrices(r.Context(), q)
	writeJSON(w, http.StatusOK, pricesResponse{
		Query: queryEcho{
			Latitude:  q.Latitude,
			Longitude: q.Longitude,
			FuelType:  q.FuelType,
			RadiusKm:  q.RadiusKm,
			SortBy:    q.SortBy,
			State:     q.State,
		},
		Stations: stations,
	})
}

type historyResponse struct {
	Code     string               `json:"code"`
	FuelType string               `json:"fuelType"`
	Points   []history.PricePoint `json:"points"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.storage == nil {
		writeError(w, http.StatusServiceUnavailable, "price history is not enabled")
		return
	}

	code := chi.URLParam(r, "code")
	fuelType := r.URL.Query().Get("fuel")
	if fuelType == "" {
		fuelType = fuel.FuelDiesel
	}

	days := 0
	if daysStr := r.URL.Query().Get("days"); daysStr != "" {
		var err error
		days, err = strconv.Atoi(daysStr)
		if err != nil || days < 0 {
			writeError(w, http.StatusBadRequest, "invalid days value")
			return
		}
	}

	points, err := s.storage.PriceHistory(r.Context(), code, fuelType, days)
	if err != nil {
		s.logger.Error("Error querying price history", "code", code, "error", err)
		writeError(w, http.StatusInternalServerError, "error querying price history")
		return
	}
	if len(points) == 0 {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no observations for station %s", code))
		return
	}

	writeJSON(w, http.StatusOK, historyResponse{Code: code, FuelType: fuelType, Points: points})
}

func (s *Server) handlePopular(w http.ResponseWriter, r *http.Request) {
	if s.storage == nil {
		writeError(w, http.StatusServiceUnavailable, "price history is not enabled")
		return
	}

	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		var err error
		limit, err = strconv.Atoi(limitStr)
		if err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit value")
			return
		}
	}

	locations, err := s.storage.PopularLocations(r.Context(), limit)
	if err != nil {
		s.logger.Error("Error querying popular locations", "error", err)
		writeError(w, http.StatusInternalServerError, "error querying popular locations")
		return
	}
	writeJSON(w, http.StatusOK, locations)
}

func (s *Server) cachedGeocode(location string) (lat, lng float64, err error) {
	type coords struct{ lat, lng float64 }

	if cached, ok := s.geocache.Get(location); ok {
		c := cached.(coords)
		return c.lat, c.lng, nil
	}

	lat, lng, err = s.geocode(location)
	if err != nil {
		return 0, 0, err
	}
	s.geocache.Set(location, coords{lat, lng}, cache.DefaultExpiration)
	return lat, lng, nil
}

func (s *Server) geocodeLocation(location string) (lat, lng float64, err error) {
	gominatim.SetServer(nominatimServer)

	query := gominatim.SearchQuery{Q: url.QueryEscape(location)}
	results, err := query.Get()
	if err != nil {
		return 0, 0, fmt.Errorf("geocoding error: %w", err)
	}
	if len(results) == 0 {
		return 0, 0, fmt.Errorf("no results found for location: %s", location)
	}
	return gominatimResultToLatLon(results[0])
}

func gominatimResultToLatLon(result gominatim.SearchResult) (lat, lng float64, err error) {
	lat, err = strconv.ParseFloat(result.Lat, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("error parsing latitude: %w", err)
	}
	lng, err = strconv.ParseFloat(result.Lon, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("error parsing longitude: %w", err)
	}
	return lat, lng, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
