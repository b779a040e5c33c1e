package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/httplog/v2"
	"github.com/urfave/cli/v2"

	"github.com/scottleimroth/berrima-diesel-app-sub000/internal/history"
	"github.com/scottleimroth/berrima-diesel-app-sub000/internal/server"
	"github.com/scottleimroth/berrima-diesel-app-sub000/pkg/fuel"
)

// Capital city coordinates used by the periodic snapshot so every available
// jurisdiction contributes observations.
var snapshotPoints = []struct {
	name     string
	lat, lng float64
}{
	{"Sydney", -33.8688, 151.2093},
	{"Melbourne", -37.8136, 144.9631},
	{"Brisbane", -27.4698, 153.0251},
	{"Perth", -31.9505, 115.8605},
	{"Hobart", -42.8821, 147.3272},
	{"Darwin", -12.4634, 130.8456},
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "port",
				Usage: "HTTP server port, overrides the configuration",
			},
		},
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if c.Bool("verbose") {
		logLevel = slog.LevelDebug
	}
	logger := httplog.NewLogger("fueldb", httplog.Options{
		JSON:            false,
		LogLevel:        logLevel,
		Concise:         true,
		QuietDownPeriod: 10 * time.Second,
	})

	ctx := c.Context

	storage, err := history.NewStorage(ctx, cfg.Database.Path, logger.Logger)
	if err != nil {
		return fmt.Errorf("error initializing storage: %w", err)
	}
	defer storage.Close()

	agg := buildAggregator(cfg, logger.Logger)

	if cfg.Server.SnapshotEveryHr > 0 {
		go snapshotLoop(ctx, agg, storage, logger.Logger, time.Duration(cfg.Server.SnapshotEveryHr)*time.Hour)
	}

	srv := server.New(agg, storage, logger, server.Options{
		RequestsPerMin: cfg.Server.RequestsPerMin,
	})

	port := cfg.Server.Port
	if c.Int("port") != 0 {
		port = c.Int("port")
	}
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	logger.Info("Starting server", "addr", addr)
	return http.ListenAndServe(addr, srv)
}

// snapshotLoop periodically records aggregated prices around the capital
// cities so the history endpoints accumulate data.
func snapshotLoop(ctx context.Context, agg *fuel.Aggregator, storage *history.Storage, log *slog.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := takeSnapshot(ctx, agg, storage); err != nil {
			log.Error("Error taking snapshot", "error", err)
		} else {
			log.Info("Snapshot completed successfully")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func takeSnapshot(ctx context.Context, agg *fuel.Aggregator, storage *history.Storage) error {
	takenAt := time.Now()

	seen := make(map[string]struct{})
	var stations []fuel.Station
	for _, pt := range snapshotPoints {
		result := agg.GetUnifiedPrices(ctx, fuel.Query{
			Latitude:  pt.lat,
			Longitude: pt.lng,
			FuelType:  fuel.FuelDiesel,
			RadiusKm:  fuel.DefaultRadiusKm,
			SortBy:    fuel.SortByPrice,
		})
		for _, st := range result {
			if _, dup := seen[st.Code]; dup {
				continue
			}
			seen[st.Code] = struct{}{}
			stations = append(stations, st)
		}
	}

	if len(stations) == 0 {
		return fmt.Errorf("no stations collected, skipping snapshot")
	}
	return storage.SaveSnapshot(ctx, takenAt, fuel.FuelDiesel, stations)
}
