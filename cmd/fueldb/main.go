package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/scottleimroth/berrima-diesel-app-sub000/internal/config"
	"github.com/scottleimroth/berrima-diesel-app-sub000/pkg/fuel"
)

func main() {
	app := &cli.App{
		Name:  "fueldb",
		Usage: "Find and track fuel prices across Australian states",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Configuration file",
				Value:   "config.yml",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable debug logging",
			},
		},
		Commands: []*cli.Command{
			nearbyCommand(),
			serveCommand(),
			snapshotCommand(),
			historyCommand(),
			statesCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(c *cli.Context) *slog.Logger {
	level := slog.LevelInfo
	if c.Bool("verbose") {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("error loading configuration: %w", err)
	}
	return cfg, nil
}

// buildAggregator wires every configured source adapter. Sources without
// credentials are still registered; they fail per-request and the aggregator
// degrades to the remaining sources.
func buildAggregator(cfg *config.Config, log *slog.Logger) *fuel.Aggregator {
	nsw := fuel.NewNSWAdapter(fuel.NSWOptions{
		BaseURL:  cfg.Sources.NSW.BaseURL,
		APIKey:   cfg.Sources.NSW.APIKey,
		CacheTTL: cfg.Sources.NSW.CacheTTL(),
		Timeout:  cfg.Sources.NSW.Timeout(),
	}, log)
	qld := fuel.NewQLDAdapter(fuel.QLDOptions{
		BaseURL:  cfg.Sources.QLD.BaseURL,
		Token:    cfg.Sources.QLD.APIKey,
		CacheTTL: cfg.Sources.QLD.CacheTTL(),
		Timeout:  cfg.Sources.QLD.Timeout(),
	}, log)
	wa := fuel.NewWAAdapter(fuel.WAOptions{
		BaseURL:  cfg.Sources.WA.BaseURL,
		ProxyURL: cfg.Sources.WA.ProxyURL,
		CacheTTL: cfg.Sources.WA.CacheTTL(),
		Timeout:  cfg.Sources.WA.Timeout(),
	}, log)
	vic := fuel.NewVICAdapter(fuel.VICOptions{
		BaseURL:  cfg.Sources.VIC.BaseURL,
		CacheTTL: cfg.Sources.VIC.CacheTTL(),
		Timeout:  cfg.Sources.VIC.Timeout(),
	}, log)
	tas := fuel.NewTASAdapter(fuel.TASOptions{
		BaseURL:  cfg.Sources.TAS.BaseURL,
		APIKey:   cfg.Sources.TAS.APIKey,
		CacheTTL: cfg.Sources.TAS.CacheTTL(),
		Timeout:  cfg.Sources.TAS.Timeout(),
	}, log)

	return fuel.NewAggregator(log, nsw, qld, wa, vic, tas)
}
