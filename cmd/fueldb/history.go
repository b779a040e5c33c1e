package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/scottleimroth/berrima-diesel-app-sub000/internal/history"
	"github.com/scottleimroth/berrima-diesel-app-sub000/pkg/fuel"
)

func snapshotCommand() *cli.Command {
	return &cli.Command{
		Name:  "snapshot",
		Usage: "Fetch current prices from every source and store them",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			log := newLogger(c)

			storage, err := history.NewStorage(c.Context, cfg.Database.Path, log)
			if err != nil {
				return fmt.Errorf("error initializing storage: %w", err)
			}
			defer storage.Close()

			agg := buildAggregator(cfg, log)
			if err := takeSnapshot(c.Context, agg, storage); err != nil {
				return err
			}
			fmt.Println("Snapshot stored.")
			return nil
		},
	}
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "Show stored price history for a station",
		ArgsUsage: "<station code>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "fuel",
				Usage: "Fuel type code",
				Value: fuel.FuelDiesel,
			},
			&cli.IntFlag{
				Name:  "days",
				Usage: "Limit to the last N days, 0 for everything",
			},
		},
		Action: func(c *cli.Context) error {
			code := c.Args().First()
			if code == "" {
				return fmt.Errorf("a station code is required, e.g. NSW2086")
			}

			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}

			storage, err := history.NewStorage(c.Context, cfg.Database.Path, newLogger(c))
			if err != nil {
				return fmt.Errorf("error initializing storage: %w", err)
			}
			defer storage.Close()

			points, err := storage.PriceHistory(c.Context, code, c.String("fuel"), c.Int("days"))
			if err != nil {
				return err
			}
			if len(points) == 0 {
				fmt.Printf("No observations for station %s.\n", code)
				return nil
			}

			for _, p := range points {
				fmt.Printf("%s  %.1f c/L\n", p.TakenAt.Format("2006-01-02 15:04"), p.Price)
			}
			return nil
		},
	}
}
