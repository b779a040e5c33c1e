package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/muesli/gominatim"
	"github.com/tkrajina/gpxgo/gpx"
	"github.com/urfave/cli/v2"

	"github.com/scottleimroth/berrima-diesel-app-sub000/pkg/fuel"
)

func nearbyCommand() *cli.Command {
	return &cli.Command{
		Name:  "nearby",
		Usage: "List nearby fuel stations across all configured sources",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "location",
				Usage: "Location to search, geocoded via Nominatim",
			},
			&cli.Float64Flag{
				Name:  "lat",
				Usage: "Latitude of the location",
			},
			&cli.Float64Flag{
				Name:  "long",
				Usage: "Longitude of the location",
			},
			&cli.Float64Flag{
				Name:    "radius",
				Aliases: []string{"r"},
				Usage:   "Search radius in kilometers",
				Value:   fuel.DefaultRadiusKm,
			},
			&cli.StringFlag{
				Name:  "fuel",
				Usage: "Fuel type code (DL, PDL, U91, P95, P98, E10, E85, LPG)",
				Value: fuel.FuelDiesel,
			},
			&cli.StringFlag{
				Name:  "sort",
				Usage: "Sort order: price or distance",
				Value: fuel.SortByPrice,
			},
			&cli.StringFlag{
				Name:  "state",
				Usage: "Restrict results to one state, or 'all'",
				Value: fuel.StateAll,
			},
			&cli.StringFlag{
				Name:  "gpx",
				Usage: "Write the results as GPX waypoints to this file",
			},
		},
		Action: nearbyAction,
	}
}

func nearbyAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	log := newLogger(c)

	lat := c.Float64("lat")
	lng := c.Float64("long")

	if loc := c.String("location"); loc != "" {
		lat, lng, err = geocode(loc)
		if err != nil {
			return err
		}
	} else if lat == 0 && lng == 0 {
		return errors.New("location or latitude and longitude are required")
	}

	agg := buildAggregator(cfg, log)
	stations := agg.GetUnifiedPrices(c.Context, fuel.Query{
		Latitude:  lat,
		Longitude: lng,
		FuelType:  c.String("fuel"),
		RadiusKm:  c.Float64("radius"),
		SortBy:    c.String("sort"),
		State:     c.String("state"),
	})

	if len(stations) == 0 {
		fmt.Println("No stations found.")
		return nil
	}

	for i, st := range stations {
		fmt.Printf("%d. %s (%s)\n", i+1, st.Name, st.Brand)
		fmt.Printf("   Address: %s\n", st.Address)
		fmt.Printf("   Price: %.1f c/L (%s)\n", st.Price, st.FuelType)
		fmt.Printf("   Distance: %.2f km\n", st.Distance)
		fmt.Printf("   Updated: %s via %s\n\n", st.LastUpdated, st.Source)
	}
	fmt.Printf("Found %d stations within %g km radius\n", len(stations), c.Float64("radius"))

	if gpxPath := c.String("gpx"); gpxPath != "" {
		if err := writeGPX(gpxPath, stations); err != nil {
			return err
		}
		fmt.Printf("Wrote %d waypoints to %s\n", len(stations), gpxPath)
	}
	return nil
}

func geocode(location string) (lat, lng float64, err error) {
	gominatim.SetServer("https://nominatim.openstreetmap.org/")
	qry := gominatim.SearchQuery{Q: location}

	resp, err := qry.Get()
	if err != nil {
		return 0, 0, fmt.Errorf("geocoding error: %w", err)
	}
	if len(resp) == 0 {
		return 0, 0, fmt.Errorf("no results found for location: %s", location)
	}
	fmt.Println("Location found:", resp[0].DisplayName)

	lat, err = strconv.ParseFloat(resp[0].Lat, 64)
	if err != nil {
		return 0, 0, err
	}
	lng, err = strconv.ParseFloat(resp[0].Lon, 64)
	if err != nil {
		return 0, 0, err
	}
	return lat, lng, nil
}

func writeGPX(path string, stations []fuel.Station) error {
	doc := gpx.GPX{Creator: "fueldb"}
	for _, st := range stations {
		doc.Waypoints = append(doc.Waypoints, gpx.GPXPoint{
			Point: gpx.Point{
				Latitude:  st.Location.Latitude,
				Longitude: st.Location.Longitude,
			},
			Name:        st.Name,
			Description: fmt.Sprintf("%.1f c/L %s (%s)", st.Price, st.FuelType, st.Brand),
		})
	}

	data, err := doc.ToXml(gpx.ToXmlParams{Indent: true})
	if err != nil {
		return fmt.Errorf("error serializing GPX: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("error writing GPX file: %w", err)
	}
	return nil
}
