package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/scottleimroth/berrima-diesel-app-sub000/pkg/fuel"
)

func statesCommand() *cli.Command {
	return &cli.Command{
		Name:  "states",
		Usage: "Show which states have a price source",
		Action: func(c *cli.Context) error {
			for _, s := range fuel.States {
				status := "pending"
				if s.Available {
					status = "available"
				}
				fmt.Printf("%-4s %-30s %s\n", s.Code, s.Label, status)
			}
			return nil
		},
	}
}
