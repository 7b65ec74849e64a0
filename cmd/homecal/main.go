package main

import (
	"os"
	_ "time/tzdata"

	"homecal/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
