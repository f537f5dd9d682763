package main

import (
	"os"

	"github.com/AlfredBerg/rod-maps-scraper/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
