package main

import (
	"github.com/joho/godotenv"

	"pricewatcher/internal/cli"
)

func main() {
	// Best effort; config falls back to real env and defaults.
	_ = godotenv.Load()

	cli.Execute()
}
