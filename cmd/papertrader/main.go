// Command papertrader runs the simulated multi-agent trading service.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"papertrader/internal/cli"
)

func main() {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	if err := cli.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
