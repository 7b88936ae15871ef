package main

import (
	"os"

	"github.com/salomai/salombot/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
