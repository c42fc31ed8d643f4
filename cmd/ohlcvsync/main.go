package main

import (
	"os"

	"ohlcvsync/cmd/ohlcvsync/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
