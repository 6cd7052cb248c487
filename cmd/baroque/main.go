// Command baroque runs the developer usage leaderboard: an HTTP API backed by
// a periodic sweep of the Anthropic Admin usage report.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
