// Command filmsearch serves the film catalog search API backed by
// Elasticsearch and loads the catalog CSV into the index.
//
// Usage:
//
//	filmsearch serve  [--config configs/filmsearch.yaml]
//	filmsearch ingest [--config configs/filmsearch.yaml] [--csv datasets/netflix.csv]
package main

import (
	"log/slog"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("filmsearch failed", "error", err)
		os.Exit(1)
	}
}
