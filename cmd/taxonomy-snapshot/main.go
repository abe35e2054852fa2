package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"

	"github.com/joelkehle/catalog-resolver/internal/catalogio"
)

func main() {
	attributesPath := flag.String("attributes", "", "Attribute export CSV from the destination system")
	outputPath := flag.String("output", "taxonomy_snapshot.json", "Path to write the snapshot JSON")
	flag.Parse()

	if *attributesPath == "" {
		log.Fatal("missing required -attributes")
	}

	snap, err := catalogio.ReadAttributeExport(*attributesPath)
	if err != nil {
		log.Fatal(err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		log.Fatalf("encode snapshot: %v", err)
	}
	if err := os.WriteFile(*outputPath, data, 0o644); err != nil {
		log.Fatalf("write snapshot: %v", err)
	}
	log.Printf("wrote %s: %d attributes, %d values", *outputPath, len(snap.Attributes), len(snap.Values))
}
