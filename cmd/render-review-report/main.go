package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joelkehle/catalog-resolver/internal/reporthtml"
)

func main() {
	inputPath := flag.String("input", "", "Path to a run_envelope.json or run_report.md")
	outputPath := flag.String("output", "", "Path to write the HTML page (defaults to stdout)")
	flag.Parse()

	if *inputPath == "" {
		log.Fatal("missing required -input")
	}

	in, err := os.ReadFile(*inputPath)
	if err != nil {
		log.Fatalf("read input: %v", err)
	}

	page, err := reporthtml.Render(string(in))
	if err != nil {
		log.Fatalf("render report: %v", err)
	}

	if err := writePage(*outputPath, page); err != nil {
		log.Fatalf("write output: %v", err)
	}
}

func writePage(outputPath, page string) error {
	if outputPath == "" {
		_, err := fmt.Print(page)
		return err
	}
	return os.WriteFile(outputPath, []byte(page), 0o644)
}
