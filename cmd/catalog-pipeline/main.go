package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joelkehle/catalog-resolver/internal/catalogio"
	"github.com/joelkehle/catalog-resolver/internal/namematch"
	"github.com/joelkehle/catalog-resolver/internal/taxonomy"
)

func main() {
	inputPath := flag.String("input", "", "Vendor catalog file (.csv or .xlsx)")
	snapshotPath := flag.String("snapshot", "", "Taxonomy snapshot JSON exported from the live catalog")
	outDir := flag.String("out", "export", "Directory for import files and run artifacts")
	storePath := flag.String("store", "", "SQLite registry path (empty runs in memory)")
	priorDir := flag.String("prior", "", "Directory holding a previous run's templates.csv and variants.csv")
	maxInFlight := flag.Int("oracle-in-flight", 4, "Maximum concurrent oracle calls")
	budget := flag.Duration("oracle-budget", 0, "Wall-clock budget for issuing oracle calls (0 = unlimited)")
	callsPerSecond := flag.Float64("oracle-rps", 2, "Oracle calls per second")
	flag.Parse()

	if *inputPath == "" {
		log.Fatal("missing required -input")
	}
	if *snapshotPath == "" {
		log.Fatal("missing required -snapshot")
	}

	reg, cleanup, err := openRegistry(*storePath)
	if err != nil {
		log.Fatalf("open registry: %v", err)
	}
	defer cleanup()

	snap, err := taxonomy.LoadSnapshotFile(*snapshotPath)
	if err != nil {
		log.Fatal(err)
	}
	if err := reg.LoadSnapshot(snap); err != nil {
		log.Fatalf("load snapshot: %v", err)
	}
	log.Printf("loaded snapshot: %d attributes, %d values", len(snap.Attributes), len(snap.Values))

	if *priorDir != "" {
		counts, err := catalogio.LoadPriorExport(*priorDir, reg)
		if err != nil {
			log.Fatalf("load prior export: %v", err)
		}
		log.Printf("restored prior export: %d templates, %d variants", counts.Templates, counts.Variants)
	}

	file, err := catalogio.ReadRecords(*inputPath)
	if err != nil {
		log.Fatal(err)
	}
	for _, w := range file.Warnings {
		log.Printf("warning: %s", w)
	}
	log.Printf("read %d records from %s (%d rows skipped as malformed)", len(file.Records), *inputPath, len(file.Flags))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pipeline := namematch.NewPipeline(reg, buildOracle(*callsPerSecond), namematch.ClassifierConfig{
		MaxInFlight: *maxInFlight,
		Budget:      *budget,
	})
	result, err := pipeline.RunWithProgress(ctx, file.Records, func(stage, message string) {
		log.Printf("[%s] %s", stage, message)
	})
	if err != nil {
		log.Fatalf("pipeline failed during %s: %v", namematch.StageNameFromError(err), err)
	}

	// Reader flags cover rows the pipeline never saw; they lead the review
	// queue so it stays in row order.
	result.Flags = append(file.Flags, result.Flags...)

	paths, err := catalogio.WriteImportFiles(*outDir, reg, result)
	if err != nil {
		log.Fatalf("write import files: %v", err)
	}
	env := namematch.BuildEnvelope(file.Records, result)
	reportPath, envelopePath, err := catalogio.WriteRunArtifacts(*outDir, env, namematch.BuildReportMarkdown(result))
	if err != nil {
		log.Fatalf("write run artifacts: %v", err)
	}

	log.Printf("run %s: %d/%d records matched (%.1f%%), %d flagged",
		result.Metadata.RunID, result.Metadata.MatchedRecords, len(file.Records),
		result.Metadata.MatchRate*100, len(result.Flags))
	log.Printf("import files in %s, review queue at %s", *outDir, paths.NeedsReview)
	log.Printf("report at %s, envelope at %s", reportPath, envelopePath)
}

func openRegistry(storePath string) (taxonomy.API, func(), error) {
	if storePath == "" {
		return taxonomy.NewRegistry(), func() {}, nil
	}
	store, err := taxonomy.NewSQLiteRegistry(storePath)
	if err != nil {
		return nil, nil, err
	}
	return store, func() { store.Close() }, nil
}

// buildOracle returns nil when no API key is configured; the classifier
// then flags unclear records for manual review instead of resolving them.
func buildOracle(callsPerSecond float64) namematch.Oracle {
	caller, err := namematch.NewAnthropicCallerFromEnv()
	if err != nil {
		log.Printf("oracle disabled: %v", err)
		return nil
	}
	return namematch.NewLLMOracle(caller, callsPerSecond)
}
