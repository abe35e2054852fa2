package namematch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/joelkehle/catalog-resolver/internal/taxonomy"
)

type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

type StageProgressFn func(stage, message string)

type Pipeline struct {
	reg    taxonomy.API
	oracle Oracle
	cfg    ClassifierConfig
}

func NewPipeline(reg taxonomy.API, oracle Oracle, cfg ClassifierConfig) *Pipeline {
	return &Pipeline{reg: reg, oracle: oracle, cfg: cfg}
}

func (p *Pipeline) Run(ctx context.Context, raw []RawRecord) (PipelineResult, error) {
	return p.runWithProgress(ctx, raw, nil)
}

func (p *Pipeline) RunWithProgress(ctx context.Context, raw []RawRecord, progress StageProgressFn) (PipelineResult, error) {
	return p.runWithProgress(ctx, raw, progress)
}

func (p *Pipeline) runWithProgress(ctx context.Context, raw []RawRecord, progress StageProgressFn) (PipelineResult, error) {
	res := PipelineResult{
		Metadata: PipelineMetadata{RunID: uuid.NewString(), StartedAt: time.Now()},
	}

	emit(progress, "split", fmt.Sprintf("Splitting %d product names...", len(raw)))
	res.Splits = SplitAll(raw)
	res.Metadata.StagesExecuted = append(res.Metadata.StagesExecuted, "split")

	emit(progress, "classify", "Classifying attribute text...")
	records, classifyFlags, stats := Classify(ctx, raw, res.Splits, p.oracle, p.cfg, progress)
	res.Records = records
	res.Flags = append(res.Flags, classifyFlags...)
	res.Metadata.OracleCalls = stats.OracleCalls
	res.Metadata.OracleRetries = stats.OracleRetries
	res.Metadata.OracleBudgetHit = stats.BudgetHit
	res.Metadata.StagesExecuted = append(res.Metadata.StagesExecuted, "classify")
	if err := ctx.Err(); err != nil {
		return res, &StageError{Stage: "classify", Err: err}
	}

	// Classify returns only after every oracle outcome has been merged, so no
	// registry write below can race an in-flight call.
	emit(progress, "normalize", fmt.Sprintf("Normalizing values for %d records...", len(records)))
	normalized, normFlags := Normalize(records, p.reg, progress)
	res.Flags = append(res.Flags, normFlags...)
	res.Metadata.StagesExecuted = append(res.Metadata.StagesExecuted, "normalize")

	emit(progress, "templates", "Building templates...")
	groups, tmplFlags := BuildTemplates(normalized, p.reg, progress)
	res.Flags = append(res.Flags, tmplFlags...)
	res.Metadata.StagesExecuted = append(res.Metadata.StagesExecuted, "templates")
	for _, g := range groups {
		res.Templates = append(res.Templates, g.Template)
	}

	emit(progress, "variants", "Matching variants...")
	matches, matchFlags := MatchVariants(groups, p.reg, progress)
	res.Matches = matches
	res.Flags = append(res.Flags, matchFlags...)
	res.Metadata.StagesExecuted = append(res.Metadata.StagesExecuted, "variants")

	seen := map[string]bool{}
	for _, m := range matches {
		if seen[m.VariantRef] {
			continue
		}
		seen[m.VariantRef] = true
		if v, ok := p.reg.VariantByID(m.VariantRef); ok {
			res.Variants = append(res.Variants, v)
		}
	}

	return p.finalize(res, len(raw))
}

func (p *Pipeline) finalize(res PipelineResult, total int) (PipelineResult, error) {
	res.Metadata.CompletedAt = time.Now()
	res.Metadata.MatchedRecords = len(res.Matches)
	if total > 0 {
		res.Metadata.MatchRate = float64(len(res.Matches)) / float64(total)
	}

	newVariants := 0
	for _, v := range res.Variants {
		if v.New {
			newVariants++
		}
	}
	err := p.reg.RecordRun(taxonomy.RunRecord{
		RunID:        res.Metadata.RunID,
		StartedAt:    res.Metadata.StartedAt,
		CompletedAt:  res.Metadata.CompletedAt,
		RecordCount:  total,
		MatchedCount: len(res.Matches),
		NewVariants:  newVariants,
		Flagged:      len(res.Flags),
	})
	if err != nil {
		return res, &StageError{Stage: "record_run", Err: err}
	}
	return res, nil
}

func emit(progress StageProgressFn, stage, message string) {
	if progress != nil {
		progress(stage, message)
	}
}

func StageNameFromError(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return "pipeline"
}
