package namematch

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ClassifierConfig bounds the oracle fan-out. Budget stops new calls from
// being issued once exhausted; in-flight calls always run to completion.
type ClassifierConfig struct {
	MaxInFlight int
	Budget      time.Duration
}

type ClassifyStats struct {
	OracleCalls   int
	OracleRetries int
	BudgetHit     bool
}

var errNoOracle = errors.New("no oracle configured")

type oracleOutcome struct {
	index         int
	attrs         AttributeSet
	metrics       AttemptMetrics
	err           error
	budgetSkipped bool
}

// Classify runs the deterministic path over every record inline, fans the
// unclear ones out to the oracle under a bounded in-flight cap, and merges
// both result streams back by index so output order equals input order no
// matter which path resolved a record or when its call completed.
//
// Oracle failures are isolated: the failing record is carried through with
// an empty attribute set, marked unresolved, and flagged for review.
func Classify(ctx context.Context, records []RawRecord, splits []SplitName, oracle Oracle, cfg ClassifierConfig, progress StageProgressFn) ([]ParsedRecord, []Flag, ClassifyStats) {
	parsed := make([]ParsedRecord, len(records))
	var unclear []int
	for i, rec := range records {
		sp := splits[i]
		pr := ParsedRecord{
			Index:         rec.Index,
			Brand:         sp.Brand,
			ProductLine:   sp.ProductLine,
			AttributeText: sp.AttributeText,
			SourceSKU:     rec.SourceSKU,
			Quantity:      rec.Quantity,
			Price:         rec.Price,
		}
		ext := ExtractAttributes(sp.AttributeText)
		if ext.Clear {
			pr.Attributes = ext.Attributes
			pr.Descriptors = ext.Descriptors
			pr.Resolution = ResolutionDeterministic
			pr.Confidence = ext.Confidence
		}
		parsed[i] = pr
		if !ext.Clear {
			unclear = append(unclear, i)
		}
	}

	stats := ClassifyStats{}
	var flags []Flag
	if len(unclear) == 0 {
		return parsed, flags, stats
	}
	emit(progress, "classify", fmt.Sprintf("%d of %d records need the oracle", len(unclear), len(records)))

	maxInFlight := cfg.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = 4
	}
	var deadline time.Time
	if cfg.Budget > 0 {
		deadline = time.Now().Add(cfg.Budget)
	}

	outcomes := make(chan oracleOutcome, len(unclear))
	sem := make(chan struct{}, maxInFlight)
	for _, i := range unclear {
		if oracle == nil {
			outcomes <- oracleOutcome{index: i, err: errNoOracle}
			continue
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			outcomes <- oracleOutcome{index: i, budgetSkipped: true}
			continue
		}
		sem <- struct{}{}
		if !deadline.IsZero() && time.Now().After(deadline) {
			<-sem
			outcomes <- oracleOutcome{index: i, budgetSkipped: true}
			continue
		}
		go func(i int, text string) {
			defer func() { <-sem }()
			attrs, m, err := oracle.Resolve(ctx, text)
			outcomes <- oracleOutcome{index: i, attrs: attrs, metrics: m, err: err}
		}(i, parsed[i].AttributeText)
	}

	for range unclear {
		oc := <-outcomes
		pr := &parsed[oc.index]
		stats.OracleCalls += oc.metrics.Attempts
		stats.OracleRetries += oc.metrics.ContentRetries

		switch {
		case oc.budgetSkipped:
			stats.BudgetHit = true
			pr.Attributes = AttributeSet{}
			pr.Resolution = ResolutionUnresolved
			flags = append(flags, Flag{
				Kind:   FlagUnresolvedText,
				Index:  pr.Index,
				Name:   records[oc.index].OriginalName,
				SKU:    pr.SourceSKU,
				Detail: "oracle budget exhausted before the call was issued",
			})
		case oc.err != nil:
			pr.Attributes = AttributeSet{}
			pr.Resolution = ResolutionUnresolved
			flags = append(flags, Flag{
				Kind:   FlagUnresolvedText,
				Index:  pr.Index,
				Name:   records[oc.index].OriginalName,
				SKU:    pr.SourceSKU,
				Detail: oc.err.Error(),
			})
		default:
			pr.Attributes = oc.attrs
			pr.Resolution = ResolutionAssisted
			pr.Confidence = 0.8
		}
	}

	return parsed, flags, stats
}
