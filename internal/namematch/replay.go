package namematch

import (
	"fmt"
	"strings"
)

// PipelineResultFromEnvelope reconstructs a PipelineResult from a saved run
// envelope so the report can be re-rendered without rerunning the oracle.
func PipelineResultFromEnvelope(env RunEnvelope) (PipelineResult, error) {
	if strings.TrimSpace(env.RunID) == "" {
		return PipelineResult{}, fmt.Errorf("run_id is required")
	}
	if len(env.Splits) != len(env.Raw) {
		return PipelineResult{}, fmt.Errorf("envelope has %d splits for %d raw records", len(env.Splits), len(env.Raw))
	}
	res := PipelineResult{
		Splits:    env.Splits,
		Records:   env.Parsed,
		Templates: env.Templates,
		Variants:  env.Variants,
		Matches:   env.Matches,
		Flags:     env.Flags,
		Metadata:  env.Metadata,
	}
	if res.Metadata.RunID == "" {
		res.Metadata.RunID = env.RunID
	}
	return res, nil
}

// RebuildReportFromEnvelope regenerates the run report markdown from a saved
// envelope.
func RebuildReportFromEnvelope(env RunEnvelope) (string, error) {
	res, err := PipelineResultFromEnvelope(env)
	if err != nil {
		return "", err
	}
	return BuildReportMarkdown(res), nil
}
