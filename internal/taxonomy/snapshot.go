package taxonomy

import (
	"encoding/json"
	"fmt"
	"os"
)

// Snapshot is the point-in-time dump of the live catalog's attribute schema,
// taken before a run. It is the only input whose absence is fatal: without
// it every value would mint as new and the exports would be garbage.
type Snapshot struct {
	Attributes []SnapshotAttribute `json:"attributes"`
	Values     []SnapshotValue     `json:"values"`
}

type SnapshotAttribute struct {
	ExternalID  string      `json:"external_id"`
	Name        string      `json:"name"`
	DisplayType DisplayType `json:"display_type"`
}

type SnapshotValue struct {
	ExternalID   string `json:"external_id"`
	AttributeRef string `json:"attribute_ref"`
	Value        string `json:"value"`
}

// LoadSnapshotFile reads and validates a snapshot JSON file.
func LoadSnapshotFile(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("reading taxonomy snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("parsing taxonomy snapshot %s: %w", path, err)
	}
	byID := make(map[string]bool, len(snap.Attributes))
	for _, a := range snap.Attributes {
		if a.ExternalID != "" {
			byID[a.ExternalID] = true
		}
	}
	for _, v := range snap.Values {
		if v.AttributeRef == "" {
			return Snapshot{}, fmt.Errorf("snapshot value %q has no attribute ref", v.ExternalID)
		}
		if !byID[v.AttributeRef] {
			return Snapshot{}, fmt.Errorf("snapshot value %q references unknown attribute %q", v.ExternalID, v.AttributeRef)
		}
	}
	return snap, nil
}
