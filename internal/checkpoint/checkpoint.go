// Package checkpoint reads the question/template corpus a run selects from.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/daryltucker/verification-runner/internal/model"
)

// Load reads a checkpoint JSON file. Both a bare {question_id: record}
// object and the {"checkpoint": {...}} envelope are accepted.
func Load(path string) (model.Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint %s: %w", path, err)
	}
	cp, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse checkpoint %s: %w", path, err)
	}
	return cp, nil
}

// Parse decodes checkpoint JSON.
func Parse(data []byte) (model.Checkpoint, error) {
	var envelope struct {
		Checkpoint model.Checkpoint `json:"checkpoint"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && len(envelope.Checkpoint) > 0 {
		return envelope.Checkpoint, nil
	}

	var cp model.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, err
	}
	if cp == nil {
		cp = model.Checkpoint{}
	}
	return cp, nil
}

// Finished returns the sorted identifiers of records eligible for selection.
func Finished(cp model.Checkpoint) []string {
	ids := make([]string, 0, len(cp))
	for id, rec := range cp {
		if rec.Finished {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// IDs returns every question identifier, sorted.
func IDs(cp model.Checkpoint) []string {
	ids := make([]string, 0, len(cp))
	for id := range cp {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
