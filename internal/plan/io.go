package plan

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Load reads a plan file. The format is selected by extension: .yaml/.yml are
// decoded as YAML, everything else (.rmeter, .json) as JSON. JSON plans may
// carry // and /* */ comments; they are stripped before decoding. Unknown
// fields are tolerated for forward compatibility.
func Load(path string) (*TestPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}

	var p TestPlan
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		// Decode YAML through the JSON model so UUIDs and the defaulting
		// hooks behave identically for both formats.
		var tree interface{}
		if err := yaml.Unmarshal(data, &tree); err != nil {
			return nil, fmt.Errorf("failed to parse YAML plan %s: %w", path, err)
		}
		jsonData, err := json.Marshal(tree)
		if err != nil {
			return nil, fmt.Errorf("failed to convert YAML plan %s: %w", path, err)
		}
		if err := json.Unmarshal(jsonData, &p); err != nil {
			return nil, fmt.Errorf("failed to parse plan %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(jsonc.ToJSON(data), &p); err != nil {
			return nil, fmt.Errorf("failed to parse plan %s: %w", path, err)
		}
	}

	applyDefaults(&p)
	return &p, nil
}

// Save writes the plan as pretty-printed JSON. The canonical extension is
// .rmeter but any path is accepted.
func Save(p *TestPlan, path string) error {
	if p.FormatVersion == 0 {
		p.FormatVersion = CurrentFormatVersion
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode plan: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write plan file: %w", err)
	}
	return nil
}

// applyDefaults fills in the defaults the wire format allows to be omitted.
func applyDefaults(p *TestPlan) {
	if p.FormatVersion == 0 {
		p.FormatVersion = CurrentFormatVersion
	}
	for i := range p.Variables {
		if p.Variables[i].Scope == "" {
			p.Variables[i].Scope = ScopePlan
		}
	}
	for i := range p.CsvDataSources {
		if p.CsvDataSources[i].SharingMode == "" {
			p.CsvDataSources[i].SharingMode = ShareAllThreads
		}
	}
	for i := range p.ThreadGroups {
		tg := &p.ThreadGroups[i]
		if tg.LoopCount.Type == "" {
			tg.LoopCount = DefaultLoopCount()
		}
		for j := range tg.Variables {
			if tg.Variables[j].Scope == "" {
				tg.Variables[j].Scope = ScopeThreadGroup
			}
		}
	}
}

// readCsv parses raw CSV content into records using the given delimiter.
func readCsv(content string, delimiter rune) ([][]string, error) {
	r := csv.NewReader(strings.NewReader(content))
	if delimiter != 0 {
		r.Comma = delimiter
	}
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse CSV: %w", err)
	}
	return records, nil
}
