// Package prompt holds the system prompts of the reasoning unit and its helpers.
package prompt

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	//go:embed template/orchestrator.txt
	orchestratorRaw string

	//go:embed template/sql.txt
	sqlRaw string

	//go:embed template/report.txt
	reportRaw string
)

// PromptSet holds loaded prompt content.
type PromptSet struct {
	Orchestrator string
	SQL          string
	Report       string
}

// LoadPromptSet returns the embedded prompts, trimmed.
func LoadPromptSet() PromptSet {
	return PromptSet{
		Orchestrator: strings.TrimSpace(orchestratorRaw),
		SQL:          strings.TrimSpace(sqlRaw),
		Report:       strings.TrimSpace(reportRaw),
	}
}

// LoadPromptSetFrom overlays orchestrator.txt, sql.txt and report.txt found in
// dir on the embedded prompts. Missing files keep the embedded text.
func LoadPromptSetFrom(dir string) (PromptSet, error) {
	set := LoadPromptSet()
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return set, nil
	}

	targets := map[string]*string{
		"orchestrator.txt": &set.Orchestrator,
		"sql.txt":          &set.SQL,
		"report.txt":       &set.Report,
	}
	for name, dst := range targets {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return PromptSet{}, fmt.Errorf("read prompt %s: %w", name, err)
		}
		if text := strings.TrimSpace(string(raw)); text != "" {
			*dst = text
		}
	}
	return set, nil
}
