// Package workflow holds the write-path policy: seeding from history,
// provenance-ranked consolidation, validation and the single write.
package workflow

import (
	catalogx "github.com/MLAN1O/atlas/agent/catalog"
)

type Provenance string

const (
	ProvenanceEnriched Provenance = "enriched"
	ProvenanceDefault  Provenance = "default"
	ProvenanceUser     Provenance = "user"
)

// rank orders provenances: enriched < default < user.
func (p Provenance) rank() int {
	switch p {
	case ProvenanceEnriched:
		return 1
	case ProvenanceDefault:
		return 2
	case ProvenanceUser:
		return 3
	default:
		return 0
	}
}

// RecordDraft is the in-flight record of one write workflow execution.
type RecordDraft struct {
	Table      string                `json:"table"`
	Fields     map[string]any        `json:"fields"`
	Provenance map[string]Provenance `json:"provenance"`
}

func NewDraft(table string) *RecordDraft {
	return &RecordDraft{
		Table:      table,
		Fields:     make(map[string]any, 16),
		Provenance: make(map[string]Provenance, 16),
	}
}

// Set stores val unless the field already holds a value of higher provenance.
// Equal provenance overwrites. Returns whether the value was taken.
func (d *RecordDraft) Set(field string, val any, p Provenance) bool {
	if cur, ok := d.Provenance[field]; ok && cur.rank() > p.rank() {
		return false
	}
	d.Fields[field] = val
	d.Provenance[field] = p
	return true
}

func (d *RecordDraft) Source(field string) (Provenance, bool) {
	p, ok := d.Provenance[field]
	return p, ok
}

// Payload returns a copy of the fields to send to the store.
func (d *RecordDraft) Payload() map[string]any {
	out := make(map[string]any, len(d.Fields))
	for k, v := range d.Fields {
		out[k] = v
	}
	return out
}

// Consolidate merges the enrichment seed, the date default and the user fields.
// The result does not depend on the order sources are applied.
func Consolidate(entity *catalogx.Entity, enriched, user map[string]any, currentDate string) *RecordDraft {
	d := NewDraft(entity.Name)

	for k, v := range enriched {
		if v == nil || !entity.Writable(k) {
			continue
		}
		d.Set(k, v, ProvenanceEnriched)
	}
	if entity.DateField != "" && currentDate != "" {
		d.Set(entity.DateField, currentDate, ProvenanceDefault)
	}
	for k, v := range user {
		d.Set(k, v, ProvenanceUser)
	}
	return d
}
