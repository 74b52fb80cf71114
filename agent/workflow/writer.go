package workflow

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	catalogx "github.com/MLAN1O/atlas/agent/catalog"
	contractx "github.com/MLAN1O/atlas/agent/contract"
)

// RecordWriter is the data-store handle the writer owns for one engine.
type RecordWriter interface {
	Insert(ctx context.Context, table string, record map[string]any) (map[string]any, error)
	Update(ctx context.Context, table string, id any, updates map[string]any) (map[string]any, error)
	Delete(ctx context.Context, table string, id any) (map[string]any, error)
}

// Enricher returns the most similar prior record for entity, or nil.
type Enricher func(ctx context.Context, entity *catalogx.Entity, hints []string) (map[string]any, error)

type Outcome struct {
	Operation  contractx.Intent      `json:"operation"`
	Table      string                `json:"table"`
	RecordID   any                   `json:"record_id,omitempty"`
	Record     map[string]any        `json:"record,omitempty"`
	Provenance map[string]Provenance `json:"provenance,omitempty"`
	Enriched   bool                  `json:"enriched,omitempty"`
}

type InsertRequest struct {
	Table       string
	Record      map[string]any
	Hints       []string
	UserText    string
	CurrentDate string
}

type Writer struct {
	catalog *catalogx.Catalog
	store   RecordWriter
	enrich  Enricher
}

func NewWriter(catalog *catalogx.Catalog, store RecordWriter, enrich Enricher) (*Writer, error) {
	if catalog == nil {
		return nil, errors.New("nil catalog")
	}
	if store == nil {
		return nil, errors.New("nil record writer")
	}
	return &Writer{catalog: catalog, store: store, enrich: enrich}, nil
}

func (w *Writer) Catalog() *catalogx.Catalog {
	return w.catalog
}

// Insert runs enrichment, consolidation, validation and exactly one store insert.
func (w *Writer) Insert(ctx context.Context, req InsertRequest) (Outcome, error) {
	entity, err := w.catalog.Resolve(req.Table, req.UserText)
	if err != nil {
		return Outcome{Operation: contractx.IntentInsert}, fmt.Errorf("%w: %v", contractx.ErrInvalidArguments, err)
	}

	seed := w.seed(ctx, entity, enrichmentHints(entity, req))
	draft := Consolidate(entity, seed, req.Record, req.CurrentDate)
	out := Outcome{
		Operation:  contractx.IntentInsert,
		Table:      entity.Name,
		Provenance: draft.Provenance,
		Enriched:   len(seed) > 0,
	}

	if err := ValidateDraft(entity, draft); err != nil {
		return out, err
	}

	row, err := w.store.Insert(ctx, entity.Name, draft.Payload())
	if err != nil {
		return out, storeError(err)
	}
	out.Record = row
	out.RecordID = row["id"]
	return out, nil
}

func (w *Writer) Update(ctx context.Context, table string, id any, updates map[string]any) (Outcome, error) {
	out := Outcome{Operation: contractx.IntentUpdate, RecordID: id}
	entity, err := w.target(table, id)
	if err != nil {
		return out, err
	}
	out.Table = entity.Name

	// the caller's map stays as it was requested
	updates = maps.Clone(updates)
	if err := ValidateUpdates(entity, updates); err != nil {
		return out, err
	}
	row, err := w.store.Update(ctx, entity.Name, id, updates)
	if err != nil {
		return out, storeError(err)
	}
	out.Record = row
	return out, nil
}

func (w *Writer) Delete(ctx context.Context, table string, id any) (Outcome, error) {
	out := Outcome{Operation: contractx.IntentDelete, RecordID: id}
	entity, err := w.target(table, id)
	if err != nil {
		return out, err
	}
	out.Table = entity.Name

	row, err := w.store.Delete(ctx, entity.Name, id)
	if err != nil {
		return out, storeError(err)
	}
	out.Record = row
	return out, nil
}

func (w *Writer) target(table string, id any) (*catalogx.Entity, error) {
	if strings.TrimSpace(table) == "" {
		return nil, &ValidationError{Table: table, Missing: []string{"table"}}
	}
	entity, err := w.catalog.Resolve(table, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrInvalidArguments, err)
	}
	if isBlankID(id) {
		return nil, &ValidationError{Table: entity.Name, Missing: []string{"record_id"}}
	}
	return entity, nil
}

// seed is best-effort: failures degrade to an empty seed.
func (w *Writer) seed(ctx context.Context, entity *catalogx.Entity, hints []string) map[string]any {
	if w.enrich == nil || len(hints) == 0 {
		return nil
	}
	rec, err := w.enrich(ctx, entity, hints)
	if err != nil {
		log.Warn().Err(err).Str("entity", entity.Name).Msg("enrichment failed, continuing without seed")
		return nil
	}
	return rec
}

// enrichmentHints prefers explicit hints, then the user's values for the entity's search
// columns, then the significant words of the user's message.
func enrichmentHints(entity *catalogx.Entity, req InsertRequest) []string {
	if hints := compact(req.Hints); len(hints) > 0 {
		return hints
	}
	parts := make([]string, 0, len(entity.SearchColumns))
	for _, col := range entity.SearchColumns {
		if s, ok := req.Record[col].(string); ok {
			parts = append(parts, s)
		}
	}
	if hints := compact(parts); len(hints) > 0 {
		return hints
	}

	skip := make(map[string]struct{}, len(entity.Terms)+1)
	skip[entity.Name] = struct{}{}
	for _, t := range entity.Terms {
		skip[strings.ToLower(t)] = struct{}{}
	}
	words := make([]string, 0, 8)
	for _, w := range strings.FieldsFunc(strings.ToLower(req.UserText), func(r rune) bool {
		return !unicode.IsLetter(r)
	}) {
		if _, ok := skip[w]; ok || utf8.RuneCountInString(w) < 4 {
			continue
		}
		words = append(words, w)
	}
	return words
}

func compact(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func storeError(err error) error {
	if errors.Is(err, contractx.ErrRecordNotFound) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", contractx.ErrCapabilityExecution, err)
}

func isBlankID(id any) bool {
	switch v := id.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	}
	return false
}
