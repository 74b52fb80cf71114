package capability

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	catalogx "github.com/MLAN1O/atlas/agent/catalog"
	contractx "github.com/MLAN1O/atlas/agent/contract"
	datastorex "github.com/MLAN1O/atlas/agent/datastore"
	workflowx "github.com/MLAN1O/atlas/agent/workflow"
)

// Deps are the collaborators of the default capability set.
type Deps struct {
	Catalog   *catalogx.Catalog
	Records   datastorex.RecordStore
	Planner   contractx.SQLPlanner
	Formatter contractx.ReportFormatter
}

// NewDefaultRegistry wires query, insert, update, delete, similarity_search,
// format_report and calculate. Insert enrichment goes back through the registry.
func NewDefaultRegistry(deps Deps) (*Registry, error) {
	if deps.Catalog == nil || deps.Records == nil {
		return nil, errors.New("default registry needs a catalog and a record store")
	}

	var reg *Registry
	enrich := func(ctx context.Context, entity *catalogx.Entity, hints []string) (map[string]any, error) {
		return enrichThrough(ctx, reg, entity, hints)
	}

	writer, err := workflowx.NewWriter(deps.Catalog, deps.Records, enrich)
	if err != nil {
		return nil, err
	}
	query, err := NewQuery(deps.Planner, deps.Records, deps.Catalog.Describe())
	if err != nil {
		return nil, err
	}
	report, err := NewFormatReport(deps.Formatter)
	if err != nil {
		return nil, err
	}

	reg, err = NewRegistry(
		query,
		NewInsert(writer),
		NewUpdate(writer),
		NewDelete(writer),
		NewSimilaritySearch(deps.Catalog, deps.Records),
		report,
		NewCalculate(),
	)
	if err != nil {
		return nil, err
	}
	return reg, nil
}

// enrichThrough runs similarity_search for the enrichment seed and returns the best match.
func enrichThrough(ctx context.Context, reg *Registry, entity *catalogx.Entity, hints []string) (map[string]any, error) {
	if reg == nil {
		return nil, errors.New("registry not ready")
	}
	terms := make([]any, 0, len(hints))
	for _, h := range hints {
		terms = append(terms, h)
	}

	res := reg.Invoke(ctx, Invocation{Request: contractx.CapabilityRequest{
		CallID:     "enrich-" + uuid.NewString(),
		Capability: NameSimilaritySearch,
		Args: map[string]any{
			"entity_type": entity.Name,
			"hints":       terms,
			"limit":       entity.SeedLimit,
		},
	}})
	if !res.Success {
		return nil, fmt.Errorf("%s: %s", res.Code, res.Error)
	}
	found, ok := res.Payload.(SearchResult)
	if !ok || len(found.Matches) == 0 {
		return nil, nil
	}
	return found.Matches[0], nil
}
