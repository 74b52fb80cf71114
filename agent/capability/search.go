package capability

import (
	"context"
	"fmt"

	catalogx "github.com/MLAN1O/atlas/agent/catalog"
	contractx "github.com/MLAN1O/atlas/agent/contract"
	datastorex "github.com/MLAN1O/atlas/agent/datastore"
)

type SimilarFinder interface {
	FindSimilar(ctx context.Context, q datastorex.SimilarQuery) ([]map[string]any, error)
}

type SearchResult struct {
	Entity  string           `json:"entity"`
	Matches []map[string]any `json:"matches"`
}

// SimilaritySearch finds the newest records resembling the given hints.
type SimilaritySearch struct {
	catalog      *catalogx.Catalog
	finder       SimilarFinder
	defaultLimit int
}

func NewSimilaritySearch(catalog *catalogx.Catalog, finder SimilarFinder) *SimilaritySearch {
	return &SimilaritySearch{catalog: catalog, finder: finder, defaultLimit: 3}
}

func (s *SimilaritySearch) Info() contractx.CapabilityInfo {
	return contractx.CapabilityInfo{
		Name:        NameSimilaritySearch,
		Description: "Find the most recent records similar to the given search terms, e.g. to reuse category or supplier.",
		Kind:        contractx.KindRead,
		Fields: []contractx.FieldSpec{
			{Name: "entity_type", Type: contractx.FieldString, Required: true, Description: "Table or business term to search"},
			{Name: "hints", Type: contractx.FieldArray, Required: true, Description: "Free-text search terms"},
			{Name: "limit", Type: contractx.FieldInteger, Description: "Maximum number of matches (default 3)"},
		},
	}
}

func (s *SimilaritySearch) Invoke(ctx context.Context, inv Invocation) contractx.CapabilityResult {
	args := inv.Args()
	entity, err := s.catalog.Resolve(stringArg(args, "entity_type"), "")
	if err != nil {
		return contractx.Failed(inv.Request, fmt.Errorf("%w: %v", contractx.ErrInvalidArguments, err))
	}

	rows, err := s.finder.FindSimilar(ctx, datastorex.SimilarQuery{
		Table:   entity.Name,
		Columns: entity.SearchColumns,
		Terms:   stringsArg(args, "hints"),
		OrderBy: entity.OrderBy,
		Limit:   intArg(args, "limit", s.defaultLimit),
	})
	if err != nil {
		return contractx.Failed(inv.Request, execError("similarity search", err))
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	return contractx.Succeeded(inv.Request, SearchResult{Entity: entity.Name, Matches: rows})
}
