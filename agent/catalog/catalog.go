// Package catalog describes the business entities the agent may read and write.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"

	contractx "github.com/MLAN1O/atlas/agent/contract"
)

//go:embed catalog.yaml
var defaultCatalog []byte

var (
	ErrUnknownEntity   = errors.New("unknown entity")
	ErrAmbiguousEntity = errors.New("ambiguous entity")
)

type Entity struct {
	Name             string                `yaml:"name"`
	Description      string                `yaml:"description"`
	Terms            []string              `yaml:"terms"`
	DateField        string                `yaml:"date_field"`
	OrderBy          string                `yaml:"order_by"`
	SearchColumns    []string              `yaml:"search_columns"`
	SystemColumns    []string              `yaml:"system_columns"`
	GeneratedColumns []string              `yaml:"generated_columns"`
	SeedLimit        int                   `yaml:"seed_limit"`
	Fields           []contractx.FieldSpec `yaml:"fields"`
}

type Catalog struct {
	entities []*Entity
	byName   map[string]*Entity
	byTerm   map[string]*Entity
}

type file struct {
	Entities []*Entity `yaml:"entities"`
}

// Default returns the embedded catalog.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

func Parse(raw []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return New(f.Entities...)
}

func New(entities ...*Entity) (*Catalog, error) {
	c := &Catalog{
		byName: make(map[string]*Entity, len(entities)),
		byTerm: make(map[string]*Entity, len(entities)*4),
	}
	for _, e := range entities {
		if e == nil {
			continue
		}
		if err := e.validate(); err != nil {
			return nil, err
		}
		if _, dup := c.byName[e.Name]; dup {
			return nil, fmt.Errorf("duplicate entity %q", e.Name)
		}
		if e.SeedLimit <= 0 {
			e.SeedLimit = 1
		}
		c.entities = append(c.entities, e)
		c.byName[e.Name] = e
		for _, term := range append([]string{e.Name}, e.Terms...) {
			key := normalizeTerm(term)
			if other, ok := c.byTerm[key]; ok && other != e {
				return nil, fmt.Errorf("term %q maps to %q and %q", term, other.Name, e.Name)
			}
			c.byTerm[key] = e
		}
	}
	if len(c.entities) == 0 {
		return nil, errors.New("catalog has no entities")
	}
	return c, nil
}

func (e *Entity) validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return errors.New("entity name is empty")
	}
	if len(e.Fields) == 0 {
		return fmt.Errorf("entity %q has no fields", e.Name)
	}
	seen := make(map[string]struct{}, len(e.Fields))
	for _, f := range e.Fields {
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("entity %q: duplicate field %q", e.Name, f.Name)
		}
		seen[f.Name] = struct{}{}
	}
	if e.DateField != "" {
		if _, ok := seen[e.DateField]; !ok {
			return fmt.Errorf("entity %q: date field %q is not declared", e.Name, e.DateField)
		}
	}
	for _, col := range e.SearchColumns {
		if _, ok := seen[col]; !ok {
			return fmt.Errorf("entity %q: search column %q is not declared", e.Name, col)
		}
	}
	return nil
}

func (c *Catalog) Entity(name string) (*Entity, bool) {
	e, ok := c.byName[strings.ToLower(strings.TrimSpace(name))]
	return e, ok
}

func (c *Catalog) Names() []string {
	out := make([]string, 0, len(c.entities))
	for _, e := range c.entities {
		out = append(out, e.Name)
	}
	return out
}

// Resolve picks the target entity: an explicit table wins, otherwise business terms in hint are matched.
func (c *Catalog) Resolve(table, hint string) (*Entity, error) {
	if t := strings.TrimSpace(table); t != "" {
		if e, ok := c.Entity(t); ok {
			return e, nil
		}
		if e, ok := c.byTerm[normalizeTerm(t)]; ok {
			return e, nil
		}
		return nil, fmt.Errorf("%w: %q", ErrUnknownEntity, t)
	}

	matched := map[string]*Entity{}
	for _, tok := range tokenize(hint) {
		if e, ok := c.byTerm[tok]; ok {
			matched[e.Name] = e
		}
	}
	switch len(matched) {
	case 0:
		return nil, fmt.Errorf("%w: no entity matches %q", ErrUnknownEntity, hint)
	case 1:
		for _, e := range matched {
			return e, nil
		}
	}
	names := make([]string, 0, len(matched))
	for n := range matched {
		names = append(names, n)
	}
	sort.Strings(names)
	return nil, fmt.Errorf("%w: %s", ErrAmbiguousEntity, strings.Join(names, ", "))
}

// Describe renders the schema the SQL planner writes queries against.
func (c *Catalog) Describe() string {
	var b strings.Builder
	for _, e := range c.entities {
		fmt.Fprintf(&b, "TABLE %s -- %s\n", e.Name, e.Description)
		for _, col := range e.SystemColumns {
			fmt.Fprintf(&b, "  %s (system)\n", col)
		}
		for _, f := range e.Fields {
			fmt.Fprintf(&b, "  %s %s", f.Name, sqlType(f.Type))
			if f.Required {
				b.WriteString(" NOT NULL")
			}
			if len(f.Enum) > 0 {
				fmt.Fprintf(&b, " IN (%s)", strings.Join(f.Enum, ", "))
			}
			if f.Description != "" {
				fmt.Fprintf(&b, " -- %s", f.Description)
			}
			b.WriteByte('\n')
		}
		for _, col := range e.GeneratedColumns {
			fmt.Fprintf(&b, "  %s (generated)\n", col)
		}
		b.WriteByte('\n')
	}
	return strings.TrimSpace(b.String())
}

func (e *Entity) Field(name string) (contractx.FieldSpec, bool) {
	for _, f := range e.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return contractx.FieldSpec{}, false
}

func (e *Entity) Required() []string {
	out := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		if f.Required {
			out = append(out, f.Name)
		}
	}
	return out
}

// Writable reports whether a column may be set by a write payload.
func (e *Entity) Writable(col string) bool {
	if contains(e.SystemColumns, col) || contains(e.GeneratedColumns, col) {
		return false
	}
	_, ok := e.Field(col)
	return ok
}

func sqlType(t contractx.FieldType) string {
	switch t {
	case contractx.FieldNumber:
		return "NUMERIC"
	case contractx.FieldInteger:
		return "INTEGER"
	case contractx.FieldBoolean:
		return "BOOLEAN"
	default:
		return "TEXT"
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func normalizeTerm(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
}
