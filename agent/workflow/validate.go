package workflow

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	catalogx "github.com/MLAN1O/atlas/agent/catalog"
	contractx "github.com/MLAN1O/atlas/agent/contract"
)

// ValidationError lists every problem found in a payload.
type ValidationError struct {
	Table   string            `json:"table"`
	Missing []string          `json:"missing,omitempty"`
	Unknown []string          `json:"unknown,omitempty"`
	Invalid map[string]string `json:"invalid,omitempty"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, 3)
	if len(e.Missing) > 0 {
		parts = append(parts, "missing "+strings.Join(e.Missing, ", "))
	}
	if len(e.Unknown) > 0 {
		parts = append(parts, "unknown "+strings.Join(e.Unknown, ", "))
	}
	if len(e.Invalid) > 0 {
		keys := make([]string, 0, len(e.Invalid))
		for k := range e.Invalid {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		bad := make([]string, 0, len(keys))
		for _, k := range keys {
			bad = append(bad, k+" ("+e.Invalid[k]+")")
		}
		parts = append(parts, "invalid "+strings.Join(bad, ", "))
	}
	return fmt.Sprintf("%s: %s: %s", contractx.ErrValidation, e.Table, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error {
	return contractx.ErrValidation
}

func (e *ValidationError) empty() bool {
	return len(e.Missing) == 0 && len(e.Unknown) == 0 && len(e.Invalid) == 0
}

func (e *ValidationError) invalid(field, reason string) {
	if e.Invalid == nil {
		e.Invalid = map[string]string{}
	}
	e.Invalid[field] = reason
}

// ValidateDraft normalizes the draft in place and checks it against the entity for an insert.
func ValidateDraft(entity *catalogx.Entity, d *RecordDraft) error {
	verr := &ValidationError{Table: entity.Name}
	normalizeFields(entity, d.Fields, verr)

	for _, name := range entity.Required() {
		if v, ok := d.Fields[name]; !ok || v == nil {
			verr.Missing = append(verr.Missing, name)
		}
	}
	if verr.empty() {
		return nil
	}
	sort.Strings(verr.Missing)
	return verr
}

// ValidateUpdates normalizes a partial update in place. Required fields may not be cleared.
func ValidateUpdates(entity *catalogx.Entity, updates map[string]any) error {
	verr := &ValidationError{Table: entity.Name}
	if len(updates) == 0 {
		verr.Missing = []string{"updates"}
		return verr
	}
	normalizeFields(entity, updates, verr)
	for name, v := range updates {
		if f, ok := entity.Field(name); ok && f.Required && v == nil {
			verr.invalid(name, "required field cannot be null")
		}
	}
	if verr.empty() {
		return nil
	}
	return verr
}

func normalizeFields(entity *catalogx.Entity, fields map[string]any, verr *ValidationError) {
	for name, raw := range fields {
		if !entity.Writable(name) {
			verr.Unknown = append(verr.Unknown, name)
			continue
		}
		spec, _ := entity.Field(name)
		if raw == nil {
			if !spec.Nullable && !spec.Required {
				verr.invalid(name, "null not allowed")
			}
			continue
		}
		v, err := normalizeValue(spec, raw, name == entity.DateField)
		if err != nil {
			verr.invalid(name, err.Error())
			continue
		}
		fields[name] = v
	}
	sort.Strings(verr.Unknown)
}

var dateLayouts = []string{"2006-01-02", "02/01/2006", "2/1/2006", "02-01-2006", time.RFC3339}

func normalizeValue(spec contractx.FieldSpec, raw any, isDate bool) (any, error) {
	switch spec.Type {
	case contractx.FieldNumber:
		return toFloat(raw)
	case contractx.FieldInteger:
		f, err := toFloat(raw)
		if err != nil {
			return nil, err
		}
		if f != math.Trunc(f) {
			return nil, fmt.Errorf("expected integer, got %v", f)
		}
		return int64(f), nil
	case contractx.FieldBoolean:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("expected boolean, got %q", v)
			}
			return b, nil
		}
		return nil, fmt.Errorf("expected boolean, got %T", raw)
	case contractx.FieldString, "":
		s, err := toString(raw)
		if err != nil {
			return nil, err
		}
		if isDate {
			return normalizeDate(s)
		}
		if len(spec.Enum) > 0 {
			return matchEnum(spec.Enum, s)
		}
		return s, nil
	default:
		return raw, nil
	}
}

func toFloat(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	case []byte:
		return toFloat(string(v))
	case string:
		s := strings.TrimSpace(v)
		s = strings.TrimPrefix(strings.TrimPrefix(s, "R$"), " ")
		if strings.Contains(s, ",") {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.ReplaceAll(s, ",", ".")
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, fmt.Errorf("expected number, got %q", v)
		}
		return f, nil
	}
	return 0, fmt.Errorf("expected number, got %T", raw)
}

func toString(raw any) (string, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case time.Time:
		return v.Format("2006-01-02"), nil
	case fmt.Stringer:
		return v.String(), nil
	case float64, int, int64, json.Number:
		return fmt.Sprint(v), nil
	}
	return "", fmt.Errorf("expected string, got %T", raw)
}

func normalizeDate(s string) (string, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), nil
		}
	}
	return "", fmt.Errorf("expected date YYYY-MM-DD, got %q", s)
}

func matchEnum(enum []string, s string) (string, error) {
	trimmed := strings.TrimSpace(s)
	for _, v := range enum {
		if strings.EqualFold(v, trimmed) {
			return v, nil
		}
	}
	return "", fmt.Errorf("must be one of %s", strings.Join(enum, ", "))
}
