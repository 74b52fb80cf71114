// Package capability is the closed set of operations the reasoning unit may request.
package capability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/xeipuuv/gojsonschema"

	contractx "github.com/MLAN1O/atlas/agent/contract"
)

const (
	NameQuery            = "query"
	NameInsert           = "insert"
	NameUpdate           = "update"
	NameDelete           = "delete"
	NameSimilaritySearch = "similarity_search"
	NameFormatReport     = "format_report"
	NameCalculate        = "calculate"
)

// Invocation is one request plus the turn context it runs in.
type Invocation struct {
	Request     contractx.CapabilityRequest
	ThreadID    string
	TurnID      string
	CurrentDate string
	UserText    string
}

func (inv Invocation) Args() map[string]any {
	if inv.Request.Args == nil {
		return map[string]any{}
	}
	return inv.Request.Args
}

type Capability interface {
	Info() contractx.CapabilityInfo
	Invoke(ctx context.Context, inv Invocation) contractx.CapabilityResult
}

type entry struct {
	capability Capability
	info       contractx.CapabilityInfo
	schema     *gojsonschema.Schema
}

// Registry is a fixed name -> capability map built once at startup.
type Registry struct {
	order   []string
	entries map[string]entry
}

func NewRegistry(caps ...Capability) (*Registry, error) {
	r := &Registry{entries: make(map[string]entry, len(caps))}
	for _, c := range caps {
		if c == nil {
			continue
		}
		info := c.Info()
		name := strings.TrimSpace(info.Name)
		if name == "" {
			return nil, errors.New("capability name is empty")
		}
		if _, dup := r.entries[name]; dup {
			return nil, fmt.Errorf("duplicate capability %q", name)
		}
		compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(JSONSchema(info.Fields)))
		if err != nil {
			return nil, fmt.Errorf("compile schema for %s: %w", name, err)
		}
		r.entries[name] = entry{capability: c, info: info, schema: compiled}
		r.order = append(r.order, name)
	}
	if len(r.entries) == 0 {
		return nil, errors.New("registry has no capabilities")
	}
	return r, nil
}

func (r *Registry) Lookup(name string) (contractx.CapabilityInfo, bool) {
	e, ok := r.entries[name]
	return e.info, ok
}

func (r *Registry) Infos() []contractx.CapabilityInfo {
	out := make([]contractx.CapabilityInfo, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].info)
	}
	return out
}

// Validate checks args against the capability's declared fields.
func (r *Registry) Validate(name string, args map[string]any) error {
	e, ok := r.entries[name]
	if !ok {
		return fmt.Errorf("%w: %q", contractx.ErrUnknownCapability, name)
	}
	if args == nil {
		args = map[string]any{}
	}
	res, err := e.schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", contractx.ErrInvalidArguments, name, err)
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, desc := range res.Errors() {
		msgs = append(msgs, desc.String())
	}
	sort.Strings(msgs)
	return fmt.Errorf("%w: %s: %s", contractx.ErrInvalidArguments, name, strings.Join(msgs, "; "))
}

// Invoke validates and runs one request. It never returns a result with a mismatched call id.
func (r *Registry) Invoke(ctx context.Context, inv Invocation) contractx.CapabilityResult {
	req := inv.Request
	e, ok := r.entries[req.Capability]
	if !ok {
		return contractx.Failed(req, fmt.Errorf("%w: %q", contractx.ErrUnknownCapability, req.Capability))
	}
	if err := r.Validate(req.Capability, req.Args); err != nil {
		return contractx.Failed(req, err)
	}

	res := e.capability.Invoke(ctx, inv)
	res.CallID = req.CallID
	res.Capability = req.Capability
	if !res.Success && res.Code == "" {
		res.Code = contractx.CodeCapabilityExecution
	}
	return res
}

// JSONSchema renders declared fields as a draft-07 object schema.
func JSONSchema(fields []contractx.FieldSpec) map[string]any {
	props := make(map[string]any, len(fields))
	required := make([]any, 0, len(fields))
	for _, f := range fields {
		prop := map[string]any{}
		switch f.Type {
		case contractx.FieldAny:
		case contractx.FieldID:
			prop["type"] = []any{"integer", "string"}
		case contractx.FieldArray:
			prop["type"] = "array"
			prop["items"] = map[string]any{"type": "string"}
		case "":
			prop["type"] = "string"
		default:
			prop["type"] = string(f.Type)
		}
		if f.Nullable {
			if t, ok := prop["type"].(string); ok {
				prop["type"] = []any{t, "null"}
			}
		}
		if len(f.Enum) > 0 {
			enum := make([]any, 0, len(f.Enum))
			for _, v := range f.Enum {
				enum = append(enum, v)
			}
			prop["enum"] = enum
		}
		if f.Description != "" {
			prop["description"] = f.Description
		}
		props[f.Name] = prop
		if f.Required {
			required = append(required, f.Name)
		}
	}

	out := map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		out["required"] = required
	}
	return out
}

// ToolInfos describes every capability to a tool-calling chat model.
func (r *Registry) ToolInfos() []*schema.ToolInfo {
	out := make([]*schema.ToolInfo, 0, len(r.order))
	for _, name := range r.order {
		info := r.entries[name].info
		params := make(map[string]*schema.ParameterInfo, len(info.Fields))
		for _, f := range info.Fields {
			params[f.Name] = &schema.ParameterInfo{
				Type:     toolDataType(f.Type),
				Desc:     toolDesc(f),
				Required: f.Required,
				Enum:     f.Enum,
				ElemInfo: elemInfo(f.Type),
			}
		}
		out = append(out, &schema.ToolInfo{
			Name:        info.Name,
			Desc:        info.Description,
			ParamsOneOf: schema.NewParamsOneOfByParams(params),
		})
	}
	return out
}

func toolDataType(t contractx.FieldType) schema.DataType {
	switch t {
	case contractx.FieldNumber:
		return schema.Number
	case contractx.FieldInteger:
		return schema.Integer
	case contractx.FieldBoolean:
		return schema.Boolean
	case contractx.FieldObject:
		return schema.Object
	case contractx.FieldArray:
		return schema.Array
	default:
		return schema.String
	}
}

func toolDesc(f contractx.FieldSpec) string {
	switch f.Type {
	case contractx.FieldID:
		return strings.TrimSpace(f.Description + " (numeric or string id)")
	case contractx.FieldAny:
		return strings.TrimSpace(f.Description + " (any JSON value)")
	}
	return f.Description
}

func elemInfo(t contractx.FieldType) *schema.ParameterInfo {
	if t != contractx.FieldArray {
		return nil
	}
	return &schema.ParameterInfo{Type: schema.String}
}

// execError marks a failure inside a capability body while keeping the cause comparable.
func execError(op string, err error) error {
	if errors.Is(err, contractx.ErrValidation) || errors.Is(err, contractx.ErrInvalidArguments) ||
		errors.Is(err, contractx.ErrRecordNotFound) || errors.Is(err, contractx.ErrCapabilityExecution) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", contractx.ErrCapabilityExecution, op, err)
}
