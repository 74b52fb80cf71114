package contract

import (
	"encoding/json"
	"time"

	statex "github.com/MLAN1O/atlas/agent/state"
)

type Intent string

const (
	IntentNone      Intent = ""
	IntentQuery     Intent = "QUERY"
	IntentInsert    Intent = "INSERT"
	IntentUpdate    Intent = "UPDATE"
	IntentDelete    Intent = "DELETE"
	IntentAmbiguous Intent = "AMBIGUOUS"
)

func (i Intent) IsWrite() bool {
	return i == IntentInsert || i == IntentUpdate || i == IntentDelete
}

type CapabilityRequest = statex.ActionRequest

type CapabilityKind string

const (
	KindRead   CapabilityKind = "read"
	KindWrite  CapabilityKind = "write"
	KindReport CapabilityKind = "report"
)

type FieldType string

const (
	FieldString  FieldType = "string"
	FieldNumber  FieldType = "number"
	FieldInteger FieldType = "integer"
	FieldBoolean FieldType = "boolean"
	FieldObject  FieldType = "object"
	FieldArray   FieldType = "array"
	// FieldID accepts either an integer or a string key.
	FieldID FieldType = "id"
	// FieldAny accepts any JSON value.
	FieldAny FieldType = "any"
)

type FieldSpec struct {
	Name        string    `json:"name" yaml:"name"`
	Type        FieldType `json:"type" yaml:"type"`
	Description string    `json:"description,omitempty" yaml:"description"`
	Required    bool      `json:"required,omitempty" yaml:"required"`
	Nullable    bool      `json:"nullable,omitempty" yaml:"nullable"`
	Enum        []string  `json:"enum,omitempty" yaml:"enum"`
}

// CapabilityInfo is what the reasoning unit sees about a capability.
type CapabilityInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Kind        CapabilityKind `json:"kind"`
	Intent      Intent         `json:"intent,omitempty"`
	Fields      []FieldSpec    `json:"fields,omitempty"`
}

type CapabilityResult struct {
	CallID     string    `json:"call_id"`
	Capability string    `json:"capability"`
	Success    bool      `json:"success"`
	Payload    any       `json:"payload,omitempty"`
	Code       ErrorCode `json:"error_code,omitempty"`
	Error      string    `json:"error,omitempty"`
}

func Succeeded(req CapabilityRequest, payload any) CapabilityResult {
	return CapabilityResult{
		CallID:     req.CallID,
		Capability: req.Capability,
		Success:    true,
		Payload:    payload,
	}
}

func Failed(req CapabilityRequest, err error) CapabilityResult {
	res := CapabilityResult{
		CallID:     req.CallID,
		Capability: req.Capability,
		Code:       CodeOf(err),
	}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}

// FailedWithPayload keeps structured details (e.g. missing fields) next to the error.
func FailedWithPayload(req CapabilityRequest, err error, payload any) CapabilityResult {
	res := Failed(req, err)
	res.Payload = payload
	return res
}

// Observation renders the result as the tool message content the reasoning unit reads back.
func (r CapabilityResult) Observation() string {
	view := struct {
		Success bool      `json:"success"`
		Payload any       `json:"payload,omitempty"`
		Code    ErrorCode `json:"error_code,omitempty"`
		Error   string    `json:"error,omitempty"`
	}{r.Success, r.Payload, r.Code, r.Error}

	raw, err := json.Marshal(view)
	if err != nil {
		return `{"success":false,"error_code":"CAPABILITY_EXECUTION_ERROR","error":"unencodable payload"}`
	}
	return string(raw)
}

// Decision is either a final answer or a batch of capability requests.
type Decision struct {
	Final   string              `json:"final,omitempty"`
	Actions []CapabilityRequest `json:"actions,omitempty"`
}

func (d Decision) IsFinal() bool {
	return len(d.Actions) == 0
}

type ReasonRequest struct {
	State        *statex.ConversationState `json:"state"`
	Capabilities []CapabilityInfo          `json:"capabilities"`
}

type SQLPlanRequest struct {
	Question    string `json:"question"`
	Schema      string `json:"schema"`
	CurrentDate string `json:"current_date"`
}

type SQLPlan struct {
	SQL         string `json:"sql"`
	Explanation string `json:"explanation,omitempty"`
}

type ReportRequest struct {
	UserIntent      string `json:"user_intent"`
	OperationResult any    `json:"operation_result"`
	CurrentDate     string `json:"current_date,omitempty"`
}

type TurnInput struct {
	ThreadID    string `json:"thread_id"`
	UserText    string `json:"user_text"`
	CurrentDate string `json:"current_date,omitempty"`
}

type TurnOutput struct {
	ThreadID string    `json:"thread_id"`
	TurnID   string    `json:"turn_id,omitempty"`
	Answer   string    `json:"answer"`
	Intent   Intent    `json:"intent,omitempty"`
	Cycles   int       `json:"cycles"`
	Code     ErrorCode `json:"error_code,omitempty"`
}

type WriteEvent struct {
	ThreadID   string    `json:"thread_id"`
	TurnID     string    `json:"turn_id"`
	Capability string    `json:"capability"`
	Table      string    `json:"table,omitempty"`
	RecordID   any       `json:"record_id,omitempty"`
	Success    bool      `json:"success"`
	Code       ErrorCode `json:"error_code,omitempty"`
	At         time.Time `json:"at"`
}
