package capability

import (
	"context"
	"errors"
	"strings"

	contractx "github.com/MLAN1O/atlas/agent/contract"
	workflowx "github.com/MLAN1O/atlas/agent/workflow"
)

func writeFailure(req contractx.CapabilityRequest, op string, err error, out workflowx.Outcome) contractx.CapabilityResult {
	var verr *workflowx.ValidationError
	if errors.As(err, &verr) {
		return contractx.FailedWithPayload(req, err, verr)
	}
	return contractx.FailedWithPayload(req, execError(op, err), out)
}

func tableDesc(tables []string) string {
	return "Target table: " + strings.Join(tables, ", ") + " (a business term such as despesa or venda is also accepted)"
}

// Insert creates one record through the enrichment/consolidation workflow.
type Insert struct {
	writer *workflowx.Writer
}

func NewInsert(writer *workflowx.Writer) *Insert {
	return &Insert{writer: writer}
}

func (c *Insert) Info() contractx.CapabilityInfo {
	return contractx.CapabilityInfo{
		Name: NameInsert,
		Description: "Register one new record. Pass only the fields the user stated; missing fields are filled " +
			"from the most similar past record and the date defaults to today.",
		Kind:   contractx.KindWrite,
		Intent: contractx.IntentInsert,
		Fields: []contractx.FieldSpec{
			{Name: "table", Type: contractx.FieldString, Description: tableDesc(c.writer.Catalog().Names())},
			{Name: "record", Type: contractx.FieldObject, Required: true, Description: "Field values stated by the user"},
			{Name: "hints", Type: contractx.FieldArray, Description: "Search terms used to find a similar past record"},
		},
	}
}

func (c *Insert) Invoke(ctx context.Context, inv Invocation) contractx.CapabilityResult {
	args := inv.Args()
	out, err := c.writer.Insert(ctx, workflowx.InsertRequest{
		Table:       stringArg(args, "table"),
		Record:      mapArg(args, "record"),
		Hints:       stringsArg(args, "hints"),
		UserText:    inv.UserText,
		CurrentDate: inv.CurrentDate,
	})
	if err != nil {
		return writeFailure(inv.Request, "insert", err, out)
	}
	return contractx.Succeeded(inv.Request, out)
}

type Update struct {
	writer *workflowx.Writer
}

func NewUpdate(writer *workflowx.Writer) *Update {
	return &Update{writer: writer}
}

func (c *Update) Info() contractx.CapabilityInfo {
	return contractx.CapabilityInfo{
		Name:        NameUpdate,
		Description: "Change fields of one existing record identified by record_id.",
		Kind:        contractx.KindWrite,
		Intent:      contractx.IntentUpdate,
		Fields: []contractx.FieldSpec{
			{Name: "table", Type: contractx.FieldString, Required: true, Description: tableDesc(c.writer.Catalog().Names())},
			{Name: "record_id", Type: contractx.FieldID, Required: true, Description: "Id of the record to change"},
			{Name: "updates", Type: contractx.FieldObject, Required: true, Description: "Fields to change and their new values"},
		},
	}
}

func (c *Update) Invoke(ctx context.Context, inv Invocation) contractx.CapabilityResult {
	args := inv.Args()
	out, err := c.writer.Update(ctx, stringArg(args, "table"), idArg(args, "record_id"), mapArg(args, "updates"))
	if err != nil {
		return writeFailure(inv.Request, "update", err, out)
	}
	return contractx.Succeeded(inv.Request, out)
}

type Delete struct {
	writer *workflowx.Writer
}

func NewDelete(writer *workflowx.Writer) *Delete {
	return &Delete{writer: writer}
}

func (c *Delete) Info() contractx.CapabilityInfo {
	return contractx.CapabilityInfo{
		Name:        NameDelete,
		Description: "Remove one existing record identified by record_id.",
		Kind:        contractx.KindWrite,
		Intent:      contractx.IntentDelete,
		Fields: []contractx.FieldSpec{
			{Name: "table", Type: contractx.FieldString, Required: true, Description: tableDesc(c.writer.Catalog().Names())},
			{Name: "record_id", Type: contractx.FieldID, Required: true, Description: "Id of the record to remove"},
		},
	}
}

func (c *Delete) Invoke(ctx context.Context, inv Invocation) contractx.CapabilityResult {
	args := inv.Args()
	out, err := c.writer.Delete(ctx, stringArg(args, "table"), idArg(args, "record_id"))
	if err != nil {
		return writeFailure(inv.Request, "delete", err, out)
	}
	return contractx.Succeeded(inv.Request, out)
}
