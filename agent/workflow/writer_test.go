package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	catalogx "github.com/MLAN1O/atlas/agent/catalog"
	contractx "github.com/MLAN1O/atlas/agent/contract"
)

type fakeRecordWriter struct {
	inserts []map[string]any
	updates int
	deletes int
	rows    map[int64]map[string]any
}

func (f *fakeRecordWriter) Insert(_ context.Context, table string, record map[string]any) (map[string]any, error) {
	f.inserts = append(f.inserts, record)
	row := map[string]any{"id": int64(len(f.inserts))}
	for k, v := range record {
		row[k] = v
	}
	return row, nil
}

func (f *fakeRecordWriter) Update(_ context.Context, table string, id any, updates map[string]any) (map[string]any, error) {
	f.updates++
	key, _ := id.(int64)
	row, ok := f.rows[key]
	if !ok {
		return nil, contractx.ErrRecordNotFound
	}
	for k, v := range updates {
		row[k] = v
	}
	return row, nil
}

func (f *fakeRecordWriter) Delete(_ context.Context, table string, id any) (map[string]any, error) {
	f.deletes++
	return nil, errors.New("connection reset")
}

func newTestWriter(t *testing.T, store RecordWriter, enrich Enricher) *Writer {
	t.Helper()
	c, err := catalogx.Default()
	require.NoError(t, err)
	w, err := NewWriter(c, store, enrich)
	require.NoError(t, err)
	return w
}

func TestWriterInsertWithEnrichmentOverride(t *testing.T) {
	t.Parallel()

	var gotHints []string
	enrich := func(_ context.Context, e *catalogx.Entity, hints []string) (map[string]any, error) {
		gotHints = hints
		return map[string]any{
			"id":              int64(9),
			"data":            "2024-11-02",
			"descricao":       "Ração",
			"categoria":       "Alimentação",
			"total":           300.0,
			"forma_pagamento": "Pix",
		}, nil
	}
	store := &fakeRecordWriter{}
	w := newTestWriter(t, store, enrich)

	out, err := w.Insert(context.Background(), InsertRequest{
		Record:      map[string]any{"descricao": "Ração", "total": 450.0},
		UserText:    "registre uma despesa de 450 com ração",
		CurrentDate: "2025-01-10",
	})
	require.NoError(t, err)
	require.Len(t, store.inserts, 1)

	assert.Equal(t, []string{"Ração"}, gotHints)
	assert.Equal(t, "custos", out.Table)
	assert.True(t, out.Enriched)
	assert.Equal(t, int64(1), out.RecordID)

	sent := store.inserts[0]
	assert.Equal(t, 450.0, sent["total"])
	assert.Equal(t, "Alimentação", sent["categoria"])
	assert.Equal(t, "Pix", sent["forma_pagamento"])
	assert.Equal(t, "2025-01-10", sent["data"])
	assert.NotContains(t, sent, "id")
	assert.Equal(t, ProvenanceUser, out.Provenance["total"])
}

func TestWriterInsertEnrichmentFailureIsBestEffort(t *testing.T) {
	t.Parallel()

	enrich := func(context.Context, *catalogx.Entity, []string) (map[string]any, error) {
		return nil, errors.New("search down")
	}
	store := &fakeRecordWriter{}
	w := newTestWriter(t, store, enrich)

	out, err := w.Insert(context.Background(), InsertRequest{
		Table:       "custos",
		Record:      map[string]any{"descricao": "Gasolina", "total": 80},
		CurrentDate: "2025-01-10",
	})
	require.NoError(t, err)
	assert.False(t, out.Enriched)
	require.Len(t, store.inserts, 1)
}

func TestWriterInsertValidationFailureSkipsStore(t *testing.T) {
	t.Parallel()

	store := &fakeRecordWriter{}
	w := newTestWriter(t, store, nil)

	_, err := w.Insert(context.Background(), InsertRequest{Table: "vendas", Record: map[string]any{"cliente": "Ana"}})
	require.ErrorIs(t, err, contractx.ErrValidation)
	assert.Empty(t, store.inserts)
}

func TestWriterUpdateMissingRecord(t *testing.T) {
	t.Parallel()

	store := &fakeRecordWriter{rows: map[int64]map[string]any{}}
	w := newTestWriter(t, store, nil)

	_, err := w.Update(context.Background(), "custos", int64(999), map[string]any{"total": 10})
	require.ErrorIs(t, err, contractx.ErrRecordNotFound)
	assert.Equal(t, 1, store.updates)
}

func TestWriterUpdateLeavesCallerMapUntouched(t *testing.T) {
	t.Parallel()

	store := &fakeRecordWriter{rows: map[int64]map[string]any{5: {"id": int64(5), "total": 10.0}}}
	w := newTestWriter(t, store, nil)

	updates := map[string]any{"total": "R$ 1.500,00"}
	out, err := w.Update(context.Background(), "custos", int64(5), updates)
	require.NoError(t, err)
	assert.Equal(t, 1500.0, out.Record["total"])
	assert.Equal(t, map[string]any{"total": "R$ 1.500,00"}, updates)
}

func TestWriterUpdateRequiresID(t *testing.T) {
	t.Parallel()

	store := &fakeRecordWriter{}
	w := newTestWriter(t, store, nil)

	_, err := w.Update(context.Background(), "custos", "", map[string]any{"total": 10})
	require.ErrorIs(t, err, contractx.ErrValidation)
	assert.Zero(t, store.updates)
}

func TestWriterDeleteWrapsStoreErrors(t *testing.T) {
	t.Parallel()

	store := &fakeRecordWriter{}
	w := newTestWriter(t, store, nil)

	_, err := w.Delete(context.Background(), "abates", int64(3))
	require.ErrorIs(t, err, contractx.ErrCapabilityExecution)
	assert.Equal(t, contractx.CodeCapabilityExecution, contractx.CodeOf(err))
}

func TestEnrichmentHintsFallBackToMessageWords(t *testing.T) {
	t.Parallel()

	custos := testEntity(t, "custos")
	got := enrichmentHints(custos, InsertRequest{UserText: "Registre uma despesa de 80 com gasolina"})
	assert.Equal(t, []string{"registre", "gasolina"}, got)

	got = enrichmentHints(custos, InsertRequest{Hints: []string{" ", "ração"}, UserText: "ignored"})
	assert.Equal(t, []string{"ração"}, got)
}
