package datastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"

	contractx "github.com/MLAN1O/atlas/agent/contract"
)

// RecordStore is everything the capabilities need from the business database.
type RecordStore interface {
	Insert(ctx context.Context, table string, record map[string]any) (map[string]any, error)
	Update(ctx context.Context, table string, id any, updates map[string]any) (map[string]any, error)
	Delete(ctx context.Context, table string, id any) (map[string]any, error)
	FindSimilar(ctx context.Context, q SimilarQuery) ([]map[string]any, error)
	Query(ctx context.Context, statement string) ([]map[string]any, error)
}

type SimilarQuery struct {
	Table   string
	Columns []string
	Terms   []string
	OrderBy string
	Limit   int
}

// BunStore implements RecordStore. Table and column names come from the entity catalog.
type BunStore struct {
	db               *bun.DB
	rowLimit         int
	statementTimeout time.Duration
}

func NewBunStore(db *bun.DB, cfg Config) (*BunStore, error) {
	if db == nil {
		return nil, errors.New("nil bun db")
	}
	limit := cfg.QueryRowLimit
	if limit <= 0 {
		limit = 200
	}
	return &BunStore{db: db, rowLimit: limit, statementTimeout: cfg.StatementTimeout}, nil
}

func (s *BunStore) Insert(ctx context.Context, table string, record map[string]any) (map[string]any, error) {
	if len(record) == 0 {
		return nil, errors.New("empty record")
	}
	out := map[string]any{}
	if err := s.insertQuery(table, record).Scan(ctx, &out); err != nil {
		return nil, fmt.Errorf("insert into %s: %w", table, err)
	}
	return normalizeRow(out), nil
}

func (s *BunStore) Update(ctx context.Context, table string, id any, updates map[string]any) (map[string]any, error) {
	if len(updates) == 0 {
		return nil, errors.New("empty updates")
	}
	out := map[string]any{}
	err := s.updateQuery(table, id, updates).Scan(ctx, &out)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s id=%v", contractx.ErrRecordNotFound, table, id)
	}
	if err != nil {
		return nil, fmt.Errorf("update %s id=%v: %w", table, id, err)
	}
	return normalizeRow(out), nil
}

func (s *BunStore) Delete(ctx context.Context, table string, id any) (map[string]any, error) {
	out := map[string]any{}
	err := s.deleteQuery(table, id).Scan(ctx, &out)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s id=%v", contractx.ErrRecordNotFound, table, id)
	}
	if err != nil {
		return nil, fmt.Errorf("delete from %s id=%v: %w", table, id, err)
	}
	return normalizeRow(out), nil
}

// FindSimilar matches any term against any column with ILIKE, newest first.
func (s *BunStore) FindSimilar(ctx context.Context, q SimilarQuery) ([]map[string]any, error) {
	terms := make([]string, 0, len(q.Terms))
	for _, t := range q.Terms {
		if t = strings.TrimSpace(t); t != "" {
			terms = append(terms, t)
		}
	}
	if len(terms) == 0 || len(q.Columns) == 0 {
		return nil, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 1
	}

	var rows []map[string]any
	if err := s.similarQuery(q.Table, q.Columns, terms, q.OrderBy, limit).Scan(ctx, &rows); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("similarity search on %s: %w", q.Table, err)
	}
	for i := range rows {
		rows[i] = normalizeRow(rows[i])
	}
	return rows, nil
}

// Query runs one guarded SELECT inside a read-only transaction with a row cap.
func (s *BunStore) Query(ctx context.Context, statement string) ([]map[string]any, error) {
	stmt, err := GuardReadOnly(statement)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin read-only tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if s.statementTimeout > 0 {
		ms := s.statementTimeout.Milliseconds()
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", ms)); err != nil {
			return nil, fmt.Errorf("set statement timeout: %w", err)
		}
	}

	var rows []map[string]any
	if err := tx.NewRaw(limitedSelect(stmt), s.rowLimit).Scan(ctx, &rows); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run query: %w", err)
	}
	for i := range rows {
		rows[i] = normalizeRow(rows[i])
	}
	return rows, nil
}

func (s *BunStore) insertQuery(table string, record map[string]any) *bun.InsertQuery {
	values := record
	return s.db.NewInsert().
		Model(&values).
		TableExpr("?", bun.Ident(table)).
		Returning("*")
}

func (s *BunStore) updateQuery(table string, id any, updates map[string]any) *bun.UpdateQuery {
	values := updates
	return s.db.NewUpdate().
		Model(&values).
		TableExpr("?", bun.Ident(table)).
		Where("id = ?", id).
		Returning("*")
}

func (s *BunStore) deleteQuery(table string, id any) *bun.RawQuery {
	return s.db.NewRaw("DELETE FROM ? WHERE id = ? RETURNING *", bun.Ident(table), id)
}

// similarQuery ORs every column/term pair; terms are matched as substrings.
func (s *BunStore) similarQuery(table string, columns, terms []string, orderBy string, limit int) *bun.SelectQuery {
	sel := s.db.NewSelect().
		TableExpr("?", bun.Ident(table)).
		ColumnExpr("*").
		WhereGroup(" AND ", func(sq *bun.SelectQuery) *bun.SelectQuery {
			for _, col := range columns {
				for _, term := range terms {
					sq = sq.WhereOr("? ILIKE ?", bun.Ident(col), "%"+escapeLike(term)+"%")
				}
			}
			return sq
		}).
		Limit(limit)
	if orderBy != "" {
		sel = sel.OrderExpr("? DESC NULLS LAST", bun.Ident(orderBy))
	}
	return sel
}

func limitedSelect(stmt string) string {
	return "SELECT * FROM (" + stmt + ") AS q LIMIT ?"
}

func normalizeRow(row map[string]any) map[string]any {
	for k, v := range row {
		switch t := v.(type) {
		case []byte:
			row[k] = string(t)
		case time.Time:
			row[k] = t.UTC().Format(time.RFC3339)
		}
	}
	return row
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
