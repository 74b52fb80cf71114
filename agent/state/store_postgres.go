package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
)

type conversationRow struct {
	bun.BaseModel `bun:"table:conversations"`

	ThreadID  string          `bun:"thread_id,pk"`
	Version   int64           `bun:"version,notnull"`
	Payload   json.RawMessage `bun:"payload,type:jsonb,notnull"`
	CreatedAt time.Time       `bun:"created_at,notnull"`
	UpdatedAt time.Time       `bun:"updated_at,notnull"`
}

// PostgresStore keeps conversation state next to the business tables.
type PostgresStore struct {
	db *bun.DB
}

func NewPostgresStore(db *bun.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, errors.New("nil bun db")
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Load(ctx context.Context, threadID string) (*ConversationState, error) {
	if strings.TrimSpace(threadID) == "" {
		return nil, ErrInvalidThread
	}
	var row conversationRow
	err := s.loadQuery(&row, threadID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation state: %w", err)
	}
	return decodeState(row.Payload)
}

func (s *PostgresStore) Save(ctx context.Context, st *ConversationState) error {
	if err := prepareForSave(st); err != nil {
		return err
	}
	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal conversation state: %w", err)
	}

	row := conversationRow{
		ThreadID:  st.ThreadID,
		Version:   st.Version,
		Payload:   payload,
		CreatedAt: st.CreatedAt,
		UpdatedAt: st.UpdatedAt,
	}
	res, err := s.saveQuery(&row).Exec(ctx)
	if err != nil {
		return fmt.Errorf("save conversation state: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: thread=%s version=%d", ErrStaleState, st.ThreadID, st.Version)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, threadID string) error {
	if strings.TrimSpace(threadID) == "" {
		return ErrInvalidThread
	}
	_, err := s.deleteQuery(threadID).Exec(ctx)
	return err
}

func (s *PostgresStore) loadQuery(row *conversationRow, threadID string) *bun.SelectQuery {
	return s.db.NewSelect().Model(row).Where("thread_id = ?", threadID).Limit(1)
}

// saveQuery upserts the row unless the stored version is newer.
func (s *PostgresStore) saveQuery(row *conversationRow) *bun.InsertQuery {
	return s.db.NewInsert().
		Model(row).
		On("CONFLICT (thread_id) DO UPDATE").
		Set("version = EXCLUDED.version").
		Set("payload = EXCLUDED.payload").
		Set("updated_at = EXCLUDED.updated_at").
		Where("?TableAlias.version <= EXCLUDED.version")
}

func (s *PostgresStore) deleteQuery(threadID string) *bun.DeleteQuery {
	return s.db.NewDelete().Model((*conversationRow)(nil)).Where("thread_id = ?", threadID)
}
