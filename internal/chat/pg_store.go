package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgStore struct {
	pool pgxPool
}

func NewPgStore(pool pgxPool) *PgStore {
	return &PgStore{pool: pool}
}

const sessionColumns = `id, tenant_id, user_id, title, is_active, step, context_data, version, created_at, updated_at`

const messageColumns = `id, session_id, role, content, action, action_data, created_at`

const actionLogColumns = `id, session_id, message_id, user_id, raw_content, action, data, result, created_at`

func scanSession(row pgx.Row) (*Session, error) {
	var s Session
	var step string
	var ctxData []byte

	err := row.Scan(&s.ID, &s.TenantID, &s.UserID, &s.Title, &s.IsActive, &step, &ctxData, &s.Version, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	s.Step = Step(step)
	if len(ctxData) > 0 {
		if err := json.Unmarshal(ctxData, &s.Context); err != nil {
			return nil, fmt.Errorf("decode context_data: %w", err)
		}
	}
	return &s, nil
}

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	var role string
	var action *string
	var data []byte

	if err := row.Scan(&m.ID, &m.SessionID, &role, &m.Content, &action, &data, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.Role = Role(role)
	if action != nil {
		m.Action = Action(*action)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &m.ActionData); err != nil {
			return nil, fmt.Errorf("decode action_data: %w", err)
		}
	}
	return &m, nil
}

func scanActionLog(row pgx.Row) (*ActionLog, error) {
	var l ActionLog
	var action *string
	var data, result []byte

	if err := row.Scan(&l.ID, &l.SessionID, &l.MessageID, &l.UserID, &l.RawContent, &action, &data, &result, &l.CreatedAt); err != nil {
		return nil, err
	}
	if action != nil {
		l.Action = Action(*action)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &l.Data); err != nil {
			return nil, fmt.Errorf("decode data: %w", err)
		}
	}
	if len(result) > 0 {
		l.Result = json.RawMessage(result)
	}
	return &l, nil
}

func nullableAction(a Action) *string {
	if a == ActionNone {
		return nil
	}
	s := string(a)
	return &s
}

func encodeData(d Data) ([]byte, error) {
	if d == nil {
		return nil, nil
	}
	return json.Marshal(d)
}

func (r *PgStore) CreateSession(ctx context.Context, s Session) (*Session, error) {
	if s.Step == "" {
		s.Step = StepInitial
	}
	ctxData, err := json.Marshal(s.Context)
	if err != nil {
		return nil, err
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO chat_sessions (tenant_id, user_id, title, is_active, step, context_data)
		VALUES ($1, $2, $3, true, $4, $5)
		RETURNING `+sessionColumns,
		s.TenantID, s.UserID, s.Title, string(s.Step), ctxData,
	)
	return scanSession(row)
}

func (r *PgStore) GetSession(ctx context.Context, id int64) (*Session, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM chat_sessions WHERE id = $1`, id)
	return scanSession(row)
}

func (r *PgStore) ListSessions(ctx context.Context, tenantID, userID int64) ([]Session, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM chat_sessions
		WHERE tenant_id = $1 AND user_id = $2
		ORDER BY updated_at DESC, id DESC`,
		tenantID, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// SaveSession writes step and context only if nobody saved since s was read.
func (r *PgStore) SaveSession(ctx context.Context, s Session) (*Session, error) {
	ctxData, err := json.Marshal(s.Context)
	if err != nil {
		return nil, err
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE chat_sessions
		SET step = $2, context_data = $3, is_active = $4, version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $5
		RETURNING `+sessionColumns,
		s.ID, string(s.Step), ctxData, s.IsActive, s.Version,
	)
	saved, err := scanSession(row)
	if errors.Is(err, ErrSessionNotFound) {
		return nil, ErrSessionConflict
	}
	return saved, err
}

func (r *PgStore) AppendMessage(ctx context.Context, m Message) (*Message, error) {
	data, err := encodeData(m.ActionData)
	if err != nil {
		return nil, err
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO chat_messages (session_id, role, content, action, action_data)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+messageColumns,
		m.SessionID, string(m.Role), m.Content, nullableAction(m.Action), data,
	)
	return scanMessage(row)
}

// RecentMessages returns the last limit messages in chronological order.
func (r *PgStore) RecentMessages(ctx context.Context, sessionID int64, limit int) ([]Message, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+messageColumns+` FROM (
			SELECT `+messageColumns+`
			FROM chat_messages
			WHERE session_id = $1
			ORDER BY id DESC
			LIMIT $2
		) recent
		ORDER BY id`,
		sessionID, limit,
	)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

func (r *PgStore) ListMessages(ctx context.Context, sessionID int64) ([]Message, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+messageColumns+` FROM chat_messages WHERE session_id = $1 ORDER BY id`, sessionID)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

func collectMessages(rows pgx.Rows) ([]Message, error) {
	defer rows.Close()
	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (r *PgStore) AppendActionLog(ctx context.Context, l ActionLog) (*ActionLog, error) {
	data, err := encodeData(l.Data)
	if err != nil {
		return nil, err
	}
	var result []byte
	if len(l.Result) > 0 {
		result = l.Result
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO chat_action_logs (session_id, message_id, user_id, raw_content, action, data, result)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+actionLogColumns,
		l.SessionID, l.MessageID, l.UserID, l.RawContent, nullableAction(l.Action), data, result,
	)
	return scanActionLog(row)
}

func (r *PgStore) ListActionLogs(ctx context.Context, sessionID int64) ([]ActionLog, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+actionLogColumns+` FROM chat_action_logs WHERE session_id = $1 ORDER BY id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ActionLog
	for rows.Next() {
		l, err := scanActionLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}
