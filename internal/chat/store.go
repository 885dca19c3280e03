package chat

import (
	"context"
	"sort"
	"sync"
	"time"
)

// SessionStore persists sessions, their transcript and the action audit.
// SaveSession succeeds only when s.Version matches the stored version.
type SessionStore interface {
	CreateSession(ctx context.Context, s Session) (*Session, error)
	GetSession(ctx context.Context, id int64) (*Session, error)
	ListSessions(ctx context.Context, tenantID, userID int64) ([]Session, error)
	SaveSession(ctx context.Context, s Session) (*Session, error)

	AppendMessage(ctx context.Context, m Message) (*Message, error)
	RecentMessages(ctx context.Context, sessionID int64, limit int) ([]Message, error)
	ListMessages(ctx context.Context, sessionID int64) ([]Message, error)

	AppendActionLog(ctx context.Context, l ActionLog) (*ActionLog, error)
	ListActionLogs(ctx context.Context, sessionID int64) ([]ActionLog, error)
}

// MemoryStore keeps sessions in process.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[int64]Session
	messages []Message
	logs     []ActionLog
	nextID   int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[int64]Session)}
}

func (m *MemoryStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *MemoryStore) CreateSession(_ context.Context, s Session) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	s.ID = m.id()
	s.Version = 0
	s.CreatedAt, s.UpdatedAt = now, now
	if s.Step == "" {
		s.Step = StepInitial
	}
	m.sessions[s.ID] = s
	return &s, nil
}

func (m *MemoryStore) GetSession(_ context.Context, id int64) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return &s, nil
}

func (m *MemoryStore) ListSessions(_ context.Context, tenantID, userID int64) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Session
	for _, s := range m.sessions {
		if s.TenantID == tenantID && s.UserID == userID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *MemoryStore) SaveSession(_ context.Context, s Session) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.sessions[s.ID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if cur.Version != s.Version {
		return nil, ErrSessionConflict
	}
	s.Version++
	s.UpdatedAt = time.Now().UTC()
	m.sessions[s.ID] = s
	return &s, nil
}

func (m *MemoryStore) AppendMessage(_ context.Context, msg Message) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg.ID = m.id()
	msg.CreatedAt = time.Now().UTC()
	m.messages = append(m.messages, msg)
	return &msg, nil
}

func (m *MemoryStore) RecentMessages(ctx context.Context, sessionID int64, limit int) ([]Message, error) {
	all, _ := m.ListMessages(ctx, sessionID)
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

func (m *MemoryStore) ListMessages(_ context.Context, sessionID int64) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Message
	for _, msg := range m.messages {
		if msg.SessionID == sessionID {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *MemoryStore) AppendActionLog(_ context.Context, l ActionLog) (*ActionLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l.ID = m.id()
	l.CreatedAt = time.Now().UTC()
	m.logs = append(m.logs, l)
	return &l, nil
}

func (m *MemoryStore) ListActionLogs(_ context.Context, sessionID int64) ([]ActionLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []ActionLog
	for _, l := range m.logs {
		if l.SessionID == sessionID {
			out = append(out, l)
		}
	}
	return out, nil
}
