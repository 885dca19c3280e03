package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/medical-appointment-platform/internal/appointment"
	"github.com/hackgods/medical-appointment-platform/internal/booking"
	"github.com/hackgods/medical-appointment-platform/internal/directory"
	"github.com/hackgods/medical-appointment-platform/internal/metrics"
	"github.com/hackgods/medical-appointment-platform/internal/oracle"
	redisclient "github.com/hackgods/medical-appointment-platform/internal/redis"
)

type Directory interface {
	PatientByDocument(ctx context.Context, tenantID int64, document string) (*directory.Patient, error)
	Doctor(ctx context.Context, id int64) (*directory.Doctor, error)
	DoctorsForTenant(ctx context.Context, tenantID int64) ([]directory.Doctor, error)
}

// Availability previews and re-checks slots without claiming them.
type Availability interface {
	Preview(ctx context.Context, tenantID, doctorID int64, date *time.Time) ([]appointment.Slot, error)
	Check(ctx context.Context, tenantID, doctorID, slotID int64) (*appointment.Slot, error)
}

type Booker interface {
	Book(ctx context.Context, tenantID int64, req booking.BookRequest) (*appointment.Appointment, error)
}

type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

type EngineConfig struct {
	Store     SessionStore
	Directory Directory
	Slots     Availability
	Booker    Booker
	Oracle    oracle.Oracle
	Locker    Locker
	Logger    zerolog.Logger
	Metrics   *metrics.Metrics
}

// Engine advances chat sessions one message at a time. Messages for the
// same session are serialized through the Locker; the session version
// rejects writes that raced past it.
type Engine struct {
	store     SessionStore
	directory Directory
	slots     Availability
	booker    Booker
	oracle    oracle.Oracle
	locker    Locker
	logger    zerolog.Logger
	metrics   *metrics.Metrics
}

func NewEngine(cfg EngineConfig) *Engine {
	return &Engine{
		store:     cfg.Store,
		directory: cfg.Directory,
		slots:     cfg.Slots,
		booker:    cfg.Booker,
		oracle:    cfg.Oracle,
		locker:    cfg.Locker,
		logger:    cfg.Logger.With().Str("component", "chat").Logger(),
		metrics:   cfg.Metrics,
	}
}

// Turn is everything produced by handling one inbound message.
type Turn struct {
	Session          Session `json:"session"`
	UserMessage      Message `json:"user_message"`
	AssistantMessage Message `json:"assistant_message"`
	Result           Result  `json:"action_result"`
}

func (e *Engine) Start(ctx context.Context, actor Actor, title string) (*Session, error) {
	return e.store.CreateSession(ctx, Session{
		TenantID: actor.TenantID,
		UserID:   actor.UserID,
		Title:    strings.TrimSpace(title),
		IsActive: true,
		Step:     StepInitial,
	})
}

// Session returns a session owned by actor. Sessions of anyone else are
// reported as not found.
func (e *Engine) Session(ctx context.Context, actor Actor, id int64) (*Session, error) {
	s, err := e.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.TenantID != actor.TenantID || s.UserID != actor.UserID {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (e *Engine) Sessions(ctx context.Context, actor Actor) ([]Session, error) {
	return e.store.ListSessions(ctx, actor.TenantID, actor.UserID)
}

func (e *Engine) Messages(ctx context.Context, actor Actor, sessionID int64) ([]Message, error) {
	if _, err := e.Session(ctx, actor, sessionID); err != nil {
		return nil, err
	}
	return e.store.ListMessages(ctx, sessionID)
}

func (e *Engine) ActionLogs(ctx context.Context, actor Actor, sessionID int64) ([]ActionLog, error) {
	if _, err := e.Session(ctx, actor, sessionID); err != nil {
		return nil, err
	}
	return e.store.ListActionLogs(ctx, sessionID)
}

// Handle processes one user message. Failures of the model never fail the
// turn; they produce a reply and leave the session where it was.
func (e *Engine) Handle(ctx context.Context, actor Actor, sessionID int64, text string) (*Turn, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	var turn *Turn
	err := e.locker.WithLock(ctx, "chat-session:"+strconv.FormatInt(sessionID, 10), func(ctx context.Context) error {
		var err error
		turn, err = e.handle(ctx, actor, sessionID, text)
		return err
	})
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return nil, ErrSessionBusy
	}
	return turn, err
}

func (e *Engine) handle(ctx context.Context, actor Actor, sessionID int64, text string) (*Turn, error) {
	sess, err := e.Session(ctx, actor, sessionID)
	if err != nil {
		return nil, err
	}

	history, err := e.store.RecentMessages(ctx, sess.ID, historyWindow)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	userMsg, err := e.store.AppendMessage(ctx, Message{SessionID: sess.ID, Role: RoleUser, Content: text})
	if err != nil {
		return nil, fmt.Errorf("store user message: %w", err)
	}

	next := *sess
	reply, raw, err := e.interpret(ctx, actor, *sess, history, text)

	var result Result
	switch {
	case errors.Is(err, ErrOracleTimeout):
		e.logger.Warn().Err(err).Int64("session_id", sess.ID).Msg("assistant timed out")
		result = Result{Type: ResultError, Error: "oracle_timeout", Message: oracleUnavailableText}
	case errors.Is(err, ErrOracleUnavailable):
		e.logger.Warn().Err(err).Int64("session_id", sess.ID).Msg("assistant unavailable")
		result = Result{Type: ResultError, Error: "oracle_unavailable", Message: oracleUnavailableText}
	case errors.Is(err, ErrOracleParseFailure):
		e.logger.Info().Int64("session_id", sess.ID).Str("raw", raw).Msg("unparseable assistant reply")
		result = reprompt(sess.Step)
	case err != nil:
		return nil, err
	default:
		result = e.apply(ctx, actor, &next, reply)
	}

	if next.Step != sess.Step || !reflect.DeepEqual(next.Context, sess.Context) {
		saved, err := e.store.SaveSession(ctx, next)
		if err != nil {
			return nil, fmt.Errorf("save session %d: %w", sess.ID, err)
		}
		next = *saved
	}

	content := result.Message
	if !result.failed() {
		content = joinText(reply.Message, result.Message)
	}
	assistantMsg, err := e.store.AppendMessage(ctx, Message{
		SessionID:  sess.ID,
		Role:       RoleAssistant,
		Content:    content,
		Action:     reply.Action,
		ActionData: reply.Data,
	})
	if err != nil {
		return nil, fmt.Errorf("store assistant message: %w", err)
	}

	e.audit(ctx, actor, assistantMsg, raw, reply, result)
	e.metrics.ObserveChatTurn(string(sess.Step), string(reply.Action))

	e.logger.Debug().
		Int64("session_id", sess.ID).
		Str("from_step", string(sess.Step)).
		Str("to_step", string(next.Step)).
		Str("action", string(reply.Action)).
		Str("result", result.Type).
		Msg("chat turn handled")

	return &Turn{
		Session:          next,
		UserMessage:      *userMsg,
		AssistantMessage: *assistantMsg,
		Result:           result,
	}, nil
}

// interpret turns text into a Reply, via the fast path when possible.
func (e *Engine) interpret(ctx context.Context, actor Actor, sess Session, history []Message, text string) (Reply, string, error) {
	if r, ok := fastPath(sess.Step, text); ok {
		return r, text, nil
	}
	if e.oracle == nil {
		return Reply{}, "", ErrOracleUnavailable
	}

	raw, err := e.oracle.Generate(ctx, buildPrompt(sess.Step, actor.Role, history, text))
	if err != nil {
		if errors.Is(err, oracle.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return Reply{}, "", fmt.Errorf("%w: %v", ErrOracleTimeout, err)
		}
		return Reply{}, "", fmt.Errorf("%w: %v", ErrOracleUnavailable, err)
	}
	reply, err := ParseReply(raw)
	return reply, raw, err
}

func (e *Engine) audit(ctx context.Context, actor Actor, msg *Message, raw string, reply Reply, result Result) {
	encoded, err := json.Marshal(result)
	if err != nil {
		e.logger.Error().Err(err).Msg("encode chat result")
		encoded = nil
	}
	if raw == "" {
		raw = msg.Content
	}
	msgID := msg.ID
	_, err = e.store.AppendActionLog(ctx, ActionLog{
		SessionID:  msg.SessionID,
		MessageID:  &msgID,
		UserID:     actor.UserID,
		RawContent: raw,
		Action:     reply.Action,
		Data:       reply.Data,
		Result:     encoded,
	})
	if err != nil {
		e.logger.Warn().Err(err).Int64("session_id", msg.SessionID).Msg("failed to store chat action log")
	}
}
