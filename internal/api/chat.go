package api

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/hackgods/medical-appointment-platform/internal/chat"
)

type ChatEngine interface {
	Start(ctx context.Context, actor chat.Actor, title string) (*chat.Session, error)
	Session(ctx context.Context, actor chat.Actor, id int64) (*chat.Session, error)
	Sessions(ctx context.Context, actor chat.Actor) ([]chat.Session, error)
	Messages(ctx context.Context, actor chat.Actor, sessionID int64) ([]chat.Message, error)
	ActionLogs(ctx context.Context, actor chat.Actor, sessionID int64) ([]chat.ActionLog, error)
	Handle(ctx context.Context, actor chat.Actor, sessionID int64, text string) (*chat.Turn, error)
}

func actorOf(id Identity) chat.Actor {
	return chat.Actor{TenantID: id.TenantID, UserID: id.UserID, Role: id.Role}
}

func createSessionHandler(engine ChatEngine, logger zerolog.Logger) http.HandlerFunc {
	return identified(func(w http.ResponseWriter, r *http.Request, id Identity) {
		var req CreateSessionRequest
		if r.ContentLength != 0 {
			if err := decodeJSON(r, &req); err != nil {
				writeDomainError(w, logger, err)
				return
			}
		}
		sess, err := engine.Start(r.Context(), actorOf(id), req.Title)
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, sess)
	})
}

func listSessionsHandler(engine ChatEngine, logger zerolog.Logger) http.HandlerFunc {
	return identified(func(w http.ResponseWriter, r *http.Request, id Identity) {
		sessions, err := engine.Sessions(r.Context(), actorOf(id))
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		if sessions == nil {
			sessions = []chat.Session{}
		}
		writeJSON(w, http.StatusOK, sessions)
	})
}

func getSessionHandler(engine ChatEngine, logger zerolog.Logger) http.HandlerFunc {
	return identified(func(w http.ResponseWriter, r *http.Request, id Identity) {
		sessionID, err := idParam(r, "id")
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		sess, err := engine.Session(r.Context(), actorOf(id), sessionID)
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, sess)
	})
}

func sendMessageHandler(engine ChatEngine, logger zerolog.Logger) http.HandlerFunc {
	return identified(func(w http.ResponseWriter, r *http.Request, id Identity) {
		sessionID, err := idParam(r, "id")
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		var req SendMessageRequest
		if err := decodeJSON(r, &req); err != nil {
			writeDomainError(w, logger, err)
			return
		}
		turn, err := engine.Handle(r.Context(), actorOf(id), sessionID, req.Message)
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, turn)
	})
}

func listMessagesHandler(engine ChatEngine, logger zerolog.Logger) http.HandlerFunc {
	return identified(func(w http.ResponseWriter, r *http.Request, id Identity) {
		sessionID, err := idParam(r, "id")
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		msgs, err := engine.Messages(r.Context(), actorOf(id), sessionID)
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		if msgs == nil {
			msgs = []chat.Message{}
		}
		writeJSON(w, http.StatusOK, msgs)
	})
}

func listActionLogsHandler(engine ChatEngine, logger zerolog.Logger) http.HandlerFunc {
	return identified(func(w http.ResponseWriter, r *http.Request, id Identity) {
		sessionID, err := idParam(r, "id")
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		logs, err := engine.ActionLogs(r.Context(), actorOf(id), sessionID)
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		if logs == nil {
			logs = []chat.ActionLog{}
		}
		writeJSON(w, http.StatusOK, logs)
	})
}
