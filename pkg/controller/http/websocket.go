package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mentionist/pkg/domain/model"
	"github.com/secmon-lab/mentionist/pkg/service/usercache"
	"github.com/secmon-lab/mentionist/pkg/utils/errutil"
	"github.com/secmon-lab/mentionist/pkg/utils/logging"
)

const (
	wsWriteTimeout = 10 * time.Second

	// eventBufferSize is the number of cache events queued per subscriber before events are dropped
	eventBufferSize = 256
)

const (
	streamTypeSubscribed = "subscribed"
	streamTypeState      = "state"
)

type streamMessage struct {
	Type        string           `json:"type"`
	WorkspaceID string           `json:"workspace_id"`
	Key         string           `json:"key,omitempty"`
	State       model.CacheState `json:"state,omitempty"`
	User        *userResponse    `json:"user,omitempty"`
}

func (s *Server) accept(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.originPatterns,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "websocket upgrade failed")
	}
	return conn, nil
}

func writeMessage(ctx context.Context, conn *websocket.Conn, v any) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, v)
}

// isNormalClose reports whether err is an ordinary end of a websocket session
func isNormalClose(err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return errors.Is(err, context.Canceled)
}

// eventsHandler streams cache state transitions of a workspace.
// The first message confirms the subscription.
func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspaceID")
	logger := logging.From(r.Context())

	events := make(chan usercache.Event, eventBufferSize)
	unsubscribe, err := s.mention.SubscribeEvents(workspaceID, func(ev usercache.Event) {
		select {
		case events <- ev:
		default:
			logger.Warn("event stream is full, dropping event",
				"workspace_id", workspaceID,
				"key", ev.Key)
		}
	})
	if err != nil {
		errutil.HandleHTTP(r.Context(), w, err, statusOf(err))
		return
	}
	defer unsubscribe()

	conn, err := s.accept(w, r)
	if err != nil {
		logger.Warn("failed to accept websocket", "error", err)
		return
	}
	defer func() { _ = conn.CloseNow() }()

	// The client never sends; CloseRead cancels ctx once it disconnects
	ctx := conn.CloseRead(r.Context())

	if err := writeMessage(ctx, conn, streamMessage{Type: streamTypeSubscribed, WorkspaceID: workspaceID}); err != nil {
		return
	}

	for {
		select {
		case ev := <-events:
			msg := streamMessage{
				Type:        streamTypeState,
				WorkspaceID: workspaceID,
				Key:         string(ev.Key),
				State:       ev.State,
				User:        toUserResponse(ev.User),
			}
			if err := writeMessage(ctx, conn, msg); err != nil {
				if !isNormalClose(err) {
					logger.Warn("failed to write event", "error", err)
				}
				return
			}

		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return
		}
	}
}

// annotateStreamHandler reads one annotate request from the socket and streams
// re-annotations of the message until every mention is settled.
func (s *Server) annotateStreamHandler(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspaceID")
	logger := logging.From(r.Context())

	conn, err := s.accept(w, r)
	if err != nil {
		logger.Warn("failed to accept websocket", "error", err)
		return
	}
	defer func() { _ = conn.CloseNow() }()
	conn.SetReadLimit(s.maxBodySize)

	var req annotateRequest
	if err := wsjson.Read(r.Context(), conn, &req); err != nil {
		if !isNormalClose(err) {
			logger.Warn("failed to read annotate request", "error", err)
		}
		_ = conn.Close(websocket.StatusInvalidFramePayloadData, "invalid request")
		return
	}

	ctx := conn.CloseRead(r.Context())

	ch, err := s.mention.WatchMessage(ctx, workspaceID, req.Text)
	if err != nil {
		logger.Warn("failed to watch message", "workspace_id", workspaceID, "error", err)
		_ = conn.Close(websocket.StatusPolicyViolation, truncateReason(err.Error()))
		return
	}

	for msg := range ch {
		if err := writeMessage(ctx, conn, msg); err != nil {
			if !isNormalClose(err) {
				logger.Warn("failed to write annotation", "error", err)
			}
			// drain so the watcher can exit
			for range ch {
			}
			return
		}
	}

	_ = conn.Close(websocket.StatusNormalClosure, "settled")
}

// truncateReason keeps a close reason within the 123 bytes a close frame allows
func truncateReason(reason string) string {
	const maxReason = 123
	if len(reason) > maxReason {
		return reason[:maxReason]
	}
	return reason
}
