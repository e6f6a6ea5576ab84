package api

import (
	"context"
	"net/http"
	"time"

	"gains-sandbox-go/internal/models"
	"gains-sandbox-go/internal/notify"
	"gains-sandbox-go/internal/session"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// messageOf converts a terminal session to its notification.
func messageOf(sess *models.Session) notify.Message {
	if summary := session.SummaryOf(sess); summary != nil {
		return notify.Ready(*summary)
	}
	return notify.Failed(sess.Error)
}

// sandboxWSHandler streams the terminal result of one session. The
// subscription is made before the status check, so a result published in
// between still reaches this connection.
func (s *Server) sandboxWSHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "sessionId is required"})
		return
	}
	if _, err := s.sessions.GetStatus(r.Context(), sessionID); err != nil {
		s.writeError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	logger := s.logger.With(zap.String("session_id", sessionID))

	ctx := r.Context()

	var updates <-chan notify.Message
	subCtx, cancel := context.WithTimeout(ctx, s.subscribeTimeout)
	sub, err := s.bus.Subscribe(subCtx, notify.Topic(sessionID))
	cancel()
	if err != nil {
		logger.Warn("Subscribe failed", zap.Error(err))
	} else {
		defer sub.Unsubscribe()
		updates = sub.C()
		logger.Debug("Subscribed", zap.String("topic", sub.Topic()))
	}

	disconnected := make(chan struct{})
	go readPump(conn, disconnected)

	sess, err := s.sessions.GetStatus(ctx, sessionID)
	if err != nil {
		logger.Error("Failed to load session status", zap.Error(err))
		closeWith(conn, websocket.CloseInternalServerErr, "status unavailable")
		return
	}
	if sess.Terminal() {
		deliver(conn, messageOf(sess), logger)
		return
	}
	if updates == nil {
		closeWith(conn, websocket.CloseTryAgainLater, "notifications unavailable, poll the status endpoint")
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-updates:
			if !ok {
				closeWith(conn, websocket.CloseGoingAway, "server shutting down")
				return
			}
			deliver(conn, msg, logger)
			return
		case <-disconnected:
			logger.Debug("WebSocket client disconnected")
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// deliver writes the single terminal message and closes normally.
func deliver(conn *websocket.Conn, msg notify.Message, logger *zap.Logger) {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(msg); err != nil {
		logger.Warn("Failed to write WebSocket message", zap.Error(err))
		return
	}
	closeWith(conn, websocket.CloseNormalClosure, "")
}

func closeWith(conn *websocket.Conn, code int, text string) {
	conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait))
}

// readPump reads until the client goes away; clients send nothing we use.
func readPump(conn *websocket.Conn, disconnected chan<- struct{}) {
	defer close(disconnected)
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
