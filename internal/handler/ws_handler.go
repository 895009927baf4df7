package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/acadexa/assessment-backend/internal/eventbus"
	"github.com/acadexa/assessment-backend/internal/middleware"
	"github.com/acadexa/assessment-backend/internal/service"
	ws "github.com/acadexa/assessment-backend/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowedOrigins slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler bridges exam session events onto WebSocket connections.
type WSHandler struct {
	sessions *service.SessionService
	bus      *eventbus.Bus
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(sessions *service.SessionService, bus *eventbus.Bus, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		sessions: sessions,
		bus:      bus,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// SessionStream godoc
// WS /ws/exam/:token?auth=<jwt>
// Streams session lifecycle events for one rolling token. The connection
// dies with its token: rotation, completion, and expiry all close it.
func (h *WSHandler) SessionStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	sessionToken := c.Param("token")

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	ctx := c.Request.Context()

	sess, cause, err := h.sessions.CheckToken(ctx, sessionToken, claims.UserID)
	if err != nil {
		h.rejectConn(conn, cause)
		return
	}

	wsLog := h.log.With().
		Int("student_id", claims.UserID).
		Str("session_id", sess.ID.String()).
		Logger()

	sub := h.bus.Subscribe(ctx, sessionToken)
	defer sub.Close()

	progress, err := h.sessions.GetProgress(ctx, sess)
	if err != nil {
		wsLog.Error().Err(err).Msg("load progress")
		ws.CloseWithCode(conn, websocket.CloseInternalServerErr, "internal error")
		return
	}

	if err := ws.WriteTyped(conn, ws.ConnectedMessage{
		Type:                 ws.TypeConnected,
		TimeRemainingSeconds: progress.TimeRemainingSeconds,
		AnsweredCount:        progress.Answered,
		TotalQuestions:       progress.Total,
	}); err != nil {
		conn.Close()
		return
	}

	wsLog.Info().Msg("client connected")

	// Reader pump: pings come in on their own goroutine so the main loop
	// can select between client traffic and bus events. done unblocks a
	// pending ping handoff once the main loop is gone.
	pings := make(chan struct{})
	readerDone := make(chan struct{})
	done := make(chan struct{})
	defer close(done)
	go func() {
		defer close(readerDone)
		for {
			var msg ws.ClientMessage
			if err := ws.ReadJSON(conn, &msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					wsLog.Warn().Err(err).Msg("unexpected close")
				}
				return
			}
			if msg.Type == ws.TypePing {
				select {
				case pings <- struct{}{}:
				case <-done:
					return
				}
			}
		}
	}()

	for {
		select {
		case <-readerDone:
			conn.Close()
			return

		case <-pings:
			sess, cause, err := h.sessions.CheckToken(ctx, sessionToken, claims.UserID)
			if err != nil {
				h.rejectConn(conn, cause)
				return
			}
			progress, err := h.sessions.GetProgress(ctx, sess)
			if err != nil {
				wsLog.Error().Err(err).Msg("load progress")
				ws.CloseWithCode(conn, websocket.CloseInternalServerErr, "internal error")
				return
			}
			if err := ws.WriteTyped(conn, ws.PongMessage{
				Type:                 ws.TypePong,
				TimeRemainingSeconds: progress.TimeRemainingSeconds,
				AnsweredCount:        progress.Answered,
			}); err != nil {
				conn.Close()
				return
			}

		case ev, ok := <-sub.Events():
			if !ok {
				conn.Close()
				return
			}
			if err := ws.WriteTyped(conn, ws.TerminalMessage{
				Type:           ev.Type,
				Reason:         ev.Reason,
				Message:        ev.Message,
				GradeHistoryID: ev.GradeHistoryID,
			}); err != nil {
				conn.Close()
				return
			}
			switch ev.Type {
			case eventbus.EventSessionExpired:
				ws.CloseWithCode(conn, ws.CloseInvalidToken, ev.Reason)
			default:
				ws.CloseWithCode(conn, websocket.CloseNormalClosure, ev.Reason)
			}
			wsLog.Info().Str("event", ev.Type).Msg("terminal event delivered")
			return
		}
	}
}

// rejectConn delivers the one terminal message a failed validation gets,
// then closes with the mapped code.
func (h *WSHandler) rejectConn(conn *websocket.Conn, cause service.TokenCause) {
	var msg ws.TerminalMessage
	code := ws.CloseInvalidToken

	switch cause {
	case service.CauseSessionCompleted:
		msg = ws.TerminalMessage{
			Type:    ws.TypeSessionCompleted,
			Reason:  eventbus.ReasonSessionCompleted,
			Message: "This exam session has already been completed.",
		}
	case service.CauseTokenExpired:
		msg = ws.TerminalMessage{
			Type:    ws.TypeSessionExpired,
			Reason:  eventbus.ReasonTokenExpired,
			Message: "This exam session has expired.",
		}
	case service.CauseOwnership:
		msg = ws.TerminalMessage{
			Type:    ws.TypeSessionExpired,
			Reason:  eventbus.ReasonInvalidToken,
			Message: "This session token does not belong to you.",
		}
		code = ws.CloseAuthFailure
	default:
		msg = ws.TerminalMessage{
			Type:    ws.TypeSessionExpired,
			Reason:  eventbus.ReasonInvalidToken,
			Message: "The session token is invalid.",
		}
	}

	_ = ws.WriteTyped(conn, msg)
	ws.CloseWithCode(conn, code, msg.Reason)
}
