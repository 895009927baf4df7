package websocket

// ─── Messages (Client → Server) ─────────────────────────────────────

// ClientMessage is the only inbound shape; clients send keepalive pings.
type ClientMessage struct {
	Type string `json:"type"`
}

const TypePing = "ping"

// ─── Messages (Server → Client) ─────────────────────────────────────

const (
	TypeConnected        = "connected"
	TypePong             = "pong"
	TypeSessionExpired   = "session_expired"
	TypeSessionCompleted = "session_completed"
)

// ConnectedMessage is sent once after a successful token validation.
type ConnectedMessage struct {
	Type                 string `json:"type"`
	TimeRemainingSeconds int    `json:"time_remaining_seconds"`
	AnsweredCount        int    `json:"answered_count"`
	TotalQuestions       int    `json:"total_questions"`
}

// PongMessage answers a ping with fresh counters.
type PongMessage struct {
	Type                 string `json:"type"`
	TimeRemainingSeconds int    `json:"time_remaining_seconds"`
	AnsweredCount        int    `json:"answered_count"`
}

// TerminalMessage tells the client its session token is done for. Both
// types are terminal; the client should stop timers and navigate away.
type TerminalMessage struct {
	Type           string `json:"type"`
	Reason         string `json:"reason,omitempty"`
	Message        string `json:"message,omitempty"`
	GradeHistoryID string `json:"grade_history_id,omitempty"`
}

// ─── Close codes ────────────────────────────────────────────────────

const (
	// CloseInvalidToken signals the session token is invalid or expired.
	CloseInvalidToken = 4001
	// CloseAuthFailure signals an authentication or ownership failure.
	CloseAuthFailure = 4003
)
