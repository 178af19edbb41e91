package types

type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusError        ConnectionStatus = "error"
)

type Transport string

const (
	TransportWebRTC    Transport = "webrtc"
	TransportWebSocket Transport = "websocket"
	TransportRelay     Transport = "relay"
)

// CredentialResp is returned by GET /v1/session. ExpiresAt is epoch milliseconds.
type CredentialResp struct {
	SessionID string `json:"id"`
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

type ErrorResp struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type PersonaResp struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Gender       string  `json:"gender"`
	DefaultVoice VoiceID `json:"default_voice"`
}

type VoiceResp struct {
	ID          VoiceID `json:"id"`
	Description string  `json:"description"`
}

type SummaryResp struct {
	SessionID      string    `json:"session_id"`
	Transport      Transport `json:"transport"`
	PersonaID      string    `json:"persona_id"`
	Voice          VoiceID   `json:"voice"`
	Model          string    `json:"model"`
	Status         string    `json:"status"`
	UpstreamStatus int       `json:"upstream_status,omitempty"`
	CreatedAt      int64     `json:"created_at"`
	ClosedAt       int64     `json:"closed_at,omitempty"`
}
