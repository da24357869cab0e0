package backend

// Paths served by the agent service next to the streaming endpoint
const (
	PathSession = "/api/session/"
	PathHealth  = "/health"
)

// ChatRequest represents the request body for the streaming chat endpoint.
// SessionID is encoded as null until the server has issued one.
type ChatRequest struct {
	Message   string  `json:"message"`
	SessionID *string `json:"session_id"`
}

// NewChatRequest builds a request, mapping an empty session id to null
func NewChatRequest(message, sessionID string) ChatRequest {
	req := ChatRequest{Message: message}
	if sessionID != "" {
		req.SessionID = &sessionID
	}
	return req
}

// SessionInfo represents the response from the session lookup endpoint
type SessionInfo struct {
	Authenticated bool   `json:"authenticated"`
	UserID        int64  `json:"user_id,omitempty"`
	Name          string `json:"name,omitempty"`
	Email         string `json:"email,omitempty"`
	HasProfile    bool   `json:"has_profile,omitempty"`
}

// HealthStatus represents the response from the health endpoint
type HealthStatus struct {
	Status string `json:"status"`
	Agents int    `json:"agents"`
}
