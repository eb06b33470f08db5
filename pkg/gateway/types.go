package gateway

// Inbound event types.
const (
	EventChatMessage     = "chat:message"
	EventChatCancel      = "chat:cancel"
	EventSessionHistory  = "session:history"
	EventSessionCompress = "session:compress"
)

// Outbound event types.
const (
	EventMessageChunk      = "message:chunk"
	EventToolCall          = "tool:call"
	EventToolResponse      = "tool:response"
	EventMessageComplete   = "message:complete"
	EventMessageError      = "message:error"
	EventSessionHistoryOut = "session:history"
	EventSessionCompressed = "session:compressed"
)

// InboundEvent is one client-to-server message on the event channel.
type InboundEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Message   string `json:"message,omitempty"`
}

// OutboundEvent is one server-to-client message. Data's shape depends
// on Type.
type OutboundEvent struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// ChunkData is the payload of message:chunk.
type ChunkData struct {
	Type string    `json:"type"`
	Data ChunkText `json:"data"`
}

// ChunkText carries one text fragment.
type ChunkText struct {
	Text string `json:"text"`
}

// ToolCallData is the payload of tool:call.
type ToolCallData struct {
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}

// ToolResponseData is the payload of tool:response.
type ToolResponseData struct {
	Name   string `json:"name"`
	Result string `json:"result"`
}

// ErrorData is the payload of message:error.
type ErrorData struct {
	Message string `json:"message"`
}

// createSessionRequest is the body of POST /api/sessions.
type createSessionRequest struct {
	WorkingDir  string          `json:"workingDir"`
	Credentials credentialsBody `json:"credentials"`
}

type credentialsBody struct {
	PlatformOAuth *oauthBody   `json:"platform_oauth,omitempty"`
	UserKey       *userKeyBody `json:"user_key,omitempty"`
	Default       bool         `json:"default,omitempty"`
}

type oauthBody struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

type userKeyBody struct {
	APIKey   string `json:"api_key"`
	Endpoint string `json:"endpoint,omitempty"`
	Model    string `json:"model,omitempty"`
	Provider string `json:"provider,omitempty"`
}

type createSessionResponse struct {
	SessionID string `json:"sessionId"`
}
