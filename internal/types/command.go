package types

// Command is a tagged message received from the UI bridge.
type Command struct {
	Type         string       `json:"type"`
	Text         string       `json:"text,omitempty"`
	Model        string       `json:"model,omitempty"`
	SessionID    string       `json:"sessionId,omitempty"`
	MessageIndex *int         `json:"messageIndex,omitempty"`
	ImageStates  *ImageStates `json:"imageStates,omitempty"`
}

// Command types accepted from the UI surface.
const (
	CmdSendMessage       = "send-message"
	CmdNewChat           = "new-chat"
	CmdLoadChatSession   = "load-chat-session"
	CmdGetChatSessions   = "get-chat-sessions"
	CmdUpdateImageStates = "update-image-states"
	CmdGetChatHistory    = "get-chat-history"
	CmdPing              = "ping"
)
