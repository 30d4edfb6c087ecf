package types

import "time"

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// MessageType distinguishes plain text from image-bearing messages.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
)

// ImageStates tracks per-image visibility flags for one message.
// Both slices are index-aligned with ImageData.SavedFilePaths.
type ImageStates struct {
	Deleted []bool `json:"deleted"`
	Hidden  []bool `json:"hidden"`
}

// Clone returns a deep copy.
func (s *ImageStates) Clone() *ImageStates {
	if s == nil {
		return nil
	}
	out := &ImageStates{
		Deleted: make([]bool, len(s.Deleted)),
		Hidden:  make([]bool, len(s.Hidden)),
	}
	copy(out.Deleted, s.Deleted)
	copy(out.Hidden, s.Hidden)
	return out
}

// Equal reports content equality against other.
func (s *ImageStates) Equal(other *ImageStates) bool {
	if s == nil || other == nil {
		return s == other
	}
	if len(s.Deleted) != len(other.Deleted) || len(s.Hidden) != len(other.Hidden) {
		return false
	}
	for i := range s.Deleted {
		if s.Deleted[i] != other.Deleted[i] {
			return false
		}
	}
	for i := range s.Hidden {
		if s.Hidden[i] != other.Hidden[i] {
			return false
		}
	}
	return true
}

// ImageData holds the generated-image payload of an assistant message.
// Images carries inline payloads (base64 data URIs) only while the message
// is in memory; the durable form always has it emptied, and the images are
// recoverable from SavedFilePaths.
type ImageData struct {
	Prompt         string                 `json:"prompt"`
	Images         []string               `json:"images,omitempty"`
	SavedFilePaths []string               `json:"savedFilePaths"`
	ImageStates    *ImageStates           `json:"imageStates,omitempty"`
	Usage          map[string]interface{} `json:"usage,omitempty"`
}

// Clone returns a deep copy sharing no mutable state with the original.
func (d *ImageData) Clone() *ImageData {
	if d == nil {
		return nil
	}
	out := &ImageData{
		Prompt:      d.Prompt,
		ImageStates: d.ImageStates.Clone(),
	}
	if d.Images != nil {
		out.Images = append([]string(nil), d.Images...)
	}
	if d.SavedFilePaths != nil {
		out.SavedFilePaths = append([]string(nil), d.SavedFilePaths...)
	}
	if d.Usage != nil {
		out.Usage = make(map[string]interface{}, len(d.Usage))
		for k, v := range d.Usage {
			out.Usage[k] = v
		}
	}
	return out
}

// Message is one chat entry. Messages are immutable once appended except
// for ImageData.ImageStates.
type Message struct {
	ID        string      `json:"id"`
	Text      string      `json:"text"`
	Sender    Sender      `json:"sender"`
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	ImageData *ImageData  `json:"imageData,omitempty"`
}

// Clone returns a copy whose ImageData is deep-copied.
func (m Message) Clone() Message {
	m.ImageData = m.ImageData.Clone()
	return m
}

// Session is one conversation thread.
type Session struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Messages     []Message `json:"messages"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
}

// SessionSummary contains listing information for one session.
type SessionSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
	MessageCount int       `json:"messageCount"`
}

// ToSummary extracts listing information from a session.
func (s *Session) ToSummary() SessionSummary {
	return SessionSummary{
		ID:           s.ID,
		Title:        s.Title,
		CreatedAt:    s.CreatedAt,
		LastActivity: s.LastActivity,
		MessageCount: len(s.Messages),
	}
}

// SessionIndex is the small membership record persisted separately from
// session content: the ordered summary list plus the current session id.
type SessionIndex struct {
	Sessions  []SessionSummary `json:"sessions"`
	CurrentID string           `json:"currentId,omitempty"`
}
