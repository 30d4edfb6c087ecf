package session

import (
	"encoding/json"
	"fmt"

	"github.com/pixelmuse/backend/internal/types"
)

// Serializer converts an in-memory session into its durable form: inline
// image payloads are stripped so the persisted record stays kilobytes
// regardless of how many images the session generated. Saved file paths,
// image states, and usage metadata survive, so images are recoverable from
// disk on load.
type Serializer struct{}

// Serialize returns a deep copy of the session with inline image payloads
// emptied. The input is never mutated. It fails when the in-memory state is
// malformed (image state slices diverging from their file-path list), in
// which case the caller skips the write and keeps the in-memory state.
func (Serializer) Serialize(s *types.Session) (*types.Session, error) {
	if s == nil {
		return nil, fmt.Errorf("nil session")
	}
	out := &types.Session{
		ID:           s.ID,
		Title:        s.Title,
		CreatedAt:    s.CreatedAt,
		LastActivity: s.LastActivity,
		Messages:     make([]types.Message, len(s.Messages)),
	}
	for i := range s.Messages {
		msg := s.Messages[i]
		if msg.ImageData != nil {
			durable, err := durableImageData(msg.ImageData)
			if err != nil {
				return nil, fmt.Errorf("message %d: %w", i, err)
			}
			msg.ImageData = durable
		}
		out.Messages[i] = msg
	}
	return out, nil
}

// Marshal serializes and encodes in one step.
func (sz Serializer) Marshal(s *types.Session) ([]byte, error) {
	durable, err := sz.Serialize(s)
	if err != nil {
		return nil, err
	}
	return json.Marshal(durable)
}

func durableImageData(d *types.ImageData) (*types.ImageData, error) {
	if d.ImageStates != nil {
		if len(d.ImageStates.Deleted) != len(d.SavedFilePaths) ||
			len(d.ImageStates.Hidden) != len(d.SavedFilePaths) {
			return nil, fmt.Errorf("image states out of sync with saved paths (%d/%d vs %d)",
				len(d.ImageStates.Deleted), len(d.ImageStates.Hidden), len(d.SavedFilePaths))
		}
	}
	paths := make([]string, len(d.SavedFilePaths))
	copy(paths, d.SavedFilePaths)

	var usage map[string]interface{}
	if d.Usage != nil {
		usage = make(map[string]interface{}, len(d.Usage))
		for k, v := range d.Usage {
			usage[k] = v
		}
	}

	return &types.ImageData{
		Prompt:         d.Prompt,
		Images:         nil, // inline payloads never persist
		SavedFilePaths: paths,
		ImageStates:    d.ImageStates.Clone(),
		Usage:          usage,
	}, nil
}
