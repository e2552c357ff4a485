package translator

import "github.com/google/uuid"

// NewConversationID mints the per-request upstream conversation id.
func NewConversationID() string {
	return uuid.NewString()
}
