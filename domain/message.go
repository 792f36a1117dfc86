package domain

import (
	"time"

	"github.com/google/uuid"
)

// Message is one persisted chat message. The id and timestamp are assigned by
// the server at persistence time; a record is never mutated afterwards.
// Content may be empty but never absent.
type Message struct {
	ID          uuid.UUID `json:"id"`
	SenderID    int64     `json:"senderId"`
	RecipientID int64     `json:"recipientId"`
	Content     string    `json:"content"`
	At          time.Time `json:"at"`
}

// SendCommand is the payload of a chat.send frame.
type SendCommand struct {
	RecipientID int64  `json:"recipientId" validate:"required"`
	Content     string `json:"content"`
}
