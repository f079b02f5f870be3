package models

import (
	"fmt"
	"time"
)

// ChannelStatus is the lifecycle state of a message channel.
type ChannelStatus string

const (
	ChannelOpen   ChannelStatus = "open"
	ChannelClosed ChannelStatus = "closed"
)

// MessageType classifies channel messages. A request expects a reply; a
// response carries the correlation id of the request it answers.
type MessageType string

const (
	MessageNotify    MessageType = "notify"
	MessageBroadcast MessageType = "broadcast"
	MessageRequest   MessageType = "request"
	MessageResponse  MessageType = "response"
)

// MessageTypeValidator rejects unknown message types.
func MessageTypeValidator(t MessageType) error {
	switch t {
	case MessageNotify, MessageBroadcast, MessageRequest, MessageResponse:
		return nil
	}
	return fmt.Errorf("invalid message_type %q", t)
}

// MessageStatus tracks delivery acknowledgement.
type MessageStatus string

const (
	MessageDelivered MessageStatus = "delivered"
	MessageRead      MessageStatus = "read"
)

// Channel is a named conversation bound to an intent, with a member roster.
type Channel struct {
	ID            string        `db:"id" json:"id"`
	IntentID      string        `db:"intent_id" json:"intent_id"`
	Name          string        `db:"name" json:"name"`
	Members       StringList    `db:"members" json:"members"`
	Status        ChannelStatus `db:"status" json:"status"`
	Options       JSONMap       `db:"options" json:"options,omitempty"`
	MessageCount  int           `db:"message_count" json:"message_count"`
	LastMessageAt *time.Time    `db:"last_message_at" json:"last_message_at,omitempty"`
	TaskID        *string       `db:"task_id" json:"task_id,omitempty"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
}

// Message is one entry in a channel. A reply sets CorrelationID to the id of
// the request message it answers and To to the original sender.
type Message struct {
	ID            string        `db:"id" json:"id"`
	ChannelID     string        `db:"channel_id" json:"channel_id"`
	Seq           int64         `db:"seq" json:"seq"`
	Sender        string        `db:"sender" json:"sender"`
	To            *string       `db:"to_agent" json:"to,omitempty"`
	MessageType   MessageType   `db:"message_type" json:"message_type"`
	Payload       JSONMap       `db:"payload" json:"payload"`
	Status        MessageStatus `db:"status" json:"status"`
	CorrelationID *string       `db:"correlation_id" json:"correlation_id,omitempty"`
	Metadata      JSONMap       `db:"metadata" json:"metadata,omitempty"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
}

// CreateChannelRequest is the body of POST /api/v1/intents/:id/channels.
type CreateChannelRequest struct {
	Name    string   `json:"name"`
	Members []string `json:"members,omitempty"`
	Options JSONMap  `json:"options,omitempty"`
	TaskID  *string  `json:"task_id,omitempty"`
}

// SendMessageRequest is the body of POST /api/v1/channels/:id/messages.
type SendMessageRequest struct {
	Sender      string      `json:"sender,omitempty"`
	To          *string     `json:"to,omitempty"`
	MessageType MessageType `json:"message_type"`
	Payload     JSONMap     `json:"payload"`
	Metadata    JSONMap     `json:"metadata,omitempty"`
}

// ReplyMessageRequest is the body of
// POST /api/v1/channels/:id/messages/:m/reply.
type ReplyMessageRequest struct {
	Sender   string  `json:"sender,omitempty"`
	Payload  JSONMap `json:"payload"`
	Metadata JSONMap `json:"metadata,omitempty"`
}

// MessageFilters narrow channel message listings. SinceID is a cursor: only
// messages inserted after the named message are returned.
type MessageFilters struct {
	To      string
	SinceID string
	Limit   int
	Offset  int
}

// MessageListResponse wraps a page of channel messages.
type MessageListResponse struct {
	ChannelID string     `json:"channel_id"`
	Messages  []*Message `json:"messages"`
	Total     int        `json:"total"`
}
