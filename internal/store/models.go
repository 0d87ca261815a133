package store

import (
	"encoding/json"
	"time"
)

type ConversationType string

const (
	ConversationDirect ConversationType = "direct"
	ConversationGroup  ConversationType = "group"
)

func (t ConversationType) Valid() bool {
	return t == ConversationDirect || t == ConversationGroup
}

type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageFile  MessageType = "file"
)

type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

type Conversation struct {
	ID            int64            `json:"id"`
	Type          ConversationType `json:"type"`
	Name          *string          `json:"name"` // Only set for groups
	CreatedBy     int64            `json:"created_by"`
	LastMessageAt *time.Time       `json:"last_message_at"`
	CreatedAt     time.Time        `json:"created_at"`
}

type ConversationSummary struct {
	Conversation
	MessageCount int64 `json:"message_count"`
}

type Participant struct {
	ConversationID int64 `json:"conversation_id"`
	UserID         int64 `json:"user_id"`
	IsAdmin        bool  `json:"is_admin"`
}

type Message struct {
	ID             int64       `json:"id"`
	ConversationID int64       `json:"conversation_id"`
	SenderID       int64       `json:"sender_id"`
	Content        string      `json:"content"`
	Type           MessageType `json:"type"`
	Metadata       json.RawMessage `json:"metadata"` // nil when absent
	IsDeleted      bool        `json:"is_deleted"`
	CreatedAt      time.Time   `json:"created_at"`
}

type MessageWithSender struct {
	Message
	SenderName string `json:"sender_name"`
}

type SearchResult struct {
	Message
	ConversationName *string `json:"conversation_name"`
	SenderName       string  `json:"sender_name"`
}

type MediaItem struct {
	ID        int64       `json:"id"`
	SenderID  int64       `json:"sender_id"`
	Type      MessageType `json:"type"`
	Metadata  json.RawMessage `json:"metadata"`
	CreatedAt time.Time   `json:"created_at"`
}

type Counts struct {
	Users         int64 `json:"users"`
	Conversations int64 `json:"conversations"`
	Participants  int64 `json:"participants"`
	Messages      int64 `json:"messages"`
}
