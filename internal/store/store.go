package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Store is the data access contract used by the HTTP layer. Implementations are
// safe for concurrent use; every call borrows a pooled connection.
type Store interface {
	Ping(ctx context.Context) error
	Close() error

	ListConversations(ctx context.Context, userID int64, limit int) ([]ConversationSummary, error)
	ListMessages(ctx context.Context, conversationID int64, limit, offset int) ([]MessageWithSender, error)
	CreateMessage(ctx context.Context, msg *Message) error
	TouchConversation(ctx context.Context, conversationID int64, at time.Time) error
	MarkRead(ctx context.Context, messageID, userID int64, at time.Time) error
	CountUnread(ctx context.Context, userID int64) (int64, error)
	CreateConversation(ctx context.Context, conv *Conversation, participants []Participant) error
	SearchMessages(ctx context.Context, userID int64, query string, limit int) ([]SearchResult, error)
	SoftDeleteMessage(ctx context.Context, messageID int64) error
	ListMedia(ctx context.Context, conversationID int64, limit int) ([]MediaItem, error)
}

// BulkLoader is used by the seeder. Users and conversations are inserted with the
// IDs they carry; messages get store-assigned IDs.
type BulkLoader interface {
	InsertUsers(ctx context.Context, users []User) error
	InsertConversations(ctx context.Context, convs []Conversation) error
	InsertParticipants(ctx context.Context, participants []Participant) error
	InsertMessages(ctx context.Context, msgs []Message) error
	RecomputeLastMessageAt(ctx context.Context) error
	Counts(ctx context.Context) (Counts, error)
}

type Backend interface {
	Store
	BulkLoader
}

// Open connects to the backend named by driver.
func Open(ctx context.Context, driver, dsn string, maxConns int) (Backend, error) {
	switch driver {
	case DriverSQLite, "sqlite", "":
		return NewSQLiteStore(dsn, maxConns)
	case DriverPostgres, "postgresql", "pgx":
		return NewPostgresStore(ctx, dsn, maxConns)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// SearchTerms splits a free-text query into the words used for full-text matching.
// Punctuation and operators are dropped so user input can never alter match syntax.
func SearchTerms(query string) []string {
	return strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// metadataArg stores absent metadata as NULL and anything else as JSON text.
func metadataArg(m json.RawMessage) any {
	if len(m) == 0 {
		return nil
	}
	return string(m)
}

func metadataValue(s *string) json.RawMessage {
	if s == nil {
		return nil
	}
	return json.RawMessage(*s)
}
