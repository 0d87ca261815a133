package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"
	"gwi.com/messaging-loadtest/internal/store"
)

const (
	ConversationListLimit = 20
	MessagePageSize       = 50
	SearchResultLimit     = 50
	MediaListLimit        = 100
)

// ErrInvalidArgument marks input problems the caller should fix; it is not a server fault.
var ErrInvalidArgument = errors.New("invalid argument")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// MessagingService applies defaults, validation and the simulated storage latency
// in front of the store.
type MessagingService struct {
	dbStore      store.Store
	logger       *zap.Logger
	readLatency  time.Duration
	writeLatency time.Duration
	now          func() time.Time
}

func NewMessagingService(db store.Store, logger *zap.Logger, readLatency, writeLatency time.Duration) *MessagingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MessagingService{
		dbStore:      db,
		logger:       logger,
		readLatency:  readLatency,
		writeLatency: writeLatency,
		now:          time.Now,
	}
}

// simulateLatency sleeps without holding any shared resource, so concurrent requests
// overlap their delays.
func simulateLatency(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *MessagingService) read(ctx context.Context) error  { return simulateLatency(ctx, s.readLatency) }
func (s *MessagingService) write(ctx context.Context) error { return simulateLatency(ctx, s.writeLatency) }

func (s *MessagingService) ListConversations(ctx context.Context, userID int64) ([]store.ConversationSummary, error) {
	if userID <= 0 {
		return nil, invalid("user_id is required")
	}
	if err := s.read(ctx); err != nil {
		return nil, err
	}
	return s.dbStore.ListConversations(ctx, userID, ConversationListLimit)
}

// maxMessagePage is the last page whose offset fits in an int.
const maxMessagePage = math.MaxInt / MessagePageSize

// GetMessages returns one page of non-deleted messages, newest first. Pages start at 1;
// anything lower is treated as the first page and the normalized page is returned.
// Pages past maxMessagePage are necessarily empty.
func (s *MessagingService) GetMessages(ctx context.Context, conversationID int64, page int) (int, []store.MessageWithSender, error) {
	if page < 1 {
		page = 1
	}
	if err := s.read(ctx); err != nil {
		return page, nil, err
	}
	if page > maxMessagePage {
		return page, []store.MessageWithSender{}, nil
	}
	offset := (page - 1) * MessagePageSize
	messages, err := s.dbStore.ListMessages(ctx, conversationID, MessagePageSize, offset)
	return page, messages, err
}

type SendMessageInput struct {
	ConversationID int64
	SenderID       int64
	Content        string
	Type           store.MessageType
	Metadata       json.RawMessage
}

// SendMessage stores the message and then bumps the conversation's last_message_at.
// The two writes are not atomic: if the second one fails the message is kept and
// returned, and the failure is only logged.
func (s *MessagingService) SendMessage(ctx context.Context, in SendMessageInput) (*store.Message, error) {
	if in.ConversationID <= 0 || in.SenderID <= 0 {
		return nil, invalid("conversation_id and sender_id are required")
	}
	if in.Content == "" {
		return nil, invalid("message content cannot be empty")
	}
	if in.Type == "" {
		in.Type = store.MessageText
	}
	if err := s.write(ctx); err != nil {
		return nil, err
	}

	msg := &store.Message{
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		Content:        in.Content,
		Type:           in.Type,
		Metadata:       in.Metadata,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.dbStore.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}

	touchedAt := s.now().UTC()
	if touchedAt.Before(msg.CreatedAt) {
		touchedAt = msg.CreatedAt
	}
	if err := s.dbStore.TouchConversation(ctx, msg.ConversationID, touchedAt); err != nil {
		s.logger.Warn("message stored but conversation timestamp not updated",
			zap.Int64("message_id", msg.ID),
			zap.Int64("conversation_id", msg.ConversationID),
			zap.Error(err))
	}
	return msg, nil
}

func (s *MessagingService) MarkRead(ctx context.Context, messageID, userID int64) error {
	if userID <= 0 {
		return invalid("user_id is required")
	}
	if err := s.write(ctx); err != nil {
		return err
	}
	return s.dbStore.MarkRead(ctx, messageID, userID, s.now())
}

func (s *MessagingService) UnreadCount(ctx context.Context, userID int64) (int64, error) {
	if userID <= 0 {
		return 0, invalid("user_id is required")
	}
	if err := s.read(ctx); err != nil {
		return 0, err
	}
	return s.dbStore.CountUnread(ctx, userID)
}

type CreateConversationInput struct {
	Name         *string
	Type         store.ConversationType
	CreatedBy    int64
	Participants []int64
}

// CreateConversation inserts the conversation and its participants in one go.
// Duplicate participant ids are collapsed; the creator's entry is flagged admin.
func (s *MessagingService) CreateConversation(ctx context.Context, in CreateConversationInput) (*store.Conversation, error) {
	if in.Type == "" {
		in.Type = store.ConversationGroup
	}
	if !in.Type.Valid() {
		return nil, invalid("unknown conversation type %q", in.Type)
	}
	if in.CreatedBy <= 0 {
		return nil, invalid("created_by is required")
	}
	if err := s.write(ctx); err != nil {
		return nil, err
	}

	seen := make(map[int64]struct{}, len(in.Participants))
	participants := make([]store.Participant, 0, len(in.Participants))
	for _, userID := range in.Participants {
		if _, dup := seen[userID]; dup {
			continue
		}
		seen[userID] = struct{}{}
		participants = append(participants, store.Participant{UserID: userID, IsAdmin: userID == in.CreatedBy})
	}

	conv := &store.Conversation{
		Type:      in.Type,
		Name:      in.Name,
		CreatedBy: in.CreatedBy,
	}
	if err := s.dbStore.CreateConversation(ctx, conv, participants); err != nil {
		return nil, err
	}
	return conv, nil
}

// SendTyping only acknowledges; there is no push channel to deliver it on.
func (s *MessagingService) SendTyping(ctx context.Context, conversationID, userID int64) error {
	return s.write(ctx)
}

// Search matches messages in the user's conversations. A blank query returns an
// empty result without touching the store.
func (s *MessagingService) Search(ctx context.Context, userID int64, query string) ([]store.SearchResult, error) {
	if err := s.read(ctx); err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return []store.SearchResult{}, nil
	}
	if userID <= 0 {
		return nil, invalid("user_id is required")
	}
	return s.dbStore.SearchMessages(ctx, userID, query, SearchResultLimit)
}

func (s *MessagingService) DeleteMessage(ctx context.Context, messageID int64) error {
	if err := s.write(ctx); err != nil {
		return err
	}
	return s.dbStore.SoftDeleteMessage(ctx, messageID)
}

func (s *MessagingService) ListMedia(ctx context.Context, conversationID int64) ([]store.MediaItem, error) {
	if err := s.read(ctx); err != nil {
		return nil, err
	}
	return s.dbStore.ListMedia(ctx, conversationID, MediaListLimit)
}

func (s *MessagingService) Ping(ctx context.Context) error {
	return s.dbStore.Ping(ctx)
}
