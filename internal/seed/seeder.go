package seed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gwi.com/messaging-loadtest/internal/store"
)

var ErrStoreNotEmpty = errors.New("store already contains data")

type Config struct {
	Users         int
	Conversations int
	Messages      int

	UserBatch         int
	ConversationBatch int
	ParticipantBatch  int
	MessageBatch      int

	Seed   uint64
	Window time.Duration // messages are spread over this period ending now
}

func DefaultConfig() Config {
	return Config{
		Users:             10000,
		Conversations:     50000,
		Messages:          1000000,
		UserBatch:         1000,
		ConversationBatch: 1000,
		ParticipantBatch:  5000,
		MessageBatch:      5000,
		Seed:              1,
		Window:            30 * 24 * time.Hour,
	}
}

func (c Config) validate() error {
	if c.Users < 2 {
		return fmt.Errorf("need at least 2 users, got %d", c.Users)
	}
	if c.Conversations < 1 {
		return fmt.Errorf("need at least 1 conversation, got %d", c.Conversations)
	}
	if c.Messages < 0 {
		return fmt.Errorf("message count cannot be negative")
	}
	if c.UserBatch < 1 || c.ConversationBatch < 1 || c.ParticipantBatch < 1 || c.MessageBatch < 1 {
		return fmt.Errorf("batch sizes must be positive")
	}
	return nil
}

type Seeder struct {
	loader store.BulkLoader
	gen    *Generator
	cfg    Config
	logger *zap.Logger
}

func NewSeeder(loader store.BulkLoader, src Source, cfg Config, logger *zap.Logger) (*Seeder, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid seed config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Seeder{
		loader: loader,
		gen:    NewGenerator(src, cfg.Users, cfg.Conversations, time.Now(), cfg.Window),
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Run loads users, conversations, participants and messages in batches, then
// recomputes every conversation's last_message_at. It refuses to run on a
// non-empty store because ids are assigned from 1.
func (s *Seeder) Run(ctx context.Context) (store.Counts, error) {
	existing, err := s.loader.Counts(ctx)
	if err != nil {
		return store.Counts{}, err
	}
	if existing.Users > 0 || existing.Conversations > 0 {
		return existing, ErrStoreNotEmpty
	}

	s.logger.Info("creating users", zap.Int("count", s.cfg.Users))
	if err := s.batched(ctx, "users", s.cfg.Users, s.cfg.UserBatch, func(from, to int) error {
		users := make([]store.User, 0, to-from)
		for id := from + 1; id <= to; id++ {
			users = append(users, s.gen.User(int64(id)))
		}
		return s.loader.InsertUsers(ctx, users)
	}); err != nil {
		return store.Counts{}, err
	}

	s.logger.Info("creating conversations", zap.Int("count", s.cfg.Conversations))
	if err := s.batched(ctx, "conversations", s.cfg.Conversations, s.cfg.ConversationBatch, func(from, to int) error {
		convs := make([]store.Conversation, 0, to-from)
		for id := from + 1; id <= to; id++ {
			convs = append(convs, s.gen.Conversation(int64(id)))
		}
		return s.loader.InsertConversations(ctx, convs)
	}); err != nil {
		return store.Counts{}, err
	}

	s.logger.Info("adding participants")
	var participants []store.Participant
	for id := 1; id <= s.cfg.Conversations; id++ {
		participants = append(participants, s.gen.Participants(int64(id))...)
	}
	if err := s.batched(ctx, "participants", len(participants), s.cfg.ParticipantBatch, func(from, to int) error {
		return s.loader.InsertParticipants(ctx, participants[from:to])
	}); err != nil {
		return store.Counts{}, err
	}

	s.logger.Info("creating messages", zap.Int("count", s.cfg.Messages))
	if err := s.batched(ctx, "messages", s.cfg.Messages, s.cfg.MessageBatch, func(from, to int) error {
		msgs := make([]store.Message, 0, to-from)
		for i := from; i < to; i++ {
			msgs = append(msgs, s.gen.Message())
		}
		return s.loader.InsertMessages(ctx, msgs)
	}); err != nil {
		return store.Counts{}, err
	}

	s.logger.Info("recomputing conversation activity")
	if err := s.loader.RecomputeLastMessageAt(ctx); err != nil {
		return store.Counts{}, err
	}

	counts, err := s.loader.Counts(ctx)
	if err != nil {
		return store.Counts{}, err
	}
	s.logger.Info("seeding complete",
		zap.Int64("users", counts.Users),
		zap.Int64("conversations", counts.Conversations),
		zap.Int64("participants", counts.Participants),
		zap.Int64("messages", counts.Messages))
	return counts, nil
}

// batched calls fn for consecutive [from, to) windows of at most size items.
func (s *Seeder) batched(ctx context.Context, what string, total, size int, fn func(from, to int) error) error {
	for from := 0; from < total; from += size {
		if err := ctx.Err(); err != nil {
			return err
		}
		to := min(from+size, total)
		if err := fn(from, to); err != nil {
			return fmt.Errorf("failed to insert %s batch [%d, %d): %w", what, from, to, err)
		}
		s.logger.Debug("batch inserted", zap.String("table", what), zap.Int("done", to), zap.Int("total", total))
	}
	return nil
}
