package seed

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gwi.com/messaging-loadtest/internal/store"
)

type recordingLoader struct {
	users        []store.User
	convs        []store.Conversation
	participants []store.Participant
	msgs         []store.Message
	batches      map[string]int
	recomputed   bool
	existing     store.Counts
}

func newRecordingLoader() *recordingLoader {
	return &recordingLoader{batches: map[string]int{}}
}

func (l *recordingLoader) InsertUsers(_ context.Context, users []store.User) error {
	l.batches["users"]++
	l.users = append(l.users, users...)
	return nil
}

func (l *recordingLoader) InsertConversations(_ context.Context, convs []store.Conversation) error {
	l.batches["conversations"]++
	l.convs = append(l.convs, convs...)
	return nil
}

func (l *recordingLoader) InsertParticipants(_ context.Context, participants []store.Participant) error {
	l.batches["participants"]++
	l.participants = append(l.participants, participants...)
	return nil
}

func (l *recordingLoader) InsertMessages(_ context.Context, msgs []store.Message) error {
	l.batches["messages"]++
	l.msgs = append(l.msgs, msgs...)
	return nil
}

func (l *recordingLoader) RecomputeLastMessageAt(context.Context) error {
	l.recomputed = true
	return nil
}

func (l *recordingLoader) Counts(context.Context) (store.Counts, error) {
	if l.recomputed {
		return store.Counts{
			Users:         int64(len(l.users)),
			Conversations: int64(len(l.convs)),
			Participants:  int64(len(l.participants)),
			Messages:      int64(len(l.msgs)),
		}, nil
	}
	return l.existing, nil
}

func smallConfig() Config {
	return Config{
		Users:             20,
		Conversations:     25,
		Messages:          230,
		UserBatch:         7,
		ConversationBatch: 10,
		ParticipantBatch:  16,
		MessageBatch:      50,
		Seed:              42,
		Window:            time.Hour,
	}
}

func TestSeederShapesData(t *testing.T) {
	loader := newRecordingLoader()
	cfg := smallConfig()
	seeder, err := NewSeeder(loader, NewSource(cfg.Seed), cfg, nil)
	require.NoError(t, err)

	counts, err := seeder.Run(context.Background())
	require.NoError(t, err)
	require.True(t, loader.recomputed)
	require.EqualValues(t, 20, counts.Users)
	require.EqualValues(t, 25, counts.Conversations)
	require.EqualValues(t, 230, counts.Messages)

	require.Equal(t, 3, loader.batches["users"])
	require.Equal(t, 3, loader.batches["conversations"])
	require.Equal(t, 5, loader.batches["messages"])

	for i, u := range loader.users {
		require.EqualValues(t, i+1, u.ID)
		require.Equal(t, "user"+itoa(u.ID), u.Username)
		require.Equal(t, "user"+itoa(u.ID)+"@example.com", u.Email)
	}

	for i, c := range loader.convs {
		require.EqualValues(t, i+1, c.ID)
		require.GreaterOrEqual(t, c.CreatedBy, int64(1))
		require.LessOrEqual(t, c.CreatedBy, int64(20))
		if c.ID%5 == 0 {
			require.Equal(t, store.ConversationGroup, c.Type)
			require.NotNil(t, c.Name)
			require.Equal(t, "Group Chat "+itoa(c.ID), *c.Name)
		} else {
			require.Equal(t, store.ConversationDirect, c.Type)
			require.Nil(t, c.Name)
		}
	}

	byConv := map[int64][]store.Participant{}
	for _, p := range loader.participants {
		byConv[p.ConversationID] = append(byConv[p.ConversationID], p)
	}
	require.Len(t, byConv, 25)
	for convID, ps := range byConv {
		require.GreaterOrEqual(t, len(ps), 2, "conversation %d", convID)
		require.LessOrEqual(t, len(ps), 5, "conversation %d", convID)
		admins := 0
		seen := map[int64]bool{}
		for _, p := range ps {
			require.False(t, seen[p.UserID], "duplicate participant in conversation %d", convID)
			seen[p.UserID] = true
			if p.IsAdmin {
				admins++
			}
		}
		require.Equal(t, 1, admins)
		require.True(t, ps[0].IsAdmin)
	}

	now := time.Now()
	for _, m := range loader.msgs {
		require.Contains(t, Phrases, m.Content)
		require.Equal(t, store.MessageText, m.Type)
		require.GreaterOrEqual(t, m.ConversationID, int64(1))
		require.LessOrEqual(t, m.ConversationID, int64(25))
		require.GreaterOrEqual(t, m.SenderID, int64(1))
		require.LessOrEqual(t, m.SenderID, int64(20))
		require.False(t, m.CreatedAt.After(now))
		require.True(t, m.CreatedAt.After(now.Add(-2*time.Hour)))
	}
}

func TestSeederIsReproducible(t *testing.T) {
	cfg := smallConfig()
	run := func() *recordingLoader {
		loader := newRecordingLoader()
		seeder, err := NewSeeder(loader, NewSource(cfg.Seed), cfg, nil)
		require.NoError(t, err)
		_, err = seeder.Run(context.Background())
		require.NoError(t, err)
		return loader
	}
	a, b := run(), run()
	require.Equal(t, a.participants, b.participants)
	require.Len(t, b.msgs, len(a.msgs))
	for i := range a.msgs {
		require.Equal(t, a.msgs[i].ConversationID, b.msgs[i].ConversationID)
		require.Equal(t, a.msgs[i].SenderID, b.msgs[i].SenderID)
		require.Equal(t, a.msgs[i].Content, b.msgs[i].Content)
	}
}

func TestSeederRefusesNonEmptyStore(t *testing.T) {
	loader := newRecordingLoader()
	loader.existing = store.Counts{Users: 3}
	seeder, err := NewSeeder(loader, NewSource(1), smallConfig(), nil)
	require.NoError(t, err)

	_, err = seeder.Run(context.Background())
	require.ErrorIs(t, err, ErrStoreNotEmpty)
	require.Empty(t, loader.users)
}

func TestSeederRejectsBadConfig(t *testing.T) {
	cfg := smallConfig()
	cfg.Users = 1
	_, err := NewSeeder(newRecordingLoader(), NewSource(1), cfg, nil)
	require.Error(t, err)

	cfg = smallConfig()
	cfg.MessageBatch = 0
	_, err = NewSeeder(newRecordingLoader(), NewSource(1), cfg, nil)
	require.Error(t, err)
}

func TestParticipantsCappedByUserCount(t *testing.T) {
	gen := NewGenerator(NewSource(7), 2, 10, time.Now(), time.Minute)
	for i := int64(1); i <= 50; i++ {
		ps := gen.Participants(i)
		require.Len(t, ps, 2)
		require.NotEqual(t, ps[0].UserID, ps[1].UserID)
	}
}

func TestSeedSQLite(t *testing.T) {
	ctx := context.Background()
	db, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "seed.db"), 4)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := smallConfig()
	seeder, err := NewSeeder(db, NewSource(cfg.Seed), cfg, nil)
	require.NoError(t, err)

	counts, err := seeder.Run(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 20, counts.Users)
	require.EqualValues(t, 25, counts.Conversations)
	require.EqualValues(t, 230, counts.Messages)
	require.GreaterOrEqual(t, counts.Participants, int64(50))
	require.LessOrEqual(t, counts.Participants, int64(125))

	var total int64
	for userID := int64(1); userID <= 20; userID++ {
		convs, err := db.ListConversations(ctx, userID, 100)
		require.NoError(t, err)
		for _, c := range convs {
			if c.MessageCount > 0 {
				require.NotNil(t, c.LastMessageAt, "conversation %d", c.ID)
			}
			total += c.MessageCount
		}
	}
	require.Positive(t, total)

	_, err = seeder.Run(ctx)
	require.ErrorIs(t, err, ErrStoreNotEmpty)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
