package seed

import (
	"fmt"
	"math/rand/v2"
	"time"

	"gwi.com/messaging-loadtest/internal/store"
)

// Phrases is the fixed pool message contents are drawn from.
var Phrases = []string{
	"Hello!", "How are you?", "What's up?", "See you later",
	"Thanks!", "Got it", "Sure thing", "Let me check",
	"Sounds good", "I agree", "No problem", "On my way",
}

// Source is the randomness the generator draws from. *rand.Rand satisfies it.
type Source interface {
	IntN(n int) int
}

// NewSource returns a deterministic source for the given seed.
func NewSource(seed uint64) Source {
	return rand.New(rand.NewPCG(seed, seed+1))
}

// Generator produces synthetic rows. IDs are 1-based and dense, so conversation i
// and user i can be referenced before they are inserted.
type Generator struct {
	src    Source
	users  int
	convs  int
	start  time.Time
	window time.Duration
}

// NewGenerator spreads message timestamps over window ending at end.
func NewGenerator(src Source, users, conversations int, end time.Time, window time.Duration) *Generator {
	if window <= 0 {
		window = time.Hour
	}
	return &Generator{
		src:    src,
		users:  users,
		convs:  conversations,
		start:  end.Add(-window).UTC(),
		window: window,
	}
}

func (g *Generator) User(id int64) store.User {
	return store.User{
		ID:        id,
		Username:  fmt.Sprintf("user%d", id),
		Email:     fmt.Sprintf("user%d@example.com", id),
		CreatedAt: g.start,
	}
}

func (g *Generator) randomUser() int64 {
	return int64(g.src.IntN(g.users)) + 1
}

// Conversation makes every fifth conversation a named group.
func (g *Generator) Conversation(id int64) store.Conversation {
	conv := store.Conversation{
		ID:        id,
		Type:      store.ConversationDirect,
		CreatedBy: g.randomUser(),
		CreatedAt: g.start,
	}
	if id%5 == 0 {
		name := fmt.Sprintf("Group Chat %d", id)
		conv.Type = store.ConversationGroup
		conv.Name = &name
	}
	return conv
}

// Participants picks 2 to 5 distinct users; the first one is the admin.
func (g *Generator) Participants(conversationID int64) []store.Participant {
	want := g.src.IntN(4) + 2
	if want > g.users {
		want = g.users
	}
	seen := make(map[int64]struct{}, want)
	participants := make([]store.Participant, 0, want)
	for len(participants) < want {
		userID := g.randomUser()
		if _, dup := seen[userID]; dup {
			continue
		}
		seen[userID] = struct{}{}
		participants = append(participants, store.Participant{
			ConversationID: conversationID,
			UserID:         userID,
			IsAdmin:        len(participants) == 0,
		})
	}
	return participants
}

// Message picks conversation, sender and content independently, like the
// original load data; the sender is not necessarily a participant.
func (g *Generator) Message() store.Message {
	offset := time.Duration(g.src.IntN(int(g.window / time.Millisecond))) * time.Millisecond
	return store.Message{
		ConversationID: int64(g.src.IntN(g.convs)) + 1,
		SenderID:       g.randomUser(),
		Content:        Phrases[g.src.IntN(len(Phrases))],
		Type:           store.MessageText,
		CreatedAt:      g.start.Add(offset),
	}
}
