package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
)

// sqliteDriverName is go-sqlite3 with the search ranking function registered on
// every connection.
const sqliteDriverName = "sqlite3_messaging"

func init() {
	sql.Register(sqliteDriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("messages_rank", matchRank, true)
		},
	})
}

// matchRank scores an FTS4 row from matchinfo(..., 'pcx'). Each phrase contributes
// its hits in this row divided by its hits across all rows, so repeated and rare
// terms weigh more than a single common one.
func matchRank(info []byte) float64 {
	if len(info) < 8 {
		return 0
	}
	word := func(i int) uint32 { return binary.NativeEndian.Uint32(info[i*4:]) }
	phrases, cols := int(word(0)), int(word(1))
	if len(info) < (2+3*phrases*cols)*4 {
		return 0
	}

	var score float64
	for p := 0; p < phrases; p++ {
		for c := 0; c < cols; c++ {
			base := 2 + 3*(p*cols+c)
			hitsHere, hitsAll := word(base), word(base+1)
			if hitsHere > 0 && hitsAll > 0 {
				score += float64(hitsHere) / float64(hitsAll)
			}
		}
	}
	return score
}

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dataSourceName string, maxConns int) (*SQLiteStore, error) {
	db, err := sql.Open(sqliteDriverName, withDefaultPragmas(dataSourceName))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err = store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// withDefaultPragmas makes concurrent writers wait instead of failing with SQLITE_BUSY.
func withDefaultPragmas(dsn string) string {
	if strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "_busy_timeout") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_busy_timeout=5000&_journal_mode=WAL"
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS users (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        username TEXT UNIQUE NOT NULL,
        email TEXT NOT NULL,
        created_at DATETIME NOT NULL
    );

    CREATE TABLE IF NOT EXISTS conversations (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        type TEXT NOT NULL CHECK (type IN ('direct', 'group')),
        name TEXT,
        created_by INTEGER NOT NULL,
        last_message_at DATETIME,
        created_at DATETIME NOT NULL,
        FOREIGN KEY (created_by) REFERENCES users (id)
    );

    CREATE TABLE IF NOT EXISTS conversation_participants (
        conversation_id INTEGER NOT NULL,
        user_id INTEGER NOT NULL,
        is_admin BOOLEAN NOT NULL DEFAULT FALSE,
        PRIMARY KEY (conversation_id, user_id),
        FOREIGN KEY (conversation_id) REFERENCES conversations (id),
        FOREIGN KEY (user_id) REFERENCES users (id)
    );
    CREATE INDEX IF NOT EXISTS idx_participants_user ON conversation_participants (user_id);

    CREATE TABLE IF NOT EXISTS messages (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        conversation_id INTEGER NOT NULL,
        sender_id INTEGER NOT NULL,
        content TEXT NOT NULL,
        type TEXT NOT NULL DEFAULT 'text',
        metadata TEXT, -- JSON
        is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
        created_at DATETIME NOT NULL,
        FOREIGN KEY (conversation_id) REFERENCES conversations (id),
        FOREIGN KEY (sender_id) REFERENCES users (id)
    );
    CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id, created_at);

    CREATE TABLE IF NOT EXISTS message_status (
        message_id INTEGER NOT NULL,
        user_id INTEGER NOT NULL,
        is_read BOOLEAN NOT NULL DEFAULT FALSE,
        read_at DATETIME,
        PRIMARY KEY (message_id, user_id)
    );

    CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts4(content, content="messages");

    -- Messages are never physically deleted or edited, so indexing on insert is enough.
    CREATE TRIGGER IF NOT EXISTS messages_fts_ai AFTER INSERT ON messages BEGIN
        INSERT INTO messages_fts (docid, content) VALUES (new.id, new.content);
    END;
    `
	_, err := s.db.Exec(schema)
	return err
}

// Conversation methods
func (s *SQLiteStore) ListConversations(ctx context.Context, userID int64, limit int) ([]ConversationSummary, error) {
	query := `
        SELECT c.id, c.type, c.name, c.created_by, c.last_message_at, c.created_at, COUNT(m.id) AS message_count
        FROM conversations c
        JOIN conversation_participants cp ON c.id = cp.conversation_id
        LEFT JOIN messages m ON c.id = m.conversation_id
        WHERE cp.user_id = ?
        GROUP BY c.id
        ORDER BY c.last_message_at DESC, c.id DESC
        LIMIT ?
    `
	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	convs := []ConversationSummary{}
	for rows.Next() {
		var c ConversationSummary
		var name sql.NullString
		var lastMessageAt sql.NullTime
		if err := rows.Scan(&c.ID, &c.Type, &name, &c.CreatedBy, &lastMessageAt, &c.CreatedAt, &c.MessageCount); err != nil {
			return nil, fmt.Errorf("failed to scan conversation row: %w", err)
		}
		if name.Valid {
			c.Name = &name.String
		}
		if lastMessageAt.Valid {
			c.LastMessageAt = &lastMessageAt.Time
		}
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversations: %w", err)
	}
	return convs, nil
}

func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation, participants []Participant) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin conversation insert: %w", err)
	}
	defer tx.Rollback()

	conv.CreatedAt = time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		"INSERT INTO conversations (type, name, created_by, created_at) VALUES (?, ?, ?, ?)",
		conv.Type, conv.Name, conv.CreatedBy, conv.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert conversation: %w", err)
	}
	conv.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read conversation id: %w", err)
	}

	if len(participants) > 0 {
		placeholders := make([]string, 0, len(participants))
		args := make([]any, 0, len(participants)*3)
		for _, p := range participants {
			placeholders = append(placeholders, "(?, ?, ?)")
			args = append(args, conv.ID, p.UserID, p.IsAdmin)
		}
		query := "INSERT INTO conversation_participants (conversation_id, user_id, is_admin) VALUES " + strings.Join(placeholders, ", ")
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to insert participants: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit conversation insert: %w", err)
	}
	return nil
}

func (s *SQLiteStore) TouchConversation(ctx context.Context, conversationID int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, "UPDATE conversations SET last_message_at = ? WHERE id = ?", at.UTC(), conversationID)
	if err != nil {
		return fmt.Errorf("failed to update last_message_at: %w", err)
	}
	return nil
}

// Message methods
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	msg.CreatedAt = msg.CreatedAt.UTC()

	stmt, err := s.db.PrepareContext(ctx, "INSERT INTO messages (conversation_id, sender_id, content, type, metadata, is_deleted, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare message insert: %w", err)
	}
	defer stmt.Close()

	res, err := stmt.ExecContext(ctx, msg.ConversationID, msg.SenderID, msg.Content, msg.Type, metadataArg(msg.Metadata), msg.IsDeleted, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to execute message insert: %w", err)
	}
	msg.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read message id: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID int64, limit, offset int) ([]MessageWithSender, error) {
	query := `
        SELECT m.id, m.conversation_id, m.sender_id, m.content, m.type, m.metadata, m.is_deleted, m.created_at, u.username
        FROM messages m
        JOIN users u ON m.sender_id = u.id
        WHERE m.conversation_id = ? AND m.is_deleted = FALSE
        ORDER BY m.created_at DESC, m.id DESC
        LIMIT ? OFFSET ?
    `
	rows, err := s.db.QueryContext(ctx, query, conversationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := []MessageWithSender{}
	for rows.Next() {
		var msg MessageWithSender
		var metadata sql.NullString
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Content, &msg.Type, &metadata, &msg.IsDeleted, &msg.CreatedAt, &msg.SenderName); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		if metadata.Valid {
			msg.Metadata = metadataValue(&metadata.String)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return messages, nil
}

func (s *SQLiteStore) MarkRead(ctx context.Context, messageID, userID int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO message_status (message_id, user_id, is_read, read_at)
        VALUES (?, ?, TRUE, ?)
        ON CONFLICT (message_id, user_id) DO UPDATE SET is_read = TRUE, read_at = excluded.read_at
    `, messageID, userID, at.UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert message status: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CountUnread(ctx context.Context, userID int64) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
        SELECT COUNT(*)
        FROM messages m
        JOIN conversation_participants cp ON m.conversation_id = cp.conversation_id
        LEFT JOIN message_status ms ON m.id = ms.message_id AND ms.user_id = ?
        WHERE cp.user_id = ?
            AND m.sender_id != ?
            AND (ms.is_read IS NULL OR ms.is_read = FALSE)
    `, userID, userID, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread messages: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) SearchMessages(ctx context.Context, userID int64, query string, limit int) ([]SearchResult, error) {
	terms := SearchTerms(query)
	if len(terms) == 0 {
		return []SearchResult{}, nil
	}
	quoted := make([]string, len(terms))
	for i, term := range terms {
		quoted[i] = `"` + term + `"`
	}
	match := strings.Join(quoted, " OR ")

	rows, err := s.db.QueryContext(ctx, `
        SELECT m.id, m.conversation_id, m.sender_id, m.content, m.type, m.metadata, m.is_deleted, m.created_at, c.name, u.username,
            messages_rank(matchinfo(messages_fts, 'pcx')) AS score
        FROM messages_fts
        JOIN messages m ON m.id = messages_fts.docid
        JOIN conversations c ON m.conversation_id = c.id
        JOIN users u ON m.sender_id = u.id
        JOIN conversation_participants cp ON c.id = cp.conversation_id
        WHERE messages_fts MATCH ?
            AND cp.user_id = ?
            AND m.is_deleted = FALSE
        ORDER BY score DESC, m.created_at DESC, m.id DESC
        LIMIT ?
    `, match, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	defer rows.Close()

	results := []SearchResult{}
	for rows.Next() {
		var r SearchResult
		var metadata, convName sql.NullString
		var score float64
		if err := rows.Scan(&r.ID, &r.ConversationID, &r.SenderID, &r.Content, &r.Type, &metadata, &r.IsDeleted, &r.CreatedAt, &convName, &r.SenderName, &score); err != nil {
			return nil, fmt.Errorf("failed to scan search row: %w", err)
		}
		if metadata.Valid {
			r.Metadata = metadataValue(&metadata.String)
		}
		if convName.Valid {
			r.ConversationName = &convName.String
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate search results: %w", err)
	}
	return results, nil
}

func (s *SQLiteStore) SoftDeleteMessage(ctx context.Context, messageID int64) error {
	_, err := s.db.ExecContext(ctx, "UPDATE messages SET is_deleted = TRUE WHERE id = ?", messageID)
	if err != nil {
		return fmt.Errorf("failed to soft-delete message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListMedia(ctx context.Context, conversationID int64, limit int) ([]MediaItem, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, sender_id, type, metadata, created_at
        FROM messages
        WHERE conversation_id = ?
            AND type IN ('image', 'file')
            AND is_deleted = FALSE
        ORDER BY created_at DESC, id DESC
        LIMIT ?
    `, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query media: %w", err)
	}
	defer rows.Close()

	media := []MediaItem{}
	for rows.Next() {
		var item MediaItem
		var metadata sql.NullString
		if err := rows.Scan(&item.ID, &item.SenderID, &item.Type, &metadata, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan media row: %w", err)
		}
		if metadata.Valid {
			item.Metadata = metadataValue(&metadata.String)
		}
		media = append(media, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate media: %w", err)
	}
	return media, nil
}

// Bulk methods (for the seeder)
func (s *SQLiteStore) InsertUsers(ctx context.Context, users []User) error {
	return s.bulkExec(ctx, "INSERT INTO users (id, username, email, created_at) VALUES (?, ?, ?, ?)", len(users), func(i int) []any {
		u := users[i]
		return []any{u.ID, u.Username, u.Email, u.CreatedAt.UTC()}
	})
}

func (s *SQLiteStore) InsertConversations(ctx context.Context, convs []Conversation) error {
	return s.bulkExec(ctx, "INSERT INTO conversations (id, type, name, created_by, created_at) VALUES (?, ?, ?, ?, ?)", len(convs), func(i int) []any {
		c := convs[i]
		return []any{c.ID, c.Type, c.Name, c.CreatedBy, c.CreatedAt.UTC()}
	})
}

func (s *SQLiteStore) InsertParticipants(ctx context.Context, participants []Participant) error {
	return s.bulkExec(ctx, "INSERT INTO conversation_participants (conversation_id, user_id, is_admin) VALUES (?, ?, ?)", len(participants), func(i int) []any {
		p := participants[i]
		return []any{p.ConversationID, p.UserID, p.IsAdmin}
	})
}

func (s *SQLiteStore) InsertMessages(ctx context.Context, msgs []Message) error {
	return s.bulkExec(ctx, "INSERT INTO messages (conversation_id, sender_id, content, type, metadata, is_deleted, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)", len(msgs), func(i int) []any {
		m := msgs[i]
		return []any{m.ConversationID, m.SenderID, m.Content, m.Type, metadataArg(m.Metadata), m.IsDeleted, m.CreatedAt.UTC()}
	})
}

// bulkExec runs one prepared insert per row inside a single transaction.
func (s *SQLiteStore) bulkExec(ctx context.Context, query string, n int, row func(i int) []any) error {
	if n == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin bulk insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare bulk insert: %w", err)
	}
	defer stmt.Close()

	for i := 0; i < n; i++ {
		if _, err := stmt.ExecContext(ctx, row(i)...); err != nil {
			return fmt.Errorf("failed to execute bulk insert row %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit bulk insert: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RecomputeLastMessageAt(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
        UPDATE conversations
        SET last_message_at = (
            SELECT MAX(m.created_at)
            FROM messages m
            WHERE m.conversation_id = conversations.id
        )
    `)
	if err != nil {
		return fmt.Errorf("failed to recompute last_message_at: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := s.db.QueryRowContext(ctx, `
        SELECT
            (SELECT COUNT(*) FROM users),
            (SELECT COUNT(*) FROM conversations),
            (SELECT COUNT(*) FROM conversation_participants),
            (SELECT COUNT(*) FROM messages)
    `).Scan(&c.Users, &c.Conversations, &c.Participants, &c.Messages)
	if err != nil {
		return Counts{}, fmt.Errorf("failed to count rows: %w", err)
	}
	return c, nil
}
