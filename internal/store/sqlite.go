package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/moturi311/securechat/backend/internal/crypto"
	"github.com/moturi311/securechat/backend/internal/model/chat"
)

// searchOverfetch bounds how many candidate rows a search decrypts per
// requested result, to absorb rows skipped by decryption failures.
const searchOverfetch = 2

// SQLiteStore implements Store on a local SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	cipher *crypto.Cipher
	logger zerolog.Logger
}

// NewSQLiteStore opens (creating if necessary) the database at dbPath and
// initializes the schema.
func NewSQLiteStore(ctx context.Context, dbPath string, cipher *crypto.Cipher, logger zerolog.Logger) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/chat.db"
	}

	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	s := &SQLiteStore{db: db, cipher: cipher, logger: logger}
	if err := s.initSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		role TEXT NOT NULL CHECK (role IN ('buyer', 'seller')),
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		buyer_id TEXT NOT NULL REFERENCES users(id),
		seller_id TEXT NOT NULL REFERENCES users(id),
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(buyer_id, seller_id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations(id),
		sender_id TEXT NOT NULL REFERENCES users(id),
		receiver_id TEXT NOT NULL REFERENCES users(id),
		encrypted_content TEXT NOT NULL,
		is_ai INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_users_role ON users(role);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender_id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateUser registers a participant in the user directory.
func (s *SQLiteStore) CreateUser(ctx context.Context, username string, role chat.Role) (chat.User, error) {
	user := chat.User{ID: uuid.NewString(), Username: username, Role: role}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, role) VALUES (?, ?, ?)
	`, user.ID, user.Username, string(user.Role))
	if err != nil {
		return chat.User{}, err
	}
	return user, nil
}

// ResolveUser maps a display name to its stable identifier and role.
func (s *SQLiteStore) ResolveUser(ctx context.Context, username string) (chat.User, error) {
	var user chat.User
	var role string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, role FROM users WHERE username = ?
	`, username).Scan(&user.ID, &user.Username, &role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return chat.User{}, ErrUserNotFound
		}
		return chat.User{}, err
	}
	user.Role = chat.Role(role)
	return user, nil
}

// ListUsersByRole returns all usernames holding the given role, sorted.
func (s *SQLiteStore) ListUsersByRole(ctx context.Context, role chat.Role) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username FROM users WHERE role = ? ORDER BY username
	`, string(role))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		users = append(users, name)
	}
	return users, rows.Err()
}

// GetOrCreateConversation returns the single conversation id for a
// buyer/seller pair, creating the row on first use. Safe under concurrent
// first calls: the UNIQUE constraint plus INSERT OR IGNORE guarantees both
// racers observe the same id.
func (s *SQLiteStore) GetOrCreateConversation(ctx context.Context, buyerID, sellerID string) (string, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO conversations (id, buyer_id, seller_id) VALUES (?, ?, ?)
	`, uuid.NewString(), buyerID, sellerID)
	if err != nil {
		return "", err
	}

	var id string
	err = s.db.QueryRowContext(ctx, `
		SELECT id FROM conversations WHERE buyer_id = ? AND seller_id = ?
	`, buyerID, sellerID).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

// SaveMessage resolves both names, enforces the buyer/seller pairing,
// canonicalizes the conversation and appends the ciphertext row with a
// server-assigned timestamp. The returned message carries identifiers and
// timestamp only, never the body.
func (s *SQLiteStore) SaveMessage(ctx context.Context, sender, receiver, ciphertext string, isAI bool) (chat.Message, error) {
	senderUser, err := s.ResolveUser(ctx, sender)
	if err != nil {
		return chat.Message{}, err
	}
	receiverUser, err := s.ResolveUser(ctx, receiver)
	if err != nil {
		return chat.Message{}, err
	}

	buyer, seller, err := chat.CanonicalPair(senderUser, receiverUser)
	if err != nil {
		return chat.Message{}, err
	}

	conversationID, err := s.GetOrCreateConversation(ctx, buyer.ID, seller.ID)
	if err != nil {
		return chat.Message{}, err
	}

	msg := chat.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Sender:         sender,
		Receiver:       receiver,
		IsAI:           isAI,
		CreatedAt:      time.Now().UTC(),
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, receiver_id, encrypted_content, is_ai, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, conversationID, senderUser.ID, receiverUser.ID, ciphertext, boolToInt(isAI), msg.CreatedAt)
	if err != nil {
		return chat.Message{}, err
	}
	return msg, nil
}

// findConversation resolves the conversation for a pair of names, in either
// order. Returns ("", nil) when the pair is valid but has no conversation
// yet.
func (s *SQLiteStore) findConversation(ctx context.Context, nameA, nameB string) (string, error) {
	userA, err := s.ResolveUser(ctx, nameA)
	if err != nil {
		return "", err
	}
	userB, err := s.ResolveUser(ctx, nameB)
	if err != nil {
		return "", err
	}

	buyer, seller, err := chat.CanonicalPair(userA, userB)
	if err != nil {
		return "", err
	}

	var id string
	err = s.db.QueryRowContext(ctx, `
		SELECT id FROM conversations WHERE buyer_id = ? AND seller_id = ?
	`, buyer.ID, seller.ID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

// GetHistory returns one page of the conversation between two names, oldest
// first. Rows that fail to decrypt are skipped and logged, never fatal.
func (s *SQLiteStore) GetHistory(ctx context.Context, nameA, nameB string, limit, offset int) (chat.History, error) {
	conversationID, err := s.findConversation(ctx, nameA, nameB)
	if err != nil {
		return chat.History{}, err
	}
	if conversationID == "" {
		return chat.History{Messages: []chat.Message{}}, nil
	}

	var total int
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages WHERE conversation_id = ?
	`, conversationID).Scan(&total)
	if err != nil {
		return chat.History{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, u.username, m.encrypted_content, m.is_ai, m.created_at
		FROM messages m
		JOIN users u ON m.sender_id = u.id
		WHERE m.conversation_id = ?
		ORDER BY m.created_at ASC
		LIMIT ? OFFSET ?
	`, conversationID, limit, offset)
	if err != nil {
		return chat.History{}, err
	}
	defer rows.Close()

	messages := make([]chat.Message, 0, limit)
	for rows.Next() {
		msg, ok, err := s.scanDecrypted(rows, conversationID)
		if err != nil {
			return chat.History{}, err
		}
		if !ok {
			continue
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return chat.History{}, err
	}

	return chat.History{
		Messages:   messages,
		TotalCount: total,
		HasMore:    offset+limit < total,
	}, nil
}

// RecentMessages returns the newest messages of the pair's conversation in
// chronological order, for reply-engine context. Undecryptable rows are
// skipped like everywhere else.
func (s *SQLiteStore) RecentMessages(ctx context.Context, nameA, nameB string, limit int) ([]chat.Message, error) {
	conversationID, err := s.findConversation(ctx, nameA, nameB)
	if err != nil {
		return nil, err
	}
	if conversationID == "" {
		return []chat.Message{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, u.username, m.encrypted_content, m.is_ai, m.created_at
		FROM messages m
		JOIN users u ON m.sender_id = u.id
		WHERE m.conversation_id = ?
		ORDER BY m.created_at DESC
		LIMIT ?
	`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var newestFirst []chat.Message
	for rows.Next() {
		msg, ok, err := s.scanDecrypted(rows, conversationID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		newestFirst = append(newestFirst, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	messages := make([]chat.Message, 0, len(newestFirst))
	for i := len(newestFirst) - 1; i >= 0; i-- {
		messages = append(messages, newestFirst[i])
	}
	return messages, nil
}

// ListRecentConversations returns a user's conversations ordered by last
// activity, newest first. Conversations without messages sort last.
func (s *SQLiteStore) ListRecentConversations(ctx context.Context, username string, limit int) ([]chat.ConversationSummary, error) {
	user, err := s.ResolveUser(ctx, username)
	if err != nil {
		return nil, err
	}

	partnerJoin := "JOIN users u ON c.seller_id = u.id"
	whereColumn := "c.buyer_id"
	if user.Role == chat.RoleSeller {
		partnerJoin = "JOIN users u ON c.buyer_id = u.id"
		whereColumn = "c.seller_id"
	}

	query := fmt.Sprintf(`
		SELECT c.id, u.username, u.role, MAX(m.created_at), COUNT(m.id)
		FROM conversations c
		%s
		LEFT JOIN messages m ON c.id = m.conversation_id
		WHERE %s = ?
		GROUP BY c.id, u.username, u.role
		ORDER BY MAX(m.created_at) DESC NULLS LAST
		LIMIT ?
	`, partnerJoin, whereColumn)

	rows, err := s.db.QueryContext(ctx, query, user.ID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []chat.ConversationSummary
	for rows.Next() {
		var summary chat.ConversationSummary
		var role string
		// MAX() strips the column's declared type, so the driver hands the
		// timestamp back as text.
		var lastAt sql.NullString
		if err := rows.Scan(&summary.ConversationID, &summary.Partner, &role, &lastAt, &summary.MessageCount); err != nil {
			return nil, err
		}
		summary.PartnerRole = chat.Role(role)
		if lastAt.Valid {
			if t, err := parseStoredTime(lastAt.String); err == nil {
				summary.LastMessageAt = &t
			}
		}
		summaries = append(summaries, summary)
	}
	return summaries, rows.Err()
}

// SearchMessages decrypts recent messages of the pair's conversation and
// filters them by case-insensitive substring match. Ciphertext cannot be
// searched in place, so cost is linear in conversation size; candidates are
// over-fetched to cover rows lost to decryption failures.
func (s *SQLiteStore) SearchMessages(ctx context.Context, username, partner, query string, limit int) ([]chat.Message, error) {
	conversationID, err := s.findConversation(ctx, username, partner)
	if err != nil {
		return nil, err
	}
	if conversationID == "" {
		return []chat.Message{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, u.username, m.encrypted_content, m.is_ai, m.created_at
		FROM messages m
		JOIN users u ON m.sender_id = u.id
		WHERE m.conversation_id = ?
		ORDER BY m.created_at DESC
		LIMIT ?
	`, conversationID, limit*searchOverfetch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	needle := strings.ToLower(query)
	results := make([]chat.Message, 0, limit)
	for rows.Next() {
		msg, ok, err := s.scanDecrypted(rows, conversationID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if strings.Contains(strings.ToLower(msg.Content), needle) {
			results = append(results, msg)
			if len(results) >= limit {
				break
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// GetStatistics aggregates the user's message activity over the trailing
// window.
func (s *SQLiteStore) GetStatistics(ctx context.Context, username string, windowDays int) (chat.Statistics, error) {
	user, err := s.ResolveUser(ctx, username)
	if err != nil {
		return chat.Statistics{}, err
	}

	partnerColumn := "c.seller_id"
	if user.Role == chat.RoleSeller {
		partnerColumn = "c.buyer_id"
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -windowDays)

	query := fmt.Sprintf(`
		SELECT COUNT(m.id), COUNT(DISTINCT %s), COUNT(DISTINCT DATE(m.created_at))
		FROM messages m
		JOIN conversations c ON m.conversation_id = c.id
		WHERE (m.sender_id = ? OR m.receiver_id = ?) AND m.created_at >= ?
	`, partnerColumn)

	stats := chat.Statistics{PeriodDays: windowDays}
	err = s.db.QueryRowContext(ctx, query, user.ID, user.ID, cutoff).
		Scan(&stats.TotalMessages, &stats.UniquePartners, &stats.ActiveDays)
	if err != nil {
		return chat.Statistics{}, err
	}
	return stats, nil
}

// DeleteMessage permanently removes a message. Only the original sender is
// authorized; there is no soft delete.
func (s *SQLiteStore) DeleteMessage(ctx context.Context, messageID, requester string) error {
	var senderName string
	err := s.db.QueryRowContext(ctx, `
		SELECT u.username FROM messages m JOIN users u ON m.sender_id = u.id WHERE m.id = ?
	`, messageID).Scan(&senderName)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrMessageNotFound
	}
	if err != nil {
		return err
	}
	if senderName != requester {
		return ErrNotSender
	}

	_, err = s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, messageID)
	return err
}

// scanDecrypted reads one message row and decrypts its body. A row sealed
// under a different key is reported as a data-quality issue and dropped.
func (s *SQLiteStore) scanDecrypted(rows *sql.Rows, conversationID string) (chat.Message, bool, error) {
	var msg chat.Message
	var ciphertext string
	var isAI int
	if err := rows.Scan(&msg.ID, &msg.Sender, &ciphertext, &isAI, &msg.CreatedAt); err != nil {
		return chat.Message{}, false, err
	}
	msg.ConversationID = conversationID
	msg.IsAI = isAI == 1

	plaintext, err := s.cipher.Decrypt(ciphertext)
	if err != nil {
		s.logger.Warn().
			Str("message_id", msg.ID).
			Str("conversation_id", conversationID).
			Msg("skipping undecryptable message")
		return chat.Message{}, false, nil
	}
	msg.Content = plaintext
	return msg, true, nil
}

var storedTimeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	time.RFC3339Nano,
}

func parseStoredTime(raw string) (time.Time, error) {
	var lastErr error
	for _, layout := range storedTimeLayouts {
		t, err := time.Parse(layout, raw)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
