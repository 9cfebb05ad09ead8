package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/salesbot/internal/domain"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Repository = (*SQLiteStore)(nil)

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id, updated_at);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at);

	CREATE TABLE IF NOT EXISTS account_plans (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL DEFAULT '',
		company TEXT NOT NULL,
		sections TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_account_plans_company ON account_plans(company COLLATE NOCASE, created_at);

	CREATE TABLE IF NOT EXISTS research_data (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL DEFAULT '',
		company TEXT NOT NULL,
		content TEXT NOT NULL,
		plan_id TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_research_plan ON research_data(plan_id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// DB exposes the underlying handle so other SQLite-backed components share one pool.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `SELECT user_id, username, last_seen_at, created_at, updated_at FROM users WHERE user_id = ?`

	var user domain.User
	var lastSeen, createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&user.UserID, &user.Username, &lastSeen, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.LastSeenAt = time.UnixMilli(lastSeen)
	user.CreatedAt = time.UnixMilli(createdAt)
	user.UpdatedAt = time.UnixMilli(updatedAt)
	return &user, nil
}

// UpsertUser creates or updates a user record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, username, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		username = excluded.username,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		user.UserID, user.Username,
		user.LastSeenAt.UnixMilli(), user.CreatedAt.UnixMilli(), user.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	query := `UPDATE users SET last_seen_at = ?, updated_at = ? WHERE user_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.UnixMilli(), time.Now().UnixMilli(), userID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "user_id", userID)
	}
	return nil
}

// EnsureConversation creates the conversation row if it does not exist yet.
func (s *SQLiteStore) EnsureConversation(ctx context.Context, conversationID, userID, title string) error {
	now := time.Now().UnixMilli()
	query := `
	INSERT INTO conversations (id, user_id, title, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at
	WHERE conversations.user_id = excluded.user_id`
	result, err := s.db.ExecContext(ctx, query, conversationID, userID, title, now, now)
	if err != nil {
		return fmt.Errorf("ensure conversation: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("ensure conversation rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("conversation %s: %w", conversationID, ErrNotOwner)
	}
	return nil
}

// CreateConversation inserts a new conversation.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *domain.Conversation) error {
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	now := time.Now()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	conv.UpdatedAt = now

	query := `INSERT INTO conversations (id, user_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query,
		conv.ID, conv.UserID, conv.Title, conv.CreatedAt.UnixMilli(), conv.UpdatedAt.UnixMilli(),
	); err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

// GetConversation retrieves a conversation without its messages.
func (s *SQLiteStore) GetConversation(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	query := `SELECT id, user_id, title, created_at, updated_at FROM conversations WHERE id = ?`
	conv, err := scanConversation(s.db.QueryRowContext(ctx, query, conversationID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	return conv, nil
}

// ListConversations returns a user's conversations, most recently updated first.
func (s *SQLiteStore) ListConversations(ctx context.Context, userID string) ([]*domain.Conversation, error) {
	query := `
		SELECT id, user_id, title, created_at, updated_at
		FROM conversations WHERE user_id = ?
		ORDER BY updated_at DESC, rowid DESC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close conversation rows", "error", closeErr)
		}
	}()

	var out []*domain.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		out = append(out, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*domain.Conversation, error) {
	var conv domain.Conversation
	var createdAt, updatedAt int64
	if err := row.Scan(&conv.ID, &conv.UserID, &conv.Title, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	conv.CreatedAt = time.UnixMilli(createdAt)
	conv.UpdatedAt = time.UnixMilli(updatedAt)
	return &conv, nil
}

// SaveMessage inserts a message, keeping a caller-supplied ID.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *domain.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	query := `INSERT INTO messages (id, conversation_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`
	if err := withRetry(ctx, "insert message", func() error {
		_, err := s.db.ExecContext(ctx, query,
			msg.ID, msg.ConversationID, string(msg.Role), msg.Content, msg.CreatedAt.UnixMilli(),
		)
		return err
	}); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	touch := `UPDATE conversations SET updated_at = ? WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, touch, msg.CreatedAt.UnixMilli(), msg.ConversationID); err != nil {
		slog.Warn("failed to touch conversation", "conversation_id", msg.ConversationID, "error", err)
	}
	return nil
}

// GetMessage retrieves one message by ID.
func (s *SQLiteStore) GetMessage(ctx context.Context, messageID string) (*domain.Message, error) {
	query := `SELECT id, conversation_id, role, content, created_at FROM messages WHERE id = ?`
	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, messageID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}
	return &msg, nil
}

// RecentMessages returns the last limit messages of a conversation, oldest first.
func (s *SQLiteStore) RecentMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	query := `
		SELECT id, conversation_id, role, content, created_at
		FROM messages WHERE conversation_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`
	msgs, err := s.queryMessages(ctx, query, conversationID, limit)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// ListMessages returns every message of a conversation, oldest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	query := `
		SELECT id, conversation_id, role, content, created_at
		FROM messages WHERE conversation_id = ?
		ORDER BY created_at ASC, rowid ASC`
	return s.queryMessages(ctx, query, conversationID)
}

func (s *SQLiteStore) queryMessages(ctx context.Context, query string, args ...any) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	var out []domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

func scanMessage(row rowScanner) (domain.Message, error) {
	var msg domain.Message
	var role string
	var createdAt int64
	if err := row.Scan(&msg.ID, &msg.ConversationID, &role, &msg.Content, &createdAt); err != nil {
		return domain.Message{}, err
	}
	msg.Role = domain.Role(role)
	msg.CreatedAt = time.UnixMilli(createdAt)
	return msg, nil
}

// UpdateMessageContent rewrites the content of an existing message.
func (s *SQLiteStore) UpdateMessageContent(ctx context.Context, messageID, content string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE messages SET content = ? WHERE id = ?`, content, messageID)
	if err != nil {
		return fmt.Errorf("update message content: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("message %s: %w", messageID, ErrNotFound)
	}
	return nil
}

// CreateDocument inserts a new account plan.
func (s *SQLiteStore) CreateDocument(ctx context.Context, doc *domain.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	now := time.Now()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	sections, err := doc.SectionsJSON()
	if err != nil {
		return fmt.Errorf("encode sections: %w", err)
	}

	query := `
	INSERT INTO account_plans (id, user_id, company, sections, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query,
		doc.ID, doc.UserID, doc.Company, string(sections),
		doc.CreatedAt.UnixMilli(), doc.UpdatedAt.UnixMilli(),
	); err != nil {
		return fmt.Errorf("insert account plan: %w", err)
	}
	return nil
}

// GetDocument retrieves an account plan by ID.
func (s *SQLiteStore) GetDocument(ctx context.Context, documentID string) (*domain.Document, error) {
	query := `SELECT id, user_id, company, sections, created_at, updated_at FROM account_plans WHERE id = ?`
	doc, err := scanDocument(s.db.QueryRowContext(ctx, query, documentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan account plan: %w", err)
	}
	return doc, nil
}

// GetLatestDocument returns the newest plan for a company.
func (s *SQLiteStore) GetLatestDocument(ctx context.Context, company, userID string) (*domain.Document, error) {
	query := `SELECT id, user_id, company, sections, created_at, updated_at FROM account_plans WHERE company = ? COLLATE NOCASE`
	args := []any{company}
	if userID != "" {
		query += ` AND user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT 1`

	doc, err := scanDocument(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan latest account plan: %w", err)
	}
	return doc, nil
}

func scanDocument(row rowScanner) (*domain.Document, error) {
	var doc domain.Document
	var sections string
	var createdAt, updatedAt int64
	if err := row.Scan(&doc.ID, &doc.UserID, &doc.Company, &sections, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(sections), &doc.Sections); err != nil {
		return nil, fmt.Errorf("decode sections: %w", err)
	}
	doc.CreatedAt = time.UnixMilli(createdAt)
	doc.UpdatedAt = time.UnixMilli(updatedAt)
	return &doc, nil
}

// UpdateDocumentSection replaces the content of exactly one section.
// Other sections are carried over as their stored JSON bytes.
func (s *SQLiteStore) UpdateDocumentSection(ctx context.Context, documentID, section string, content any) error {
	encoded, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("encode section %s: %w", section, err)
	}
	return withRetry(ctx, "update section", func() error {
		return s.updateSection(ctx, documentID, section, encoded)
	})
}

func (s *SQLiteStore) updateSection(ctx context.Context, documentID, section string, encoded []byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin section update: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.Warn("failed to roll back section update", "plan_id", documentID, "error", rbErr)
		}
	}()

	var raw string
	err = tx.QueryRowContext(ctx, `SELECT sections FROM account_plans WHERE id = ?`, documentID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("account plan %s: %w", documentID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("load sections: %w", err)
	}

	sections := map[string]json.RawMessage{}
	if err := json.Unmarshal([]byte(raw), &sections); err != nil {
		return fmt.Errorf("decode sections: %w", err)
	}
	sections[section] = encoded

	updated, err := json.Marshal(sections)
	if err != nil {
		return fmt.Errorf("encode sections: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE account_plans SET sections = ?, updated_at = ? WHERE id = ?`,
		string(updated), time.Now().UnixMilli(), documentID,
	); err != nil {
		return fmt.Errorf("update sections: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit section update: %w", err)
	}
	return nil
}

// SaveResearch stores a research payload, optionally linked to a plan.
func (s *SQLiteStore) SaveResearch(ctx context.Context, record *domain.ResearchRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	var planID any
	if record.DocumentID != "" {
		planID = record.DocumentID
	}

	query := `
	INSERT INTO research_data (id, user_id, company, content, plan_id, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query,
		record.ID, record.UserID, record.Company, record.Content, planID, record.CreatedAt.UnixMilli(),
	); err != nil {
		return fmt.Errorf("insert research: %w", err)
	}
	return nil
}

// ResearchForDocument returns the research payloads linked to a plan.
func (s *SQLiteStore) ResearchForDocument(ctx context.Context, documentID string) ([]*domain.ResearchRecord, error) {
	query := `
		SELECT id, user_id, company, content, plan_id, created_at
		FROM research_data WHERE plan_id = ?
		ORDER BY created_at ASC, rowid ASC`

	rows, err := s.db.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, fmt.Errorf("query research: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close research rows", "error", closeErr)
		}
	}()

	var out []*domain.ResearchRecord
	for rows.Next() {
		var rec domain.ResearchRecord
		var planID sql.NullString
		var createdAt int64
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Company, &rec.Content, &planID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan research row: %w", err)
		}
		rec.DocumentID = planID.String
		rec.CreatedAt = time.UnixMilli(createdAt)
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate research: %w", err)
	}
	return out, nil
}

// UsageStats counts users, plans and research rows and lists the newest
// recent plans with their owner's display name.
func (s *SQLiteStore) UsageStats(ctx context.Context, recent int) (*domain.UsageStats, error) {
	stats := &domain.UsageStats{RecentActivity: []domain.PlanActivity{}}

	counts := `
	SELECT
		(SELECT COUNT(*) FROM users),
		(SELECT COUNT(*) FROM account_plans),
		(SELECT COUNT(*) FROM research_data)`
	if err := s.db.QueryRowContext(ctx, counts).Scan(
		&stats.Counts.Users, &stats.Counts.Plans, &stats.Counts.Research,
	); err != nil {
		return nil, fmt.Errorf("count usage: %w", err)
	}

	query := `
		SELECT ap.id, ap.company, ap.user_id, COALESCE(u.username, ''), ap.created_at
		FROM account_plans ap
		LEFT JOIN users u ON u.user_id = ap.user_id
		ORDER BY ap.created_at DESC, ap.rowid DESC
		LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, recent)
	if err != nil {
		return nil, fmt.Errorf("query recent plans: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close recent plan rows", "error", closeErr)
		}
	}()

	for rows.Next() {
		var a domain.PlanActivity
		var createdAt int64
		if err := rows.Scan(&a.ID, &a.Company, &a.UserID, &a.Username, &createdAt); err != nil {
			return nil, fmt.Errorf("scan recent plan: %w", err)
		}
		a.CreatedAt = time.UnixMilli(createdAt)
		stats.RecentActivity = append(stats.RecentActivity, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent plans: %w", err)
	}
	return stats, nil
}
