// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/salesbot/internal/domain"
)

// ErrNotFound is returned by updates that matched no row.
var ErrNotFound = errors.New("not found")

// ErrNotOwner is returned when a write targets a conversation owned by another user.
var ErrNotOwner = errors.New("owned by another user")

// Repository defines the interface for persisting users, conversations and plans.
type Repository interface {
	// GetUser retrieves a user by their user ID.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// EnsureConversation creates the conversation row if it does not exist yet.
	// It returns ErrNotOwner when the row exists under another user.
	EnsureConversation(ctx context.Context, conversationID, userID, title string) error

	// CreateConversation inserts a new conversation.
	CreateConversation(ctx context.Context, conv *domain.Conversation) error

	// GetConversation retrieves a conversation without its messages.
	GetConversation(ctx context.Context, conversationID string) (*domain.Conversation, error)

	// ListConversations returns a user's conversations, most recently updated first.
	ListConversations(ctx context.Context, userID string) ([]*domain.Conversation, error)

	// SaveMessage inserts a message, keeping a caller-supplied ID.
	SaveMessage(ctx context.Context, msg *domain.Message) error

	// GetMessage retrieves one message by ID.
	GetMessage(ctx context.Context, messageID string) (*domain.Message, error)

	// RecentMessages returns the last limit messages of a conversation, oldest first.
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error)

	// ListMessages returns every message of a conversation, oldest first.
	ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error)

	// UpdateMessageContent rewrites the content of an existing message.
	UpdateMessageContent(ctx context.Context, messageID, content string) error

	// CreateDocument inserts a new account plan.
	CreateDocument(ctx context.Context, doc *domain.Document) error

	// GetDocument retrieves an account plan by ID.
	GetDocument(ctx context.Context, documentID string) (*domain.Document, error)

	// GetLatestDocument returns the newest plan for a company.
	// An empty userID searches across all users.
	GetLatestDocument(ctx context.Context, company, userID string) (*domain.Document, error)

	// UpdateDocumentSection replaces the content of exactly one section.
	UpdateDocumentSection(ctx context.Context, documentID, section string, content any) error

	// SaveResearch stores a research payload, optionally linked to a plan.
	SaveResearch(ctx context.Context, record *domain.ResearchRecord) error

	// ResearchForDocument returns the research payloads linked to a plan.
	ResearchForDocument(ctx context.Context, documentID string) ([]*domain.ResearchRecord, error)

	// UsageStats counts users, plans and research rows and lists the newest plans.
	UsageStats(ctx context.Context, recent int) (*domain.UsageStats, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
