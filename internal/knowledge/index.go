package knowledge

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const schema = `
CREATE TABLE IF NOT EXISTS knowledge_chunks (
	id TEXT PRIMARY KEY,
	company TEXT NOT NULL,
	type TEXT NOT NULL,
	source TEXT NOT NULL DEFAULT '',
	scope TEXT NOT NULL DEFAULT '',
	user_id TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL,
	embedding BLOB NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_knowledge_company ON knowledge_chunks(company COLLATE NOCASE);
`

// IndexConfig tunes retrieval.
type IndexConfig struct {
	TopK      int
	Threshold float64
	MaxChars  int
}

// DefaultIndexConfig returns the retrieval defaults.
func DefaultIndexConfig() IndexConfig {
	return IndexConfig{TopK: 3, Threshold: 0.7, MaxChars: 10000}
}

// Index is a Retriever over a SQLite table of embeddings.
// Similarity is computed in process.
type Index struct {
	db       *sql.DB
	embedder Embedder
	cfg      IndexConfig
	logger   *slog.Logger
}

// NewIndex creates the knowledge table in db.
func NewIndex(db *sql.DB, embedder Embedder, cfg IndexConfig, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultIndexConfig()
	if cfg.TopK <= 0 {
		cfg.TopK = def.TopK
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = def.MaxChars
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create knowledge schema: %w", err)
	}
	return &Index{db: db, embedder: embedder, cfg: cfg, logger: logger}, nil
}

// Store implements Retriever.
func (x *Index) Store(ctx context.Context, text string, meta Metadata) error {
	text = Truncate(text, x.cfg.MaxChars)
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if meta.Type == "" {
		meta.Type = TypeResearchSummary
	}

	vec, err := x.embedder.EmbedDocument(ctx, text)
	if err != nil {
		return fmt.Errorf("embed passage: %w", err)
	}

	_, err = x.db.ExecContext(ctx, `
		INSERT INTO knowledge_chunks (id, company, type, source, scope, user_id, content, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, uuid.NewString(), meta.Company, meta.Type, meta.Source, meta.Scope, meta.UserID,
		text, encodeVector(vec), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to store passage: %w", err)
	}
	return nil
}

type scored struct {
	content string
	score   float64
}

// Query implements Retriever.
func (x *Index) Query(ctx context.Context, text, company string) ([]string, error) {
	vec, err := x.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	query := `SELECT content, embedding FROM knowledge_chunks`
	var args []any
	if company != "" {
		query += ` WHERE company = ? COLLATE NOCASE`
		args = append(args, company)
	}

	rows, err := x.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query knowledge: %w", err)
	}
	defer rows.Close()

	var matches []scored
	for rows.Next() {
		var content string
		var blob []byte
		if err := rows.Scan(&content, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan passage: %w", err)
		}
		stored, err := decodeVector(blob)
		if err != nil {
			x.logger.Warn("Skipping malformed knowledge vector", "error", err)
			continue
		}
		score, err := cosineSimilarity(vec, stored)
		if err != nil {
			x.logger.Warn("Skipping knowledge vector", "error", err)
			continue
		}
		if score >= x.cfg.Threshold {
			matches = append(matches, scored{content: content, score: score})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate passages: %w", err)
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].score > matches[j].score })
	if len(matches) > x.cfg.TopK {
		matches = matches[:x.cfg.TopK]
	}

	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.content
	}
	return out, nil
}

// Truncate cuts s to at most limit bytes on a rune boundary.
// A limit of zero or less keeps s whole.
func Truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	// Keep the cut on a rune boundary.
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
