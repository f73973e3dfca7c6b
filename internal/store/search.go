package store

import (
	"fmt"
	"strings"

	"github.com/zulandar/sessionyard/internal/errs"
	"gorm.io/gorm"
)

// Search limits.
const (
	DefaultSearchLimit = 20
	MaxSearchLimit     = 500
)

// Highlight markers wrapped around matched terms in snippets.
const (
	MarkOpen  = "<mark>"
	MarkClose = "</mark>"
)

// Order selects how search results are sorted.
type Order string

const (
	OrderScore    Order = "score"
	OrderTimeDesc Order = "time_desc"
	OrderTimeAsc  Order = "time_asc"
)

// ParseOrder maps a user-facing name to an Order. Empty means OrderScore.
func ParseOrder(s string) (Order, error) {
	switch o := Order(strings.ToLower(s)); o {
	case "":
		return OrderScore, nil
	case OrderScore, OrderTimeDesc, OrderTimeAsc:
		return o, nil
	}
	return "", errs.New(errs.KindInvalidInput, fmt.Sprintf("store: unknown search order %q", s))
}

// SearchOptions filters a full-text search. Zero values mean no filter.
type SearchOptions struct {
	Query     string
	ProjectID int64
	Start     *int64 // inclusive, ms
	End       *int64 // inclusive, ms
	Limit     int
	Order     Order
}

// SearchResult is one matching message.
type SearchResult struct {
	MessageID   int64   `json:"message_id"`
	SessionID   string  `json:"session_id"`
	ProjectID   int64   `json:"project_id"`
	ProjectName string  `json:"project_name"`
	Role        string  `json:"role"`
	Content     string  `json:"content"`
	Snippet     string  `json:"snippet"`
	Score       float64 `json:"score"`
	Timestamp   int64   `json:"timestamp"`
}

// EscapeQuery turns free text into an FTS5 query: each whitespace
// separated term is quoted as a literal and terms are OR-joined.
func EscapeQuery(q string) string {
	terms := strings.Fields(q)
	for i, t := range terms {
		terms[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	return strings.Join(terms, " OR ")
}

// Search runs a full-text query over message content. Score is -bm25, so
// higher is better. An empty query returns no results.
func Search(db *gorm.DB, opts SearchOptions) ([]SearchResult, error) {
	match := EscapeQuery(opts.Query)
	if match == "" {
		return []SearchResult{}, nil
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		limit = MaxSearchLimit
	}
	order := opts.Order
	if order == "" {
		order = OrderScore
	}

	var sb strings.Builder
	sb.WriteString(`SELECT
		m.id AS message_id,
		m.session_id AS session_id,
		COALESCE(s.project_id, 0) AS project_id,
		COALESCE(p.name, '') AS project_name,
		m.role AS role,
		m.content AS content,
		snippet(messages_fts, 0, ?, ?, '...', 64) AS snippet,
		-bm25(messages_fts) AS score,
		m.timestamp AS timestamp
	FROM messages_fts
	JOIN messages m ON m.id = messages_fts.rowid
	LEFT JOIN sessions s ON s.session_id = m.session_id
	LEFT JOIN projects p ON p.id = s.project_id
	WHERE messages_fts MATCH ?`)
	args := []interface{}{MarkOpen, MarkClose, match}

	if opts.ProjectID > 0 {
		sb.WriteString(" AND s.project_id = ?")
		args = append(args, opts.ProjectID)
	}
	if opts.Start != nil {
		sb.WriteString(" AND m.timestamp >= ?")
		args = append(args, *opts.Start)
	}
	if opts.End != nil {
		sb.WriteString(" AND m.timestamp <= ?")
		args = append(args, *opts.End)
	}

	switch order {
	case OrderTimeDesc:
		sb.WriteString(" ORDER BY m.timestamp DESC, m.id DESC")
	case OrderTimeAsc:
		sb.WriteString(" ORDER BY m.timestamp ASC, m.id ASC")
	default:
		sb.WriteString(" ORDER BY score DESC, m.timestamp DESC, m.id DESC")
	}
	sb.WriteString(" LIMIT ?")
	args = append(args, limit)

	results := []SearchResult{}
	if err := db.Raw(sb.String(), args...).Scan(&results).Error; err != nil {
		return nil, errs.Wrap(err, errs.KindDatabase, "store: search")
	}
	return results, nil
}

// StripMarks removes highlight markers from a snippet.
func StripMarks(s string) string {
	return strings.NewReplacer(MarkOpen, "", MarkClose, "").Replace(s)
}
