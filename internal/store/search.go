package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/felo/mailstore/internal/db"
)

// DefaultSearchLimit bounds SearchMessages when no limit is given.
const DefaultSearchLimit = 100

// SearchMessages runs a full-text query over subject, body, sender and
// recipients. The query uses the FTS5 query language: terms, "phrases",
// prefix*, AND/OR/NOT and column filters such as subject:hello. Results are
// ordered by relevance. An empty query returns no results.
func (s *Store) SearchMessages(ctx context.Context, query string, opts SearchOptions) ([]*SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []*SearchResult{}, nil
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	where := db.FTSTable + " MATCH ? AND m.user_id = ?"
	args := []any{query, s.userID}
	if opts.FolderID != 0 {
		where += " AND m.folder_id = ?"
		args = append(args, opts.FolderID)
	}
	args = append(args, limit)

	rows, err := s.db.Querier(ctx).QueryContext(ctx, `
		SELECT `+messageColumnsAs+`,
			snippet(`+db.FTSTable+`, -1, '<mark>', '</mark>', '...', 16),
			bm25(`+db.FTSTable+`)
		FROM `+db.FTSTable+`
		JOIN messages m ON m.id = `+db.FTSTable+`.rowid
		WHERE `+where+`
		ORDER BY bm25(`+db.FTSTable+`), m.received_at DESC
		LIMIT ?
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	defer rows.Close()

	results := []*SearchResult{}
	for rows.Next() {
		r := &SearchResult{}
		msg, err := scanMessage(rows, &r.Snippet, &r.Rank)
		if err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		r.Message = msg
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating search results: %w", err)
	}
	metricSearches.Inc()
	return results, nil
}
