// Package keyword provides full-text search over imported records.
package keyword

import (
	"context"
)

// SearchOptions optional parameters for keyword search. Nil means use defaults.
type SearchOptions struct {
	// TitleBoost multiplies the score contribution from title matches. Use 1.0 for no boost.
	TitleBoost float64
	// FuzzyEnabled enables fuzzy matching for typo tolerance.
	FuzzyEnabled bool
	// Fuzziness is the maximum Levenshtein edit distance for fuzzy matching (1 or 2).
	// Default is 2 when FuzzyEnabled is true.
	Fuzziness int
}

// RecordIndex defines keyword indexing of content records.
type RecordIndex interface {
	IndexRecord(ctx context.Context, recordID int64, title, bodyHTML string) error
	Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*Result, error)
	Delete(ctx context.Context, recordID int64) error
	Close() error
	// DocCount returns the total number of records in the index.
	DocCount() (uint64, error)
}

// Result is a single keyword search hit.
type Result struct {
	RecordID int64   `json:"record_id"`
	Score    float64 `json:"score"`
}
