// Package models defines core data structures for imported documents, content records, and assets.
package models

import "time"

// Status is the lifecycle state of a content record.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPending   Status = "pending"
	StatusPublished Status = "publish"
)

// DraftLikeStatuses are the statuses a record can hold before it is published.
// Imports only ever update records in one of these states.
var DraftLikeStatuses = []Status{StatusDraft, StatusPending}

// IsDraftLike reports whether s has not yet been published.
func (s Status) IsDraftLike() bool {
	for _, d := range DraftLikeStatuses {
		if s == d {
			return true
		}
	}
	return false
}

// Document is the source service's view of a document, fetched fresh for every import.
type Document struct {
	ProjectID    string `json:"project_id"`
	DocumentID   string `json:"document_id"`
	Title        string `json:"title"`
	RenderedHTML string `json:"-"`
}

// ContentRecord is the locally persisted representation of an imported document.
// SourceProjectID and SourceDocumentID are set on create and never overwritten.
type ContentRecord struct {
	ID               int64     `json:"id" db:"id"`
	Title            string    `json:"title" db:"title"`
	BodyHTML         string    `json:"body_html" db:"body_html"`
	Status           Status    `json:"status" db:"status"`
	AuthorID         string    `json:"author_id" db:"author_id"`
	SourceProjectID  string    `json:"source_project_id" db:"source_project_id"`
	SourceDocumentID string    `json:"source_document_id" db:"source_document_id"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// Asset is a locally owned copy of a remote media file, attached to a content record.
type Asset struct {
	ID        int64             `json:"id" db:"id"`
	RecordID  int64             `json:"record_id" db:"record_id"`
	AuthorID  string            `json:"author_id" db:"author_id"`
	OriginURL string            `json:"origin_url" db:"origin_url"`
	LocalURL  string            `json:"local_url" db:"local_url"`
	FilePath  string            `json:"-" db:"file_path"`
	MIMEType  string            `json:"mime_type" db:"mime_type"`
	Size      int64             `json:"size" db:"size"`
	Metadata  map[string]string `json:"metadata,omitempty" db:"metadata"`
	CreatedAt time.Time         `json:"created_at" db:"created_at"`
}

// Metadata keys attached to sideloaded assets.
const (
	MetaAltText = "alt_text"
)

// Connection links a local identity to a webhook target registered with the source service.
type Connection struct {
	Identity  string    `json:"identity" db:"identity"`
	Email     string    `json:"email" db:"email"`
	TargetID  string    `json:"target_id" db:"target_id"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ImportResult is returned by the webhook and the import command.
type ImportResult struct {
	ProjectID  string `json:"project"`
	DocumentID string `json:"document"`
	RecordID   int64  `json:"post_id"`
	EditURL    string `json:"edit_url"`
	Updated    bool   `json:"updated"`
}

// SearchHit is one keyword search result joined with its record.
type SearchHit struct {
	RecordID int64   `json:"record_id"`
	Score    float64 `json:"score"`
	Title    string  `json:"title"`
	Status   Status  `json:"status"`
	EditURL  string  `json:"edit_url"`
}
