// Package storage defines the persistence interfaces for content records, assets,
// credentials and source connections.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/storyhook/internal/models"
)

var (
	// ErrNotFound is returned (wrapped) when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateDraft is returned (wrapped) when a second draft-like record is created
	// for the same source project and document.
	ErrDuplicateDraft = errors.New("draft already exists for source document")
)

// RecordStore persists content records.
type RecordStore interface {
	CreateRecord(ctx context.Context, rec *models.ContentRecord) error
	GetRecord(ctx context.Context, id int64) (*models.ContentRecord, error)
	// UpdateRecordBody replaces only the body of an existing record.
	UpdateRecordBody(ctx context.Context, id int64, bodyHTML string) error
	SetStatus(ctx context.Context, id int64, status models.Status) error
	// FindDraft returns the oldest draft-like record id for the source pair, or 0.
	FindDraft(ctx context.Context, projectID, documentID string) (int64, error)
	ListRecords(ctx context.Context, offset, limit int) ([]*models.ContentRecord, error)
	CountRecords(ctx context.Context) (int64, error)
}

// AssetStore persists sideloaded assets.
type AssetStore interface {
	CreateAsset(ctx context.Context, asset *models.Asset) error
	ListAssets(ctx context.Context, recordID int64) ([]*models.Asset, error)
	CountAssets(ctx context.Context) (int64, error)
}

// TokenStore holds one bearer token per identity.
type TokenStore interface {
	// Get returns "" when no token is stored for identity.
	Get(ctx context.Context, identity string) (string, error)
	Set(ctx context.Context, identity, token string) (string, error)
	// Clear reports whether a token was removed.
	Clear(ctx context.Context, identity string) (bool, error)
}

// ConnectionStore persists the webhook target registered for each identity.
type ConnectionStore interface {
	GetConnection(ctx context.Context, identity string) (*models.Connection, error)
	SaveConnection(ctx context.Context, conn *models.Connection) error
	DeleteConnection(ctx context.Context, identity string) (bool, error)
	ListConnections(ctx context.Context) ([]*models.Connection, error)
}

// Storage is the full set of stores backed by one database.
type Storage interface {
	RecordStore
	AssetStore
	ConnectionStore

	Close() error
}
