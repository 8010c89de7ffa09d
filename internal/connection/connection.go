// Package connection registers this site as a webhook target with the source service.
package connection

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hyperjump/storyhook/internal/airstory"
	"github.com/hyperjump/storyhook/internal/models"
	"github.com/hyperjump/storyhook/internal/storage"
)

// DefaultTargetType is the target type the source service expects for CMS webhooks.
const DefaultTargetType = "wordpress"

// ErrNoProfile is returned when the source service returns a profile without an email.
var ErrNoProfile = errors.New("no profile data returned for user")

// Registry is the source-service side of a connection. *airstory.Session implements it.
type Registry interface {
	GetUser(ctx context.Context) (*airstory.User, error)
	PostTarget(ctx context.Context, email string, target airstory.Target) (string, error)
	PutTarget(ctx context.Context, email, targetID string, target airstory.Target) error
	DeleteTarget(ctx context.Context, email, targetID string) error
}

// Site describes this installation as a webhook target.
type Site struct {
	Name       string
	WebhookURL string
	TargetType string
}

// Service manages connections for local identities.
type Service struct {
	store  storage.ConnectionStore
	site   Site
	logger *zap.Logger
}

// NewService returns a connection service. logger may be nil.
func NewService(store storage.ConnectionStore, site Site, logger *zap.Logger) *Service {
	if site.TargetType == "" {
		site.TargetType = DefaultTargetType
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, site: site, logger: logger}
}

// Target returns the target payload for identity.
func (s *Service) Target(identity string) airstory.Target {
	return airstory.Target{
		Identifier: identity,
		Name:       s.site.Name,
		URL:        s.site.WebhookURL,
		Type:       s.site.TargetType,
	}
}

// Get returns the stored connection for identity, or nil when there is none.
func (s *Service) Get(ctx context.Context, identity string) (*models.Connection, error) {
	conn, err := s.store.GetConnection(ctx, identity)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return conn, err
}

// Register creates a target for identity unless a connection already exists.
func (s *Service) Register(ctx context.Context, reg Registry, identity string) (*models.Connection, error) {
	existing, err := s.Get(ctx, identity)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.TargetID != "" {
		return existing, nil
	}

	user, err := reg.GetUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("get user profile: %w", err)
	}
	if user.Email == "" {
		return nil, ErrNoProfile
	}

	targetID, err := reg.PostTarget(ctx, user.Email, s.Target(identity))
	if err != nil {
		return nil, fmt.Errorf("register target: %w", err)
	}

	conn := &models.Connection{Identity: identity, Email: user.Email, TargetID: targetID}
	if err := s.store.SaveConnection(ctx, conn); err != nil {
		return nil, fmt.Errorf("save connection: %w", err)
	}
	s.logger.Info("connection registered", zap.String("identity", identity), zap.String("target_id", targetID))
	return conn, nil
}

// Update re-sends the target for an existing connection, e.g. after the site URL changes.
func (s *Service) Update(ctx context.Context, reg Registry, identity string) error {
	conn, err := s.Get(ctx, identity)
	if err != nil {
		return err
	}
	if conn == nil || conn.TargetID == "" || conn.Email == "" {
		return fmt.Errorf("identity %s: %w", identity, storage.ErrNotFound)
	}
	if err := reg.PutTarget(ctx, conn.Email, conn.TargetID, s.Target(identity)); err != nil {
		return fmt.Errorf("update target: %w", err)
	}
	return s.store.SaveConnection(ctx, conn)
}

// UpdateAll re-sends the target of every complete connection, e.g. after the site
// name or webhook URL changes. registryFor returns the session for an identity.
// A failing identity does not stop the others; it returns how many were updated
// and the combined errors.
func (s *Service) UpdateAll(ctx context.Context, registryFor func(ctx context.Context, identity string) (Registry, error)) (int, error) {
	conns, err := s.store.ListConnections(ctx)
	if err != nil {
		return 0, fmt.Errorf("list connections: %w", err)
	}

	var errs error
	updated := 0
	for _, conn := range conns {
		if conn.Email == "" || conn.TargetID == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return updated, multierr.Append(errs, err)
		}
		reg, err := registryFor(ctx, conn.Identity)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", conn.Identity, err))
			continue
		}
		if err := s.Update(ctx, reg, conn.Identity); err != nil {
			s.logger.Warn("connection update failed", zap.String("identity", conn.Identity), zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", conn.Identity, err))
			continue
		}
		updated++
	}
	s.logger.Info("connections updated", zap.Int("updated", updated), zap.Int("total", len(conns)))
	return updated, errs
}

// Remove deletes the remote target and the local connection. It does nothing unless
// both the email and the target id are known, and reports whether anything was removed.
func (s *Service) Remove(ctx context.Context, reg Registry, identity string) (bool, error) {
	conn, err := s.Get(ctx, identity)
	if err != nil {
		return false, err
	}
	if conn == nil || conn.Email == "" || conn.TargetID == "" {
		return false, nil
	}
	if err := reg.DeleteTarget(ctx, conn.Email, conn.TargetID); err != nil {
		return false, fmt.Errorf("delete target: %w", err)
	}
	if _, err := s.store.DeleteConnection(ctx, identity); err != nil {
		return false, err
	}
	s.logger.Info("connection removed", zap.String("identity", identity))
	return true, nil
}
