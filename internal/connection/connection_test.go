package connection

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/storyhook/internal/airstory"
	"github.com/hyperjump/storyhook/internal/models"
	"github.com/hyperjump/storyhook/internal/storage"
)

type fakeRegistry struct {
	user     *airstory.User
	userErr  error
	postErr  error
	posted   []airstory.Target
	put      []string
	deleted  []string
	targetID string
}

func (f *fakeRegistry) GetUser(context.Context) (*airstory.User, error) {
	return f.user, f.userErr
}

func (f *fakeRegistry) PostTarget(_ context.Context, _ string, t airstory.Target) (string, error) {
	if f.postErr != nil {
		return "", f.postErr
	}
	f.posted = append(f.posted, t)
	return f.targetID, nil
}

func (f *fakeRegistry) PutTarget(_ context.Context, email, targetID string, _ airstory.Target) error {
	f.put = append(f.put, email+"/"+targetID)
	return nil
}

func (f *fakeRegistry) DeleteTarget(_ context.Context, email, targetID string) error {
	f.deleted = append(f.deleted, email+"/"+targetID)
	return nil
}

func newService(t *testing.T) (*Service, *storage.SQLiteStorage) {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewService(store, Site{Name: "Example Blog", WebhookURL: "https://example.com/api/v1/webhook"}, nil), store
}

func TestTarget(t *testing.T) {
	svc, _ := newService(t)
	target := svc.Target("5")
	assert.Equal(t, "5", target.Identifier)
	assert.Equal(t, "Example Blog", target.Name)
	assert.Equal(t, "https://example.com/api/v1/webhook", target.URL)
	assert.Equal(t, "wordpress", target.Type)
}

func TestRegister(t *testing.T) {
	svc, store := newService(t)
	reg := &fakeRegistry{user: &airstory.User{Email: "a@example.com"}, targetID: "t-1"}
	ctx := context.Background()

	conn, err := svc.Register(ctx, reg, "5")
	require.NoError(t, err)
	assert.Equal(t, "t-1", conn.TargetID)
	require.Len(t, reg.posted, 1)

	saved, err := store.GetConnection(ctx, "5")
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", saved.Email)

	// Existing connection is reused
	_, err = svc.Register(ctx, reg, "5")
	require.NoError(t, err)
	assert.Len(t, reg.posted, 1)
}

func TestRegister_noProfile(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Register(context.Background(), &fakeRegistry{user: &airstory.User{}}, "5")
	assert.ErrorIs(t, err, ErrNoProfile)

	_, err = svc.Register(context.Background(), &fakeRegistry{userErr: airstory.ErrMissingToken}, "5")
	assert.ErrorIs(t, err, airstory.ErrMissingToken)
}

func TestRegister_postFails(t *testing.T) {
	svc, store := newService(t)
	reg := &fakeRegistry{user: &airstory.User{Email: "a@example.com"}, postErr: errors.New("boom")}
	_, err := svc.Register(context.Background(), reg, "5")
	require.Error(t, err)

	_, err = store.GetConnection(context.Background(), "5")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUpdate(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	reg := &fakeRegistry{}

	assert.ErrorIs(t, svc.Update(ctx, reg, "5"), storage.ErrNotFound)

	require.NoError(t, store.SaveConnection(ctx, &models.Connection{Identity: "5", Email: "a@example.com", TargetID: "t-1"}))
	require.NoError(t, svc.Update(ctx, reg, "5"))
	assert.Equal(t, []string{"a@example.com/t-1"}, reg.put)
}

func TestUpdateAll(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	for _, c := range []*models.Connection{
		{Identity: "1", Email: "a@example.com", TargetID: "t-1"},
		{Identity: "2", Email: "b@example.com", TargetID: "t-2"},
		{Identity: "3", Email: "c@example.com"},
		{Identity: "4", Email: "d@example.com", TargetID: "t-4"},
	} {
		require.NoError(t, store.SaveConnection(ctx, c))
	}

	reg := &fakeRegistry{}
	var asked []string
	n, err := svc.UpdateAll(ctx, func(_ context.Context, identity string) (Registry, error) {
		asked = append(asked, identity)
		if identity == "2" {
			return nil, errors.New("no token")
		}
		return reg, nil
	})
	assert.Equal(t, 2, n)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2: no token")
	assert.Equal(t, []string{"1", "2", "4"}, asked, "incomplete connections skipped")
	assert.Equal(t, []string{"a@example.com/t-1", "d@example.com/t-4"}, reg.put)
}

func TestUpdateAll_none(t *testing.T) {
	svc, _ := newService(t)
	n, err := svc.UpdateAll(context.Background(), func(context.Context, string) (Registry, error) {
		t.Fatal("no connections to update")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRemove(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	reg := &fakeRegistry{}

	require.NoError(t, store.SaveConnection(ctx, &models.Connection{Identity: "5", Email: "a@example.com", TargetID: "t-1"}))
	removed, err := svc.Remove(ctx, reg, "5")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, []string{"a@example.com/t-1"}, reg.deleted)

	conn, err := svc.Get(ctx, "5")
	require.NoError(t, err)
	assert.Nil(t, conn)
}

func TestRemove_requiresEmailAndTarget(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	reg := &fakeRegistry{}

	require.NoError(t, store.SaveConnection(ctx, &models.Connection{Identity: "no-email", TargetID: "t-1"}))
	require.NoError(t, store.SaveConnection(ctx, &models.Connection{Identity: "no-target", Email: "a@example.com"}))

	for _, id := range []string{"no-email", "no-target", "unknown"} {
		removed, err := svc.Remove(ctx, reg, id)
		require.NoError(t, err)
		assert.False(t, removed, id)
	}
	assert.Empty(t, reg.deleted)
}
