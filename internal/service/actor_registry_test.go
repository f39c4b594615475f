package service

import (
	"context"
	"testing"

	"github.com/GoPolymarket/ordergate/internal/config"
	"github.com/GoPolymarket/ordergate/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubActorRepo struct {
	actors map[string]*model.Actor
	calls  int
}

func (s *stubActorRepo) GetActorByAPIKey(_ context.Context, apiKey string) (*model.Actor, error) {
	s.calls++
	a, ok := s.actors[apiKey]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func TestActorRegistryFromConfig(t *testing.T) {
	r := NewActorRegistry(config.AuthConfig{
		AdminKey: "root-key",
		APIKeys: []config.APIKeyConfig{
			{Key: "k1", UserID: "u1"},
			{Key: "k2", UserID: "ops", Role: "ADMIN"},
		},
	}, nil)

	a, ok := r.Lookup(context.Background(), "k1")
	require.True(t, ok)
	assert.Equal(t, "u1", a.ID)
	assert.Equal(t, model.RoleTrader, a.Role)
	assert.False(t, a.IsAdmin())

	a, ok = r.Lookup(context.Background(), "k2")
	require.True(t, ok)
	assert.True(t, a.IsAdmin())

	a, ok = r.Lookup(context.Background(), "root-key")
	require.True(t, ok)
	assert.True(t, a.IsAdmin())

	_, ok = r.Lookup(context.Background(), "")
	assert.False(t, ok)
	_, ok = r.Lookup(context.Background(), "nope")
	assert.False(t, ok)
	assert.Equal(t, 3, r.Len())
}

func TestActorRegistryRepoFallbackIsCached(t *testing.T) {
	repo := &stubActorRepo{actors: map[string]*model.Actor{
		"db-key": {ID: "u9", Role: model.RoleTrader},
	}}
	r := NewActorRegistry(config.AuthConfig{}, repo)

	a, ok := r.Lookup(context.Background(), "db-key")
	require.True(t, ok)
	assert.Equal(t, "u9", a.ID)
	assert.Equal(t, "db-key", a.APIKey)

	_, ok = r.Lookup(context.Background(), "db-key")
	require.True(t, ok)
	assert.Equal(t, 1, repo.calls)

	_, ok = r.Lookup(context.Background(), "missing")
	assert.False(t, ok)

	r.Remove("db-key")
	_, ok = r.Lookup(context.Background(), "db-key")
	require.True(t, ok)
	assert.Equal(t, 3, repo.calls)
}
