package service

import (
	"context"
	"strings"
	"sync"

	"github.com/GoPolymarket/ordergate/internal/config"
	"github.com/GoPolymarket/ordergate/internal/model"
)

// ActorRegistry resolves gateway API keys to actors.
type ActorRegistry struct {
	mu     sync.RWMutex
	actors map[string]*model.Actor // Key: gateway API key
	repo   ActorRepo
}

// ActorRepo is an optional persistent source consulted on a registry miss.
type ActorRepo interface {
	GetActorByAPIKey(ctx context.Context, apiKey string) (*model.Actor, error)
}

func NewActorRegistry(cfg config.AuthConfig, repo ActorRepo) *ActorRegistry {
	r := &ActorRegistry{
		actors: make(map[string]*model.Actor),
		repo:   repo,
	}
	for _, k := range cfg.APIKeys {
		role := strings.ToLower(strings.TrimSpace(k.Role))
		if role == "" {
			role = model.RoleTrader
		}
		id := k.UserID
		if id == "" {
			id = k.Key
		}
		r.Register(&model.Actor{ID: id, Role: role, APIKey: k.Key})
	}
	if cfg.AdminKey != "" {
		r.Register(&model.Actor{ID: "admin", Role: model.RoleAdmin, APIKey: cfg.AdminKey})
	}
	return r
}

func (r *ActorRegistry) Register(a *model.Actor) {
	if a == nil || a.APIKey == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actors[a.APIKey] = a
}

func (r *ActorRegistry) Remove(apiKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.actors, apiKey)
}

func (r *ActorRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.actors)
}

// Lookup returns the actor bound to apiKey, falling back to the repository
// and caching what it finds.
func (r *ActorRegistry) Lookup(ctx context.Context, apiKey string) (*model.Actor, bool) {
	if apiKey == "" {
		return nil, false
	}
	r.mu.RLock()
	a, ok := r.actors[apiKey]
	r.mu.RUnlock()
	if ok {
		return a, true
	}
	if r.repo == nil {
		return nil, false
	}
	a, err := r.repo.GetActorByAPIKey(ctx, apiKey)
	if err != nil || a == nil {
		return nil, false
	}
	a.APIKey = apiKey
	r.Register(a)
	return a, true
}
