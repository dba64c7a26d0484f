package categorysync

import (
	"context"
	"strings"
	"sync"

	"github.com/deviceops/categorysync/internal/mdm"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// CategoryResolver maps a category display name to its platform identifier.
// Implementations return mdm.ErrCategoryNotFound when no category matches.
type CategoryResolver interface {
	ResolveCategory(ctx context.Context, name string) (string, error)
}

// CachedResolver memoizes category lookups for the duration of a run.
//
// Spreadsheets routinely repeat the same handful of target categories, so
// each distinct name is resolved at most once. Concurrent lookups for the
// same name are collapsed with singleflight; transport errors are not cached
// so a transient failure does not poison later rows.
type CachedResolver struct {
	resolver CategoryResolver

	group singleflight.Group

	mu      sync.RWMutex
	ids     map[string]string
	missing map[string]struct{}
}

// NewCachedResolver wraps resolver with a per-run cache.
func NewCachedResolver(resolver CategoryResolver) *CachedResolver {
	return &CachedResolver{
		resolver: resolver,
		ids:      make(map[string]string),
		missing:  make(map[string]struct{}),
	}
}

// ResolveCategory implements CategoryResolver.
func (c *CachedResolver) ResolveCategory(ctx context.Context, name string) (string, error) {
	if c == nil || c.resolver == nil {
		return "", errors.New("category resolver is nil")
	}
	key := strings.TrimSpace(name)
	if key == "" {
		return "", errors.New("category name is empty")
	}

	c.mu.RLock()
	id, okID := c.ids[key]
	_, okMiss := c.missing[key]
	c.mu.RUnlock()
	if okID {
		return id, nil
	}
	if okMiss {
		return "", mdm.ErrCategoryNotFound
	}

	resolved, err, _ := c.group.Do(key, func() (any, error) {
		id, err := c.resolver.ResolveCategory(ctx, key)
		if err != nil {
			if errors.Is(err, mdm.ErrCategoryNotFound) {
				c.mu.Lock()
				c.missing[key] = struct{}{}
				c.mu.Unlock()
			}
			return "", err
		}
		c.mu.Lock()
		c.ids[key] = id
		c.mu.Unlock()
		log.Debug().Str("category", key).Str("category_id", id).Msg("category resolved")
		return id, nil
	})
	if err != nil {
		return "", err
	}
	return resolved.(string), nil
}
