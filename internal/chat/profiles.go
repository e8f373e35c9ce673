package chat

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/Fidelis900/crown-commune/internal/models"
	"github.com/Fidelis900/crown-commune/internal/remote"
)

// ProfileCache memoizes rank-resolved user views by user id. Only found
// profiles are cached; unknown authors render as a placeholder and are
// retried on the next lookup.
type ProfileCache struct {
	remote remote.Remote
	logger zerolog.Logger
	group  singleflight.Group

	mu      sync.RWMutex
	views   map[string]models.UserView
	pending map[string]*lookup
}

// lookup is an in-flight profile load shared by every id it covers.
type lookup struct {
	done chan struct{}
}

// NewProfileCache creates an empty cache.
func NewProfileCache(r remote.Remote, logger zerolog.Logger) *ProfileCache {
	return &ProfileCache{
		remote: r,
		logger: logger.With().Str("component", "profiles").Logger(),
		views:   make(map[string]models.UserView),
		pending: make(map[string]*lookup),
	}
}

// Get returns the cached view of userID.
func (c *ProfileCache) Get(userID string) (models.UserView, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.views[userID]
	return v, ok
}

// Put replaces the cached view with one derived from p.
func (c *ProfileCache) Put(p models.Profile) models.UserView {
	v := models.NewUserView(p)
	c.mu.Lock()
	c.views[p.UserID] = v
	c.mu.Unlock()
	return v
}

func (c *ProfileCache) putView(v models.UserView) {
	c.mu.Lock()
	c.views[v.ID] = v
	c.mu.Unlock()
}

// Invalidate drops userID from the cache.
func (c *ProfileCache) Invalidate(userID string) {
	c.mu.Lock()
	delete(c.views, userID)
	c.mu.Unlock()
}

// Fetch loads the profile of userID, bypassing the cache but refreshing it.
// It returns remote.ErrNotFound when the user has no profile.
func (c *ProfileCache) Fetch(ctx context.Context, userID string) (models.Profile, error) {
	v, err, _ := c.group.Do(userID, func() (interface{}, error) {
		rec, err := c.remote.FetchOne(ctx, remote.Profiles, remote.Eq("user_id", userID))
		if err != nil {
			return nil, err
		}
		p, err := models.Decode[models.Profile](rec)
		if err != nil {
			return nil, err
		}
		c.Put(p)
		return p, nil
	})
	if err != nil {
		return models.Profile{}, errors.Wrapf(err, "fetch profile %s", userID)
	}
	return v.(models.Profile), nil
}

// Resolve returns the view of userID, fetching it on a miss. Concurrent
// misses for one id, including ids covered by a running ResolveMany batch,
// share a single load. It never fails: unknown or unreachable profiles
// resolve to the placeholder.
func (c *ProfileCache) Resolve(ctx context.Context, userID string) models.UserView {
	c.mu.Lock()
	if v, ok := c.views[userID]; ok {
		c.mu.Unlock()
		return v
	}
	if l, ok := c.pending[userID]; ok {
		c.mu.Unlock()
		return c.await(ctx, userID, l)
	}
	l := &lookup{done: make(chan struct{})}
	c.pending[userID] = l
	c.mu.Unlock()

	p, err := c.Fetch(ctx, userID)
	c.finish(l, userID)
	if err != nil {
		if !errors.Is(err, remote.ErrNotFound) {
			c.logger.Warn().Err(err).Str("user_id", userID).Msg("profile lookup failed")
		}
		return models.PlaceholderUser(userID)
	}
	return models.NewUserView(p)
}

// ResolveMany returns views for every id, fetching all misses in one batch.
// Ids already being loaded elsewhere are awaited rather than refetched.
func (c *ProfileCache) ResolveMany(ctx context.Context, ids []string) map[string]models.UserView {
	out := make(map[string]models.UserView, len(ids))
	l := &lookup{done: make(chan struct{})}
	var missing []string
	waits := make(map[string]*lookup)

	c.mu.Lock()
	for _, id := range ids {
		if _, done := out[id]; done {
			continue
		}
		if v, ok := c.views[id]; ok {
			out[id] = v
			continue
		}
		out[id] = models.PlaceholderUser(id)
		if other, ok := c.pending[id]; ok {
			waits[id] = other
			continue
		}
		c.pending[id] = l
		missing = append(missing, id)
	}
	c.mu.Unlock()

	if len(missing) > 0 {
		c.fetchBatch(ctx, missing, out)
		c.finish(l, missing...)
	}
	for id, other := range waits {
		out[id] = c.await(ctx, id, other)
	}
	return out
}

func (c *ProfileCache) fetchBatch(ctx context.Context, ids []string, out map[string]models.UserView) {
	rows, err := c.remote.FetchMany(ctx, remote.Profiles, remote.In("user_id", ids...), remote.ListOptions{})
	if err != nil {
		c.logger.Warn().Err(err).Int("count", len(ids)).Msg("batch profile lookup failed")
		return
	}
	for _, row := range rows {
		p, err := models.Decode[models.Profile](row)
		if err != nil {
			c.logger.Debug().Err(err).Msg("skipping malformed profile")
			continue
		}
		out[p.UserID] = c.Put(p)
	}
}

// finish releases the ids l was loading and wakes its waiters.
func (c *ProfileCache) finish(l *lookup, ids ...string) {
	c.mu.Lock()
	for _, id := range ids {
		if c.pending[id] == l {
			delete(c.pending, id)
		}
	}
	c.mu.Unlock()
	close(l.done)
}

// await blocks until l completes and returns what it cached for userID. A
// load that found nothing yields the placeholder without another fetch.
func (c *ProfileCache) await(ctx context.Context, userID string, l *lookup) models.UserView {
	select {
	case <-l.done:
	case <-ctx.Done():
		return models.PlaceholderUser(userID)
	}
	if v, ok := c.Get(userID); ok {
		return v
	}
	return models.PlaceholderUser(userID)
}
