package cache

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog/log"

	"go.pilab.hu/toolgate"
)

// DefaultCatalogTTL is how long a looked-up tool is reused.
const DefaultCatalogTTL = 30 * time.Second

// ToolCatalogCache is a read-through cache in front of a toolgate.ToolCatalog.
// Only successful lookups are cached; errors always reach the caller fresh.
type ToolCatalogCache struct {
	next  toolgate.ToolCatalog
	cache *ttlcache.Cache[string, *toolgate.Tool]
}

// NewToolCatalogCache wraps next with a ttl cache and starts its cleanup
// goroutine. Call Close to stop it.
func NewToolCatalogCache(next toolgate.ToolCatalog, ttl time.Duration) *ToolCatalogCache {
	if ttl <= 0 {
		ttl = DefaultCatalogTTL
	}
	cache := ttlcache.New(
		ttlcache.WithTTL[string, *toolgate.Tool](ttl),
		ttlcache.WithDisableTouchOnHit[string, *toolgate.Tool](),
	)

	go cache.Start()

	return &ToolCatalogCache{
		next:  next,
		cache: cache,
	}
}

// LookupTool implements toolgate.ToolCatalog.
func (c *ToolCatalogCache) LookupTool(ctx context.Context, toolID string) (*toolgate.Tool, error) {
	if item := c.cache.Get(toolID); item != nil {
		return cloneTool(item.Value()), nil
	}

	tool, err := c.next.LookupTool(ctx, toolID)
	if err != nil {
		return nil, err
	}

	c.cache.Set(toolID, cloneTool(tool), ttlcache.DefaultTTL)
	log.Ctx(ctx).Debug().Str("tool_id", toolID).Msg("tool cached")

	return tool, nil
}

// Invalidate drops a cached tool, e.g. after its credentials changed.
func (c *ToolCatalogCache) Invalidate(toolID string) {
	c.cache.Delete(toolID)
}

// Len returns the number of cached tools.
func (c *ToolCatalogCache) Len() int {
	return c.cache.Len()
}

// Close stops the cleanup goroutine.
func (c *ToolCatalogCache) Close() error {
	c.cache.Stop()
	return nil
}

func cloneTool(t *toolgate.Tool) *toolgate.Tool {
	if t == nil {
		return nil
	}
	cp := *t
	if t.Credentials != nil {
		creds := *t.Credentials
		cp.Credentials = &creds
	}
	return &cp
}

var _ toolgate.ToolCatalog = (*ToolCatalogCache)(nil)
