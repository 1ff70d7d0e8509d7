package scan

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/trayfold/trayfold/internal/infrastructure/config"
	"github.com/trayfold/trayfold/internal/infrastructure/logging"
	"github.com/trayfold/trayfold/internal/infrastructure/monitoring"
)

const (
	cacheOwners     = "owners"
	cachePositioned = "positioned"
)

// ErrBadPattern marks a search pattern doublestar cannot parse.
var ErrBadPattern = errors.New("invalid search pattern")

// Cache fronts the scanner with two independently aged result sets.
//
// A read is served from memory while the entry is fresh and non-empty;
// an empty result never satisfies a read, so a tray that was scanned
// before its items registered heals on the next call. Concurrent cold
// reads share one underlying scan. Refreshes run on a context the cache
// owns rather than the caller's: the shared result must not die with
// whichever caller happened to trigger it.
type Cache struct {
	scanner *Scanner
	cfg     config.ScanConfig
	metrics *monitoring.Metrics
	logger  *logging.Logger

	group singleflight.Group

	mu           sync.Mutex
	owners       []Owner
	ownersAt     time.Time
	positioned   []PositionedItem
	positionedAt time.Time
	scanCtx      context.Context
	scanCancel   context.CancelFunc
}

// NewCache creates a cache over scanner.
func NewCache(scanner *Scanner, cfg config.ScanConfig, metrics *monitoring.Metrics, logger *logging.Logger) *Cache {
	ctx, cancel := context.WithCancel(context.Background())
	return &Cache{
		scanner:    scanner,
		cfg:        cfg,
		metrics:    metrics,
		logger:     logger,
		scanCtx:    ctx,
		scanCancel: cancel,
	}
}

// Owners returns the owner set, scanning only when the cached one is
// stale or empty. Callers receive their own copy.
func (c *Cache) Owners(ctx context.Context) ([]Owner, error) {
	if owners, ok := c.freshOwners(); ok {
		c.metrics.RecordCacheHit(cacheOwners)
		return owners, nil
	}
	c.metrics.RecordCacheMiss(cacheOwners)

	ch := c.group.DoChan(cacheOwners, func() (interface{}, error) {
		// A caller queued behind a finished refresh sees its result.
		if owners, ok := c.freshOwners(); ok {
			return owners, nil
		}

		owners, err := c.scanner.Owners(c.scanContext())
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.owners = owners
		c.ownersAt = time.Now()
		c.mu.Unlock()
		return owners, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return cloneOwners(res.Val.([]Owner)), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Positioned returns the positioned set, scanning only when the cached
// one is stale or empty. Callers receive their own copy.
func (c *Cache) Positioned(ctx context.Context) ([]PositionedItem, error) {
	if items, ok := c.freshPositioned(); ok {
		c.metrics.RecordCacheHit(cachePositioned)
		return items, nil
	}
	c.metrics.RecordCacheMiss(cachePositioned)

	ch := c.group.DoChan(cachePositioned, func() (interface{}, error) {
		if items, ok := c.freshPositioned(); ok {
			return items, nil
		}

		items, err := c.scanner.Positioned(c.scanContext())
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.positioned = items
		c.positionedAt = time.Now()
		c.mu.Unlock()
		return items, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return clonePositioned(res.Val.([]PositionedItem)), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Search filters the owner set by a doublestar glob matched
// case-insensitively against display names and owner identities. A
// pattern without glob metacharacters matches as a substring.
func (c *Cache) Search(ctx context.Context, pattern string) ([]Owner, error) {
	owners, err := c.Owners(ctx)
	if err != nil {
		return nil, err
	}

	p := strings.ToLower(pattern)
	if !strings.ContainsAny(p, "*?[{") {
		p = "*" + p + "*"
	}
	if !doublestar.ValidatePattern(p) {
		return nil, fmt.Errorf("%w: %q", ErrBadPattern, pattern)
	}

	out := make([]Owner, 0, len(owners))
	for _, o := range owners {
		nameHit, _ := doublestar.Match(p, strings.ToLower(o.DisplayName))
		idHit, _ := doublestar.Match(p, strings.ToLower(o.OwnerID))
		if nameHit || idHit {
			out = append(out, o)
		}
	}
	return out, nil
}

// Invalidate expires both caches so the next read rescans. Invoked
// after every hide, show, and relocate mutation; a scan already in
// flight is left to finish.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.ownersAt = time.Time{}
	c.positionedAt = time.Time{}
	c.mu.Unlock()

	c.logger.Debug("scan caches invalidated")
}

// InvalidateForRevocation drops both caches and cancels any scan in
// flight. Used when the permission grant is withdrawn, where a running
// scan would race the teardown of the surfaces it reads.
func (c *Cache) InvalidateForRevocation() {
	c.mu.Lock()
	cancel := c.scanCancel
	c.scanCtx, c.scanCancel = context.WithCancel(context.Background())
	c.owners = nil
	c.positioned = nil
	c.ownersAt = time.Time{}
	c.positionedAt = time.Time{}
	c.mu.Unlock()

	cancel()
	c.logger.Info("scan caches cleared after permission revocation")
}

// Prewarm refreshes both caches in the background so the first
// interactive query is served hot. Fire and forget.
func (c *Cache) Prewarm() {
	go func() {
		ctx := context.Background()
		if _, err := c.Owners(ctx); err != nil {
			c.logger.Debug("prewarm owners", zap.Error(err))
		}
		if _, err := c.Positioned(ctx); err != nil {
			c.logger.Debug("prewarm positioned", zap.Error(err))
		}
	}()
}

func (c *Cache) freshOwners() ([]Owner, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.owners) == 0 || time.Since(c.ownersAt) >= c.cfg.OwnersTTL {
		return nil, false
	}
	return cloneOwners(c.owners), true
}

func (c *Cache) freshPositioned() ([]PositionedItem, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.positioned) == 0 || time.Since(c.positionedAt) >= c.cfg.PositionedTTL {
		return nil, false
	}
	return clonePositioned(c.positioned), true
}

func (c *Cache) scanContext() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scanCtx
}

func cloneOwners(owners []Owner) []Owner {
	out := make([]Owner, len(owners))
	copy(out, owners)
	return out
}

func clonePositioned(items []PositionedItem) []PositionedItem {
	out := make([]PositionedItem, len(items))
	copy(out, items)
	return out
}
