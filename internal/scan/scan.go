// Package scan enumerates foreign tray items and caches the results.
//
// Two readings of the tray exist. Owners is identity only and feeds
// name-based browsing; Positioned adds each item's on-screen frame and
// feeds zone classification and relocation. Both are walks over every
// item host on the bus, so Cache fronts them with independent TTLs and
// refresh deduplication.
package scan

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/trayfold/trayfold/internal/infrastructure/logging"
	"github.com/trayfold/trayfold/internal/infrastructure/monitoring"
	"github.com/trayfold/trayfold/internal/infrastructure/resilience"
	"github.com/trayfold/trayfold/internal/infrastructure/tracing"
	"github.com/trayfold/trayfold/internal/platform"
	"github.com/trayfold/trayfold/internal/shared/id"
)

// Zone names where an item sits relative to the separators.
type Zone string

const (
	ZoneVisible      Zone = "visible"
	ZoneHidden       Zone = "hidden"
	ZoneAlwaysHidden Zone = "always-hidden"
)

// Classify maps an item's left edge to a zone. boundary is the main
// separator's left edge; extra is the always-hidden separator's left
// edge when that slot is enabled. Zone membership does not depend on
// whether the fold zone is currently collapsed.
func Classify(x, boundary, extra float64, hasExtra bool) Zone {
	if hasExtra && x < extra {
		return ZoneAlwaysHidden
	}
	if x < boundary {
		return ZoneHidden
	}
	return ZoneVisible
}

// Owner identifies one foreign tray presence.
//
// OwnerID is the stable application identity and survives restarts of
// the owning process. SubItemID distinguishes multiple slots registered
// by one process and doubles as the item's bus address. Owners are
// built fresh on each scan and never mutated afterwards.
type Owner struct {
	OwnerID     string `json:"owner_id"`
	DisplayName string `json:"display_name"`
	IconName    string `json:"icon_name,omitempty"`
	IconPixmap  []byte `json:"-"`
	Category    string `json:"category,omitempty"`
	SubItemID   string `json:"sub_item_id,omitempty"`
}

// Key returns the uniqueness key scans deduplicate by.
func (o Owner) Key() string {
	if o.SubItemID != "" {
		return o.SubItemID
	}
	return o.OwnerID
}

// Item reconstructs the bus address the owner was scanned from. Bus
// names never contain a slash, so the first one splits service from
// object path. The zero TrayItem is returned when the owner carries no
// sub-item address.
func (o Owner) Item() platform.TrayItem {
	service, path, ok := strings.Cut(o.SubItemID, "/")
	if !ok {
		return platform.TrayItem{}
	}
	return platform.TrayItem{
		Service:  service,
		Path:     "/" + path,
		ID:       o.OwnerID,
		Title:    o.DisplayName,
		IconName: o.IconName,
		Category: o.Category,
	}
}

// PositionedItem is an owner with its on-screen placement.
//
// Zone is stamped by readers against the current separator boundary,
// never by the scanner: a cached position must not carry a stale
// classification.
type PositionedItem struct {
	Owner

	X     float64 `json:"x"`
	Width float64 `json:"width"`
	Zone  Zone    `json:"zone,omitempty"`
}

// Scanner walks the item hosts on the bus and builds owner records.
type Scanner struct {
	tree    platform.ItemTree
	gate    platform.PermissionGate
	breaker *resilience.Breaker
	metrics *monitoring.Metrics
	tracer  *tracing.Tracer
	logger  *logging.Logger
	exclude map[string]struct{}
}

// NewScanner creates a scanner. exclude lists bus names whose items are
// never reported, normally the daemon's own services.
func NewScanner(
	tree platform.ItemTree,
	gate platform.PermissionGate,
	metrics *monitoring.Metrics,
	tracer *tracing.Tracer,
	logger *logging.Logger,
	exclude []string,
) *Scanner {
	excluded := make(map[string]struct{}, len(exclude))
	for _, name := range exclude {
		excluded[name] = struct{}{}
	}

	return &Scanner{
		tree:    tree,
		gate:    gate,
		metrics: metrics,
		tracer:  tracer,
		logger:  logger,
		exclude: excluded,
		breaker: resilience.New("tray-enumeration", resilience.Settings{
			OnStateChange: func(name string, from, to resilience.State) {
				logger.Warn("enumeration breaker state changed",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
		}),
	}
}

// Owners enumerates every foreign tray presence, one record per
// distinct sub-item, sorted by display name. Without the permission
// grant the result is empty rather than an error.
func (s *Scanner) Owners(ctx context.Context) ([]Owner, error) {
	if !s.gate.Trusted(ctx) {
		return []Owner{}, nil
	}

	span, ctx := s.tracer.StartSpan(ctx, "scan.owners")
	defer func() {
		span.Finish()
		s.tracer.Submit(span)
	}()

	start := time.Now()
	scanID := id.NewScanID()

	seen := make(map[string]struct{})
	out := make([]Owner, 0, 8)
	err := s.forEachItem(ctx, func(item platform.TrayItem) {
		owner := ownerFromItem(item)
		if _, dup := seen[owner.Key()]; dup {
			return
		}
		seen[owner.Key()] = struct{}{}
		out = append(out, owner)
	})
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := strings.ToLower(out[i].DisplayName), strings.ToLower(out[j].DisplayName)
		if a != b {
			return a < b
		}
		return out[i].Key() < out[j].Key()
	})

	s.metrics.RecordScan("owners", time.Since(start), len(out))
	s.logger.Debug("owner scan complete",
		zap.String("scan_id", scanID.String()),
		zap.Int("owners", len(out)),
		zap.Duration("took", time.Since(start)),
	)
	return out, nil
}

// Positioned enumerates owners with their frames, left to right. Items
// the panel has not placed yet are omitted; an unplaced item cannot be
// classified or dragged.
func (s *Scanner) Positioned(ctx context.Context) ([]PositionedItem, error) {
	if !s.gate.Trusted(ctx) {
		return []PositionedItem{}, nil
	}

	span, ctx := s.tracer.StartSpan(ctx, "scan.positioned")
	defer func() {
		span.Finish()
		s.tracer.Submit(span)
	}()

	start := time.Now()
	scanID := id.NewScanID()

	index := make(map[string]int)
	out := make([]PositionedItem, 0, 8)
	err := s.forEachItem(ctx, func(item platform.TrayItem) {
		frame, err := s.tree.ItemFrame(ctx, item)
		if err != nil {
			s.logger.Debug("skipping unreadable item frame",
				zap.String("service", item.Service),
				zap.String("path", item.Path),
				zap.Error(err),
			)
			return
		}
		if frame.IsZero() {
			s.logger.Debug("skipping unplaced item",
				zap.String("service", item.Service),
				zap.String("path", item.Path),
			)
			return
		}

		positioned := PositionedItem{Owner: ownerFromItem(item), X: frame.X, Width: frame.Width}
		if at, dup := index[positioned.Key()]; dup {
			// Same key twice in one pass: keep whichever sits further left.
			if positioned.X < out[at].X {
				out[at] = positioned
			}
			return
		}
		index[positioned.Key()] = len(out)
		out = append(out, positioned)
	})
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].X != out[j].X {
			return out[i].X < out[j].X
		}
		return out[i].Key() < out[j].Key()
	})

	s.metrics.RecordScan("positioned", time.Since(start), len(out))
	s.logger.Debug("positioned scan complete",
		zap.String("scan_id", scanID.String()),
		zap.Int("items", len(out)),
		zap.Duration("took", time.Since(start)),
	)
	return out, nil
}

// Locate resolves one owner's current placement with a fresh pass,
// bypassing every cache, so relocation acts on live coordinates. The
// key matches a sub-item address exactly; when it names an owner
// identity shared by several sub-items the leftmost placement wins.
func (s *Scanner) Locate(ctx context.Context, key string) (PositionedItem, bool, error) {
	items, err := s.Positioned(ctx)
	if err != nil {
		return PositionedItem{}, false, err
	}

	var best PositionedItem
	found := false
	for _, item := range items {
		if item.Key() == key {
			return item, true, nil
		}
		if item.OwnerID != key {
			continue
		}
		if !found || item.X < best.X {
			best, found = item, true
		}
	}
	return best, found, nil
}

// forEachItem walks every item of every non-excluded service. A failing
// service is skipped; only enumeration failure aborts the walk.
func (s *Scanner) forEachItem(ctx context.Context, fn func(platform.TrayItem)) error {
	services, err := s.services(ctx)
	if err != nil {
		s.metrics.RecordScanError()
		return err
	}

	for _, svc := range services {
		if _, skip := s.exclude[svc]; skip {
			continue
		}

		items, err := s.tree.Items(ctx, svc)
		if err != nil {
			s.metrics.RecordScanError()
			s.logger.Debug("skipping tray service",
				zap.String("service", svc),
				zap.Error(err),
			)
			continue
		}

		for _, item := range items {
			fn(item)
		}
	}
	return nil
}

func (s *Scanner) services(ctx context.Context) ([]string, error) {
	result, err := s.breaker.Execute(func() (interface{}, error) {
		return s.tree.Services(ctx)
	})
	if err != nil {
		return nil, err
	}
	return result.([]string), nil
}

func ownerFromItem(item platform.TrayItem) Owner {
	name := item.Title
	if name == "" {
		name = item.ID
	}
	return Owner{
		OwnerID:     item.ID,
		DisplayName: name,
		IconName:    item.IconName,
		IconPixmap:  item.IconPixmap,
		Category:    item.Category,
		SubItemID:   item.Service + item.Path,
	}
}
