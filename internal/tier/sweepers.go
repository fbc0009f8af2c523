package tier

import (
	"context"
	"time"

	"go.uber.org/zap"

	"memcore/internal/domain/memory"
	"memcore/internal/tier/warm"
)

// Sweepers runs the tier store's independent, long-lived maintenance
// tasks: the expiry sweeper and the archive sweeper lists
// alongside the sender-per-peer and aggregation tasks ("Each long-lived
// task... runs independently"). Both sweepers scan by domain+scope, so
// the caller supplies the scopes to visit; the lifecycle container feeds
// these from its ScopeRegistry of scopes seen on memory.stored events.
type Sweepers struct {
	store *Store

	expiryInterval time.Duration
	archiveAfter time.Duration
	archiveBatch int32

	logger *zap.Logger
}

// NewSweepers builds a Sweepers bound to store. expiryInterval controls
// how often the expiry sweep runs; archiveAfter is the age past which an
// unaccessed entry becomes eligible for archival.
func NewSweepers(store *Store, expiryInterval, archiveAfter time.Duration, logger *zap.Logger) *Sweepers {
	if expiryInterval <= 0 {
		expiryInterval = time.Minute
	}
	if archiveAfter <= 0 {
		archiveAfter = 30 * 24 * time.Hour
	}
	return &Sweepers{
		store: store,
		expiryInterval: expiryInterval,
		archiveAfter: archiveAfter,
		archiveBatch: 200,
		logger: logger,
	}
}

// Scope identifies one (service, agent, domain) triple to sweep.
type Scope struct {
	ServiceID string
	AgentID string
	Domain string
}

// RunExpirySweeper scans scopes on expiryInterval and hard-deletes any
// entry whose IsExpired is true as of the sweep instant, until ctx is
// canceled.
func (s *Sweepers) RunExpirySweeper(ctx context.Context, scopes func() []Scope) {
	ticker := time.NewTicker(s.expiryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepExpired(ctx, scopes())
		}
	}
}

func (s *Sweepers) sweepExpired(ctx context.Context, scopes []Scope) {
	now := time.Now().UTC()
	for _, sc := range scopes {
		entries, err := s.store.Query(ctx, sc.ServiceID, sc.AgentID, sc.Domain, warm.QueryFilter{})
		if err != nil {
			s.logger.Warn("expiry sweep: query failed", zap.Any("scope", sc), zap.Error(err))
			continue
		}
		for _, e := range entries {
			if !e.IsExpired(now) {
				continue
			}
			if err := s.store.Expire(ctx, e); err != nil {
				s.logger.Warn("expiry sweep: expire failed", zap.String("id", e.ID), zap.Error(err))
			}
		}
	}
}

// RunArchiveSweeper scans scopes on expiryInterval and demotes entries
// that haven't been accessed within archiveAfter to the cold tier.
func (s *Sweepers) RunArchiveSweeper(ctx context.Context, scopes func() []Scope) {
	ticker := time.NewTicker(s.expiryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepArchivable(ctx, scopes())
		}
	}
}

// TriggerArchive runs one archive sweep over scopes synchronously and
// reports how many entries it archived, for the edge API's manual
// "trigger archive sweep (admin)" operation rather than
// waiting on RunArchiveSweeper's next tick.
func (s *Sweepers) TriggerArchive(ctx context.Context, scopes []Scope) int {
	return s.sweepArchivable(ctx, scopes)
}

func (s *Sweepers) sweepArchivable(ctx context.Context, scopes []Scope) int {
	cutoff := time.Now().UTC().Add(-s.archiveAfter)
	total := 0
	for _, sc := range scopes {
		entries, err := s.store.Query(ctx, sc.ServiceID, sc.AgentID, sc.Domain, warm.QueryFilter{})
		if err != nil {
			s.logger.Warn("archive sweep: query failed", zap.Any("scope", sc), zap.Error(err))
			continue
		}
		count := int32(0)
		for _, e := range entries {
			if count >= s.archiveBatch {
				break
			}
			if e.Archived || e.Metadata.LastAccessedAt.After(cutoff) {
				continue
			}
			if err := s.archiveOne(ctx, e); err != nil {
				s.logger.Warn("archive sweep: archive failed", zap.String("id", e.ID), zap.Error(err))
				continue
			}
			count++
		}
		total += int(count)
	}
	return total
}

func (s *Sweepers) archiveOne(ctx context.Context, e *memory.Entry) error {
	e.Archived = true
	return s.store.Archive(ctx, e)
}
