// Package retention implements data retention for the DealDesk control
// plane. The janitor periodically purges terminal deals whose retention
// window expired, together with their events, artifacts, chunks, and
// chat sessions. Deals still being processed and deals inside the
// window are never touched.
//
// When an archive driver is configured, expired deals are exported to
// durable storage first. Archiving is fail-safe: a deal is NOT purged
// if its export fails.
package retention

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dealdesk/dealdesk/internal/store"
	"github.com/dealdesk/dealdesk/pkg/contracts"
	"github.com/dealdesk/dealdesk/pkg/models"
)

// DefaultDealRetentionDays is how long terminal deals are kept.
const DefaultDealRetentionDays = 90

// DefaultSessionRetentionDays is how long idle chat sessions are kept.
const DefaultSessionRetentionDays = 30

// CycleStats tracks what happened in a single retention sweep.
type CycleStats struct {
	DealsArchived  int
	DealsPurged    int
	SessionsPurged int
	Errors         []error
}

// Janitor periodically purges expired deals and stale sessions.
type Janitor struct {
	store      store.Store
	index      contracts.VectorIndex
	archiver   contracts.ArchiveDriver // optional
	interval   time.Duration
	dealTTL    time.Duration
	sessionTTL time.Duration
}

// NewJanitor creates a retention janitor that sweeps on the given
// interval. Day counts of zero or less fall back to the defaults.
func NewJanitor(s store.Store, index contracts.VectorIndex, interval time.Duration, dealDays, sessionDays int) *Janitor {
	if interval < time.Minute {
		interval = time.Hour
	}
	if dealDays <= 0 {
		dealDays = DefaultDealRetentionDays
	}
	if sessionDays <= 0 {
		sessionDays = DefaultSessionRetentionDays
	}
	return &Janitor{
		store:      s,
		index:      index,
		interval:   interval,
		dealTTL:    time.Duration(dealDays) * 24 * time.Hour,
		sessionTTL: time.Duration(sessionDays) * 24 * time.Hour,
	}
}

// SetArchiver installs an archive driver; without one, expired deals are
// purged without export.
func (j *Janitor) SetArchiver(driver contracts.ArchiveDriver) {
	j.archiver = driver
	log.Info().Str("kind", driver.Kind()).Msg("Archive driver registered")
}

// Start runs the janitor until ctx is canceled.
func (j *Janitor) Start(ctx context.Context) {
	log.Info().
		Dur("interval", j.interval).
		Dur("deal_ttl", j.dealTTL).
		Dur("session_ttl", j.sessionTTL).
		Msg("Retention janitor started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	// Run once immediately on startup
	j.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Retention janitor stopped")
			return
		case <-ticker.C:
			j.RunCycle(ctx)
		}
	}
}

// RunCycle performs one retention sweep.
func (j *Janitor) RunCycle(ctx context.Context) CycleStats {
	start := time.Now()
	var stats CycleStats

	j.sweepDeals(ctx, &stats)
	j.sweepSessions(ctx, &stats)

	for _, err := range stats.Errors {
		log.Warn().Err(err).Msg("Retention cycle error")
	}
	if stats.DealsPurged > 0 || stats.SessionsPurged > 0 {
		log.Info().
			Int("deals_archived", stats.DealsArchived).
			Int("deals_purged", stats.DealsPurged).
			Int("sessions_purged", stats.SessionsPurged).
			Dur("elapsed", time.Since(start)).
			Msg("Retention cycle complete")
	}
	return stats
}

// sweepDeals archives and purges terminal deals past the retention
// window.
func (j *Janitor) sweepDeals(ctx context.Context, stats *CycleStats) {
	deals, err := j.store.ListDeals(ctx)
	if err != nil {
		stats.Errors = append(stats.Errors, err)
		return
	}

	cutoff := time.Now().Add(-j.dealTTL)
	for _, deal := range deals {
		if !deal.Status.Terminal() || !deal.UpdatedAt.Before(cutoff) {
			continue
		}

		if j.archiver != nil {
			export, err := j.exportDeal(ctx, deal)
			if err != nil {
				stats.Errors = append(stats.Errors, err)
				continue
			}
			if _, err := j.archiver.ArchiveDeals(ctx, []models.DealExport{*export}); err != nil {
				log.Warn().Err(err).Str("deal_id", deal.ID).Msg("Archive failed, skipping purge")
				stats.Errors = append(stats.Errors, err)
				continue
			}
			stats.DealsArchived++
		}

		j.purgeDeal(ctx, deal, stats)
	}
}

// exportDeal collects the deal's full record for archiving.
func (j *Janitor) exportDeal(ctx context.Context, deal models.Deal) (*models.DealExport, error) {
	events, err := j.store.ListEventsSince(ctx, deal.ID, 0)
	if err != nil {
		return nil, err
	}
	artifactSet, err := j.store.ListArtifacts(ctx, deal.ID)
	if err != nil {
		return nil, err
	}
	artifacts := make([]models.Artifact, 0, len(artifactSet))
	for _, a := range artifactSet {
		artifacts = append(artifacts, *a)
	}

	export := &models.DealExport{Deal: deal, Events: events, Artifacts: artifacts}
	sessions, err := j.store.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	for _, sess := range sessions {
		if sess.DealID == deal.ID {
			export.Sessions = append(export.Sessions, sess)
		}
	}
	return export, nil
}

// purgeDeal removes the deal and everything hanging off it.
func (j *Janitor) purgeDeal(ctx context.Context, deal models.Deal, stats *CycleStats) {
	if err := j.index.DeleteDeal(ctx, deal.ID); err != nil {
		stats.Errors = append(stats.Errors, err)
		return
	}

	sessions, err := j.store.ListSessions(ctx)
	if err != nil {
		stats.Errors = append(stats.Errors, err)
		return
	}
	for _, sess := range sessions {
		if sess.DealID != deal.ID {
			continue
		}
		if err := j.store.DeleteSession(ctx, sess.ID); err != nil && !store.IsNotFound(err) {
			stats.Errors = append(stats.Errors, err)
		} else {
			stats.SessionsPurged++
		}
	}

	if err := j.store.DeleteDeal(ctx, deal.ID); err != nil && !store.IsNotFound(err) {
		stats.Errors = append(stats.Errors, err)
		return
	}
	stats.DealsPurged++

	log.Debug().
		Str("deal_id", deal.ID).
		Str("status", string(deal.Status)).
		Time("updated_at", deal.UpdatedAt).
		Msg("Expired deal purged")
}

// sweepSessions purges idle sessions not bound to any surviving deal
// work, past the session retention window.
func (j *Janitor) sweepSessions(ctx context.Context, stats *CycleStats) {
	sessions, err := j.store.ListSessions(ctx)
	if err != nil {
		stats.Errors = append(stats.Errors, err)
		return
	}

	cutoff := time.Now().Add(-j.sessionTTL)
	for _, sess := range sessions {
		if !sess.UpdatedAt.Before(cutoff) {
			continue
		}
		if sess.DealID != "" {
			// Bound sessions live and die with their deal.
			if _, err := j.store.GetDeal(ctx, sess.DealID); err == nil {
				continue
			}
		}
		if err := j.store.DeleteSession(ctx, sess.ID); err != nil && !store.IsNotFound(err) {
			stats.Errors = append(stats.Errors, err)
			continue
		}
		stats.SessionsPurged++
	}
}
