package syncer

import (
	"context"
	"fmt"
	"sync/atomic"

	"sachet/internal/connectivity"
	"sachet/internal/events"
	"sachet/internal/metrics"
	"sachet/internal/models"
	"sachet/internal/queue"

	"github.com/rs/zerolog"
)

// Uploader submits a single report to the remote ingestion endpoint. A nil
// error is the only confirmation of delivery.
type Uploader interface {
	Upload(ctx context.Context, report *models.HazardReport) error
}

// Result summarizes one sync pass.
type Result struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	// Skipped is true when the pass did not run: either the device was
	// offline or another pass was already in flight.
	Skipped bool   `json:"skipped"`
	Reason  string `json:"reason,omitempty"`
}

// Engine drains pending reports to the remote endpoint. Uploads within a
// pass are strictly sequential, a single failure never aborts the batch, and
// at most one pass runs at a time regardless of trigger source.
type Engine struct {
	queue    *queue.Manager
	uploader Uploader
	conn     connectivity.Observer
	bus      *events.Bus
	logger   *zerolog.Logger

	inFlight atomic.Bool
}

// New wires a sync engine.
func New(q *queue.Manager, uploader Uploader, conn connectivity.Observer, bus *events.Bus, logger *zerolog.Logger) *Engine {
	return &Engine{queue: q, uploader: uploader, conn: conn, bus: bus, logger: logger}
}

// SyncPending uploads the current snapshot of pending reports oldest-first.
// Reports saved while the pass runs are left for the next trigger. A second
// trigger during an active pass is coalesced into the running one.
func (e *Engine) SyncPending(ctx context.Context) (Result, error) {
	if !e.inFlight.CompareAndSwap(false, true) {
		e.logger.Debug().Msg("sync already in progress, trigger ignored")
		metrics.IncSyncPass("skipped")
		return Result{Skipped: true, Reason: "sync already in progress"}, nil
	}
	defer e.inFlight.Store(false)

	if !e.conn.Online() {
		e.logger.Warn().Msg("cannot sync while offline")
		e.bus.Notify("Cannot sync while offline", events.KindWarning)
		metrics.IncSyncPass("offline")
		return Result{Skipped: true, Reason: "offline"}, nil
	}

	pending, err := e.queue.GetPendingReports(ctx)
	if err != nil {
		e.logger.Error().Err(err).Msg("failed to fetch pending reports")
		e.bus.Notify("Sync failed: could not read pending reports", events.KindError)
		return Result{}, fmt.Errorf("fetch pending reports: %w", err)
	}

	if len(pending) == 0 {
		e.bus.Notify("All reports are synced", events.KindSuccess)
		metrics.IncSyncPass("success")
		return Result{}, nil
	}

	e.logger.Info().Int("count", len(pending)).Msg("syncing pending reports")
	e.bus.Notify(fmt.Sprintf("Syncing %d reports...", len(pending)), events.KindInfo)

	result := Result{Attempted: len(pending)}
	for i := range pending {
		report := &pending[i]

		if err := e.uploader.Upload(ctx, report); err != nil {
			// The report stays pending; the next pass retries it.
			result.Failed++
			metrics.IncUpload("failure")
			continue
		}
		metrics.IncUpload("success")

		if err := e.queue.MarkSynced(ctx, report.ID); err != nil {
			// Should not happen while passes are serialized; the record was
			// delivered but still reads as pending, so count it failed and
			// let the next pass reconcile.
			e.logger.Error().Err(err).Int64("id", report.ID).Msg("failed to mark report synced")
			result.Failed++
			continue
		}
		result.Succeeded++
	}

	if result.Failed == 0 {
		e.bus.Notify(fmt.Sprintf("Successfully synced %d reports", result.Succeeded), events.KindSuccess)
		metrics.IncSyncPass("success")
	} else {
		e.bus.Notify(fmt.Sprintf("Synced %d, %d failed", result.Succeeded, result.Failed), events.KindWarning)
		metrics.IncSyncPass("partial")
	}

	e.logger.Info().Int("succeeded", result.Succeeded).Int("failed", result.Failed).Msg("sync pass finished")
	return result, nil
}
