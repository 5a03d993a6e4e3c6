package queue

import (
	"context"
	"fmt"
	"time"

	"sachet/internal/connectivity"
	"sachet/internal/events"
	"sachet/internal/metrics"
	"sachet/internal/models"
	"sachet/internal/store"

	"github.com/rs/zerolog"
)

// Manager imposes the sync workflow semantics on top of the durable store:
// it is the sole mutator of stored reports. Saving never touches the network.
type Manager struct {
	store  *store.Store
	conn   connectivity.Observer
	bus    *events.Bus
	logger *zerolog.Logger
}

// NewManager wires a queue manager over an opened store.
func NewManager(st *store.Store, conn connectivity.Observer, bus *events.Bus, logger *zerolog.Logger) *Manager {
	return &Manager{store: st, conn: conn, bus: bus, logger: logger}
}

// SaveReport persists a new report as pending and returns its id. The
// createdOffline flag records the connectivity state at save time; it never
// affects sync eligibility.
func (m *Manager) SaveReport(ctx context.Context, payload models.ReportPayload) (int64, error) {
	report := models.HazardReport{
		Payload:        payload,
		SyncStatus:     models.StatusPending,
		CreatedAt:      time.Now().UTC(),
		CreatedOffline: !m.conn.Online(),
	}

	id, err := m.store.Insert(ctx, &report)
	if err != nil {
		return 0, fmt.Errorf("save report: %w", err)
	}

	m.logger.Info().Int64("id", id).Str("hazard_type", payload.HazardType).
		Bool("created_offline", report.CreatedOffline).Msg("report saved locally")
	metrics.IncReportSaved()

	m.BroadcastStatus(ctx)
	return id, nil
}

// GetPendingReports returns all pending reports, oldest first.
func (m *Manager) GetPendingReports(ctx context.Context) ([]models.HazardReport, error) {
	return m.store.GetByStatus(ctx, models.StatusPending)
}

// GetAllReports returns every report regardless of status, for diagnostics
// and export.
func (m *Manager) GetAllReports(ctx context.Context) ([]models.HazardReport, error) {
	return m.store.GetAll(ctx)
}

// MarkSynced flips a report to synced and stamps syncedAt. A stale id is an
// error: sync accounting depends on the transition actually happening.
func (m *Manager) MarkSynced(ctx context.Context, id int64) error {
	err := m.store.Update(ctx, id, func(report *models.HazardReport) error {
		now := time.Now().UTC()
		report.SyncStatus = models.StatusSynced
		report.SyncedAt = &now
		return nil
	})
	if err != nil {
		return fmt.Errorf("mark synced %d: %w", id, err)
	}

	m.logger.Info().Int64("id", id).Msg("report marked as synced")
	m.BroadcastStatus(ctx)
	return nil
}

// PendingCount returns the current pending queue depth.
func (m *Manager) PendingCount(ctx context.Context) (int, error) {
	return m.store.CountByStatus(ctx, models.StatusPending)
}

// BroadcastStatus recomputes the pending count from the store and publishes
// a status-changed event. This is the only path by which listeners learn the
// queue depth, so it always reads the store rather than a cached value.
func (m *Manager) BroadcastStatus(ctx context.Context) {
	count, err := m.PendingCount(ctx)
	if err != nil {
		m.logger.Error().Err(err).Msg("failed to recompute pending count")
		return
	}
	metrics.SetPendingDepth(count)
	m.bus.PublishStatus(events.StatusChanged{PendingCount: count})
}
