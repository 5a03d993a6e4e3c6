package agent

import (
	"context"
	"sync"
	"time"

	"sachet/internal/connectivity"
	"sachet/internal/events"
	"sachet/internal/queue"
	"sachet/internal/syncer"

	"github.com/rs/zerolog"
)

// Agent owns process-wide initialization order and reacts to connectivity
// transitions. It is an explicit service object: construct, Start, Stop —
// no package-level state, so tests can run independent instances.
type Agent struct {
	queue        *queue.Manager
	engine       *syncer.Engine
	conn         connectivity.Observer
	bus          *events.Bus
	logger       *zerolog.Logger
	startupDelay time.Duration

	mu           sync.Mutex
	startupTimer *time.Timer
	ctx          context.Context
	cancel       context.CancelFunc
}

// New wires a lifecycle controller. startupDelay spaces the automatic
// first sync away from process start; it is UX sequencing, not correctness.
func New(q *queue.Manager, engine *syncer.Engine, conn connectivity.Observer, bus *events.Bus, startupDelay time.Duration, logger *zerolog.Logger) *Agent {
	return &Agent{
		queue:        q,
		engine:       engine,
		conn:         conn,
		bus:          bus,
		logger:       logger,
		startupDelay: startupDelay,
	}
}

// Start registers connectivity listeners, broadcasts the initial pending
// count and, when online with a non-empty queue, schedules the startup sync.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.mu.Unlock()

	a.conn.OnChange(a.onConnectivityChange)

	a.queue.BroadcastStatus(a.ctx)

	if a.conn.Online() {
		pending, err := a.queue.GetPendingReports(a.ctx)
		if err != nil {
			return err
		}
		if len(pending) > 0 {
			a.logger.Info().Int("pending", len(pending)).Dur("delay", a.startupDelay).
				Msg("scheduling startup sync")
			a.scheduleStartupSync()
		}
	}

	a.logger.Info().Msg("offline sync agent started")
	return nil
}

// Stop cancels any scheduled startup sync and the agent context. A pass
// interrupted mid-flight leaves unconfirmed reports pending for the next run.
func (a *Agent) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.startupTimer != nil {
		a.startupTimer.Stop()
		a.startupTimer = nil
	}
	if a.cancel != nil {
		a.cancel()
	}
	a.logger.Info().Msg("offline sync agent stopped")
}

// SyncNow is the manual trigger. It runs the same path as the automatic
// triggers, offline guard included.
func (a *Agent) SyncNow(ctx context.Context) (syncer.Result, error) {
	return a.engine.SyncPending(ctx)
}

func (a *Agent) scheduleStartupSync() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.startupTimer = time.AfterFunc(a.startupDelay, func() {
		if a.ctx.Err() != nil {
			return
		}
		if _, err := a.engine.SyncPending(a.ctx); err != nil {
			a.logger.Error().Err(err).Msg("startup sync failed")
		}
	})
}

func (a *Agent) onConnectivityChange(online bool) {
	if !online {
		a.logger.Warn().Msg("connection lost, entering offline mode")
		a.bus.Notify("Offline mode. Reports will sync when connected.", events.KindWarning)
		return
	}

	a.logger.Info().Msg("connection restored, auto-syncing")
	a.bus.Notify("Connection restored. Syncing reports...", events.KindInfo)
	if _, err := a.engine.SyncPending(a.ctx); err != nil {
		a.logger.Error().Err(err).Msg("reconnect sync failed")
	}
}
