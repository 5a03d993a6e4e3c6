package syncer

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"sachet/internal/connectivity"
	"sachet/internal/events"
	"sachet/internal/models"
	"sachet/internal/queue"
	"sachet/internal/store"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeUploader records upload order and fails the ids listed in failIDs.
type fakeUploader struct {
	mu       sync.Mutex
	uploaded []int64
	failIDs  map[int64]bool
	block    chan struct{}
}

func (f *fakeUploader) Upload(ctx context.Context, report *models.HazardReport) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploaded = append(f.uploaded, report.ID)
	if f.failIDs[report.ID] {
		return fmt.Errorf("upload report %d: http 500", report.ID)
	}
	return nil
}

func (f *fakeUploader) order() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.uploaded...)
}

type capturedEvents struct {
	mu            sync.Mutex
	notifications []events.SyncNotification
}

func capture(bus *events.Bus) *capturedEvents {
	c := &capturedEvents{}
	bus.SubscribeNotifications(func(e events.SyncNotification) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.notifications = append(c.notifications, e)
	})
	return c
}

func (c *capturedEvents) all() []events.SyncNotification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]events.SyncNotification(nil), c.notifications...)
}

func setupEngine(t *testing.T, conn connectivity.Observer, uploader Uploader) (*Engine, *queue.Manager, *events.Bus) {
	logger := zerolog.Nop()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	bus := events.NewBus()
	q := queue.NewManager(st, conn, bus, &logger)
	return New(q, uploader, conn, bus, &logger), q, bus
}

func savePayload(t *testing.T, q *queue.Manager, hazardType string) int64 {
	t.Helper()
	id, err := q.SaveReport(context.Background(), models.ReportPayload{
		HazardType:  hazardType,
		Description: "x",
		Latitude:    13.08,
		Longitude:   80.27,
	})
	require.NoError(t, err)
	return id
}

func TestSyncPending_OfflineGuard(t *testing.T) {
	uploader := &fakeUploader{}
	engine, q, bus := setupEngine(t, connectivity.NewManual(false), uploader)
	savePayload(t, q, "Flood")

	captured := capture(bus)
	result, err := engine.SyncPending(context.Background())
	require.NoError(t, err)

	assert.True(t, result.Skipped)
	assert.Empty(t, uploader.order())

	pending, err := q.GetPendingReports(context.Background())
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	notifications := captured.all()
	require.Len(t, notifications, 1)
	assert.Equal(t, events.KindWarning, notifications[0].Kind)
}

func TestSyncPending_NothingToSync(t *testing.T) {
	uploader := &fakeUploader{}
	engine, _, bus := setupEngine(t, connectivity.NewManual(true), uploader)

	captured := capture(bus)
	result, err := engine.SyncPending(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Result{}, result)
	assert.Empty(t, uploader.order())

	notifications := captured.all()
	require.Len(t, notifications, 1)
	assert.Equal(t, events.KindSuccess, notifications[0].Kind)
}

func TestSyncPending_UploadsOldestFirst(t *testing.T) {
	uploader := &fakeUploader{}
	engine, q, _ := setupEngine(t, connectivity.NewManual(true), uploader)

	idA := savePayload(t, q, "A")
	idB := savePayload(t, q, "B")
	idC := savePayload(t, q, "C")

	result, err := engine.SyncPending(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, result.Succeeded)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, []int64{idA, idB, idC}, uploader.order())
}

func TestSyncPending_PartialFailure(t *testing.T) {
	engine, q, bus := setupEngine(t, connectivity.NewManual(true), nil)

	id1 := savePayload(t, q, "First")
	id2 := savePayload(t, q, "Second")
	id3 := savePayload(t, q, "Third")

	uploader := &fakeUploader{failIDs: map[int64]bool{id2: true}}
	engine.uploader = uploader

	captured := capture(bus)
	result, err := engine.SyncPending(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, []int64{id1, id2, id3}, uploader.order())

	ctx := context.Background()
	all, err := q.GetAllReports(ctx)
	require.NoError(t, err)
	statuses := map[int64]string{}
	for _, r := range all {
		statuses[r.ID] = r.SyncStatus
	}
	assert.Equal(t, models.StatusSynced, statuses[id1])
	assert.Equal(t, models.StatusPending, statuses[id2])
	assert.Equal(t, models.StatusSynced, statuses[id3])

	notifications := captured.all()
	require.NotEmpty(t, notifications)
	final := notifications[len(notifications)-1]
	assert.Equal(t, events.KindWarning, final.Kind)
	assert.Contains(t, final.Message, "Synced 2, 1 failed")
}

func TestSyncPending_SyncedAtSetOnlyOnSuccess(t *testing.T) {
	engine, q, _ := setupEngine(t, connectivity.NewManual(true), nil)

	id1 := savePayload(t, q, "ok")
	id2 := savePayload(t, q, "fails")
	engine.uploader = &fakeUploader{failIDs: map[int64]bool{id2: true}}

	_, err := engine.SyncPending(context.Background())
	require.NoError(t, err)

	all, err := q.GetAllReports(context.Background())
	require.NoError(t, err)
	for _, r := range all {
		switch r.ID {
		case id1:
			assert.Equal(t, models.StatusSynced, r.SyncStatus)
			assert.NotNil(t, r.SyncedAt)
		case id2:
			assert.Equal(t, models.StatusPending, r.SyncStatus)
			assert.Nil(t, r.SyncedAt)
		}
	}
}

func TestSyncPending_FailedRecordRetriedNextPass(t *testing.T) {
	engine, q, _ := setupEngine(t, connectivity.NewManual(true), nil)

	id := savePayload(t, q, "flaky")
	uploader := &fakeUploader{failIDs: map[int64]bool{id: true}}
	engine.uploader = uploader

	result, err := engine.SyncPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)

	// No retry within a pass: exactly one attempt so far.
	assert.Len(t, uploader.order(), 1)

	uploader.mu.Lock()
	uploader.failIDs = nil
	uploader.mu.Unlock()

	result, err = engine.SyncPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)
}

func TestSyncPending_OverlappingTriggerIgnored(t *testing.T) {
	engine, q, _ := setupEngine(t, connectivity.NewManual(true), nil)
	savePayload(t, q, "slow")

	block := make(chan struct{})
	uploader := &fakeUploader{block: block}
	engine.uploader = uploader

	firstDone := make(chan Result, 1)
	go func() {
		result, _ := engine.SyncPending(context.Background())
		firstDone <- result
	}()

	// Wait until the first pass holds the in-flight guard.
	require.Eventually(t, func() bool { return engine.inFlight.Load() }, time.Second, time.Millisecond)

	second, err := engine.SyncPending(context.Background())
	require.NoError(t, err)
	assert.True(t, second.Skipped)
	assert.Equal(t, "sync already in progress", second.Reason)

	close(block)
	first := <-firstDone
	assert.Equal(t, 1, first.Succeeded)

	// Only one upload happened despite two triggers.
	assert.Len(t, uploader.order(), 1)
}
