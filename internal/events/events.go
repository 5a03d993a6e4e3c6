package events

import "sync"

// Notification kinds, matching the severity the UI toasts render.
const (
	KindSuccess = "success"
	KindWarning = "warning"
	KindError   = "error"
	KindInfo    = "info"
)

// StatusChanged is broadcast after every insert or sync-status mutation and
// carries the authoritative pending queue depth.
type StatusChanged struct {
	PendingCount int `json:"pending_count"`
}

// SyncNotification marks a user-visible milestone of a sync pass or a
// connectivity transition.
type SyncNotification struct {
	Message string `json:"message"`
	Kind    string `json:"kind"`
}

// StatusHandler reacts to a queue depth change.
type StatusHandler func(StatusChanged)

// NotificationHandler reacts to a sync notification.
type NotificationHandler func(SyncNotification)

// Bus provides in-process pub/sub for the two event shapes. Handlers run
// synchronously in subscription order; subscribers decide their own
// concurrency model.
type Bus struct {
	mu         sync.RWMutex
	statusSubs []StatusHandler
	notifySubs []NotificationHandler
}

// NewBus constructs an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// SubscribeStatus registers a handler for status-changed events.
func (b *Bus) SubscribeStatus(handler StatusHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statusSubs = append(b.statusSubs, handler)
}

// SubscribeNotifications registers a handler for sync notifications.
func (b *Bus) SubscribeNotifications(handler NotificationHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notifySubs = append(b.notifySubs, handler)
}

// PublishStatus notifies status subscribers. Nil-safe.
func (b *Bus) PublishStatus(event StatusChanged) {
	if b == nil {
		return
	}
	b.mu.RLock()
	handlers := append([]StatusHandler(nil), b.statusSubs...)
	b.mu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}

// Notify publishes a sync notification to all subscribers. Nil-safe.
func (b *Bus) Notify(message, kind string) {
	if b == nil {
		return
	}
	b.mu.RLock()
	handlers := append([]NotificationHandler(nil), b.notifySubs...)
	b.mu.RUnlock()

	event := SyncNotification{Message: message, Kind: kind}
	for _, handler := range handlers {
		handler(event)
	}
}
