package models

import "time"

// Sync status values for a stored report. A report only ever moves
// pending -> synced; there is no reverse transition.
const (
	StatusPending = "pending"
	StatusSynced  = "synced"
)

// ReportPayload carries the citizen-supplied hazard report fields. The sync
// layer treats it as opaque data beyond serialization; only these fields are
// sent to the ingestion endpoint.
type ReportPayload struct {
	HazardType  string  `json:"hazard_type"`
	Description string  `json:"description"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	MediaRef    string  `json:"media_ref,omitempty"`
}

// HazardReport is the unit of persistence: a payload plus local sync
// bookkeeping. IDs are assigned by the store at insert time and never change.
type HazardReport struct {
	ID             int64         `json:"id"`
	Payload        ReportPayload `json:"payload"`
	SyncStatus     string        `json:"sync_status"`
	CreatedAt      time.Time     `json:"created_at"`
	CreatedOffline bool          `json:"created_offline"`
	SyncedAt       *time.Time    `json:"synced_at,omitempty"`
}

// Pending reports true while the report has not been confirmed uploaded.
func (r *HazardReport) Pending() bool {
	return r.SyncStatus == StatusPending
}
