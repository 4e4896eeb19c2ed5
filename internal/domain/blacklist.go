package domain

import (
	"time"

	"github.com/google/uuid"
)

// BlacklistEntry is one intrusion vector persisted as an <id>.npy +
// <id>.jpg pair in the quarantine directory. Confirmed
// entries were promoted by a human via confirm_intrusion; unconfirmed
// entries remain quarantined and are subject to deletion.
type BlacklistEntry struct {
	ID            uuid.UUID
	Embedding     Embedding
	FirstSeen     time.Time
	HitCount      int
	ScreenshotRef string
	Confirmed     bool
}
