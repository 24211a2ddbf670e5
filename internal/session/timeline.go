package session

import (
	"time"

	"parentlink-client/internal/models"

	"github.com/google/uuid"
)

// Timeline holds the ordered message sequence for one open chat room and
// reconciles locally created optimistic entries with server-confirmed state.
// Entries render in append order; history pages are prepended as a block and
// never interleaved. Timeline is not safe for concurrent use on its own; the
// Controller serializes access behind its mutex.
type Timeline struct {
	entries []*models.Message
}

func NewTimeline() *Timeline {
	return &Timeline{}
}

func (t *Timeline) Len() int {
	return len(t.entries)
}

// Messages returns a copy of the entry slice. The entries themselves are
// shared; callers must not mutate them.
func (t *Timeline) Messages() []*models.Message {
	out := make([]*models.Message, len(t.entries))
	copy(out, t.entries)
	return out
}

// AppendLocal appends an optimistic entry to the tail. At most one Pending
// entry per correlation ID can exist at a time, which the Controller
// guarantees by generating a fresh ID per send.
func (t *Timeline) AppendLocal(m *models.Message) {
	t.entries = append(t.entries, m)
}

// Confirm converts the Pending entry matching correlationID into its
// server-confirmed form, in place, preserving its position in the sequence.
// An unmatched confirmation (already resolved, duplicate delivery, or lost
// optimistic state after restart) is dropped: it must never create a new
// visible entry. Returns whether anything changed.
func (t *Timeline) Confirm(correlationID string, serverID uuid.UUID, createdAt time.Time) bool {
	for _, e := range t.entries {
		if e.CorrelationID == correlationID && e.Delivery == models.DeliveryPending {
			e.ID = serverID
			e.CreatedAt = createdAt
			e.Delivery = models.DeliverySent
			return true
		}
	}
	return false
}

// Fail marks the Pending entry matching correlationID as Failed, leaving it
// in place so the user can see and retry that specific message. No other
// entry is touched. Returns whether anything changed.
func (t *Timeline) Fail(correlationID string) bool {
	for _, e := range t.entries {
		if e.CorrelationID == correlationID && e.Delivery == models.DeliveryPending {
			e.Delivery = models.DeliveryFailed
			return true
		}
	}
	return false
}

// ResetForRetry flips a Failed entry back to Pending under a fresh
// correlation ID, keeping its position, so the user can retry it in place.
// Returns the entry, or nil if no Failed entry matches.
func (t *Timeline) ResetForRetry(correlationID, newCorrelationID string) *models.Message {
	for _, e := range t.entries {
		if e.CorrelationID == correlationID && e.Delivery == models.DeliveryFailed {
			e.CorrelationID = newCorrelationID
			e.Delivery = models.DeliveryPending
			e.CreatedAt = time.Now()
			return e
		}
	}
	return nil
}

// AppendInbound appends a message from another participant. Duplicate
// deliveries by server ID (possible under reconnect replay) are ignored.
// Returns whether the entry was added.
func (t *Timeline) AppendInbound(m *models.Message) bool {
	if m.Confirmed() && t.containsID(m.ID) {
		return false
	}
	m.Delivery = models.DeliverySent
	t.entries = append(t.entries, m)
	return true
}

// MarkRead sets the read flag on every entry whose ID is in ids. It is a
// pure set-membership update: nothing is reordered or removed, and applying
// the same batch twice is a no-op the second time. Returns how many entries
// changed.
func (t *Timeline) MarkRead(ids []uuid.UUID) int {
	if len(ids) == 0 {
		return 0
	}
	set := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	changed := 0
	for _, e := range t.entries {
		if e.Confirmed() && set[e.ID] && !e.Read {
			e.Read = true
			changed++
		}
	}
	return changed
}

// PrependHistory inserts an older page at the head, as a block, preserving
// the page's own order. Entries already present by server ID are skipped.
// Returns how many entries were added.
func (t *Timeline) PrependHistory(batch []*models.Message) int {
	keep := make([]*models.Message, 0, len(batch))
	for _, m := range batch {
		if m.Confirmed() && t.containsID(m.ID) {
			continue
		}
		keep = append(keep, m)
	}
	if len(keep) == 0 {
		return 0
	}
	t.entries = append(keep, t.entries...)
	return len(keep)
}

// UnreadFromPeer lists the IDs of confirmed entries authored by the other
// participant that are not yet marked read. This is the input to a
// read-receipt batch.
func (t *Timeline) UnreadFromPeer() []uuid.UUID {
	var ids []uuid.UUID
	for _, e := range t.entries {
		if e.Confirmed() && !e.Sender.IsLocal && !e.Read {
			ids = append(ids, e.ID)
		}
	}
	return ids
}

func (t *Timeline) containsID(id uuid.UUID) bool {
	for _, e := range t.entries {
		if e.ID == id {
			return true
		}
	}
	return false
}
