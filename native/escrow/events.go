package escrow

import (
	"strconv"

	"proofofwork/core/types"
	"proofofwork/crypto"
)

const (
	EventTypeEscrowCreated       = "escrow.created"
	EventTypeEscrowVerified      = "escrow.verified"
	EventTypeEscrowReleased      = "escrow.released"
	EventTypeEscrowCancelled     = "escrow.cancelled"
	EventTypeEscrowReleaseFailed = "escrow.release_failed"
)

// NewCreatedEvent returns the canonical event payload for a newly funded
// escrow.
func NewCreatedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeEscrowCreated, e) }

// NewVerifiedEvent is emitted once the geofence check passed, before the
// payout is attempted.
func NewVerifiedEvent(e *Escrow, distance string) *types.Event {
	evt := newEscrowEvent(EventTypeEscrowVerified, e)
	if distance != "" {
		evt.Attributes["distance"] = distance
	}
	return evt
}

// NewReleasedEvent returns the canonical event payload for a payout to the
// worker.
func NewReleasedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeEscrowReleased, e) }

// NewCancelledEvent returns the canonical event payload for a refund to the
// business.
func NewCancelledEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeEscrowCancelled, e) }

// NewReleaseFailedEvent records a payout transfer that failed while the
// escrow stays verified.
func NewReleaseFailedEvent(e *Escrow, reason string) *types.Event {
	evt := newEscrowEvent(EventTypeEscrowReleaseFailed, e)
	if reason != "" {
		evt.Attributes["reason"] = reason
	}
	return evt
}

func newEscrowEvent(eventType string, e *Escrow) *types.Event {
	attrs := make(map[string]string)
	if e == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["jobId"] = strconv.FormatUint(e.JobID, 10)
	attrs["business"] = crypto.FromRaw(e.Business).String()
	attrs["worker"] = crypto.FromRaw(e.Worker).String()
	attrs["amount"] = cloneBigInt(e.Amount).String()
	attrs["latitude"] = strconv.FormatInt(e.Location.Latitude, 10)
	attrs["longitude"] = strconv.FormatInt(e.Location.Longitude, 10)
	attrs["radius"] = strconv.FormatUint(e.Radius, 10)
	attrs["status"] = e.Status.String()
	attrs["createdAt"] = strconv.FormatInt(e.CreatedAt, 10)
	return &types.Event{Type: eventType, Attributes: attrs}
}
