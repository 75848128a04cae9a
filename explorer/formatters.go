package explorer

import "strings"

// EventLabel returns the human readable label stored with an indexed event.
func EventLabel(eventType string) string {
	switch strings.TrimSpace(eventType) {
	case "escrow.created":
		return "Escrow funded"
	case "escrow.verified":
		return "Presence verified"
	case "escrow.released":
		return "Paid to worker"
	case "escrow.cancelled":
		return "Refunded to business"
	case "escrow.release_failed":
		return "Payout failed"
	}
	normalized := strings.TrimSpace(eventType)
	if normalized == "" {
		normalized = "unknown"
	}
	return "Event " + normalized
}
