package escrow

import (
	"fmt"
	"math/big"
	"strings"
)

// EscrowStatus represents the lifecycle states of a location-gated escrow.
type EscrowStatus uint8

const (
	EscrowCreated EscrowStatus = iota
	// EscrowVerified records a passed geofence check whose payout has not
	// landed yet. It is only observable after a failed release transfer.
	EscrowVerified
	EscrowReleased
	EscrowCancelled
)

// Valid reports whether the status value is within the supported range.
func (s EscrowStatus) Valid() bool {
	switch s {
	case EscrowCreated, EscrowVerified, EscrowReleased, EscrowCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition is permitted.
func (s EscrowStatus) Terminal() bool {
	return s == EscrowReleased || s == EscrowCancelled
}

func (s EscrowStatus) String() string {
	switch s {
	case EscrowCreated:
		return "created"
	case EscrowVerified:
		return "verified"
	case EscrowReleased:
		return "released"
	case EscrowCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// ParseStatus converts a lower- or mixed-case status name back to its value.
func ParseStatus(name string) (EscrowStatus, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "created":
		return EscrowCreated, nil
	case "verified":
		return EscrowVerified, nil
	case "released":
		return EscrowReleased, nil
	case "cancelled", "canceled":
		return EscrowCancelled, nil
	default:
		return 0, fmt.Errorf("%w: unknown escrow status %q", ErrInvalidParams, name)
	}
}

// Location is a fixed-point coordinate pair. The unit depends on the
// configured distance metric.
type Location struct {
	Latitude  int64
	Longitude int64
}

// Escrow captures the immutable terms and runtime status of a single job
// payment held in custody.
type Escrow struct {
	JobID     uint64
	Business  [20]byte
	Worker    [20]byte
	Amount    *big.Int
	Location  Location
	Radius    uint64
	Status    EscrowStatus
	CreatedAt int64
}

// Clone returns a deep copy of the escrow object so callers can safely mutate
// the copy without affecting the stored instance.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Amount = cloneBigInt(e.Amount)
	return &clone
}

// SanitizeEscrow validates the supplied escrow definition and returns a cloned
// instance with a non-nil amount. The original value is not mutated.
func SanitizeEscrow(e *Escrow) (*Escrow, error) {
	if e == nil {
		return nil, fmt.Errorf("%w: nil escrow", ErrInvalidParams)
	}
	clone := e.Clone()
	if clone.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: escrow amount must be positive", ErrInvalidParams)
	}
	if clone.Business == ([20]byte{}) {
		return nil, fmt.Errorf("%w: business address required", ErrInvalidParams)
	}
	if clone.Worker == ([20]byte{}) {
		return nil, fmt.Errorf("%w: worker address required", ErrInvalidParams)
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("%w: invalid escrow status: %d", ErrInvalidParams, clone.Status)
	}
	return clone, nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
