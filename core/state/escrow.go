package state

import (
	"fmt"
	"math/big"

	"proofofwork/native/escrow"
)

// storedEscrow is the RLP layout of an escrow record. RLP has no signed
// integers, so coordinates and the creation time are kept as their two's
// complement bit patterns.
type storedEscrow struct {
	JobID     uint64
	Business  [20]byte
	Worker    [20]byte
	Amount    *big.Int
	Latitude  uint64
	Longitude uint64
	Radius    uint64
	Status    uint8
	CreatedAt uint64
}

func newStoredEscrow(e *escrow.Escrow) *storedEscrow {
	return &storedEscrow{
		JobID:     e.JobID,
		Business:  e.Business,
		Worker:    e.Worker,
		Amount:    new(big.Int).Set(e.Amount),
		Latitude:  uint64(e.Location.Latitude),
		Longitude: uint64(e.Location.Longitude),
		Radius:    e.Radius,
		Status:    uint8(e.Status),
		CreatedAt: uint64(e.CreatedAt),
	}
}

func (s *storedEscrow) toEscrow() *escrow.Escrow {
	amount := big.NewInt(0)
	if s.Amount != nil {
		amount.Set(s.Amount)
	}
	return &escrow.Escrow{
		JobID:     s.JobID,
		Business:  s.Business,
		Worker:    s.Worker,
		Amount:    amount,
		Location:  escrow.Location{Latitude: int64(s.Latitude), Longitude: int64(s.Longitude)},
		Radius:    s.Radius,
		Status:    escrow.EscrowStatus(s.Status),
		CreatedAt: int64(s.CreatedAt),
	}
}

// EscrowPut validates and stores the escrow record under its job id.
func (m *Manager) EscrowPut(e *escrow.Escrow) error {
	sanitized, err := escrow.SanitizeEscrow(e)
	if err != nil {
		return err
	}
	return m.putRLP(escrowKey(sanitized.JobID), newStoredEscrow(sanitized))
}

// EscrowGet loads the escrow stored for jobID. The boolean is false when no
// record exists.
func (m *Manager) EscrowGet(jobID uint64) (*escrow.Escrow, bool, error) {
	var stored storedEscrow
	ok, err := m.getRLP(escrowKey(jobID), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return stored.toEscrow(), true, nil
}

// EscrowJobIDs returns every stored job id in ascending order.
func (m *Manager) EscrowJobIDs() ([]uint64, error) {
	keys, err := m.keys(escrowPrefix)
	if err != nil {
		return nil, err
	}
	ids := make([]uint64, 0, len(keys))
	for _, key := range keys {
		id, ok := jobIDFromKey(key)
		if !ok {
			return nil, fmt.Errorf("state: malformed escrow key %x", key)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
