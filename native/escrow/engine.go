package escrow

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"proofofwork/core/events"
	"proofofwork/core/types"
	"proofofwork/crypto"
)

// CustodyLabel seeds the derived account that holds escrowed funds.
const CustodyLabel = "proofofwork/escrow/custody"

// CustodyAddress returns the account holding every escrowed amount between
// creation and settlement.
func CustodyAddress() [20]byte {
	return crypto.DeriveAddress(CustodyLabel).Raw()
}

type engineState interface {
	EscrowPut(*Escrow) error
	EscrowGet(jobID uint64) (*Escrow, bool, error)
	// Snapshot and RevertToSnapshot bound the writes of a failed step.
	Snapshot() int
	RevertToSnapshot(id int)
}

// Transferer moves a fixed amount between two accounts. Implementations must
// either apply the whole transfer or nothing.
type Transferer interface {
	Transfer(from, to [20]byte, amount *big.Int) error
}

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// Engine holds the escrow transition rules. Persistence, value transfer and
// event delivery are injected.
type Engine struct {
	state   engineState
	bank    Transferer
	emitter events.Emitter
	metric  Metric
	owner   [20]byte
	custody [20]byte
	nowFn   func() int64
}

// NewEngine creates an escrow engine with a no-op emitter, the planar metric
// and the derived custody account.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		metric:  PlanarMetric{},
		custody: CustodyAddress(),
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetTransferer configures the value transfer service.
func (e *Engine) SetTransferer(bank Transferer) { e.bank = bank }

// SetOwner records the administrative owner of the ledger.
func (e *Engine) SetOwner(owner [20]byte) { e.owner = owner }

// Owner returns the administrative owner. No transition consults it.
func (e *Engine) Owner() [20]byte { return e.owner }

// Custody returns the account holding escrowed funds.
func (e *Engine) Custody() [20]byte { return e.custody }

// SetMetric selects the geofence distance metric. Passing nil restores the
// planar metric.
func (e *Engine) SetMetric(m Metric) {
	if m == nil {
		e.metric = PlanarMetric{}
		return
	}
	e.metric = m
}

// Metric returns the active distance metric.
func (e *Engine) Metric() Metric { return e.metric }

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(escrowEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) loadEscrow(jobID uint64) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	esc, ok, err := e.state.EscrowGet(jobID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: job %d", ErrNotFound, jobID)
	}
	return esc, nil
}

func (e *Engine) storeEscrow(esc *Escrow) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return e.state.EscrowPut(esc)
}

// transfer runs the value transfer and tags any failure as ErrTransferFailed.
func (e *Engine) transfer(from, to [20]byte, amount *big.Int) error {
	if e.bank == nil {
		return fmt.Errorf("%w: transfer service not configured", ErrTransferFailed)
	}
	if err := e.bank.Transfer(from, to, cloneBigInt(amount)); err != nil {
		if errors.Is(err, ErrTransferFailed) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	return nil
}

// Create records a new escrow for jobID and moves amount from the caller into
// custody. When the deposit fails the record is rolled back so the job id
// stays available.
func (e *Engine) Create(caller [20]byte, jobID uint64, worker [20]byte, amount *big.Int, location Location, radius uint64) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := e.metric.Validate(location); err != nil {
		return nil, err
	}
	esc, err := SanitizeEscrow(&Escrow{
		JobID:     jobID,
		Business:  caller,
		Worker:    worker,
		Amount:    amount,
		Location:  location,
		Radius:    radius,
		Status:    EscrowCreated,
		CreatedAt: e.now(),
	})
	if err != nil {
		return nil, err
	}
	if _, exists, err := e.state.EscrowGet(jobID); err != nil {
		return nil, err
	} else if exists {
		return nil, fmt.Errorf("%w: job %d", ErrDuplicateJob, jobID)
	}

	snap := e.state.Snapshot()
	if err := e.storeEscrow(esc); err != nil {
		e.state.RevertToSnapshot(snap)
		return nil, err
	}
	if err := e.transfer(caller, e.custody, esc.Amount); err != nil {
		e.state.RevertToSnapshot(snap)
		return nil, err
	}
	e.emit(NewCreatedEvent(esc))
	return esc.Clone(), nil
}

// VerifyAndRelease checks the claimed position against the job geofence and,
// when inside, pays the worker. Anyone may submit a claim; presence is the
// authorization. A failed payout leaves the escrow verified so RetryRelease can
// finish it.
func (e *Engine) VerifyAndRelease(jobID uint64, claim Location) (*Escrow, error) {
	esc, err := e.loadEscrow(jobID)
	if err != nil {
		return nil, err
	}
	if esc.Status != EscrowCreated {
		return nil, fmt.Errorf("%w: cannot verify job %d in status %s", ErrInvalidState, jobID, esc.Status)
	}
	if err := e.metric.Validate(claim); err != nil {
		return nil, err
	}
	distance, ok := WithinRadius(e.metric, esc.Location, claim, esc.Radius)
	if !ok {
		return nil, fmt.Errorf("%w: distance %s exceeds radius %d", ErrOutOfRange, distance, esc.Radius)
	}
	esc.Status = EscrowVerified
	if err := e.storeEscrow(esc); err != nil {
		return nil, err
	}
	e.emit(NewVerifiedEvent(esc, distance.String()))
	return e.release(esc)
}

// RetryRelease pays out an escrow left verified by an earlier failed
// transfer. The geofence is not checked again.
func (e *Engine) RetryRelease(jobID uint64) (*Escrow, error) {
	esc, err := e.loadEscrow(jobID)
	if err != nil {
		return nil, err
	}
	if esc.Status != EscrowVerified {
		return nil, fmt.Errorf("%w: cannot retry release of job %d in status %s", ErrInvalidState, jobID, esc.Status)
	}
	return e.release(esc)
}

func (e *Engine) release(esc *Escrow) (*Escrow, error) {
	snap := e.state.Snapshot()
	if err := e.transfer(e.custody, esc.Worker, esc.Amount); err != nil {
		e.state.RevertToSnapshot(snap)
		e.emit(NewReleaseFailedEvent(esc, err.Error()))
		return esc.Clone(), err
	}
	esc.Status = EscrowReleased
	if err := e.storeEscrow(esc); err != nil {
		e.state.RevertToSnapshot(snap)
		return nil, err
	}
	e.emit(NewReleasedEvent(esc))
	return esc.Clone(), nil
}

// Cancel returns the escrowed amount to the business. Only the business may
// cancel, and only before verification. A failed refund leaves the escrow
// created.
func (e *Engine) Cancel(caller [20]byte, jobID uint64) (*Escrow, error) {
	esc, err := e.loadEscrow(jobID)
	if err != nil {
		return nil, err
	}
	if caller != esc.Business {
		return nil, fmt.Errorf("%w: only the business may cancel job %d", ErrUnauthorized, jobID)
	}
	if esc.Status != EscrowCreated {
		return nil, fmt.Errorf("%w: cannot cancel job %d in status %s", ErrInvalidState, jobID, esc.Status)
	}
	snap := e.state.Snapshot()
	esc.Status = EscrowCancelled
	if err := e.storeEscrow(esc); err != nil {
		e.state.RevertToSnapshot(snap)
		return nil, err
	}
	if err := e.transfer(e.custody, esc.Business, esc.Amount); err != nil {
		e.state.RevertToSnapshot(snap)
		return nil, err
	}
	e.emit(NewCancelledEvent(esc))
	return esc.Clone(), nil
}

// Get returns a copy of the escrow stored for jobID.
func (e *Engine) Get(jobID uint64) (*Escrow, error) {
	esc, err := e.loadEscrow(jobID)
	if err != nil {
		return nil, err
	}
	return esc.Clone(), nil
}
