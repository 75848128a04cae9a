package core

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"

	"proofofwork/core/events"
	"proofofwork/core/genesis"
	powstate "proofofwork/core/state"
	"proofofwork/crypto"
	"proofofwork/native/bank"
	"proofofwork/native/escrow"
	"proofofwork/observability"
	"proofofwork/storage"
)

// ErrCommitFailed is returned when an operation ran but its writes could not be
// persisted. Nothing from the operation is kept.
var ErrCommitFailed = errors.New("core: state commit failed")

// NodeConfig carries the ledger settings fixed at start-up.
type NodeConfig struct {
	Owner   [20]byte
	Metric  escrow.Metric
	Genesis []genesis.Allocation
}

// Node owns the escrow ledger state and serializes every mutating request.
// Each request runs against the journaled state manager and is committed as a
// unit before its events are published.
type Node struct {
	mu      sync.RWMutex
	db      storage.Database
	state   *powstate.Manager
	bank    *bank.Ledger
	owner   [20]byte
	metric  escrow.Metric
	sink    events.Emitter
	metrics *observability.EscrowMetrics
	logger  *slog.Logger
	nowFn   func() int64
}

// NewNode opens the ledger on db and applies the genesis allocations when the
// database is fresh.
func NewNode(db storage.Database, cfg NodeConfig) (*Node, error) {
	if db == nil {
		return nil, fmt.Errorf("database must not be nil")
	}
	manager := powstate.NewManager(db)
	metric := cfg.Metric
	if metric == nil {
		metric = escrow.PlanarMetric{}
	}
	n := &Node{
		db:      db,
		state:   manager,
		bank:    bank.NewLedger(manager),
		owner:   cfg.Owner,
		metric:  metric,
		sink:    events.NoopEmitter{},
		metrics: observability.Escrow(),
		logger:  slog.Default(),
	}
	applied, err := genesis.Apply(manager, n.bank, cfg.Genesis)
	if err != nil {
		manager.Discard()
		return nil, err
	}
	if applied {
		if err := manager.Commit(); err != nil {
			manager.Discard()
			return nil, fmt.Errorf("commit genesis: %w", err)
		}
		n.logger.Info("genesis applied", slog.Int("allocations", len(cfg.Genesis)))
	}
	return n, nil
}

// SetEventSink configures where committed events are published.
func (n *Node) SetEventSink(sink events.Emitter) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if sink == nil {
		n.sink = events.NoopEmitter{}
		return
	}
	n.sink = sink
}

// SetLogger replaces the default logger.
func (n *Node) SetLogger(logger *slog.Logger) {
	if logger != nil {
		n.logger = logger
	}
}

// SetMetrics replaces the default escrow metrics.
func (n *Node) SetMetrics(metrics *observability.EscrowMetrics) { n.metrics = metrics }

// SetNowFunc overrides the escrow creation clock.
func (n *Node) SetNowFunc(now func() int64) { n.nowFn = now }

func (n *Node) newEscrowEngine(emitter events.Emitter) *escrow.Engine {
	engine := escrow.NewEngine()
	engine.SetState(n.state)
	engine.SetTransferer(n.bank)
	engine.SetEmitter(emitter)
	engine.SetOwner(n.owner)
	engine.SetMetric(n.metric)
	if n.nowFn != nil {
		engine.SetNowFunc(n.nowFn)
	}
	return engine
}

// mutate runs one escrow operation under the write lock and commits whatever
// the engine left staged, including the verified status of a failed payout.
func (n *Node) mutate(op string, jobID uint64, fn func(*escrow.Engine) (*escrow.Escrow, error)) (*escrow.Escrow, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	buffer := &events.Buffer{}
	esc, opErr := fn(n.newEscrowEngine(buffer))

	commitErr := n.state.Commit()
	n.metrics.ObserveCommit(commitErr)
	if commitErr != nil {
		n.state.Discard()
		buffer.Reset()
		n.logger.Error("escrow commit failed",
			slog.String("operation", op),
			slog.Uint64("job_id", jobID),
			slog.Any("error", commitErr))
		return nil, fmt.Errorf("%w: %w", ErrCommitFailed, commitErr)
	}

	n.publish(buffer)
	n.observe(op, jobID, esc, opErr)
	return esc, opErr
}

func (n *Node) publish(buffer *events.Buffer) {
	recorder := &eventRecorder{metrics: n.metrics, next: n.sink}
	buffer.Flush(recorder)
}

func (n *Node) observe(op string, jobID uint64, esc *escrow.Escrow, err error) {
	outcome := outcomeOf(err)
	n.metrics.ObserveOperation(op, outcome)
	if errors.Is(err, escrow.ErrTransferFailed) && (op == "create" || op == "cancel") {
		direction := "deposit"
		if op == "cancel" {
			direction = "refund"
		}
		n.metrics.ObserveTransfer(direction, false)
	}
	attrs := []any{
		slog.String("operation", op),
		slog.Uint64("job_id", jobID),
		slog.String("outcome", outcome),
	}
	if esc != nil {
		attrs = append(attrs, slog.String("status", esc.Status.String()))
	}
	switch {
	case err == nil:
		n.logger.Info("escrow transition", attrs...)
	case errors.Is(err, escrow.ErrTransferFailed):
		n.logger.Warn("escrow transfer failed", append(attrs, slog.Any("error", err))...)
	default:
		n.logger.Debug("escrow request rejected", append(attrs, slog.Any("error", err))...)
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, escrow.ErrDuplicateJob):
		return "duplicate_job"
	case errors.Is(err, escrow.ErrNotFound):
		return "not_found"
	case errors.Is(err, escrow.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, escrow.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, escrow.ErrOutOfRange):
		return "out_of_range"
	case errors.Is(err, escrow.ErrTransferFailed):
		return "transfer_failed"
	case errors.Is(err, escrow.ErrInvalidParams):
		return "invalid_params"
	default:
		return "error"
	}
}

// eventRecorder derives transfer and distance metrics from committed events
// before forwarding them.
type eventRecorder struct {
	metrics *observability.EscrowMetrics
	next    events.Emitter
}

func (r *eventRecorder) Emit(evt events.Event) {
	observability.Stream().RecordPublished(evt.EventType())
	switch evt.EventType() {
	case escrow.EventTypeEscrowCreated:
		r.metrics.ObserveTransfer("deposit", true)
	case escrow.EventTypeEscrowReleased:
		r.metrics.ObserveTransfer("release", true)
	case escrow.EventTypeEscrowReleaseFailed:
		r.metrics.ObserveTransfer("release", false)
	case escrow.EventTypeEscrowCancelled:
		r.metrics.ObserveTransfer("refund", true)
	case escrow.EventTypeEscrowVerified:
		if payload := events.PayloadOf(evt); payload != nil {
			if distance, ok := new(big.Int).SetString(payload.Attributes["distance"], 10); ok {
				r.metrics.ObserveDistance(distance)
			}
		}
	}
	r.next.Emit(evt)
}

// EscrowCreate funds a new escrow from caller.
func (n *Node) EscrowCreate(caller [20]byte, jobID uint64, worker [20]byte, amount *big.Int, location escrow.Location, radius uint64) (*escrow.Escrow, error) {
	return n.mutate("create", jobID, func(engine *escrow.Engine) (*escrow.Escrow, error) {
		return engine.Create(caller, jobID, worker, amount, location, radius)
	})
}

// EscrowVerifyAndRelease checks a presence claim and pays the worker.
func (n *Node) EscrowVerifyAndRelease(jobID uint64, claim escrow.Location) (*escrow.Escrow, error) {
	return n.mutate("verify", jobID, func(engine *escrow.Engine) (*escrow.Escrow, error) {
		return engine.VerifyAndRelease(jobID, claim)
	})
}

// EscrowRetryRelease pays out an escrow left verified by a failed transfer.
func (n *Node) EscrowRetryRelease(jobID uint64) (*escrow.Escrow, error) {
	return n.mutate("retry", jobID, func(engine *escrow.Engine) (*escrow.Escrow, error) {
		return engine.RetryRelease(jobID)
	})
}

// EscrowCancel refunds an unverified escrow to its business.
func (n *Node) EscrowCancel(caller [20]byte, jobID uint64) (*escrow.Escrow, error) {
	return n.mutate("cancel", jobID, func(engine *escrow.Engine) (*escrow.Escrow, error) {
		return engine.Cancel(caller, jobID)
	})
}

// EscrowGet returns the stored escrow for jobID.
func (n *Node) EscrowGet(jobID uint64) (*escrow.Escrow, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.newEscrowEngine(events.NoopEmitter{}).Get(jobID)
}

const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

// EscrowFilter narrows EscrowList results. Zero fields match everything.
type EscrowFilter struct {
	Business *[20]byte
	Worker   *[20]byte
	Status   *escrow.EscrowStatus
	Limit    int
}

// PageSize is Limit with DefaultListLimit applied and MaxListLimit enforced.
func (f EscrowFilter) PageSize() int {
	switch {
	case f.Limit <= 0:
		return DefaultListLimit
	case f.Limit > MaxListLimit:
		return MaxListLimit
	default:
		return f.Limit
	}
}

// Matches reports whether esc satisfies the filter.
func (f EscrowFilter) Matches(esc *escrow.Escrow) bool {
	if esc == nil {
		return false
	}
	if f.Business != nil && esc.Business != *f.Business {
		return false
	}
	if f.Worker != nil && esc.Worker != *f.Worker {
		return false
	}
	if f.Status != nil && esc.Status != *f.Status {
		return false
	}
	return true
}

// EscrowList scans the ledger in job id order, returning at most one page.
func (n *Node) EscrowList(filter EscrowFilter) ([]*escrow.Escrow, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.scan(filter, filter.PageSize())
}

// EscrowAll returns every stored escrow in job id order.
func (n *Node) EscrowAll() ([]*escrow.Escrow, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.scan(EscrowFilter{}, 0)
}

// scan collects matching escrows; limit 0 means no limit.
func (n *Node) scan(filter EscrowFilter, limit int) ([]*escrow.Escrow, error) {
	ids, err := n.state.EscrowJobIDs()
	if err != nil {
		return nil, err
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]*escrow.Escrow, 0)
	for _, id := range ids {
		esc, ok, err := n.state.EscrowGet(id)
		if err != nil {
			return nil, err
		}
		if !ok || !filter.Matches(esc) {
			continue
		}
		out = append(out, esc)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Balance returns the spendable balance of addr.
func (n *Node) Balance(addr [20]byte) (*big.Int, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.bank.Balance(addr)
}

// Owner returns the administrative owner of the ledger.
func (n *Node) Owner() [20]byte { return n.owner }

// Custody returns the account holding escrowed funds.
func (n *Node) Custody() [20]byte { return escrow.CustodyAddress() }

// MetricName reports the configured geofence metric.
func (n *Node) MetricName() string { return n.metric.Name() }

// Close releases the underlying database.
func (n *Node) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.db.Close()
}

// OwnerString renders the owner as a bech32 address, or "" when unset.
func (n *Node) OwnerString() string {
	if n.owner == ([20]byte{}) {
		return ""
	}
	return crypto.FromRaw(n.owner).String()
}
