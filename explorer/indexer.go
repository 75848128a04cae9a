package explorer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"proofofwork/core"
	"proofofwork/core/events"
	"proofofwork/crypto"
	"proofofwork/native/escrow"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open connects to the indexer database. SQLite DSNs may be a file path or
// "file::memory:".
func Open(driver, dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverSQLite:
		if strings.TrimSpace(dsn) == "" {
			dsn = "file::memory:?cache=shared"
		}
		return gorm.Open(sqlite.Open(dsn), cfg)
	case DriverPostgres:
		return gorm.Open(postgres.Open(dsn), cfg)
	default:
		return nil, fmt.Errorf("explorer: unsupported driver %q", driver)
	}
}

// Indexer projects committed escrow events into SQL tables so listings can be
// filtered without scanning the ledger.
type Indexer struct {
	db     *gorm.DB
	logger *slog.Logger
	nowFn  func() time.Time
}

// NewIndexer migrates the schema and returns an indexer writing to db.
func NewIndexer(db *gorm.DB) (*Indexer, error) {
	if db == nil {
		return nil, fmt.Errorf("explorer: database required")
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("explorer: migrate: %w", err)
	}
	return &Indexer{db: db, logger: slog.Default(), nowFn: time.Now}, nil
}

// SetLogger replaces the default logger.
func (i *Indexer) SetLogger(l *slog.Logger) {
	if l != nil {
		i.logger = l
	}
}

// Emit implements events.Emitter. Indexing failures are logged; the ledger
// stays the source of truth and Sync repairs the projection.
func (i *Indexer) Emit(evt events.Event) {
	if err := i.Record(context.Background(), evt); err != nil {
		i.logger.Error("index escrow event",
			slog.String("type", evt.EventType()),
			slog.Any("error", err))
	}
}

// Record stores evt and updates the escrow projection in one transaction.
func (i *Indexer) Record(ctx context.Context, evt events.Event) error {
	payload := events.PayloadOf(evt)
	if payload == nil {
		return nil
	}
	row, err := rowFromAttributes(payload.Attributes)
	if err != nil {
		return err
	}
	attrs, err := json.Marshal(payload.Attributes)
	if err != nil {
		return err
	}
	event := EventRow{
		ID:         uuid.New(),
		JobID:      row.JobID,
		Type:       payload.Type,
		Label:      EventLabel(payload.Type),
		Attributes: string(attrs),
		RecordedAt: i.nowFn().UTC(),
	}
	return i.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := upsertEscrow(tx, row); err != nil {
			return err
		}
		return tx.Create(&event).Error
	})
}

func upsertEscrow(tx *gorm.DB, row *EscrowRow) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "job_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "updated_at"}),
	}).Create(row).Error
}

// Sync upserts the full state of every supplied escrow. It is run at start-up
// to repair a projection that missed events.
func (i *Indexer) Sync(ctx context.Context, escrows []*escrow.Escrow) error {
	if len(escrows) == 0 {
		return nil
	}
	rows := make([]EscrowRow, 0, len(escrows))
	for _, esc := range escrows {
		rows = append(rows, *rowFromEscrow(esc))
	}
	return i.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "job_id"}},
		UpdateAll: true,
	}).CreateInBatches(rows, 200).Error
}

// EscrowList answers filtered listings from the projection.
func (i *Indexer) EscrowList(filter core.EscrowFilter) ([]*escrow.Escrow, error) {
	query := i.db.Model(&EscrowRow{}).Order("job_id ASC")
	if filter.Business != nil {
		query = query.Where("business = ?", crypto.FromRaw(*filter.Business).String())
	}
	if filter.Worker != nil {
		query = query.Where("worker = ?", crypto.FromRaw(*filter.Worker).String())
	}
	if filter.Status != nil {
		query = query.Where("status = ?", filter.Status.String())
	}
	var rows []EscrowRow
	if err := query.Limit(filter.PageSize()).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*escrow.Escrow, 0, len(rows))
	for idx := range rows {
		esc, err := rows[idx].toEscrow()
		if err != nil {
			return nil, err
		}
		out = append(out, esc)
	}
	return out, nil
}

// Events returns the recorded events for jobID in commit order.
func (i *Indexer) Events(ctx context.Context, jobID uint64) ([]EventRow, error) {
	var rows []EventRow
	err := i.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("recorded_at ASC").
		Find(&rows).Error
	return rows, err
}

func rowFromEscrow(esc *escrow.Escrow) *EscrowRow {
	return &EscrowRow{
		JobID:     esc.JobID,
		Business:  crypto.FromRaw(esc.Business).String(),
		Worker:    crypto.FromRaw(esc.Worker).String(),
		Amount:    esc.Amount.String(),
		Latitude:  esc.Location.Latitude,
		Longitude: esc.Location.Longitude,
		Radius:    esc.Radius,
		Status:    esc.Status.String(),
		CreatedAt: esc.CreatedAt,
	}
}

func rowFromAttributes(attrs map[string]string) (*EscrowRow, error) {
	jobID, err := strconv.ParseUint(attrs["jobId"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("explorer: event jobId: %w", err)
	}
	lat, err := strconv.ParseInt(attrs["latitude"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("explorer: event latitude: %w", err)
	}
	lng, err := strconv.ParseInt(attrs["longitude"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("explorer: event longitude: %w", err)
	}
	radius, err := strconv.ParseUint(attrs["radius"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("explorer: event radius: %w", err)
	}
	createdAt, err := strconv.ParseInt(attrs["createdAt"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("explorer: event createdAt: %w", err)
	}
	return &EscrowRow{
		JobID:     jobID,
		Business:  attrs["business"],
		Worker:    attrs["worker"],
		Amount:    attrs["amount"],
		Latitude:  lat,
		Longitude: lng,
		Radius:    radius,
		Status:    attrs["status"],
		CreatedAt: createdAt,
	}, nil
}

func (r *EscrowRow) toEscrow() (*escrow.Escrow, error) {
	business, err := crypto.DecodeAddress(r.Business)
	if err != nil {
		return nil, fmt.Errorf("explorer: job %d business: %w", r.JobID, err)
	}
	worker, err := crypto.DecodeAddress(r.Worker)
	if err != nil {
		return nil, fmt.Errorf("explorer: job %d worker: %w", r.JobID, err)
	}
	amount, ok := new(big.Int).SetString(r.Amount, 10)
	if !ok {
		return nil, fmt.Errorf("explorer: job %d amount %q", r.JobID, r.Amount)
	}
	status, err := escrow.ParseStatus(r.Status)
	if err != nil {
		return nil, err
	}
	return &escrow.Escrow{
		JobID:     r.JobID,
		Business:  business.Raw(),
		Worker:    worker.Raw(),
		Amount:    amount,
		Location:  escrow.Location{Latitude: r.Latitude, Longitude: r.Longitude},
		Radius:    r.Radius,
		Status:    status,
		CreatedAt: r.CreatedAt,
	}, nil
}
