package service

import (
	"context"
	"time"

	"parking-service/internal/domain/parking"
	"parking-service/internal/payment"
	"parking-service/internal/repository"
)

// Consumer-side interfaces over the store, broker and payment switch. The
// gorm repositories satisfy them in production; tests swap in the mocks
// from mocks_test.go.

// Publisher fans a payload out to dashboard subscribers.
// Implementations: broker.Broker
type Publisher interface {
	Publish(ctx context.Context, topic string, payload interface{})
}

// RecordTxn is the row-locked record mutation surface available inside a
// store transaction.
// Implementations: repository.RecordTx
type RecordTxn interface {
	LockOpenByPlate(plate string) ([]repository.Record, error)
	FindOverlapping(plate string, zoneID int64, at time.Time, offset time.Duration) (*repository.Record, error)
	Create(rec *repository.Record) error
	Save(rec *repository.Record) error
	AssignPlates(plateText string, cameraID *int64, from, to time.Time, recordID int64) error
}

// RecordStore owns visit records.
// Implementations: repository.RecordRepository (via NewRecordStore)
type RecordStore interface {
	InTx(ctx context.Context, fn func(tx RecordTxn) error) error
	GetByID(ctx context.Context, id int64) (*repository.Record, error)
	LatestOpenByPlate(ctx context.Context, plate string) (*repository.Record, error)
	View(ctx context.Context, id int64) (*parking.RecordView, error)
	SweepStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// DetectionStore owns raw plates, events, access lists and the dead-letter
// parking lot.
// Implementations: repository.LPRRepository
type DetectionStore interface {
	CreatePlate(ctx context.Context, p *repository.Plate) error
	HasRecentDetection(ctx context.Context, plate string, cameraID int64, at time.Time, window time.Duration) (bool, error)
	CreateEvent(ctx context.Context, e *repository.Event) error
	BindEventRecord(ctx context.Context, eventID, recordID int64) error
	FindListsForPlate(ctx context.Context, plate string, zoneID int64) ([]parking.ListHit, error)
	ParkDeadLetter(ctx context.Context, dl *repository.DeadLetter) error
}

// SpotStore owns stall occupancy.
// Implementations: repository.SpotRepository
type SpotStore interface {
	Get(ctx context.Context, id int64) (*repository.Spot, error)
	UpdateStatus(ctx context.Context, id int64, status parking.SpotStatus, plate string, at time.Time) error
}

// ZoneStore resolves zones, cameras and prices.
// Implementations: repository.ZoneRepository
type ZoneStore interface {
	GetZone(ctx context.Context, id int64) (*repository.Zone, error)
	GetCamera(ctx context.Context, id int64) (*repository.Camera, error)
	PriceForZone(ctx context.Context, zoneID int64) (*repository.Price, error)
}

// BillStore owns bills and payment transactions.
// Implementations: repository.BillingRepository
type BillStore interface {
	CreateBill(ctx context.Context, b *repository.Bill) error
	GetBills(ctx context.Context, ids []int64) ([]repository.Bill, error)
	LatestBillForRecord(ctx context.Context, recordID int64) (*repository.Bill, error)
	HasBillForRecord(ctx context.Context, recordID int64, issuedBy parking.IssuedBy) (bool, error)
	Settle(ctx context.Context, billIDs []int64, rrn string, paidAt time.Time) (updated, skipped []int64, err error)
	CreateTransaction(ctx context.Context, billIDs []int64, amount int64, callbackURL *string) (*repository.Transaction, error)
	GetTransactionByOrderID(ctx context.Context, orderID string) (*repository.Transaction, error)
	UpdateTransaction(ctx context.Context, id int64, status parking.TransactionStatus, orderID, rrn *string) error
}

// Gateway is the external payment switch.
// Implementations: payment.Client
type Gateway interface {
	Make(ctx context.Context, amount int64, mobile string, additional map[string]interface{}, withCallback bool) (*payment.MakeResult, error)
	Verify(ctx context.Context, orderID string) (*payment.VerifyResult, error)
}

// NewRecordStore adapts the concrete repository to RecordStore; the only
// impedance is the transaction callback's parameter type.
func NewRecordStore(repo *repository.RecordRepository) RecordStore {
	return recordStoreAdapter{repo}
}

type recordStoreAdapter struct {
	*repository.RecordRepository
}

func (a recordStoreAdapter) InTx(ctx context.Context, fn func(tx RecordTxn) error) error {
	return a.RecordRepository.InTx(ctx, func(tx *repository.RecordTx) error {
		return fn(tx)
	})
}
