package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"parking-service/internal/domain/parking"
)

// BillingRepository persists bills and payment transactions. Settlement is
// the one concurrent-writer hot spot, so it runs entirely under FOR UPDATE.
type BillingRepository struct {
	db *gorm.DB
}

func NewBillingRepository(db *gorm.DB) *BillingRepository {
	return &BillingRepository{db: db}
}

func (r *BillingRepository) CreateBill(ctx context.Context, b *Bill) error {
	now := time.Now().UTC()
	b.Created = now
	b.Modified = now
	if b.Status == "" {
		b.Status = parking.BillUnpaid
	}
	return r.db.WithContext(ctx).Create(b).Error
}

func (r *BillingRepository) GetBill(ctx context.Context, id int64) (*Bill, error) {
	var b Bill
	err := r.db.WithContext(ctx).Where("id = ? AND is_deleted = FALSE", id).First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *BillingRepository) GetBills(ctx context.Context, ids []int64) ([]Bill, error) {
	var bills []Bill
	err := r.db.WithContext(ctx).
		Where("id IN ? AND is_deleted = FALSE", ids).
		Order("id ASC").
		Find(&bills).Error
	return bills, err
}

// LatestBillForRecord returns the newest bill issued against the record.
func (r *BillingRepository) LatestBillForRecord(ctx context.Context, recordID int64) (*Bill, error) {
	var b Bill
	err := r.db.WithContext(ctx).
		Where("record_id = ? AND is_deleted = FALSE", recordID).
		Order("created DESC, id DESC").
		First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// HasBillForRecord backs the at-most-once issuance per visit window.
func (r *BillingRepository) HasBillForRecord(ctx context.Context, recordID int64, issuedBy parking.IssuedBy) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Bill{}).
		Where("record_id = ? AND issued_by = ? AND is_deleted = FALSE", recordID, issuedBy).
		Count(&n).Error
	return n > 0, err
}

// Settle marks the given bills paid with the rrn, skipping any whose
// rrn_number is already set. Each row is locked FOR UPDATE; a settled bill
// is never overwritten. Returns the updated and skipped id lists.
func (r *BillingRepository) Settle(ctx context.Context, billIDs []int64, rrn string, paidAt time.Time) (updated, skipped []int64, err error) {
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var bills []Bill
		if err := tx.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id IN ? AND is_deleted = FALSE", billIDs).
			Order("id ASC").
			Find(&bills).Error; err != nil {
			return err
		}
		for _, b := range bills {
			if b.RRNNumber != nil {
				skipped = append(skipped, b.ID)
				continue
			}
			if err := tx.Model(&Bill{}).
				Where("id = ?", b.ID).
				Updates(map[string]interface{}{
					"status":     parking.BillPaid,
					"rrn_number": rrn,
					"time_paid":  paidAt,
					"modified":   time.Now().UTC(),
				}).Error; err != nil {
				return err
			}
			updated = append(updated, b.ID)
		}
		return nil
	})
	return updated, skipped, err
}

// BillFilter narrows bill listings for kiosks and reports.
type BillFilter struct {
	Plate    string
	RecordID *int64
	ZoneIDs  []int64
	Statuses []parking.BillStatus
	From     *time.Time
	To       *time.Time
}

func (r *BillingRepository) applyFilter(q *gorm.DB, f BillFilter) *gorm.DB {
	q = q.Where("is_deleted = FALSE")
	if f.Plate != "" {
		q = q.Where("plate = ?", f.Plate)
	}
	if f.RecordID != nil {
		q = q.Where("record_id = ?", *f.RecordID)
	}
	if len(f.ZoneIDs) > 0 {
		q = q.Where("zone_id IN ?", f.ZoneIDs)
	}
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", f.Statuses)
	}
	if f.From != nil {
		q = q.Where("created >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("created <= ?", *f.To)
	}
	return q
}

func (r *BillingRepository) FindBills(ctx context.Context, f BillFilter, page Page) ([]Bill, error) {
	var bills []Bill
	q := r.applyFilter(r.db.WithContext(ctx).Model(&Bill{}), f)
	err := q.Order(page.order()).Limit(page.limit()).Offset(page.Offset).Find(&bills).Error
	return bills, err
}

func (r *BillingRepository) CountBills(ctx context.Context, f BillFilter) (int64, error) {
	var n int64
	err := r.applyFilter(r.db.WithContext(ctx).Model(&Bill{}), f).Count(&n).Error
	return n, err
}

func (r *BillingRepository) CreateTransaction(ctx context.Context, billIDs []int64, amount int64, callbackURL *string) (*Transaction, error) {
	raw, err := json.Marshal(billIDs)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	t := &Transaction{
		BillIDs:     raw,
		Amount:      amount,
		CallbackURL: callbackURL,
		Status:      parking.TxCreated,
		Created:     now,
		Modified:    now,
	}
	if err := r.db.WithContext(ctx).Create(t).Error; err != nil {
		return nil, err
	}
	return t, nil
}

func (r *BillingRepository) GetTransaction(ctx context.Context, id int64) (*Transaction, error) {
	var t Transaction
	err := r.db.WithContext(ctx).Where("id = ? AND is_deleted = FALSE", id).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *BillingRepository) GetTransactionByOrderID(ctx context.Context, orderID string) (*Transaction, error) {
	var t Transaction
	err := r.db.WithContext(ctx).
		Where("gateway_order_id = ? AND is_deleted = FALSE", orderID).
		First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *BillingRepository) UpdateTransaction(ctx context.Context, id int64, status parking.TransactionStatus, orderID, rrn *string) error {
	updates := map[string]interface{}{
		"status":   status,
		"modified": time.Now().UTC(),
	}
	if orderID != nil {
		updates["gateway_order_id"] = *orderID
	}
	if rrn != nil {
		updates["rrn"] = *rrn
	}
	return r.db.WithContext(ctx).Model(&Transaction{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// TransactionBillIDs decodes the bill id list stored on the transaction.
func TransactionBillIDs(t *Transaction) ([]int64, error) {
	var ids []int64
	if err := json.Unmarshal(t.BillIDs, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}
