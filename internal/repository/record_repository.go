package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"parking-service/internal/domain/parking"
	"parking-service/internal/utils"
)

type RecordRepository struct {
	db *gorm.DB
}

func NewRecordRepository(db *gorm.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

// RecordTx exposes the row-locked mutations available inside InTx. Locks are
// held until the enclosing transaction commits.
type RecordTx struct {
	tx *gorm.DB
}

// InTx runs fn inside a database transaction. Every record mutation the
// correlator performs goes through here so concurrent workers for the same
// plate serialize on the row lock.
func (r *RecordRepository) InTx(ctx context.Context, fn func(tx *RecordTx) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&RecordTx{tx: tx})
	})
}

// LockOpenByPlate locks every unfinished record for the plate across all
// zones, newest end_time first. Used to heal ambiguous histories.
func (t *RecordTx) LockOpenByPlate(plate string) ([]Record, error) {
	var recs []Record
	err := t.tx.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("plate = ? AND latest_status = ? AND is_deleted = FALSE",
			plate, parking.RecordUnfinished).
		Order("end_time DESC, id DESC").
		Find(&recs).Error
	return recs, err
}

// FindOverlapping locks the record whose [start_time, end_time] overlaps
// [at-offset, at+offset] for (plate, zone), preferring the latest end_time.
func (t *RecordTx) FindOverlapping(plate string, zoneID int64, at time.Time, offset time.Duration) (*Record, error) {
	var rec Record
	lo, hi := at.Add(-offset), at.Add(offset)
	err := t.tx.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("plate = ? AND zone_id = ? AND is_deleted = FALSE AND start_time <= ? AND end_time >= ?",
			plate, zoneID, hi, lo).
		Order("end_time DESC, id DESC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (t *RecordTx) Create(rec *Record) error {
	now := time.Now().UTC()
	rec.Created = now
	rec.Modified = now
	return t.tx.Create(rec).Error
}

func (t *RecordTx) Save(rec *Record) error {
	rec.Modified = time.Now().UTC()
	return t.tx.Save(rec).Error
}

// AssignPlates points the plate rows of a detection burst at their record.
func (t *RecordTx) AssignPlates(plateText string, cameraID *int64, from, to time.Time, recordID int64) error {
	q := t.tx.Model(&Plate{}).
		Where("plate = ? AND record_time BETWEEN ? AND ? AND record_id IS NULL", plateText, from, to)
	if cameraID != nil {
		q = q.Where("camera_id = ?", *cameraID)
	}
	return q.Updates(map[string]interface{}{
		"record_id": recordID,
		"modified":  time.Now().UTC(),
	}).Error
}

func (r *RecordRepository) GetByID(ctx context.Context, id int64) (*Record, error) {
	var rec Record
	err := r.db.WithContext(ctx).
		Where("id = ? AND is_deleted = FALSE", id).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// LatestOpenByPlate is the kiosk lookup: newest unfinished record for the
// plate regardless of zone.
func (r *RecordRepository) LatestOpenByPlate(ctx context.Context, plate string) (*Record, error) {
	var rec Record
	err := r.db.WithContext(ctx).
		Where("plate = ? AND latest_status = ? AND is_deleted = FALSE", plate, parking.RecordUnfinished).
		Order("end_time DESC, id DESC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// RecordFilter narrows Find/Count. Plate accepts `?` wildcards.
type RecordFilter struct {
	Plate    string
	From     *time.Time
	To       *time.Time
	ZoneIDs  []int64
	CameraID *int64
	Statuses []parking.RecordStatus
}

func (r *RecordRepository) applyFilter(q *gorm.DB, f RecordFilter) *gorm.DB {
	q = q.Where("is_deleted = FALSE")
	if f.Plate != "" {
		q = q.Where("plate LIKE ?", utils.WildcardToLike(f.Plate))
	}
	if f.From != nil {
		q = q.Where("end_time >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("start_time <= ?", *f.To)
	}
	if len(f.ZoneIDs) > 0 {
		q = q.Where("zone_id IN ?", f.ZoneIDs)
	}
	if f.CameraID != nil {
		q = q.Where("entrance_camera_id = ? OR exit_camera_id = ?", *f.CameraID, *f.CameraID)
	}
	if len(f.Statuses) > 0 {
		q = q.Where("latest_status IN ?", f.Statuses)
	}
	return q
}

func (r *RecordRepository) Find(ctx context.Context, f RecordFilter, page Page) ([]Record, error) {
	var recs []Record
	q := r.applyFilter(r.db.WithContext(ctx).Model(&Record{}), f)
	err := q.Order(page.order()).Limit(page.limit()).Offset(page.Offset).Find(&recs).Error
	return recs, err
}

func (r *RecordRepository) Count(ctx context.Context, f RecordFilter) (int64, error) {
	var n int64
	err := r.applyFilter(r.db.WithContext(ctx).Model(&Record{}), f).Count(&n).Error
	return n, err
}

func (r *RecordRepository) SoftDelete(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Model(&Record{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"is_deleted": true,
			"modified":   time.Now().UTC(),
		}).Error
}

// SweepStale flips unfinished records whose end_time predates cutoff to
// unknown. Idempotent; run at startup and on a timer.
func (r *RecordRepository) SweepStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&Record{}).
		Where("latest_status = ? AND end_time < ? AND is_deleted = FALSE",
			parking.RecordUnfinished, cutoff).
		Updates(map[string]interface{}{
			"latest_status": parking.RecordUnknown,
			"modified":      time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

// View joins the display names onto a record for the records:1 payload.
// Persistent rows stay untouched; this is the only place names are attached.
func (r *RecordRepository) View(ctx context.Context, id int64) (*parking.RecordView, error) {
	var row struct {
		Record
		ZoneName         *string
		CameraEntryName  *string
		CameraLevingName *string
	}
	err := r.db.WithContext(ctx).
		Table("records").
		Select(`records.*, zones.name AS zone_name,
			ec.name AS camera_entry_name, xc.name AS camera_leving_name`).
		Joins("LEFT JOIN zones ON zones.id = records.zone_id").
		Joins("LEFT JOIN cameras ec ON ec.id = records.entrance_camera_id").
		Joins("LEFT JOIN cameras xc ON xc.id = records.exit_camera_id").
		Where("records.id = ?", id).
		Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.Record.ID == 0 {
		return nil, nil
	}
	v := &parking.RecordView{
		ID:               row.Record.ID,
		Plate:            row.Record.Plate,
		StartTime:        row.Record.StartTime,
		EndTime:          row.Record.EndTime,
		Status:           row.Record.LatestStatus,
		Score:            row.Record.Score,
		ZoneID:           row.Record.ZoneID,
		EntranceCameraID: row.Record.EntranceCameraID,
		ExitCameraID:     row.Record.ExitCameraID,
		BestPlateImageID: row.Record.BestPlateImageID,
		BestLPRImageID:   row.Record.BestLPRImageID,
		Modified:         row.Record.Modified,
	}
	if row.ZoneName != nil {
		v.ZoneName = *row.ZoneName
	}
	if row.CameraEntryName != nil {
		v.CameraEntryName = *row.CameraEntryName
	}
	if row.CameraLevingName != nil {
		v.CameraLevingName = *row.CameraLevingName
	}
	return v, nil
}
