package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"parking-service/internal/domain/parking"
	"parking-service/internal/utils"
)

// LPRRepository persists raw detections and classified events and answers
// the dedup and access-list questions the ingest pipeline asks.
type LPRRepository struct {
	db *gorm.DB
}

func NewLPRRepository(db *gorm.DB) *LPRRepository {
	return &LPRRepository{db: db}
}

func (r *LPRRepository) CreatePlate(ctx context.Context, p *Plate) error {
	now := time.Now().UTC()
	p.Created = now
	p.Modified = now
	return r.db.WithContext(ctx).Create(p).Error
}

// HasRecentDetection reports whether an identical (plate, camera) detection
// already landed inside the same dedup bucket. Buckets are
// floor(record_time / window) so a burst straddling a bucket edge at most
// doubles, never floods.
func (r *LPRRepository) HasRecentDetection(ctx context.Context, plate string, cameraID int64, at time.Time, window time.Duration) (bool, error) {
	bucket := at.Unix() / int64(window.Seconds())
	lo := time.Unix(bucket*int64(window.Seconds()), 0).UTC()
	hi := lo.Add(window)
	var n int64
	err := r.db.WithContext(ctx).Model(&Plate{}).
		Where("plate = ? AND camera_id = ? AND record_time >= ? AND record_time < ? AND suppressed = FALSE AND is_deleted = FALSE",
			plate, cameraID, lo, hi).
		Count(&n).Error
	return n > 0, err
}

func (r *LPRRepository) CreateEvent(ctx context.Context, e *Event) error {
	now := time.Now().UTC()
	e.Created = now
	e.Modified = now
	return r.db.WithContext(ctx).Create(e).Error
}

// BindEventRecord sets the record id on an event exactly once.
func (r *LPRRepository) BindEventRecord(ctx context.Context, eventID, recordID int64) error {
	return r.db.WithContext(ctx).Model(&Event{}).
		Where("id = ? AND record_id IS NULL", eventID).
		Updates(map[string]interface{}{
			"record_id": recordID,
			"modified":  time.Now().UTC(),
		}).Error
}

func (r *LPRRepository) InvalidateEvent(ctx context.Context, eventID int64) error {
	return r.db.WithContext(ctx).Model(&Event{}).
		Where("id = ?", eventID).
		Updates(map[string]interface{}{
			"invalid":  true,
			"modified": time.Now().UTC(),
		}).Error
}

// FindListsForPlate returns the access lists carrying the plate, scoped to
// the zone's lists plus the site-wide ones (zone_id IS NULL).
func (r *LPRRepository) FindListsForPlate(ctx context.Context, plate string, zoneID int64) ([]parking.ListHit, error) {
	var hits []parking.ListHit
	err := r.db.WithContext(ctx).
		Table("list_items").
		Select("lists.id AS list_id, lists.name AS list_name, lists.type AS list_type, COALESCE(lists.zone_id, 0) AS zone_id").
		Joins("JOIN lists ON lists.id = list_items.list_id AND lists.is_deleted = FALSE").
		Where("list_items.plate = ? AND (lists.zone_id IS NULL OR lists.zone_id = ?)", plate, zoneID).
		Scan(&hits).Error
	if err != nil {
		return nil, err
	}
	return hits, nil
}

// DetectionFilter narrows plate/event listings. Plate accepts `?` wildcards.
type DetectionFilter struct {
	Plate    string
	From     *time.Time
	To       *time.Time
	ZoneIDs  []int64
	CameraID *int64
	Kinds    []parking.EventKind
}

func (r *LPRRepository) applyFilter(q *gorm.DB, f DetectionFilter) *gorm.DB {
	q = q.Where("is_deleted = FALSE")
	if f.Plate != "" {
		q = q.Where("plate LIKE ?", utils.WildcardToLike(f.Plate))
	}
	if f.From != nil {
		q = q.Where("record_time >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("record_time <= ?", *f.To)
	}
	if len(f.ZoneIDs) > 0 {
		q = q.Where("zone_id IN ?", f.ZoneIDs)
	}
	if f.CameraID != nil {
		q = q.Where("camera_id = ?", *f.CameraID)
	}
	return q
}

func (r *LPRRepository) FindPlates(ctx context.Context, f DetectionFilter, page Page) ([]Plate, error) {
	var rows []Plate
	q := r.applyFilter(r.db.WithContext(ctx).Model(&Plate{}), f)
	err := q.Order(page.order()).Limit(page.limit()).Offset(page.Offset).Find(&rows).Error
	return rows, err
}

func (r *LPRRepository) CountPlates(ctx context.Context, f DetectionFilter) (int64, error) {
	var n int64
	err := r.applyFilter(r.db.WithContext(ctx).Model(&Plate{}), f).Count(&n).Error
	return n, err
}

func (r *LPRRepository) FindEvents(ctx context.Context, f DetectionFilter, page Page) ([]Event, error) {
	var rows []Event
	q := r.applyFilter(r.db.WithContext(ctx).Model(&Event{}), f)
	if len(f.Kinds) > 0 {
		q = q.Where("kind IN ?", f.Kinds)
	}
	err := q.Order(page.order()).Limit(page.limit()).Offset(page.Offset).Find(&rows).Error
	return rows, err
}

func (r *LPRRepository) CountEvents(ctx context.Context, f DetectionFilter) (int64, error) {
	q := r.applyFilter(r.db.WithContext(ctx).Model(&Event{}), f)
	if len(f.Kinds) > 0 {
		q = q.Where("kind IN ?", f.Kinds)
	}
	var n int64
	err := q.Count(&n).Error
	return n, err
}

func (r *LPRRepository) GetEvent(ctx context.Context, id int64) (*Event, error) {
	var e Event
	err := r.db.WithContext(ctx).Where("id = ? AND is_deleted = FALSE", id).First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ParkDeadLetter stores an exhausted command with its full payload so the
// pipeline can continue.
func (r *LPRRepository) ParkDeadLetter(ctx context.Context, dl *DeadLetter) error {
	dl.Created = time.Now().UTC()
	return r.db.WithContext(ctx).Create(dl).Error
}
