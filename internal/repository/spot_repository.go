package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"parking-service/internal/domain/parking"
)

type SpotRepository struct {
	db *gorm.DB
}

func NewSpotRepository(db *gorm.DB) *SpotRepository {
	return &SpotRepository{db: db}
}

func (r *SpotRepository) Get(ctx context.Context, id int64) (*Spot, error) {
	var s Spot
	err := r.db.WithContext(ctx).Where("id = ? AND is_deleted = FALSE", id).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *SpotRepository) Create(ctx context.Context, s *Spot) error {
	now := time.Now().UTC()
	s.Created = now
	s.Modified = now
	if s.Status == "" {
		s.Status = parking.SpotEmpty
	}
	return r.db.WithContext(ctx).Create(s).Error
}

// UpdateStatus applies an occupancy change. A spot holds at most one
// occupant plate: clearing to empty also clears the plate, and a disconnect
// keeps whatever plate was last seen until the hardware reports again.
func (r *SpotRepository) UpdateStatus(ctx context.Context, id int64, status parking.SpotStatus, plate string, at time.Time) error {
	updates := map[string]interface{}{
		"status":          status,
		"latest_modified": at,
		"modified":        time.Now().UTC(),
	}
	switch status {
	case parking.SpotEmpty:
		updates["current_plate"] = nil
	case parking.SpotFull, parking.SpotEntranceDoor, parking.SpotExitDoor:
		if plate != "" {
			updates["current_plate"] = plate
		}
	}
	return r.db.WithContext(ctx).Model(&Spot{}).
		Where("id = ? AND is_deleted = FALSE", id).
		Updates(updates).Error
}

func (r *SpotRepository) ListByZone(ctx context.Context, zoneIDs []int64) ([]Spot, error) {
	var spots []Spot
	q := r.db.WithContext(ctx).Where("is_deleted = FALSE")
	if len(zoneIDs) > 0 {
		q = q.Where("zone_id IN ?", zoneIDs)
	}
	err := q.Order("name ASC, id ASC").Find(&spots).Error
	return spots, err
}
