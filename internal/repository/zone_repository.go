package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"parking-service/internal/domain/parking"
)

// ZoneRepository covers zones, their bound prices and the cameras hanging
// off them. Zones form a forest; ancestry queries are bounded at depth 8.
type ZoneRepository struct {
	db *gorm.DB
}

func NewZoneRepository(db *gorm.DB) *ZoneRepository {
	return &ZoneRepository{db: db}
}

func (r *ZoneRepository) GetZone(ctx context.Context, id int64) (*Zone, error) {
	var z Zone
	err := r.db.WithContext(ctx).Where("id = ? AND is_deleted = FALSE", id).First(&z).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &z, nil
}

// CreateZone enforces the unique-name invariant up front so callers get the
// structured conflict code instead of a driver error.
func (r *ZoneRepository) CreateZone(ctx context.Context, z *Zone) error {
	var n int64
	if err := r.db.WithContext(ctx).Model(&Zone{}).
		Where("name = ? AND is_deleted = FALSE", z.Name).
		Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return parking.ErrDuplicateZoneName
	}
	now := time.Now().UTC()
	z.Created = now
	z.Modified = now
	return r.db.WithContext(ctx).Create(z).Error
}

func (r *ZoneRepository) UpdateZone(ctx context.Context, z *Zone) error {
	z.Modified = time.Now().UTC()
	return r.db.WithContext(ctx).Save(z).Error
}

func (r *ZoneRepository) SoftDeleteZone(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Model(&Zone{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"is_deleted": true,
			"modified":   time.Now().UTC(),
		}).Error
}

const zoneDescendantsCTE = `
WITH RECURSIVE sub AS (
	SELECT id, parent_zone_id, 0 AS depth FROM zones WHERE id = ? AND is_deleted = FALSE
	UNION ALL
	SELECT z.id, z.parent_zone_id, sub.depth + 1
	FROM zones z JOIN sub ON z.parent_zone_id = sub.id
	WHERE z.is_deleted = FALSE AND sub.depth < 8
)
SELECT id FROM sub`

const zoneAncestorsCTE = `
WITH RECURSIVE up AS (
	SELECT id, parent_zone_id, 0 AS depth FROM zones WHERE id = ? AND is_deleted = FALSE
	UNION ALL
	SELECT z.id, z.parent_zone_id, up.depth + 1
	FROM zones z JOIN up ON up.parent_zone_id = z.id
	WHERE z.is_deleted = FALSE AND up.depth < 8
)
SELECT id FROM up WHERE id <> ?`

// Descendants returns the zone itself plus its transitive children.
func (r *ZoneRepository) Descendants(ctx context.Context, zoneID int64) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).Raw(zoneDescendantsCTE, zoneID).Scan(&ids).Error
	return ids, err
}

// Ancestors returns the transitive parents, excluding the zone itself.
func (r *ZoneRepository) Ancestors(ctx context.Context, zoneID int64) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).Raw(zoneAncestorsCTE, zoneID, zoneID).Scan(&ids).Error
	return ids, err
}

// PriceForZone resolves the zone's bound price, walking up the forest when
// the zone itself has none. Returns nil when no ancestor binds one.
func (r *ZoneRepository) PriceForZone(ctx context.Context, zoneID int64) (*Price, error) {
	cur, err := r.GetZone(ctx, zoneID)
	if err != nil {
		return nil, err
	}
	for depth := 0; cur != nil && depth < 8; depth++ {
		if cur.PriceID != nil {
			var p Price
			err := r.db.WithContext(ctx).
				Where("id = ? AND is_deleted = FALSE", *cur.PriceID).
				First(&p).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, nil
			}
			if err != nil {
				return nil, err
			}
			return &p, nil
		}
		if cur.ParentZoneID == nil {
			break
		}
		cur, err = r.GetZone(ctx, *cur.ParentZoneID)
		if err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func (r *ZoneRepository) CreatePrice(ctx context.Context, p *Price) error {
	now := time.Now().UTC()
	p.Created = now
	p.Modified = now
	return r.db.WithContext(ctx).Create(p).Error
}

// BindPrice points a zone at a price model.
func (r *ZoneRepository) BindPrice(ctx context.Context, zoneID, priceID int64) error {
	return r.db.WithContext(ctx).Model(&Zone{}).
		Where("id = ?", zoneID).
		Updates(map[string]interface{}{
			"price_id": priceID,
			"modified": time.Now().UTC(),
		}).Error
}

func (r *ZoneRepository) GetCamera(ctx context.Context, id int64) (*Camera, error) {
	var c Camera
	err := r.db.WithContext(ctx).Where("id = ? AND is_deleted = FALSE", id).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateCamera enforces the unique IP and serial invariants with the
// structured conflict codes.
func (r *ZoneRepository) CreateCamera(ctx context.Context, c *Camera) error {
	if c.IP != nil {
		var n int64
		if err := r.db.WithContext(ctx).Model(&Camera{}).
			Where("ip = ? AND is_deleted = FALSE", *c.IP).
			Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return parking.ErrDuplicateIP
		}
	}
	if c.Serial != nil {
		var n int64
		if err := r.db.WithContext(ctx).Model(&Camera{}).
			Where("serial = ? AND is_deleted = FALSE", *c.Serial).
			Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return parking.ErrDuplicateSerial
		}
	}
	now := time.Now().UTC()
	c.Created = now
	c.Modified = now
	return r.db.WithContext(ctx).Create(c).Error
}

// Summary rolls up occupancy for the zone subtree: open records count as
// occupants, capped at capacity so a miscount never reports negative space.
func (r *ZoneRepository) Summary(ctx context.Context, zoneID int64) (*parking.ZoneSummary, error) {
	z, err := r.GetZone(ctx, zoneID)
	if err != nil {
		return nil, err
	}
	if z == nil {
		return nil, parking.ErrNotFound
	}
	ids, err := r.Descendants(ctx, zoneID)
	if err != nil {
		return nil, err
	}
	var open int64
	err = r.db.WithContext(ctx).Model(&Record{}).
		Where("zone_id IN ? AND latest_status = ? AND is_deleted = FALSE", ids, parking.RecordUnfinished).
		Count(&open).Error
	if err != nil {
		return nil, err
	}
	full := int(open)
	if full > z.Capacity {
		full = z.Capacity
	}
	return &parking.ZoneSummary{
		ZoneID:   z.ID,
		ZoneName: z.Name,
		Capacity: z.Capacity,
		Full:     full,
		Empty:    z.Capacity - full,
	}, nil
}
