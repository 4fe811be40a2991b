package repository

import (
	"time"

	"gorm.io/datatypes"

	"parking-service/internal/domain/parking"
)

// Persistence rows. Every table carries is_deleted/created/modified; soft
// delete flips the flag and stamps modified, rows are never physically
// removed while referenced.

type Zone struct {
	ID           int64 `gorm:"primaryKey"`
	Name         string
	Tag          *string
	FloorNumber  *int
	FloorName    *string
	ParentZoneID *int64
	Capacity     int
	PriceID      *int64
	IsDeleted    bool
	Created      time.Time
	Modified     time.Time
}

type Price struct {
	ID          int64 `gorm:"primaryKey"`
	Name        string
	HourlyFee   int64
	EntranceFee int64
	Schedule    datatypes.JSONMap
	IsDeleted   bool
	Created     time.Time
	Modified    time.Time
}

type Camera struct {
	ID        int64 `gorm:"primaryKey"`
	Name      string
	Tag       parking.CameraTag
	IP        *string
	Serial    *string
	ZoneID    *int64
	IsDeleted bool
	Created   time.Time
	Modified  time.Time
}

type Record struct {
	ID               int64 `gorm:"primaryKey"`
	Plate            string
	StartTime        time.Time
	EndTime          time.Time
	BestPlateImageID *int64
	BestLPRImageID   *int64
	Score            float64
	ZoneID           int64
	EntranceCameraID *int64
	ExitCameraID     *int64
	LatestStatus     parking.RecordStatus
	AdditionalData   datatypes.JSONMap
	IsDeleted        bool
	Created          time.Time
	Modified         time.Time
}

type Plate struct {
	ID           int64 `gorm:"primaryKey"`
	Plate        string
	RecordTime   time.Time
	CameraID     *int64
	ZoneID       int64
	PlateImageID *int64
	LPRImageID   *int64
	RecordID     *int64
	CameraTag    parking.CameraTag
	Score        float64
	Suppressed   bool
	RawPayload   datatypes.JSONMap
	IsDeleted    bool
	Created      time.Time
	Modified     time.Time
}

type Event struct {
	ID              int64 `gorm:"primaryKey"`
	Plate           string
	RecordTime      time.Time
	Kind            parking.EventKind
	CameraID        *int64
	SpotID          *int64
	ZoneID          int64
	RecordID        *int64
	DirectionInfo   datatypes.JSONMap
	Invalid         bool
	AdditionalData  datatypes.JSONMap
	CorrectionOfOCR *string
	IsDeleted       bool
	Created         time.Time
	Modified        time.Time
}

type Spot struct {
	ID             int64 `gorm:"primaryKey"`
	Name           string
	CameraID       *int64
	ZoneID         int64
	Status         parking.SpotStatus
	CurrentPlate   *string
	Geometry       datatypes.JSON
	LatestModified *time.Time
	IsDeleted      bool
	Created        time.Time
	Modified       time.Time
}

type Bill struct {
	ID           int64 `gorm:"primaryKey"`
	Plate        string
	StartTime    time.Time
	EndTime      time.Time
	EntranceFee  int64
	HourlyFee    int64
	Price        int64
	ZoneID       int64
	RecordID     *int64
	IssuedBy     parking.IssuedBy
	Status       parking.BillStatus
	RRNNumber    *string `gorm:"column:rrn_number"`
	TimePaid     *time.Time
	NoticeSentAt *time.Time
	IsDeleted    bool
	Created      time.Time
	Modified     time.Time
}

type Transaction struct {
	ID             int64          `gorm:"primaryKey"`
	BillIDs        datatypes.JSON `gorm:"column:bill_ids"`
	Amount         int64
	CallbackURL    *string
	GatewayOrderID *string
	Status         parking.TransactionStatus
	RRN            *string
	IsDeleted      bool
	Created        time.Time
	Modified       time.Time
}

type List struct {
	ID          int64 `gorm:"primaryKey"`
	Name        string
	Type        parking.ListType
	ZoneID      *int64
	Description *string
	IsDeleted   bool
	Created     time.Time
	Modified    time.Time
}

type ListItem struct {
	ListID  int64  `gorm:"primaryKey"`
	Plate   string `gorm:"primaryKey"`
	Note    *string
	Created time.Time
}

type DeadLetter struct {
	ID      int64 `gorm:"primaryKey"`
	Kind    string
	Payload datatypes.JSON
	Reason  string
	Created time.Time
}

// Page describes stable pagination: ordering is the tuple (sort key, id) so
// rows sharing a sort value never shuffle between pages. Offsets past the
// last page yield an empty page.
type Page struct {
	Limit   int
	Offset  int
	SortKey string
	Desc    bool
}

func (p Page) order() string {
	dir := "ASC"
	if p.Desc {
		dir = "DESC"
	}
	key := p.SortKey
	if key == "" {
		key = "id"
	}
	return key + " " + dir + ", id " + dir
}

func (p Page) limit() int {
	if p.Limit <= 0 {
		return 50
	}
	if p.Limit > 200 {
		return 200
	}
	return p.Limit
}
