package parking

import (
	"time"
)

type RecordStatus string

const (
	RecordUnfinished RecordStatus = "unfinished"
	RecordFinished   RecordStatus = "finished"
	RecordUnknown    RecordStatus = "unknown"
)

type EventKind string

const (
	EventEntranceDoor EventKind = "entranceDoor"
	EventExitDoor     EventKind = "exitDoor"
	EventSensor       EventKind = "sensor"
	EventAdminExit    EventKind = "admin_exitReg"
	EventUnknownMove  EventKind = "approachingLeavingUnknown"
)

type CameraTag string

const (
	CameraEntrance     CameraTag = "entrance"
	CameraExit         CameraTag = "exit"
	CameraSpot         CameraTag = "spot"
	CameraDirectionIn  CameraTag = "direction-in"
	CameraDirectionOut CameraTag = "direction-out"
	CameraSensor       CameraTag = "sensor"
)

type SpotStatus string

const (
	SpotEmpty        SpotStatus = "empty"
	SpotFull         SpotStatus = "full"
	SpotDisconnect   SpotStatus = "disconnect"
	SpotEntranceDoor SpotStatus = "entranceDoor"
	SpotExitDoor     SpotStatus = "exitDoor"
)

type BillStatus string

const (
	BillUnpaid BillStatus = "unpaid"
	BillPaid   BillStatus = "paid"
	BillVoided BillStatus = "voided"
)

type IssuedBy string

const (
	IssuedByKiosk      IssuedBy = "kiosk"
	IssuedByExitCamera IssuedBy = "exit_camera"
)

type TransactionStatus string

const (
	TxCreated   TransactionStatus = "created"
	TxSentToPos TransactionStatus = "SentToPos"
	TxVerified  TransactionStatus = "Verified"
	TxFailed    TransactionStatus = "Failed"
)

type ListType string

const (
	ListWhite ListType = "WHITELIST"
	ListBlack ListType = "BLACKLIST"
	ListPhone ListType = "PHONELIST"
)

// PlatePayload is a single raw detection as emitted by a camera or sensor.
type PlatePayload struct {
	Plate        string                 `json:"plate"`
	RecordTime   time.Time              `json:"record_time"`
	CameraID     int64                  `json:"camera_id"`
	ZoneID       int64                  `json:"zone_id"`
	PlateImageID *int64                 `json:"plate_image_id,omitempty"`
	LPRImageID   *int64                 `json:"lpr_image_id,omitempty"`
	CameraTag    CameraTag              `json:"camera_tag"`
	Score        float64                `json:"score,omitempty"`
	RawPayload   map[string]interface{} `json:"raw_payload,omitempty"`
}

// EventPayload is a classified occurrence: a gate passage, a sensor firing
// or an admin action such as a manual exit registration.
type EventPayload struct {
	Plate          string                 `json:"plate"`
	RecordTime     time.Time              `json:"record_time"`
	Kind           EventKind              `json:"kind"`
	CameraID       *int64                 `json:"camera_id,omitempty"`
	SpotID         *int64                 `json:"spot_id,omitempty"`
	ZoneID         int64                  `json:"zone_id"`
	DirectionInfo  map[string]interface{} `json:"direction_info,omitempty"`
	AdditionalData map[string]interface{} `json:"additional_data,omitempty"`
	CorrectionOCR  string                 `json:"correction_of_ocr,omitempty"`
}

// SpotPayload is an occupancy change for a single stall.
type SpotPayload struct {
	SpotID     int64      `json:"spot_id"`
	CameraID   int64      `json:"camera_id"`
	ZoneID     int64      `json:"zone_id"`
	Status     SpotStatus `json:"status"`
	Plate      string     `json:"plate,omitempty"`
	RecordTime time.Time  `json:"record_time"`
}

// Command kinds carried on the ingest queue.
const (
	CmdAddPlate   = "add_plate"
	CmdAddEvent   = "add_event"
	CmdUpdateSpot = "update_spot"
)

// ListHit reports that a plate appears on an access list for a zone.
type ListHit struct {
	ListID   int64    `json:"list_id"`
	ListName string   `json:"list_name"`
	ListType ListType `json:"list_type"`
	ZoneID   int64    `json:"zone_id"`
}

// IngestResult is returned to the caller that submitted a detection.
type IngestResult struct {
	PlateID    int64     `json:"plate_id"`
	RecordID   *int64    `json:"record_id,omitempty"`
	Plate      string    `json:"plate"`
	Suppressed bool      `json:"suppressed"`
	Hits       []ListHit `json:"hits,omitempty"`
}

// BillPreview is the kiosk quote before a bill is actually issued.
type BillPreview struct {
	Plate          string    `json:"plate"`
	RecordID       int64     `json:"record_id"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	TimeParkSoFar  int64     `json:"time_park_so_far"`
	EntranceFee    int64     `json:"entrance_fee"`
	HourlyFee      int64     `json:"hourly_fee"`
	Price          int64     `json:"price"`
	ZoneID         int64     `json:"zone_id"`
	AlreadySettled bool      `json:"already_settled"`
}

// PayResult reports a settlement attempt over a group of bills. Bills whose
// rrn_number was already set are skipped, not failed: they come back in
// BillsNotUpdated and the response carries msg code 14 so callers can detect
// partial settlement.
type PayResult struct {
	BillsUpdated    []int64 `json:"list_bills_update"`
	BillsNotUpdated []int64 `json:"list_bills_not_update"`
	RRNNumber       string  `json:"rrn_number,omitempty"`
	Amount          int64   `json:"amount"`
	OrderID         string  `json:"order_id,omitempty"`
	RedirectURL     string  `json:"url,omitempty"`
}

// ZoneSummary is the dashboard occupancy roll-up for one zone. Full is
// capped at capacity so a camera miscount never reports negative space.
type ZoneSummary struct {
	ZoneID   int64  `json:"zone_id"`
	ZoneName string `json:"zone_name"`
	Capacity int    `json:"capacity"`
	Full     int    `json:"full"`
	Empty    int    `json:"empty"`
}
