package parking

import (
	"time"
)

// Broker topics. Payloads are JSON; subscribers receive the serialized
// bytes unchanged.
const (
	TopicRecords       = "records:1"
	TopicEvents        = "events:1"
	TopicPlates        = "plates:1"
	TopicNotifications = "notifications"
)

// RecordView is the records:1 payload. Display-only fields (zone and camera
// names) are joined in by the store at serialization time; persistent rows
// are never mutated for presentation.
type RecordView struct {
	ID               int64        `json:"id"`
	Plate            string       `json:"plate"`
	StartTime        time.Time    `json:"start_time"`
	EndTime          time.Time    `json:"end_time"`
	Status           RecordStatus `json:"latest_status"`
	Score            float64      `json:"score"`
	ZoneID           int64        `json:"zone_id"`
	ZoneName         string       `json:"zone_name"`
	EntranceCameraID *int64       `json:"entrance_camera_id,omitempty"`
	ExitCameraID     *int64       `json:"exit_camera_id,omitempty"`
	CameraEntryName  string       `json:"camera_entry_name,omitempty"`
	CameraLevingName string       `json:"camera_leveing_name,omitempty"`
	BestPlateImageID *int64       `json:"best_plate_image_id,omitempty"`
	BestLPRImageID   *int64       `json:"best_lpr_image_id,omitempty"`
	Modified         time.Time    `json:"modified"`
}

// EventView is the events:1 payload.
type EventView struct {
	ID         int64     `json:"id"`
	Plate      string    `json:"plate"`
	RecordTime time.Time `json:"record_time"`
	Kind       EventKind `json:"kind"`
	CameraID   *int64    `json:"camera_id,omitempty"`
	SpotID     *int64    `json:"spot_id,omitempty"`
	ZoneID     int64     `json:"zone_id"`
	ZoneName   string    `json:"zone_name"`
	RecordID   *int64    `json:"record_id,omitempty"`
	Invalid    bool      `json:"invalid"`
}

// PlateView is the plates:1 payload.
type PlateView struct {
	ID           int64     `json:"id"`
	Plate        string    `json:"plate"`
	RecordTime   time.Time `json:"record_time"`
	CameraID     int64     `json:"camera_id"`
	ZoneID       int64     `json:"zone_id"`
	CameraTag    CameraTag `json:"camera_tag"`
	RecordID     *int64    `json:"record_id,omitempty"`
	PlateImageID *int64    `json:"plate_image_id,omitempty"`
	LPRImageID   *int64    `json:"lpr_image_id,omitempty"`
}

type NotificationStatus string

const (
	NotifyEntry       NotificationStatus = "entry"
	NotifyExit        NotificationStatus = "exit"
	NotifySensorEntry NotificationStatus = "sensor_entry"
	NotifyUnknown     NotificationStatus = "unknown"
)

// Notification is the notifications payload pushed to operator dashboards,
// including access-list hits for the detected plate.
type Notification struct {
	PlateList []ListHit          `json:"plate_list"`
	Event     EventView          `json:"event"`
	ZoneName  string             `json:"zone_name"`
	CameraTag CameraTag          `json:"camera_tag"`
	Status    NotificationStatus `json:"status"`
}
