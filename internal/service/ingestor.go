package service

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"

	"parking-service/internal/domain/parking"
	"parking-service/internal/queue"
	"parking-service/internal/repository"
	"parking-service/internal/utils"
)

// clockSkewTolerance bounds how far in the future a detection timestamp may
// sit relative to the ingest clock.
const clockSkewTolerance = 5 * time.Minute

// Ingestor is the front of the pipeline: it validates and persists incoming
// detections, suppresses rapid-fire duplicates, publishes live payloads, and
// feeds the correlator through per-plate FIFO shards so a single plate's
// events are seen in order while distinct plates run concurrently.
type Ingestor struct {
	detections DetectionStore
	spots      SpotStore
	zones      ZoneStore
	correlator *Correlator
	bus        Publisher

	window  time.Duration
	retries int
	log     zerolog.Logger

	mu      sync.Mutex
	shards  []chan Observation
	wg      sync.WaitGroup
	started bool
}

func NewIngestor(detections DetectionStore, spots SpotStore, zones ZoneStore, correlator *Correlator, bus Publisher, window time.Duration, retries int, shardCount int, log zerolog.Logger) *Ingestor {
	if shardCount <= 0 {
		shardCount = 8
	}
	if retries <= 0 {
		retries = 4
	}
	ing := &Ingestor{
		detections: detections,
		spots:      spots,
		zones:      zones,
		correlator: correlator,
		bus:        bus,
		window:     window,
		retries:    retries,
		log:        log,
		shards:     make([]chan Observation, shardCount),
	}
	for i := range ing.shards {
		ing.shards[i] = make(chan Observation, 256)
	}
	return ing
}

// Start launches the shard workers. Observations queued at shutdown are
// drained before Stop returns; cancellation is cooperative.
func (s *Ingestor) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	for _, ch := range s.shards {
		ch := ch
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for obs := range ch {
				if _, err := s.correlator.Process(ctx, obs); err != nil {
					s.log.Error().Err(err).
						Str("plate", obs.Plate).
						Int64("zone_id", obs.ZoneID).
						Msg("ingestor: correlation failed")
				}
			}
		}()
	}
}

func (s *Ingestor) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	for _, ch := range s.shards {
		close(ch)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Ingestor) dispatch(obs Observation) {
	h := fnv.New32a()
	h.Write([]byte(obs.Plate))
	s.shards[int(h.Sum32())%len(s.shards)] <- obs
}

// Handle is the queue consumer entry point.
func (s *Ingestor) Handle(ctx context.Context, msg queue.Message) error {
	switch msg.Kind {
	case parking.CmdAddPlate:
		var p parking.PlatePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("decode add_plate: %w", err)
		}
		_, err := s.AddPlate(ctx, p)
		return err
	case parking.CmdAddEvent:
		var e parking.EventPayload
		if err := json.Unmarshal(msg.Payload, &e); err != nil {
			return fmt.Errorf("decode add_event: %w", err)
		}
		_, err := s.AddEvent(ctx, e)
		return err
	case parking.CmdUpdateSpot:
		var sp parking.SpotPayload
		if err := json.Unmarshal(msg.Payload, &sp); err != nil {
			return fmt.Errorf("decode update_spot: %w", err)
		}
		return s.UpdateSpot(ctx, sp)
	default:
		return fmt.Errorf("unknown command kind %q", msg.Kind)
	}
}

// AddPlate ingests one raw detection: validate, dedup, persist, publish,
// and hand the observation to the correlator shard. Suppressed duplicates
// are persisted for audit but never correlated.
func (s *Ingestor) AddPlate(ctx context.Context, p parking.PlatePayload) (*parking.IngestResult, error) {
	plate, err := s.checkPlate(p.Plate, p.RecordTime)
	if err != nil {
		return nil, err
	}

	suppressed, err := s.detections.HasRecentDetection(ctx, plate, p.CameraID, p.RecordTime, s.window)
	if err != nil {
		s.log.Warn().Err(err).Str("plate", plate).Msg("ingestor: dedup lookup failed, ingesting anyway")
	}

	row := &repository.Plate{
		Plate:        plate,
		RecordTime:   p.RecordTime,
		CameraID:     &p.CameraID,
		ZoneID:       p.ZoneID,
		PlateImageID: p.PlateImageID,
		LPRImageID:   p.LPRImageID,
		CameraTag:    p.CameraTag,
		Score:        p.Score,
		Suppressed:   suppressed,
	}
	if len(p.RawPayload) > 0 {
		row.RawPayload = datatypes.JSONMap(p.RawPayload)
	}
	if err := s.persist(ctx, parking.CmdAddPlate, p, func() error {
		return s.detections.CreatePlate(ctx, row)
	}); err != nil {
		return nil, err
	}

	s.bus.Publish(ctx, parking.TopicPlates, parking.PlateView{
		ID:           row.ID,
		Plate:        plate,
		RecordTime:   p.RecordTime,
		CameraID:     p.CameraID,
		ZoneID:       p.ZoneID,
		CameraTag:    p.CameraTag,
		PlateImageID: p.PlateImageID,
		LPRImageID:   p.LPRImageID,
	})

	res := &parking.IngestResult{PlateID: row.ID, Plate: plate, Suppressed: suppressed}
	res.Hits = s.notify(ctx, plate, p.ZoneID, p.CameraTag, parking.EventView{
		Plate:      plate,
		RecordTime: p.RecordTime,
		Kind:       kindForTag(p.CameraTag),
		CameraID:   &p.CameraID,
		ZoneID:     p.ZoneID,
	})

	if suppressed {
		s.log.Debug().Str("plate", plate).Int64("camera_id", p.CameraID).Msg("ingestor: duplicate detection suppressed")
		return res, nil
	}

	s.dispatch(Observation{
		Plate:        plate,
		ZoneID:       p.ZoneID,
		At:           p.RecordTime,
		Kind:         kindForTag(p.CameraTag),
		CameraID:     &p.CameraID,
		PlateImageID: p.PlateImageID,
		LPRImageID:   p.LPRImageID,
	})
	return res, nil
}

// AddEvent ingests a classified event from hardware or an admin action.
func (s *Ingestor) AddEvent(ctx context.Context, e parking.EventPayload) (*parking.IngestResult, error) {
	plate, err := s.checkPlate(e.Plate, e.RecordTime)
	if err != nil {
		return nil, err
	}
	switch e.Kind {
	case parking.EventEntranceDoor, parking.EventExitDoor, parking.EventSensor,
		parking.EventAdminExit, parking.EventUnknownMove:
	default:
		return nil, parking.ErrInputError.WithCause(fmt.Errorf("unknown event kind %q", e.Kind))
	}

	row := &repository.Event{
		Plate:      plate,
		RecordTime: e.RecordTime,
		Kind:       e.Kind,
		CameraID:   e.CameraID,
		SpotID:     e.SpotID,
		ZoneID:     e.ZoneID,
	}
	if len(e.DirectionInfo) > 0 {
		row.DirectionInfo = datatypes.JSONMap(e.DirectionInfo)
	}
	if len(e.AdditionalData) > 0 {
		row.AdditionalData = datatypes.JSONMap(e.AdditionalData)
	}
	if e.CorrectionOCR != "" {
		row.CorrectionOfOCR = &e.CorrectionOCR
	}
	if err := s.persist(ctx, parking.CmdAddEvent, e, func() error {
		return s.detections.CreateEvent(ctx, row)
	}); err != nil {
		return nil, err
	}

	view := parking.EventView{
		ID:         row.ID,
		Plate:      plate,
		RecordTime: e.RecordTime,
		Kind:       e.Kind,
		CameraID:   e.CameraID,
		SpotID:     e.SpotID,
		ZoneID:     e.ZoneID,
	}
	s.bus.Publish(ctx, parking.TopicEvents, view)

	res := &parking.IngestResult{Plate: plate}
	res.Hits = s.notify(ctx, plate, e.ZoneID, tagForKind(e.Kind), view)

	if e.Kind != parking.EventUnknownMove {
		s.dispatch(Observation{
			Plate:    plate,
			ZoneID:   e.ZoneID,
			At:       e.RecordTime,
			Kind:     e.Kind,
			CameraID: e.CameraID,
			EventID:  &row.ID,
		})
	}
	return res, nil
}

// UpdateSpot applies an occupancy change and, when the stall saw a plate,
// feeds the detection into the same pipeline as a sensor observation.
func (s *Ingestor) UpdateSpot(ctx context.Context, sp parking.SpotPayload) error {
	spot, err := s.spots.Get(ctx, sp.SpotID)
	if err != nil {
		return parking.ErrInternal.WithCause(err)
	}
	if spot == nil {
		return parking.ErrNotFound.WithCause(fmt.Errorf("spot %d", sp.SpotID))
	}

	if err := s.persist(ctx, parking.CmdUpdateSpot, sp, func() error {
		return s.spots.UpdateStatus(ctx, sp.SpotID, sp.Status, sp.Plate, sp.RecordTime)
	}); err != nil {
		return err
	}

	if sp.Plate == "" || sp.Status == parking.SpotDisconnect {
		return nil
	}
	plate, err := s.checkPlate(sp.Plate, sp.RecordTime)
	if err != nil {
		s.log.Warn().Err(err).Str("plate", sp.Plate).Int64("spot_id", sp.SpotID).
			Msg("ingestor: spot reported malformed plate, skipping correlation")
		return nil
	}

	kind := parking.EventSensor
	switch sp.Status {
	case parking.SpotEntranceDoor:
		kind = parking.EventEntranceDoor
	case parking.SpotExitDoor:
		kind = parking.EventExitDoor
	}
	s.notify(ctx, plate, sp.ZoneID, parking.CameraSpot, parking.EventView{
		Plate:      plate,
		RecordTime: sp.RecordTime,
		Kind:       kind,
		SpotID:     &sp.SpotID,
		ZoneID:     sp.ZoneID,
	})
	s.dispatch(Observation{
		Plate:    plate,
		ZoneID:   sp.ZoneID,
		At:       sp.RecordTime,
		Kind:     kind,
		CameraID: &sp.CameraID,
	})
	return nil
}

func (s *Ingestor) checkPlate(raw string, at time.Time) (string, error) {
	plate := utils.NormalizePlate(raw)
	if !utils.ValidPlate(plate, false) {
		return "", parking.ErrInvalidPlateText.WithCause(fmt.Errorf("plate %q", raw))
	}
	if at.IsZero() {
		return "", parking.ErrInputError.WithCause(fmt.Errorf("record_time is required"))
	}
	if at.After(time.Now().UTC().Add(clockSkewTolerance)) {
		return "", parking.ErrInputError.WithCause(fmt.Errorf("record_time %s is in the future", at))
	}
	return plate, nil
}

// persist runs the store write with exponential backoff. After the retry
// budget the command is parked on the dead-letter log with its payload and
// the pipeline continues; only the park failure itself is fatal.
func (s *Ingestor) persist(ctx context.Context, kind string, payload interface{}, write func() error) error {
	var err error
	backoff := 100 * time.Millisecond
	for attempt := 1; attempt <= s.retries; attempt++ {
		if err = write(); err == nil {
			return nil
		}
		s.log.Warn().Err(err).Str("kind", kind).Int("attempt", attempt).Msg("ingestor: store write failed")
		if attempt < s.retries {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
		}
	}

	raw, mErr := json.Marshal(payload)
	if mErr != nil {
		raw = []byte(fmt.Sprintf("%+v", payload))
	}
	dl := &repository.DeadLetter{Kind: kind, Payload: raw, Reason: err.Error()}
	if dlErr := s.detections.ParkDeadLetter(ctx, dl); dlErr != nil {
		s.log.Error().Err(dlErr).Str("kind", kind).Msg("ingestor: dead-letter park failed")
		return parking.ErrInternal.WithCause(err)
	}
	s.log.Error().Err(err).Str("kind", kind).Int64("dead_letter_id", dl.ID).
		Msg("ingestor: command parked on dead-letter log")
	return parking.ErrInternal.WithCause(err)
}

// notify pushes the dashboard notification with any access-list hits.
func (s *Ingestor) notify(ctx context.Context, plate string, zoneID int64, tag parking.CameraTag, view parking.EventView) []parking.ListHit {
	hits, err := s.detections.FindListsForPlate(ctx, plate, zoneID)
	if err != nil {
		s.log.Warn().Err(err).Str("plate", plate).Msg("ingestor: access-list lookup failed")
		hits = nil
	}
	zoneName := ""
	if z, err := s.zones.GetZone(ctx, zoneID); err == nil && z != nil {
		zoneName = z.Name
	}
	view.ZoneName = zoneName
	s.bus.Publish(ctx, parking.TopicNotifications, parking.Notification{
		PlateList: hits,
		Event:     view,
		ZoneName:  zoneName,
		CameraTag: tag,
		Status:    notifyStatus(view.Kind),
	})
	return hits
}

func kindForTag(tag parking.CameraTag) parking.EventKind {
	switch tag {
	case parking.CameraEntrance, parking.CameraDirectionIn:
		return parking.EventEntranceDoor
	case parking.CameraExit, parking.CameraDirectionOut:
		return parking.EventExitDoor
	default:
		return parking.EventSensor
	}
}

func tagForKind(kind parking.EventKind) parking.CameraTag {
	switch kind {
	case parking.EventEntranceDoor:
		return parking.CameraEntrance
	case parking.EventExitDoor, parking.EventAdminExit:
		return parking.CameraExit
	default:
		return parking.CameraSensor
	}
}

func notifyStatus(kind parking.EventKind) parking.NotificationStatus {
	switch kind {
	case parking.EventEntranceDoor:
		return parking.NotifyEntry
	case parking.EventExitDoor, parking.EventAdminExit:
		return parking.NotifyExit
	case parking.EventSensor:
		return parking.NotifySensorEntry
	default:
		return parking.NotifyUnknown
	}
}
