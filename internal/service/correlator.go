package service

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"

	"parking-service/internal/domain/parking"
	"parking-service/internal/repository"
)

// Issuer is the billing hook fired on the unfinished->finished transition.
// Implementations: Biller
type Issuer interface {
	IssueExitBill(ctx context.Context, recordID int64) error
}

// Observation is a normalized detection or event entering the correlator.
type Observation struct {
	Plate        string
	ZoneID       int64
	At           time.Time
	Kind         parking.EventKind
	CameraID     *int64
	EventID      *int64
	PlateImageID *int64
	LPRImageID   *int64
}

func (o Observation) isExit() bool {
	return o.Kind == parking.EventExitDoor || o.Kind == parking.EventAdminExit
}

// Correlator owns the record state machine: it matches each observation to
// an open record under a row lock, creates one when nothing matches, and
// closes the visit on exit.
type Correlator struct {
	records    RecordStore
	detections DetectionStore
	issuer     Issuer
	bus        Publisher

	offset time.Duration
	grace  time.Duration
	log    zerolog.Logger
}

func NewCorrelator(records RecordStore, detections DetectionStore, issuer Issuer, bus Publisher, offset, grace time.Duration, log zerolog.Logger) *Correlator {
	return &Correlator{
		records:    records,
		detections: detections,
		issuer:     issuer,
		bus:        bus,
		offset:     offset,
		grace:      grace,
		log:        log,
	}
}

// Process applies one observation. Workers for the same plate serialize on
// the row lock taken inside the transaction; distinct plates run in
// parallel. Returns the bound record id, or 0 when the observation was
// ignored as idempotent noise.
func (c *Correlator) Process(ctx context.Context, obs Observation) (int64, error) {
	var (
		recordID int64
		finished bool
	)
	err := c.records.InTx(ctx, func(tx RecordTxn) error {
		open, err := tx.LockOpenByPlate(obs.Plate)
		if err != nil {
			return err
		}
		if obs.isExit() {
			recordID, finished, err = c.applyExit(tx, obs, open)
			return err
		}
		recordID, err = c.applyEntry(tx, obs, open)
		return err
	})
	if err != nil {
		return 0, err
	}
	if recordID == 0 {
		return 0, nil
	}

	c.afterCommit(ctx, obs, recordID, finished)
	return recordID, nil
}

// applyExit closes a visit. With several open records (possible after a
// missed exit in another zone) the exit binds to the record whose end_time
// is closest to the event time; the others are healed to unknown.
func (c *Correlator) applyExit(tx RecordTxn, obs Observation, open []repository.Record) (int64, bool, error) {
	if len(open) == 0 {
		// A just-finished record inside the offset window means this exit is
		// a duplicate, not a new visit. Same straggler rule as the entry path.
		found, err := tx.FindOverlapping(obs.Plate, obs.ZoneID, obs.At, c.offset)
		if err != nil {
			return 0, false, err
		}
		if found != nil && found.LatestStatus == parking.RecordFinished {
			c.log.Info().
				Str("plate", obs.Plate).
				Int64("record_id", found.ID).
				Time("at", obs.At).
				Msg("correlator: exit within window of finished record, ignoring")
			return 0, false, nil
		}

		// Exit with no history: keep the evidence as an unknown visit.
		rec := &repository.Record{
			Plate:            obs.Plate,
			StartTime:        obs.At,
			EndTime:          obs.At,
			ZoneID:           obs.ZoneID,
			ExitCameraID:     obs.CameraID,
			LatestStatus:     parking.RecordUnknown,
			BestPlateImageID: obs.PlateImageID,
			BestLPRImageID:   obs.LPRImageID,
		}
		if err := tx.Create(rec); err != nil {
			return 0, false, err
		}
		if err := tx.AssignPlates(obs.Plate, nil, rec.StartTime, rec.EndTime, rec.ID); err != nil {
			return 0, false, err
		}
		return rec.ID, false, nil
	}

	best := 0
	for i := range open {
		if absDur(open[i].EndTime.Sub(obs.At)) < absDur(open[best].EndTime.Sub(obs.At)) {
			best = i
		}
	}
	for i := range open {
		if i == best {
			continue
		}
		c.log.Error().
			Str("plate", obs.Plate).
			Int64("record_id", open[i].ID).
			Int64("kept_record_id", open[best].ID).
			Msg("correlator: ambiguous open records, healing to unknown")
		open[i].LatestStatus = parking.RecordUnknown
		if err := tx.Save(&open[i]); err != nil {
			return 0, false, err
		}
	}

	rec := &open[best]
	if !obs.At.Before(rec.StartTime) {
		rec.EndTime = obs.At
	}
	rec.ExitCameraID = obs.CameraID
	rec.LatestStatus = parking.RecordFinished
	c.refreshImages(rec, obs)
	if err := tx.Save(rec); err != nil {
		return 0, false, err
	}
	if err := tx.AssignPlates(obs.Plate, nil, rec.StartTime, rec.EndTime, rec.ID); err != nil {
		return 0, false, err
	}
	return rec.ID, true, nil
}

func (c *Correlator) applyEntry(tx RecordTxn, obs Observation, open []repository.Record) (int64, error) {
	// Only records in the observation's zone may absorb a non-exit event.
	var sameZone []*repository.Record
	for i := range open {
		if open[i].ZoneID == obs.ZoneID {
			sameZone = append(sameZone, &open[i])
		}
	}

	// Invariant: one unfinished record per (plate, zone). Heal extras.
	for _, extra := range sameZone[min(1, len(sameZone)):] {
		c.log.Error().
			Str("plate", obs.Plate).
			Int64("record_id", extra.ID).
			Int64("zone_id", obs.ZoneID).
			Msg("correlator: duplicate unfinished record, healing to unknown")
		extra.LatestStatus = parking.RecordUnknown
		if err := tx.Save(extra); err != nil {
			return 0, err
		}
	}

	var rec *repository.Record
	if len(sameZone) > 0 {
		rec = sameZone[0]
	} else {
		// No open record: a recently finished one inside the offset window
		// makes this a straggler, not a new visit.
		found, err := tx.FindOverlapping(obs.Plate, obs.ZoneID, obs.At, c.offset)
		if err != nil {
			return 0, err
		}
		if found != nil && found.LatestStatus == parking.RecordFinished {
			c.log.Info().
				Str("plate", obs.Plate).
				Int64("record_id", found.ID).
				Time("at", obs.At).
				Msg("correlator: event within window of finished record, ignoring")
			return 0, nil
		}
		if found != nil && found.LatestStatus == parking.RecordUnfinished {
			rec = found
		}
	}

	if rec == nil {
		rec = &repository.Record{
			Plate:            obs.Plate,
			StartTime:        obs.At,
			EndTime:          obs.At,
			Score:            0.01,
			ZoneID:           obs.ZoneID,
			LatestStatus:     parking.RecordUnfinished,
			BestPlateImageID: obs.PlateImageID,
			BestLPRImageID:   obs.LPRImageID,
		}
		if obs.Kind == parking.EventEntranceDoor {
			rec.EntranceCameraID = obs.CameraID
		}
		if err := tx.Create(rec); err != nil {
			return 0, err
		}
		if err := tx.AssignPlates(obs.Plate, nil, rec.StartTime, rec.EndTime, rec.ID); err != nil {
			return 0, err
		}
		return rec.ID, nil
	}

	switch {
	case obs.At.After(rec.EndTime):
		rec.EndTime = obs.At
		rec.Score = bumpScore(rec.Score)
	case obs.At.Before(rec.StartTime):
		rec.StartTime = obs.At
		if rec.EntranceCameraID == nil && obs.Kind == parking.EventEntranceDoor {
			rec.EntranceCameraID = obs.CameraID
		}
	default:
		// Inside the current interval: duplicate sighting, confidence only.
		rec.Score = bumpScore(rec.Score)
	}
	c.refreshImages(rec, obs)
	if err := tx.Save(rec); err != nil {
		return 0, err
	}
	if err := tx.AssignPlates(obs.Plate, nil, rec.StartTime, rec.EndTime, rec.ID); err != nil {
		return 0, err
	}
	return rec.ID, nil
}

func (c *Correlator) refreshImages(rec *repository.Record, obs Observation) {
	if obs.PlateImageID != nil {
		rec.BestPlateImageID = obs.PlateImageID
	}
	if obs.LPRImageID != nil {
		rec.BestLPRImageID = obs.LPRImageID
	}
}

// afterCommit runs the non-transactional fallout: binding the source event,
// broadcasting the record view, and exit billing. Failures here are logged,
// not propagated; the durable record is already committed.
func (c *Correlator) afterCommit(ctx context.Context, obs Observation, recordID int64, finished bool) {
	if obs.EventID != nil {
		if err := c.detections.BindEventRecord(ctx, *obs.EventID, recordID); err != nil {
			c.log.Error().Err(err).Int64("event_id", *obs.EventID).Msg("correlator: bind event to record")
		}
	}

	view, err := c.records.View(ctx, recordID)
	if err != nil {
		c.log.Error().Err(err).Int64("record_id", recordID).Msg("correlator: build record view")
	} else if view != nil {
		c.bus.Publish(ctx, parking.TopicRecords, view)
	}

	if finished && c.issuer != nil {
		if err := c.issuer.IssueExitBill(ctx, recordID); err != nil {
			c.log.Error().Err(err).Int64("record_id", recordID).Msg("correlator: exit billing failed")
		}
	}
}

// Sweep transitions unfinished records older than the grace period to
// unknown. Idempotent; runs at startup and then on the interval.
func (c *Correlator) Sweep(ctx context.Context) {
	n, err := c.records.SweepStale(ctx, time.Now().UTC().Add(-c.grace))
	if err != nil {
		c.log.Error().Err(err).Msg("correlator: backlog sweep failed")
		return
	}
	if n > 0 {
		c.log.Info().Int64("records", n).Msg("correlator: swept stale records to unknown")
	}
}

func (c *Correlator) RunSweeper(ctx context.Context, interval time.Duration) {
	c.Sweep(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.Sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func bumpScore(s float64) float64 {
	if s <= 0 {
		return 0.01
	}
	return math.Min(1.0, math.Sqrt(s))
}

func absDur(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
