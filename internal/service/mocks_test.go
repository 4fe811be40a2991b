package service

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"gorm.io/datatypes"

	"parking-service/internal/domain/parking"
	"parking-service/internal/payment"
	"parking-service/internal/repository"
)

var errMockStore = errors.New("mock store error")

// memRecordStore implements RecordStore and RecordTxn over a map so the
// correlator and biller run without postgres. InTx holds the mutex for the
// whole callback, mirroring the serialization the row lock provides.
type memRecordStore struct {
	mu      sync.Mutex
	seq     int64
	records map[int64]*repository.Record

	assignCalls int
	zoneNames   map[int64]string
	cameraNames map[int64]string
}

func newMemRecordStore() *memRecordStore {
	return &memRecordStore{
		records:     make(map[int64]*repository.Record),
		zoneNames:   map[int64]string{},
		cameraNames: map[int64]string{},
	}
}

func (m *memRecordStore) InTx(ctx context.Context, fn func(tx RecordTxn) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m)
}

func (m *memRecordStore) openByPlate(plate string) []*repository.Record {
	var out []*repository.Record
	for _, r := range m.records {
		if r.Plate == plate && r.LatestStatus == parking.RecordUnfinished && !r.IsDeleted {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EndTime.Equal(out[j].EndTime) {
			return out[i].EndTime.After(out[j].EndTime)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (m *memRecordStore) LockOpenByPlate(plate string) ([]repository.Record, error) {
	var out []repository.Record
	for _, r := range m.openByPlate(plate) {
		out = append(out, *r)
	}
	return out, nil
}

func (m *memRecordStore) FindOverlapping(plate string, zoneID int64, at time.Time, offset time.Duration) (*repository.Record, error) {
	lo, hi := at.Add(-offset), at.Add(offset)
	var best *repository.Record
	for _, r := range m.records {
		if r.Plate != plate || r.ZoneID != zoneID || r.IsDeleted {
			continue
		}
		if r.StartTime.After(hi) || r.EndTime.Before(lo) {
			continue
		}
		if best == nil || r.EndTime.After(best.EndTime) {
			best = r
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (m *memRecordStore) Create(rec *repository.Record) error {
	m.seq++
	rec.ID = m.seq
	now := time.Now().UTC()
	rec.Created = now
	rec.Modified = now
	cp := *rec
	m.records[rec.ID] = &cp
	return nil
}

func (m *memRecordStore) Save(rec *repository.Record) error {
	rec.Modified = time.Now().UTC()
	cp := *rec
	m.records[rec.ID] = &cp
	return nil
}

func (m *memRecordStore) AssignPlates(plateText string, cameraID *int64, from, to time.Time, recordID int64) error {
	m.assignCalls++
	return nil
}

func (m *memRecordStore) GetByID(ctx context.Context, id int64) (*repository.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (m *memRecordStore) LatestOpenByPlate(ctx context.Context, plate string) (*repository.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	open := m.openByPlate(plate)
	if len(open) == 0 {
		return nil, nil
	}
	cp := *open[0]
	return &cp, nil
}

func (m *memRecordStore) View(ctx context.Context, id int64) (*parking.RecordView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil, nil
	}
	v := &parking.RecordView{
		ID:               r.ID,
		Plate:            r.Plate,
		StartTime:        r.StartTime,
		EndTime:          r.EndTime,
		Status:           r.LatestStatus,
		Score:            r.Score,
		ZoneID:           r.ZoneID,
		ZoneName:         m.zoneNames[r.ZoneID],
		EntranceCameraID: r.EntranceCameraID,
		ExitCameraID:     r.ExitCameraID,
		Modified:         r.Modified,
	}
	if r.EntranceCameraID != nil {
		v.CameraEntryName = m.cameraNames[*r.EntranceCameraID]
	}
	if r.ExitCameraID != nil {
		v.CameraLevingName = m.cameraNames[*r.ExitCameraID]
	}
	return v, nil
}

func (m *memRecordStore) SweepStale(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, r := range m.records {
		if r.LatestStatus == parking.RecordUnfinished && r.EndTime.Before(cutoff) {
			r.LatestStatus = parking.RecordUnknown
			r.Modified = time.Now().UTC()
			n++
		}
	}
	return n, nil
}

func (m *memRecordStore) byStatus(status parking.RecordStatus) []*repository.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*repository.Record
	for _, r := range m.records {
		if r.LatestStatus == status {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// mockDetections implements DetectionStore.
type mockDetections struct {
	mu          sync.Mutex
	seq         int64
	plates      []*repository.Plate
	events      []*repository.Event
	deadLetters []*repository.DeadLetter
	bindings    map[int64]int64 // event id -> record id

	recentDetection bool
	hits            []parking.ListHit
	failCreates     int // fail this many CreatePlate/CreateEvent calls
}

func newMockDetections() *mockDetections {
	return &mockDetections{bindings: map[int64]int64{}}
}

func (m *mockDetections) CreatePlate(ctx context.Context, p *repository.Plate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreates > 0 {
		m.failCreates--
		return errMockStore
	}
	m.seq++
	p.ID = m.seq
	m.plates = append(m.plates, p)
	return nil
}

func (m *mockDetections) HasRecentDetection(ctx context.Context, plate string, cameraID int64, at time.Time, window time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recentDetection {
		return true, nil
	}
	bucket := at.Unix() / int64(window.Seconds())
	for _, p := range m.plates {
		if p.Plate != plate || p.CameraID == nil || *p.CameraID != cameraID || p.Suppressed {
			continue
		}
		if p.RecordTime.Unix()/int64(window.Seconds()) == bucket {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockDetections) CreateEvent(ctx context.Context, e *repository.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreates > 0 {
		m.failCreates--
		return errMockStore
	}
	m.seq++
	e.ID = m.seq
	m.events = append(m.events, e)
	return nil
}

func (m *mockDetections) BindEventRecord(ctx context.Context, eventID, recordID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, bound := m.bindings[eventID]; !bound {
		m.bindings[eventID] = recordID
	}
	return nil
}

func (m *mockDetections) FindListsForPlate(ctx context.Context, plate string, zoneID int64) ([]parking.ListHit, error) {
	return m.hits, nil
}

func (m *mockDetections) ParkDeadLetter(ctx context.Context, dl *repository.DeadLetter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	dl.ID = m.seq
	m.deadLetters = append(m.deadLetters, dl)
	return nil
}

// mockSpots implements SpotStore.
type mockSpots struct {
	mu      sync.Mutex
	spots   map[int64]*repository.Spot
	updates []parking.SpotStatus
}

func newMockSpots() *mockSpots {
	return &mockSpots{spots: map[int64]*repository.Spot{}}
}

func (m *mockSpots) Get(ctx context.Context, id int64) (*repository.Spot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.spots[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *mockSpots) UpdateStatus(ctx context.Context, id int64, status parking.SpotStatus, plate string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.spots[id]
	if !ok {
		return errMockStore
	}
	s.Status = status
	if plate != "" {
		s.CurrentPlate = &plate
	}
	if status == parking.SpotEmpty {
		s.CurrentPlate = nil
	}
	s.LatestModified = &at
	m.updates = append(m.updates, status)
	return nil
}

// mockZones implements ZoneStore.
type mockZones struct {
	zones  map[int64]*repository.Zone
	prices map[int64]*repository.Price // by zone id
}

func newMockZones() *mockZones {
	return &mockZones{zones: map[int64]*repository.Zone{}, prices: map[int64]*repository.Price{}}
}

func (m *mockZones) GetZone(ctx context.Context, id int64) (*repository.Zone, error) {
	z, ok := m.zones[id]
	if !ok {
		return nil, nil
	}
	return z, nil
}

func (m *mockZones) GetCamera(ctx context.Context, id int64) (*repository.Camera, error) {
	return nil, nil
}

func (m *mockZones) PriceForZone(ctx context.Context, zoneID int64) (*repository.Price, error) {
	p, ok := m.prices[zoneID]
	if !ok {
		return nil, nil
	}
	return p, nil
}

// mockBills implements BillStore.
type mockBills struct {
	mu           sync.Mutex
	seq          int64
	bills        map[int64]*repository.Bill
	transactions map[int64]*repository.Transaction
	byOrder      map[string]int64
}

func newMockBills() *mockBills {
	return &mockBills{
		bills:        map[int64]*repository.Bill{},
		transactions: map[int64]*repository.Transaction{},
		byOrder:      map[string]int64{},
	}
}

func (m *mockBills) CreateBill(ctx context.Context, b *repository.Bill) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	b.ID = m.seq
	if b.Status == "" {
		b.Status = parking.BillUnpaid
	}
	b.Created = time.Now().UTC()
	cp := *b
	m.bills[b.ID] = &cp
	return nil
}

func (m *mockBills) GetBills(ctx context.Context, ids []int64) ([]repository.Bill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []repository.Bill
	for _, id := range ids {
		if b, ok := m.bills[id]; ok {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (m *mockBills) LatestBillForRecord(ctx context.Context, recordID int64) (*repository.Bill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *repository.Bill
	for _, b := range m.bills {
		if b.RecordID == nil || *b.RecordID != recordID {
			continue
		}
		if best == nil || b.ID > best.ID {
			best = b
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (m *mockBills) HasBillForRecord(ctx context.Context, recordID int64, issuedBy parking.IssuedBy) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.bills {
		if b.RecordID != nil && *b.RecordID == recordID && b.IssuedBy == issuedBy {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockBills) Settle(ctx context.Context, billIDs []int64, rrn string, paidAt time.Time) ([]int64, []int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var updated, skipped []int64
	for _, id := range billIDs {
		b, ok := m.bills[id]
		if !ok {
			continue
		}
		if b.RRNNumber != nil {
			skipped = append(skipped, id)
			continue
		}
		b.Status = parking.BillPaid
		r := rrn
		b.RRNNumber = &r
		t := paidAt
		b.TimePaid = &t
		updated = append(updated, id)
	}
	return updated, skipped, nil
}

func (m *mockBills) CreateTransaction(ctx context.Context, billIDs []int64, amount int64, callbackURL *string) (*repository.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	raw, err := json.Marshal(billIDs)
	if err != nil {
		return nil, err
	}
	t := &repository.Transaction{
		ID:          m.seq,
		BillIDs:     datatypes.JSON(raw),
		Amount:      amount,
		CallbackURL: callbackURL,
		Status:      parking.TxCreated,
	}
	m.transactions[t.ID] = t
	return t, nil
}

func (m *mockBills) GetTransactionByOrderID(ctx context.Context, orderID string) (*repository.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byOrder[orderID]
	if !ok {
		return nil, nil
	}
	return m.transactions[id], nil
}

func (m *mockBills) UpdateTransaction(ctx context.Context, id int64, status parking.TransactionStatus, orderID, rrn *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transactions[id]
	if !ok {
		return errMockStore
	}
	t.Status = status
	if orderID != nil {
		t.GatewayOrderID = orderID
		m.byOrder[*orderID] = id
	}
	if rrn != nil {
		t.RRN = rrn
	}
	return nil
}

// mockGateway implements Gateway with scripted verify outcomes.
type mockGateway struct {
	mu          sync.Mutex
	makeCalls   int
	verifyCalls int
	makeErr     error
	orderSeq    int
	verifySeq   []payment.VerifyResult
	verifyErr   error
}

func (m *mockGateway) Make(ctx context.Context, amount int64, mobile string, additional map[string]interface{}, withCallback bool) (*payment.MakeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.makeCalls++
	if m.makeErr != nil {
		return nil, m.makeErr
	}
	m.orderSeq++
	res := &payment.MakeResult{OrderID: "order-" + strconv.Itoa(m.orderSeq), Amount: amount}
	if withCallback {
		res.URL = "https://gateway.example/pay/" + res.OrderID
	}
	return res, nil
}

func (m *mockGateway) Verify(ctx context.Context, orderID string) (*payment.VerifyResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifyCalls++
	if m.verifyErr != nil {
		return nil, m.verifyErr
	}
	if len(m.verifySeq) == 0 {
		return &payment.VerifyResult{Status: parking.TxSentToPos}, nil
	}
	res := m.verifySeq[0]
	if len(m.verifySeq) > 1 {
		m.verifySeq = m.verifySeq[1:]
	}
	return &res, nil
}

// mockBus implements Publisher and records publications in order.
type mockBus struct {
	mu        sync.Mutex
	published []publication
}

type publication struct {
	topic   string
	payload interface{}
}

func (m *mockBus) Publish(ctx context.Context, topic string, payload interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, publication{topic: topic, payload: payload})
}

func (m *mockBus) byTopic(topic string) []publication {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []publication
	for _, p := range m.published {
		if p.topic == topic {
			out = append(out, p)
		}
	}
	return out
}

// mockIssuer implements Issuer and counts invocations.
type mockIssuer struct {
	mu    sync.Mutex
	calls []int64
	err   error
}

func (m *mockIssuer) IssueExitBill(ctx context.Context, recordID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.calls = append(m.calls, recordID)
	return nil
}
