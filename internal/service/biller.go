package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"parking-service/internal/domain/parking"
	"parking-service/internal/payment"
	"parking-service/internal/repository"
)

// Biller computes fees, issues bills and orchestrates payment against the
// external switch. Issuance is at most once per visit window; settlement is
// idempotent per bill.
type Biller struct {
	bills   BillStore
	records RecordStore
	zones   ZoneStore
	gateway Gateway

	reissueGrace time.Duration
	verifyPolls  int
	verifyDelay  time.Duration
	log          zerolog.Logger

	now func() time.Time
}

func NewBiller(bills BillStore, records RecordStore, zones ZoneStore, gateway Gateway, reissueGrace time.Duration, verifyPolls int, verifyDelay time.Duration, log zerolog.Logger) *Biller {
	if verifyPolls <= 0 {
		verifyPolls = 50
	}
	if verifyDelay <= 0 {
		verifyDelay = time.Second
	}
	if reissueGrace <= 0 {
		reissueGrace = 15 * time.Minute
	}
	return &Biller{
		bills:        bills,
		records:      records,
		zones:        zones,
		gateway:      gateway,
		reissueGrace: reissueGrace,
		verifyPolls:  verifyPolls,
		verifyDelay:  verifyDelay,
		log:          log,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// FeeHours is the billed duration: integer ceiling over seconds, so any
// started hour counts in full.
func FeeHours(start, end time.Time) int64 {
	secs := int64(end.Sub(start) / time.Second)
	if secs <= 0 {
		return 0
	}
	return (secs + 3599) / 3600
}

// FeePrice applies the zone price model to a visit span.
func FeePrice(start, end time.Time, entranceFee, hourlyFee int64) int64 {
	return entranceFee + FeeHours(start, end)*hourlyFee
}

// IssueExitBill bills a record on its unfinished->finished transition.
// Called by the correlator; a second call for the same record is a no-op so
// a duplicate exit event never produces a second bill.
func (b *Biller) IssueExitBill(ctx context.Context, recordID int64) error {
	rec, err := b.records.GetByID(ctx, recordID)
	if err != nil {
		return parking.ErrInternal.WithCause(err)
	}
	if rec == nil {
		return parking.ErrNotFound.WithCause(fmt.Errorf("record %d", recordID))
	}
	exists, err := b.bills.HasBillForRecord(ctx, recordID, parking.IssuedByExitCamera)
	if err != nil {
		return parking.ErrInternal.WithCause(err)
	}
	if exists {
		b.log.Debug().Int64("record_id", recordID).Msg("biller: exit bill already issued")
		return nil
	}

	price, err := b.priceFor(ctx, rec.ZoneID)
	if err != nil {
		return err
	}

	bill := &repository.Bill{
		Plate:       rec.Plate,
		StartTime:   rec.StartTime,
		EndTime:     rec.EndTime,
		EntranceFee: price.EntranceFee,
		HourlyFee:   price.HourlyFee,
		Price:       FeePrice(rec.StartTime, rec.EndTime, price.EntranceFee, price.HourlyFee),
		ZoneID:      rec.ZoneID,
		RecordID:    &rec.ID,
		IssuedBy:    parking.IssuedByExitCamera,
	}
	if err := b.bills.CreateBill(ctx, bill); err != nil {
		return parking.ErrInternal.WithCause(err)
	}
	b.log.Info().
		Int64("bill_id", bill.ID).
		Int64("record_id", recordID).
		Str("plate", rec.Plate).
		Int64("price", bill.Price).
		Msg("biller: exit bill issued")
	return nil
}

// KioskResult is what the self-service terminal shows the driver.
type KioskResult struct {
	Preview     *parking.BillPreview    `json:"preview"`
	Bill        *repository.Bill        `json:"bill,omitempty"`
	Transaction *repository.Transaction `json:"transaction,omitempty"`
}

// Kiosk quotes the open visit for a plate. With issue=false it returns a
// preview only; with issue=true it creates a kiosk bill plus a payment
// transaction. A bill already paid within the reissue grace window is
// returned as-is so a driver walking back to the car is not billed twice.
func (b *Biller) Kiosk(ctx context.Context, plateText string, issue bool) (*KioskResult, error) {
	rec, err := b.records.LatestOpenByPlate(ctx, plateText)
	if err != nil {
		return nil, parking.ErrInternal.WithCause(err)
	}
	if rec == nil {
		return nil, parking.ErrNotFound.WithCause(fmt.Errorf("no open visit for plate %s", plateText))
	}

	price, err := b.priceFor(ctx, rec.ZoneID)
	if err != nil {
		return nil, err
	}

	now := b.now()
	start := rec.StartTime

	prior, err := b.bills.LatestBillForRecord(ctx, rec.ID)
	if err != nil {
		return nil, parking.ErrInternal.WithCause(err)
	}
	if prior != nil && prior.Status == parking.BillPaid && prior.TimePaid != nil {
		if now.Sub(*prior.TimePaid) <= b.reissueGrace {
			// Grace window: driver already paid and is leaving.
			return &KioskResult{
				Preview: b.preview(rec, prior.StartTime, prior.EndTime, price, true),
				Bill:    prior,
			}, nil
		}
		// Bill the span since the last paid bill.
		start = prior.EndTime
	}

	preview := b.preview(rec, start, now, price, false)
	if !issue {
		return &KioskResult{Preview: preview}, nil
	}

	bill := &repository.Bill{
		Plate:       rec.Plate,
		StartTime:   start,
		EndTime:     now,
		EntranceFee: preview.EntranceFee,
		HourlyFee:   preview.HourlyFee,
		Price:       preview.Price,
		ZoneID:      rec.ZoneID,
		RecordID:    &rec.ID,
		IssuedBy:    parking.IssuedByKiosk,
	}
	if err := b.bills.CreateBill(ctx, bill); err != nil {
		return nil, parking.ErrInternal.WithCause(err)
	}
	tx, err := b.bills.CreateTransaction(ctx, []int64{bill.ID}, bill.Price, nil)
	if err != nil {
		return nil, parking.ErrInternal.WithCause(err)
	}
	b.log.Info().
		Int64("bill_id", bill.ID).
		Int64("transaction_id", tx.ID).
		Str("plate", rec.Plate).
		Int64("price", bill.Price).
		Msg("biller: kiosk bill issued")
	return &KioskResult{Preview: preview, Bill: bill, Transaction: tx}, nil
}

func (b *Biller) preview(rec *repository.Record, start, end time.Time, price *repository.Price, settled bool) *parking.BillPreview {
	entranceFee := price.EntranceFee
	if !start.Equal(rec.StartTime) {
		// Incremental reissue: entrance was already charged on the prior bill.
		entranceFee = 0
	}
	return &parking.BillPreview{
		Plate:          rec.Plate,
		RecordID:       rec.ID,
		StartTime:      start,
		EndTime:        end,
		TimeParkSoFar:  FeeHours(start, end),
		EntranceFee:    entranceFee,
		HourlyFee:      price.HourlyFee,
		Price:          FeePrice(start, end, entranceFee, price.HourlyFee),
		ZoneID:         rec.ZoneID,
		AlreadySettled: settled,
	}
}

func (b *Biller) priceFor(ctx context.Context, zoneID int64) (*repository.Price, error) {
	price, err := b.zones.PriceForZone(ctx, zoneID)
	if err != nil {
		return nil, parking.ErrInternal.WithCause(err)
	}
	if price == nil {
		return nil, parking.ErrNoPrice
	}
	return price, nil
}

// loadGroup fetches the bills of a settlement group and checks they belong
// to one plate. Bills already carrying an rrn are carved out up front; the
// remainder is what the terminal charges.
func (b *Biller) loadGroup(ctx context.Context, billIDs []int64) (plate string, amount int64, payable, settled []int64, err error) {
	if len(billIDs) == 0 {
		return "", 0, nil, nil, parking.ErrInputError.WithCause(errors.New("empty bill list"))
	}
	bills, err := b.bills.GetBills(ctx, billIDs)
	if err != nil {
		return "", 0, nil, nil, parking.ErrInternal.WithCause(err)
	}
	if len(bills) != len(billIDs) {
		return "", 0, nil, nil, parking.ErrNotFound.WithCause(fmt.Errorf("%d of %d bills found", len(bills), len(billIDs)))
	}
	plate = bills[0].Plate
	for _, bill := range bills {
		if bill.Plate != plate {
			return "", 0, nil, nil, parking.ErrInputError.WithCause(errors.New("bills span multiple plates"))
		}
		if bill.RRNNumber != nil {
			settled = append(settled, bill.ID)
			continue
		}
		payable = append(payable, bill.ID)
		amount += bill.Price
	}
	if len(payable) == 0 {
		return "", 0, nil, nil, parking.ErrBillSettled
	}
	return plate, amount, payable, settled, nil
}

// PayPOS charges a bill group on the terminal: /make, then poll /verify
// while the switch still reports SentToPos, then settle. The poll loop
// holds no database transaction; settlement reopens the row locks.
func (b *Biller) PayPOS(ctx context.Context, billIDs []int64) (*parking.PayResult, error) {
	plate, amount, payable, settled, err := b.loadGroup(ctx, billIDs)
	if err != nil {
		return nil, err
	}

	made, err := b.gateway.Make(ctx, amount, plate, nil, false)
	if err != nil {
		b.log.Error().Err(err).Str("plate", plate).Int64("amount", amount).Msg("biller: payment make failed")
		return nil, parking.ErrUnsuccessfulPay.WithCause(err)
	}
	tx, err := b.bills.CreateTransaction(ctx, payable, amount, nil)
	if err != nil {
		return nil, parking.ErrInternal.WithCause(err)
	}
	if err := b.bills.UpdateTransaction(ctx, tx.ID, parking.TxSentToPos, &made.OrderID, nil); err != nil {
		return nil, parking.ErrInternal.WithCause(err)
	}

	verify, err := b.pollVerify(ctx, made.OrderID)
	if err != nil {
		return nil, parking.ErrUnsuccessfulPay.WithCause(err)
	}
	return b.settleGroup(ctx, tx.ID, payable, settled, amount, verify)
}

// StartIPG begins a redirect-based payment and returns the gateway URL the
// client must follow. Settlement happens in CompleteIPG once the gateway
// calls back.
func (b *Biller) StartIPG(ctx context.Context, billIDs []int64, callbackURL string) (*parking.PayResult, error) {
	plate, amount, payable, _, err := b.loadGroup(ctx, billIDs)
	if err != nil {
		return nil, err
	}
	made, err := b.gateway.Make(ctx, amount, plate, nil, true)
	if err != nil {
		b.log.Error().Err(err).Str("plate", plate).Msg("biller: ipg make failed")
		return nil, parking.ErrUnsuccessfulPay.WithCause(err)
	}
	var cb *string
	if callbackURL != "" {
		cb = &callbackURL
	}
	tx, err := b.bills.CreateTransaction(ctx, payable, amount, cb)
	if err != nil {
		return nil, parking.ErrInternal.WithCause(err)
	}
	if err := b.bills.UpdateTransaction(ctx, tx.ID, parking.TxCreated, &made.OrderID, nil); err != nil {
		return nil, parking.ErrInternal.WithCause(err)
	}
	return &parking.PayResult{
		Amount:      amount,
		OrderID:     made.OrderID,
		RedirectURL: made.URL,
	}, nil
}

// CompleteIPG is the callback leg: one /verify, then the usual settlement.
func (b *Biller) CompleteIPG(ctx context.Context, orderID string) (*parking.PayResult, error) {
	tx, err := b.bills.GetTransactionByOrderID(ctx, orderID)
	if err != nil {
		return nil, parking.ErrInternal.WithCause(err)
	}
	if tx == nil {
		return nil, parking.ErrNotFound.WithCause(fmt.Errorf("transaction for order %s", orderID))
	}
	billIDs, err := repository.TransactionBillIDs(tx)
	if err != nil {
		return nil, parking.ErrInternal.WithCause(err)
	}
	verify, err := b.gateway.Verify(ctx, orderID)
	if err != nil {
		return nil, parking.ErrUnsuccessfulPay.WithCause(err)
	}
	return b.settleGroup(ctx, tx.ID, billIDs, nil, tx.Amount, verify)
}

// pollVerify asks the switch for the order state until it leaves SentToPos,
// the poll budget runs out, or the gateway errors hard.
func (b *Biller) pollVerify(ctx context.Context, orderID string) (*payment.VerifyResult, error) {
	var last *payment.VerifyResult
	for i := 0; i < b.verifyPolls; i++ {
		res, err := b.gateway.Verify(ctx, orderID)
		if err != nil {
			if errors.Is(err, payment.ErrGatewayUnavailable) {
				return nil, err
			}
			b.log.Warn().Err(err).Str("order_id", orderID).Int("poll", i+1).Msg("biller: verify poll failed")
			last = nil
		} else {
			last = res
			if res.Status != parking.TxSentToPos {
				return res, nil
			}
		}
		select {
		case <-time.After(b.verifyDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if last != nil {
		return last, nil
	}
	return nil, errors.New("verify never reached a terminal state")
}

// settleGroup applies a verify outcome. Only Verified with the exact amount
// settles; each bill row is locked FOR UPDATE and a bill whose rrn_number is
// already set is skipped, never overwritten.
func (b *Biller) settleGroup(ctx context.Context, txID int64, payable, alreadySettled []int64, amount int64, verify *payment.VerifyResult) (*parking.PayResult, error) {
	if verify.Status != parking.TxVerified || verify.Amount != amount {
		status := parking.TxFailed
		if verify.Status == parking.TxSentToPos || verify.Status == parking.TxCreated {
			// Ambiguous: leave the transaction pending for operator review.
			status = verify.Status
		}
		if err := b.bills.UpdateTransaction(ctx, txID, status, nil, nil); err != nil {
			b.log.Error().Err(err).Int64("transaction_id", txID).Msg("biller: transaction update failed")
		}
		b.log.Warn().
			Int64("transaction_id", txID).
			Str("status", string(verify.Status)).
			Int64("amount", verify.Amount).
			Int64("expected", amount).
			Msg("biller: payment not verified")
		return nil, parking.ErrUnsuccessfulPay
	}

	updated, skipped, err := b.bills.Settle(ctx, payable, verify.ReferenceNumber, b.now())
	if err != nil {
		return nil, parking.ErrInternal.WithCause(err)
	}
	rrn := verify.ReferenceNumber
	if err := b.bills.UpdateTransaction(ctx, txID, parking.TxVerified, nil, &rrn); err != nil {
		b.log.Error().Err(err).Int64("transaction_id", txID).Msg("biller: transaction update failed")
	}
	b.log.Info().
		Int64("transaction_id", txID).
		Ints64("bills_updated", updated).
		Str("rrn", rrn).
		Msg("biller: bills settled")
	return &parking.PayResult{
		BillsUpdated:    updated,
		BillsNotUpdated: append(alreadySettled, skipped...),
		RRNNumber:       rrn,
		Amount:          amount,
	}, nil
}
