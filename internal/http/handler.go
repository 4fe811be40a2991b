package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"parking-service/internal/broker"
	"parking-service/internal/config"
	"parking-service/internal/domain/parking"
	"parking-service/internal/payment"
	"parking-service/internal/queue"
	"parking-service/internal/repository"
	"parking-service/internal/service"
	"parking-service/internal/utils"
)

// Handler wires the API surface: ingest endpoints enqueue commands on the
// durable FIFO, query endpoints read the store, pay endpoints drive the
// biller, and the ws endpoints attach dashboards to the broker.
type Handler struct {
	commands queue.Queue
	biller   *service.Biller
	records  *repository.RecordRepository
	lpr      *repository.LPRRepository
	zones    *repository.ZoneRepository
	billing  *repository.BillingRepository
	spots    *repository.SpotRepository
	bus      *broker.Broker
	gateway  *payment.Client
	config   *config.Config
	log      zerolog.Logger
}

func NewHandler(
	commands queue.Queue,
	biller *service.Biller,
	records *repository.RecordRepository,
	lpr *repository.LPRRepository,
	zones *repository.ZoneRepository,
	billing *repository.BillingRepository,
	spots *repository.SpotRepository,
	bus *broker.Broker,
	gateway *payment.Client,
	cfg *config.Config,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		commands: commands,
		biller:   biller,
		records:  records,
		lpr:      lpr,
		zones:    zones,
		billing:  billing,
		spots:    spots,
		bus:      bus,
		gateway:  gateway,
		config:   cfg,
		log:      log,
	}
}

var wsTopics = map[string]string{
	"records":       parking.TopicRecords,
	"events":        parking.TopicEvents,
	"plates":        parking.TopicPlates,
	"notifications": parking.TopicNotifications,
}

func (h *Handler) Register(r *gin.Engine, authMiddleware gin.HandlerFunc) {
	public := r.Group("/api/v1")
	{
		public.POST("/plates", h.ingest(parking.CmdAddPlate))
		public.POST("/events", h.ingest(parking.CmdAddEvent))
		public.POST("/spots/status", h.ingest(parking.CmdUpdateSpot))

		public.POST("/kiosk", h.kiosk)
		public.POST("/pay/pos", h.payPOS)
		public.POST("/pay/ipg", h.startIPG)
		public.Any("/pay/ipg/callback", h.ipgCallback)

		public.GET("/ws/:topic", h.serveWS)
		public.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, successResponse(gin.H{"status": "up"}))
		})
	}

	protected := r.Group("/api/v1")
	protected.Use(authMiddleware)
	{
		protected.GET("/records", h.listRecords)
		protected.GET("/plates", h.listPlates)
		protected.GET("/events", h.listEvents)
		protected.PUT("/events/:id/invalidate", h.invalidateEvent)
		protected.GET("/bills", h.listBills)
		protected.GET("/bills/:id", h.getBill)
		protected.GET("/spots", h.listSpots)
		protected.GET("/zones/:id/summary", h.zoneSummary)
		protected.POST("/zones", h.createZone)
		protected.POST("/cameras", h.createCamera)
		protected.POST("/prices", h.createPrice)
		protected.PUT("/zones/:id/price/:priceID", h.bindPrice)
		protected.GET("/payment/reports", h.paymentReports)
		protected.GET("/payment/reports/logs", h.paymentLogs)
		protected.GET("/payment/transactions/:id", h.getTransaction)
	}
}

// ingest validates just enough to reject garbage at the edge, then puts the
// command on the durable FIFO; the workers do the real work.
func (h *Handler) ingest(kind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var payload map[string]interface{}
		if err := c.ShouldBindJSON(&payload); err != nil {
			errorJSON(c, parking.ErrBadRequest.WithCause(err))
			return
		}
		if plate, ok := payload["plate"].(string); ok && plate != "" {
			normalized := utils.NormalizePlate(plate)
			if !utils.ValidPlate(normalized, false) {
				errorJSON(c, parking.ErrInvalidPlateText)
				return
			}
			payload["plate"] = normalized
		}
		if err := h.commands.Enqueue(c.Request.Context(), kind, payload); err != nil {
			h.log.Error().Err(err).Str("kind", kind).Msg("enqueue command failed")
			errorJSON(c, parking.ErrInternal.WithCause(err))
			return
		}
		c.JSON(http.StatusAccepted, successResponse(gin.H{"queued": kind}))
	}
}

type kioskRequest struct {
	Plate string `json:"plate" binding:"required"`
	Issue bool   `json:"issue"`
}

func (h *Handler) kiosk(c *gin.Context) {
	var req kioskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, parking.ErrBadRequest.WithCause(err))
		return
	}
	plate := utils.NormalizePlate(req.Plate)
	if !utils.ValidPlate(plate, false) {
		errorJSON(c, parking.ErrInvalidPlateText)
		return
	}
	res, err := h.biller.Kiosk(c.Request.Context(), plate, req.Issue)
	if err != nil {
		errorJSON(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(res))
}

type payRequest struct {
	BillIDs     []int64 `json:"bill_ids" binding:"required"`
	CallbackURL string  `json:"callback_url"`
}

func (h *Handler) payPOS(c *gin.Context) {
	var req payRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, parking.ErrBadRequest.WithCause(err))
		return
	}
	res, err := h.biller.PayPOS(c.Request.Context(), req.BillIDs)
	if err != nil {
		errorJSON(c, err)
		return
	}
	h.writePayResult(c, res)
}

func (h *Handler) startIPG(c *gin.Context) {
	var req payRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, parking.ErrBadRequest.WithCause(err))
		return
	}
	res, err := h.biller.StartIPG(c.Request.Context(), req.BillIDs, req.CallbackURL)
	if err != nil {
		errorJSON(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(res))
}

func (h *Handler) ipgCallback(c *gin.Context) {
	orderID := c.Query("order_id")
	if orderID == "" {
		orderID = c.PostForm("order_id")
	}
	if orderID == "" {
		errorJSON(c, parking.ErrInputError)
		return
	}
	res, err := h.biller.CompleteIPG(c.Request.Context(), orderID)
	if err != nil {
		errorJSON(c, err)
		return
	}
	h.writePayResult(c, res)
}

// writePayResult reports full settlements with the payment-succeeded code;
// partial ones (some bills already carried an rrn) get code 14 so the kiosk
// can tell the driver which bills were skipped.
func (h *Handler) writePayResult(c *gin.Context, res *parking.PayResult) {
	header := responseHeader{
		Status:      "ok",
		Message:     "payment_succeeded",
		MessageCode: parking.CodePaymentSucceeded,
	}
	if len(res.BillsNotUpdated) > 0 {
		header.Message = parking.ErrBillSettled.Message
		header.PersianMessage = parking.ErrBillSettled.Persian
		header.MessageCode = parking.CodeBillSettled
	}
	c.JSON(http.StatusOK, gin.H{"header": header, "data": res})
}

func (h *Handler) serveWS(c *gin.Context) {
	topic, ok := wsTopics[c.Param("topic")]
	if !ok {
		errorJSON(c, parking.ErrNotFound)
		return
	}
	h.bus.ServeWS(c.Writer, c.Request, topic, h.config.Broadcast.IdleTimeout, h.log)
}

func (h *Handler) listRecords(c *gin.Context) {
	f := repository.RecordFilter{
		Plate:    normalizedQueryPlate(c),
		From:     parseTime(c.Query("from")),
		To:       parseTime(c.Query("to")),
		ZoneIDs:  parseIDs(c.Query("zone_ids")),
		CameraID: parseID(c.Query("camera_id")),
	}
	for _, s := range strings.Split(c.Query("statuses"), ",") {
		if s = strings.TrimSpace(s); s != "" {
			f.Statuses = append(f.Statuses, parking.RecordStatus(s))
		}
	}
	page := pageFrom(c, "end_time")
	rows, err := h.records.Find(c.Request.Context(), f, page)
	if err != nil {
		errorJSON(c, err)
		return
	}
	total, err := h.records.Count(c.Request.Context(), f)
	if err != nil {
		errorJSON(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(gin.H{"items": rows, "total": total}))
}

func (h *Handler) listPlates(c *gin.Context) {
	f := detectionFilterFrom(c)
	page := pageFrom(c, "record_time")
	rows, err := h.lpr.FindPlates(c.Request.Context(), f, page)
	if err != nil {
		errorJSON(c, err)
		return
	}
	total, err := h.lpr.CountPlates(c.Request.Context(), f)
	if err != nil {
		errorJSON(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(gin.H{"items": rows, "total": total}))
}

func (h *Handler) listEvents(c *gin.Context) {
	f := detectionFilterFrom(c)
	for _, s := range strings.Split(c.Query("kinds"), ",") {
		if s = strings.TrimSpace(s); s != "" {
			f.Kinds = append(f.Kinds, parking.EventKind(s))
		}
	}
	page := pageFrom(c, "record_time")
	rows, err := h.lpr.FindEvents(c.Request.Context(), f, page)
	if err != nil {
		errorJSON(c, err)
		return
	}
	total, err := h.lpr.CountEvents(c.Request.Context(), f)
	if err != nil {
		errorJSON(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(gin.H{"items": rows, "total": total}))
}

// invalidateEvent flags a misread event after an OCR correction so it no
// longer counts as evidence; the record it was bound to keeps its history.
func (h *Handler) invalidateEvent(c *gin.Context) {
	id := parseID(c.Param("id"))
	if id == nil {
		errorJSON(c, parking.ErrInputError)
		return
	}
	event, err := h.lpr.GetEvent(c.Request.Context(), *id)
	if err != nil {
		errorJSON(c, err)
		return
	}
	if event == nil {
		errorJSON(c, parking.ErrNotFound)
		return
	}
	if err := h.lpr.InvalidateEvent(c.Request.Context(), *id); err != nil {
		errorJSON(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(gin.H{"event_id": *id, "invalid": true}))
}

func (h *Handler) listBills(c *gin.Context) {
	f := repository.BillFilter{
		Plate:    normalizedQueryPlate(c),
		RecordID: parseID(c.Query("record_id")),
		ZoneIDs:  parseIDs(c.Query("zone_ids")),
		From:     parseTime(c.Query("from")),
		To:       parseTime(c.Query("to")),
	}
	for _, s := range strings.Split(c.Query("statuses"), ",") {
		if s = strings.TrimSpace(s); s != "" {
			f.Statuses = append(f.Statuses, parking.BillStatus(s))
		}
	}
	page := pageFrom(c, "created")
	rows, err := h.billing.FindBills(c.Request.Context(), f, page)
	if err != nil {
		errorJSON(c, err)
		return
	}
	total, err := h.billing.CountBills(c.Request.Context(), f)
	if err != nil {
		errorJSON(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(gin.H{"items": rows, "total": total}))
}

func (h *Handler) getBill(c *gin.Context) {
	id := parseID(c.Param("id"))
	if id == nil {
		errorJSON(c, parking.ErrInputError)
		return
	}
	bill, err := h.billing.GetBill(c.Request.Context(), *id)
	if err != nil {
		errorJSON(c, err)
		return
	}
	if bill == nil {
		errorJSON(c, parking.ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, successResponse(bill))
}

func (h *Handler) listSpots(c *gin.Context) {
	rows, err := h.spots.ListByZone(c.Request.Context(), parseIDs(c.Query("zone_ids")))
	if err != nil {
		errorJSON(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(rows))
}

func (h *Handler) zoneSummary(c *gin.Context) {
	id := parseID(c.Param("id"))
	if id == nil {
		errorJSON(c, parking.ErrInputError)
		return
	}
	summary, err := h.zones.Summary(c.Request.Context(), *id)
	if err != nil {
		errorJSON(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(summary))
}

func (h *Handler) createZone(c *gin.Context) {
	var z repository.Zone
	if err := c.ShouldBindJSON(&z); err != nil {
		errorJSON(c, parking.ErrBadRequest.WithCause(err))
		return
	}
	if err := h.zones.CreateZone(c.Request.Context(), &z); err != nil {
		errorJSON(c, err)
		return
	}
	c.JSON(http.StatusCreated, successResponse(z))
}

func (h *Handler) createCamera(c *gin.Context) {
	var cam repository.Camera
	if err := c.ShouldBindJSON(&cam); err != nil {
		errorJSON(c, parking.ErrBadRequest.WithCause(err))
		return
	}
	if err := h.zones.CreateCamera(c.Request.Context(), &cam); err != nil {
		errorJSON(c, err)
		return
	}
	c.JSON(http.StatusCreated, successResponse(cam))
}

func (h *Handler) createPrice(c *gin.Context) {
	var p repository.Price
	if err := c.ShouldBindJSON(&p); err != nil {
		errorJSON(c, parking.ErrBadRequest.WithCause(err))
		return
	}
	if err := h.zones.CreatePrice(c.Request.Context(), &p); err != nil {
		errorJSON(c, err)
		return
	}
	c.JSON(http.StatusCreated, successResponse(p))
}

func (h *Handler) bindPrice(c *gin.Context) {
	zoneID, priceID := parseID(c.Param("id")), parseID(c.Param("priceID"))
	if zoneID == nil || priceID == nil {
		errorJSON(c, parking.ErrInputError)
		return
	}
	if err := h.zones.BindPrice(c.Request.Context(), *zoneID, *priceID); err != nil {
		errorJSON(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(gin.H{"zone_id": *zoneID, "price_id": *priceID}))
}

func (h *Handler) paymentReports(c *gin.Context) {
	data, err := h.gateway.Reports(c.Request.Context(), c.Request.URL.Query())
	if err != nil {
		errorJSON(c, parking.ErrOperationFailed.WithCause(err))
		return
	}
	c.Data(http.StatusOK, "application/json", data)
}

func (h *Handler) paymentLogs(c *gin.Context) {
	data, err := h.gateway.ReportLogs(c.Request.Context(), c.Request.URL.Query())
	if err != nil {
		errorJSON(c, parking.ErrOperationFailed.WithCause(err))
		return
	}
	c.Data(http.StatusOK, "application/json", data)
}

func (h *Handler) getTransaction(c *gin.Context) {
	id := parseID(c.Param("id"))
	if id == nil {
		errorJSON(c, parking.ErrInputError)
		return
	}
	txn, err := h.billing.GetTransaction(c.Request.Context(), *id)
	if err != nil {
		errorJSON(c, err)
		return
	}
	if txn == nil {
		errorJSON(c, parking.ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, successResponse(txn))
}

func detectionFilterFrom(c *gin.Context) repository.DetectionFilter {
	return repository.DetectionFilter{
		Plate:    normalizedQueryPlate(c),
		From:     parseTime(c.Query("from")),
		To:       parseTime(c.Query("to")),
		ZoneIDs:  parseIDs(c.Query("zone_ids")),
		CameraID: parseID(c.Query("camera_id")),
	}
}

// normalizedQueryPlate accepts `?` wildcards for searches.
func normalizedQueryPlate(c *gin.Context) string {
	plate := utils.NormalizePlate(c.Query("plate"))
	if plate == "" || !utils.ValidPlate(plate, true) {
		return ""
	}
	return plate
}

func pageFrom(c *gin.Context, defaultSort string) repository.Page {
	page := repository.Page{SortKey: defaultSort, Desc: c.DefaultQuery("order", "desc") == "desc"}
	if n, err := strconv.Atoi(c.Query("limit")); err == nil && n > 0 {
		page.Limit = n
	}
	if n, err := strconv.Atoi(c.Query("offset")); err == nil && n >= 0 {
		page.Offset = n
	}
	return page
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

func parseID(s string) *int64 {
	if s == "" {
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	return &n
}

func parseIDs(s string) []int64 {
	if s == "" {
		return nil
	}
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		if n, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64); err == nil {
			ids = append(ids, n)
		}
	}
	return ids
}
