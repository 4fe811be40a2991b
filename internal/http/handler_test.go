package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"parking-service/internal/broker"
	"parking-service/internal/config"
	"parking-service/internal/domain/parking"
	"parking-service/internal/queue"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testAPI struct {
	router   *gin.Engine
	commands *queue.MemoryQueue
}

func newTestAPI() *testAPI {
	commands := queue.NewMemoryQueue(16)
	bus := broker.New(nil, time.Second, 8, zerolog.Nop())
	cfg := &config.Config{}
	cfg.Broadcast.IdleTimeout = time.Minute
	h := NewHandler(commands, nil, nil, nil, nil, nil, nil, bus, nil, cfg, zerolog.Nop())

	router := gin.New()
	h.Register(router, NewAuthMiddleware("test-secret"))
	return &testAPI{router: router, commands: commands}
}

func (a *testAPI) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decodeHeader(t *testing.T, w *httptest.ResponseRecorder) responseHeader {
	t.Helper()
	var body struct {
		Header responseHeader `json:"header"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %s: %v", w.Body.String(), err)
	}
	return body.Header
}

func TestIngestEndpointQueuesCommand(t *testing.T) {
	api := newTestAPI()
	w := api.do(http.MethodPost, "/api/v1/plates",
		`{"plate": "۱۲۳۴۵۶۷۸۹", "record_time": "2024-09-01T08:00:00Z", "camera_id": 11, "zone_id": 1, "camera_tag": "entrance"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	received := make(chan queue.Message, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go api.commands.Consume(ctx, func(ctx context.Context, msg queue.Message) error {
		received <- msg
		cancel()
		return nil
	})

	select {
	case msg := <-received:
		if msg.Kind != parking.CmdAddPlate {
			t.Errorf("kind = %s", msg.Kind)
		}
		var payload map[string]interface{}
		json.Unmarshal(msg.Payload, &payload)
		if payload["plate"] != "123456789" {
			t.Errorf("plate = %v, want normalized before queueing", payload["plate"])
		}
	case <-time.After(time.Second):
		t.Fatal("command never reached the queue")
	}
}

func TestIngestEndpointRejectsBadPlate(t *testing.T) {
	api := newTestAPI()
	w := api.do(http.MethodPost, "/api/v1/plates", `{"plate": "12345", "camera_id": 11}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	header := decodeHeader(t, w)
	if header.MessageCode != parking.CodeInputError {
		t.Errorf("message_code = %d, want %d", header.MessageCode, parking.CodeInputError)
	}
	if header.PersianMessage == "" {
		t.Error("persian_message must be set on errors")
	}
}

func TestIngestEndpointRejectsMalformedJSON(t *testing.T) {
	api := newTestAPI()
	w := api.do(http.MethodPost, "/api/v1/events", `{"plate": `)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	if header := decodeHeader(t, w); header.MessageCode != parking.CodeBadRequest {
		t.Errorf("message_code = %d, want %d", header.MessageCode, parking.CodeBadRequest)
	}
}

func TestHealth(t *testing.T) {
	api := newTestAPI()
	w := api.do(http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if header := decodeHeader(t, w); header.MessageCode != parking.CodeSuccess {
		t.Errorf("message_code = %d", header.MessageCode)
	}
}

func TestServeWSUnknownTopic(t *testing.T) {
	api := newTestAPI()
	w := api.do(http.MethodGet, "/api/v1/ws/gossip", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	api := newTestAPI()

	w := api.do(http.MethodGet, "/api/v1/records", "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status without token = %d, want 401", w.Code)
	}
	if header := decodeHeader(t, w); header.MessageCode != parking.CodeBadCredentials {
		t.Errorf("message_code = %d, want %d", header.MessageCode, parking.CodeBadCredentials)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/records", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status with garbage token = %d, want 401", rec.Code)
	}
}

func TestDetailRoutesAreRegistered(t *testing.T) {
	api := newTestAPI()

	// The auth guard answering 401 rather than the router answering 404
	// proves the route exists without touching the store.
	for _, tc := range []struct {
		method, path string
	}{
		{http.MethodGet, "/api/v1/bills/7"},
		{http.MethodGet, "/api/v1/payment/transactions/7"},
		{http.MethodPut, "/api/v1/events/7/invalidate"},
	} {
		w := api.do(tc.method, tc.path, "")
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s %s = %d, want 401 from the auth guard", tc.method, tc.path, w.Code)
		}
	}
}

func TestAuthMiddlewareAcceptsSignedToken(t *testing.T) {
	router := gin.New()
	router.GET("/whoami", NewAuthMiddleware("test-secret"), func(c *gin.Context) {
		operator, _ := c.Get("operator")
		c.JSON(http.StatusOK, gin.H{"operator": operator})
	})

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "gatekeeper",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "gatekeeper") {
		t.Errorf("operator claim not propagated: %s", w.Body.String())
	}

	// Same token, wrong secret.
	router2 := gin.New()
	router2.GET("/whoami", NewAuthMiddleware("other-secret"), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	w2 := httptest.NewRecorder()
	router2.ServeHTTP(w2, req)
	if w2.Code != http.StatusUnauthorized {
		t.Fatalf("status with wrong secret = %d, want 401", w2.Code)
	}
}

func TestRequestID(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	router.GET("/whoami", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("request id not generated")
	}

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("X-Request-ID", "req-7")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "req-7" {
		t.Errorf("request id = %q, want the caller's preserved", got)
	}
}

func TestHTTPStatusFor(t *testing.T) {
	tests := []struct {
		code int
		want int
	}{
		{parking.CodeNotFound, http.StatusNotFound},
		{parking.CodeBadRequest, http.StatusBadRequest},
		{parking.CodeInputError, http.StatusBadRequest},
		{parking.CodeOperationFailed, http.StatusBadRequest},
		{parking.CodeForbidden, http.StatusForbidden},
		{parking.CodeBadCredentials, http.StatusUnauthorized},
		{parking.CodeDuplicateZoneName, http.StatusConflict},
		{parking.CodeBillSettled, http.StatusConflict},
		{parking.CodeInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := httpStatusFor(tt.code); got != tt.want {
			t.Errorf("httpStatusFor(%d) = %d, want %d", tt.code, got, tt.want)
		}
	}
}

func TestWritePayResult(t *testing.T) {
	h := &Handler{}

	full := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(full)
	h.writePayResult(c, &parking.PayResult{BillsUpdated: []int64{1, 2}, RRNNumber: "rrn-1", Amount: 1000})
	var body struct {
		Header responseHeader `json:"header"`
	}
	json.Unmarshal(full.Body.Bytes(), &body)
	if body.Header.MessageCode != parking.CodePaymentSucceeded {
		t.Errorf("full settlement code = %d, want %d", body.Header.MessageCode, parking.CodePaymentSucceeded)
	}

	partial := httptest.NewRecorder()
	c, _ = gin.CreateTestContext(partial)
	h.writePayResult(c, &parking.PayResult{BillsUpdated: []int64{1}, BillsNotUpdated: []int64{2}, RRNNumber: "rrn-1", Amount: 500})
	json.Unmarshal(partial.Body.Bytes(), &body)
	if body.Header.MessageCode != parking.CodeBillSettled {
		t.Errorf("partial settlement code = %d, want %d", body.Header.MessageCode, parking.CodeBillSettled)
	}
}
