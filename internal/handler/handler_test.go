package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kaajbazar/service-booking/internal/application"
	"github.com/kaajbazar/service-booking/internal/domain/directory"
	"github.com/kaajbazar/service-booking/internal/events"
	"github.com/kaajbazar/service-booking/internal/gateway/stripegw"
	"github.com/kaajbazar/service-booking/internal/handler"
	"github.com/kaajbazar/service-booking/internal/platform/auth"
	"github.com/kaajbazar/service-booking/internal/platform/clock"
	"github.com/kaajbazar/service-booking/internal/platform/kafka"
	"github.com/kaajbazar/service-booking/internal/repository"
	"github.com/kaajbazar/service-booking/internal/testutil"
)

var now = time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)

type discardPublisher struct{}

func (discardPublisher) PublishKeyed(context.Context, string, string, kafka.CloudEvent) error {
	return nil
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

type server struct {
	router    *gin.Engine
	jwt       *auth.JWTManager
	bookings  *repository.GormBookingRepository
	directory *repository.GormDirectory
}

func newServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.NewDB(t)
	log := zap.NewNop()
	clk := clock.NewFakeClock(now)

	bookingRepo := repository.NewGormBookingRepository(db)
	payoutRepo := repository.NewGormPayoutRepository(db)
	dir := repository.NewGormDirectory(db)
	notifier := events.NewKafkaNotifier(discardPublisher{}, events.TopicBookingEvents, log)
	gateway := stripegw.New("sk_test_unused", "whsec_test", log)

	commissionService := application.NewCommissionService(repository.NewGormCommissionRepository(db), bookingRepo, dir, clk, log)
	bookingService := application.NewBookingService(bookingRepo, commissionService, dir, gateway, notifier, nil, clk, log)
	payoutService := application.NewPayoutService(payoutRepo, bookingRepo, nil, time.Minute, notifier, nil, clk, log)
	settlementService := application.NewSettlementService(bookingRepo, payoutRepo, payoutService, gateway, notifier, nil, clk, 7*24*time.Hour, log)

	jwtManager := auth.NewJWTManager("test-secret", 15*time.Minute, time.Hour)
	router := gin.New()
	root := router.Group("")
	handler.NewBookingHandler(bookingService).RegisterRoutes(root, jwtManager)
	handler.NewCommissionHandler(commissionService).RegisterRoutes(root, jwtManager)
	handler.NewPayoutHandler(payoutService).RegisterRoutes(root, jwtManager)
	handler.NewAdminSettlementHandler(payoutService, settlementService).RegisterRoutes(root, jwtManager)
	handler.NewWebhookHandler(settlementService).RegisterRoutes(root)

	return &server{router: router, jwt: jwtManager, bookings: bookingRepo, directory: dir}
}

func (s *server) token(t *testing.T, id uuid.UUID, roles ...auth.Role) string {
	t.Helper()
	tok, err := s.jwt.GenerateAccessToken(id, roles...)
	require.NoError(t, err)
	return tok
}

func (s *server) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	return w, env
}

func (s *server) seed(t *testing.T) (professionalID, categoryID uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	professionalID, categoryID = uuid.New(), uuid.New()
	require.NoError(t, s.directory.UpsertUser(ctx, directory.User{
		ID: professionalID, Name: "Rahim", Active: true, Roles: []auth.Role{auth.RoleProfessional},
	}, now))
	require.NoError(t, s.directory.UpsertCategory(ctx, directory.Category{ID: categoryID, Name: "Plumbing"}, now))
	return professionalID, categoryID
}

func TestBookingRoutes_Lifecycle(t *testing.T) {
	s := newServer(t)
	pro, category := s.seed(t)
	customer := uuid.New()
	customerToken := s.token(t, customer, auth.RoleCustomer)
	proToken := s.token(t, pro, auth.RoleProfessional)

	w, _ := s.do(t, http.MethodGet, "/api/v1/bookings", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, env := s.do(t, http.MethodPost, "/api/v1/bookings", customerToken, map[string]any{
		"professional_id": pro,
		"category_id":     category,
		"scheduled_at":    now.Add(24 * time.Hour),
		"address_text":    "Road 4, Dhanmondi",
		"pricing_model":   "FIXED",
		"quoted_price":    250000,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created application.BookingDTO
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Equal(t, "PENDING", created.Status)
	assert.Equal(t, 15.0, created.CommissionPercent)

	base := "/api/v1/bookings/" + created.ID.String()

	w, _ = s.do(t, http.MethodPost, base+"/accept", customerToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code, "customers cannot accept")

	w, _ = s.do(t, http.MethodPost, base+"/accept", s.token(t, uuid.New(), auth.RoleProfessional), nil)
	assert.Equal(t, http.StatusForbidden, w.Code, "only the assigned professional")

	w, env = s.do(t, http.MethodPost, base+"/check-in", proToken, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Cannot transition from PENDING to IN_PROGRESS", env.Error)

	for _, step := range []string{"/accept", "/check-in", "/complete"} {
		w, _ = s.do(t, http.MethodPost, base+step, proToken, nil)
		require.Equal(t, http.StatusOK, w.Code, step+": "+w.Body.String())
	}

	w, env = s.do(t, http.MethodGet, base, customerToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got application.BookingDTO
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, "COMPLETED", got.Status)
	require.NotNil(t, got.FinalAmount)
	assert.Equal(t, int64(250000), *got.FinalAmount)

	w, env = s.do(t, http.MethodGet, base+"/events", customerToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var events []application.BookingEventDTO
	require.NoError(t, json.Unmarshal(env.Data, &events))
	assert.Len(t, events, 5)

	w, _ = s.do(t, http.MethodPost, base+"/cancel", customerToken, map[string]string{"reason": "too late"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBookingRoutes_Errors(t *testing.T) {
	s := newServer(t)
	customerToken := s.token(t, uuid.New(), auth.RoleCustomer)

	w, env := s.do(t, http.MethodGet, "/api/v1/bookings/not-a-uuid", customerToken, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid booking ID", env.Error)

	w, _ = s.do(t, http.MethodGet, "/api/v1/bookings/"+uuid.NewString(), customerToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = s.do(t, http.MethodPost, "/api/v1/bookings", customerToken, map[string]any{"pricing_model": "FIXED"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(t, http.MethodGet, "/api/v1/bookings", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminRoutes_GeneratePayouts(t *testing.T) {
	s := newServer(t)
	pro := uuid.New()
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	testutil.SeedCompletedBooking(t, s.bookings, pro, 1000, 15, day.Add(9*time.Hour))
	testutil.SeedCompletedBooking(t, s.bookings, pro, 1500, 15, day.Add(11*time.Hour))

	body := map[string]time.Time{"period_start": day, "period_end": day.Add(24 * time.Hour)}

	w, _ := s.do(t, http.MethodPost, "/api/v1/admin/payouts/generate", s.token(t, pro, auth.RoleProfessional), body)
	assert.Equal(t, http.StatusForbidden, w.Code)

	adminToken := s.token(t, uuid.New(), auth.RoleAdmin)
	w, env := s.do(t, http.MethodPost, "/api/v1/admin/payouts/generate", adminToken, body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result application.GeneratePayoutsResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, 1, result.Generated)
	assert.Equal(t, int64(2125), result.TotalAmount)

	w, env = s.do(t, http.MethodGet, "/api/v1/payouts", s.token(t, pro, auth.RoleProfessional), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var payouts []application.PayoutDTO
	require.NoError(t, json.Unmarshal(env.Data, &payouts))
	require.Len(t, payouts, 1)
	assert.Equal(t, int64(2125), payouts[0].Amount)

	w, _ = s.do(t, http.MethodGet, "/api/v1/payouts", s.token(t, uuid.New(), auth.RoleCustomer), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, env = s.do(t, http.MethodGet, "/api/v1/admin/settlements/history?from=2026-03-03&to=2026-03-01", adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "to must be after from", env.Error)
}

func TestWebhookRoute_RejectsBadSignature(t *testing.T) {
	s := newServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewBufferString(`{"id":"evt_1"}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
