package application_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kaajbazar/service-booking/internal/application"
	"github.com/kaajbazar/service-booking/internal/domain/directory"
	"github.com/kaajbazar/service-booking/internal/platform/auth"
	"github.com/kaajbazar/service-booking/internal/platform/clock"
	"github.com/kaajbazar/service-booking/internal/platform/metrics"
	"github.com/kaajbazar/service-booking/internal/repository"
	"github.com/kaajbazar/service-booking/internal/testutil"
)

// --- Fakes ---

type notification struct {
	event   string
	key     string
	payload any
}

type notifierSpy struct {
	mu   sync.Mutex
	sent []notification
}

func (n *notifierSpy) Notify(_ context.Context, event string, key string, payload any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{event: event, key: key, payload: payload})
}

func (n *notifierSpy) count(event string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, s := range n.sent {
		if s.event == event {
			c++
		}
	}
	return c
}

func (n *notifierSpy) last(event string) (notification, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.sent) - 1; i >= 0; i-- {
		if n.sent[i].event == event {
			return n.sent[i], true
		}
	}
	return notification{}, false
}

type fakeGateway struct {
	mu       sync.Mutex
	intents  int
	captures []int64
	refunds  []int64
	onRefund func()

	verifyErr    error
	webhookEvent *application.WebhookEvent
	paymentEvent *application.PaymentEvent
}

func (g *fakeGateway) CreateIntent(_ context.Context, bookingID uuid.UUID, amount int64, currency string) (*application.PaymentIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.intents++
	return &application.PaymentIntent{
		ID:           "pi_" + bookingID.String()[:8],
		ClientSecret: "secret",
		Status:       "requires_payment_method",
		AmountPoisha: amount,
		Currency:     currency,
	}, nil
}

func (g *fakeGateway) CapturePayment(_ context.Context, intentID string, amount int64) (*application.PaymentIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.captures = append(g.captures, amount)
	return &application.PaymentIntent{ID: intentID, Status: "succeeded", AmountPoisha: amount}, nil
}

func (g *fakeGateway) RefundPayment(_ context.Context, _ string, amount int64, _ string) (*application.Refund, error) {
	g.mu.Lock()
	g.refunds = append(g.refunds, amount)
	hook := g.onRefund
	id := fmt.Sprintf("re_%d", len(g.refunds))
	g.mu.Unlock()
	if hook != nil {
		hook()
	}
	return &application.Refund{ID: id, AmountPoisha: amount, Status: "succeeded"}, nil
}

func (g *fakeGateway) VerifyWebhook(_ []byte, _ string) (*application.WebhookEvent, error) {
	if g.verifyErr != nil {
		return nil, g.verifyErr
	}
	return g.webhookEvent, nil
}

func (g *fakeGateway) ProcessWebhook(_ *application.WebhookEvent) (*application.PaymentEvent, error) {
	return g.paymentEvent, nil
}

type fakeLocker struct {
	mu       sync.Mutex
	held     map[string]string
	released int
	err      error
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: map[string]string{}}
}

func (l *fakeLocker) TryLock(_ context.Context, key string, _ time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return "", false, l.err
	}
	if _, ok := l.held[key]; ok {
		return "", false, nil
	}
	token := uuid.NewString()
	l.held[key] = token
	return token, true, nil
}

func (l *fakeLocker) Release(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] != token {
		return errors.New("lock not held")
	}
	delete(l.held, key)
	l.released++
	return nil
}

// --- Harness ---

var (
	periodDay = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	admin     = application.Actor{ID: uuid.New(), Roles: []auth.Role{auth.RoleAdmin}}
)

func professionalActor(id uuid.UUID) application.Actor {
	return application.Actor{ID: id, Roles: []auth.Role{auth.RoleProfessional}}
}

func customerActor(id uuid.UUID) application.Actor {
	return application.Actor{ID: id, Roles: []auth.Role{auth.RoleCustomer}}
}

type env struct {
	clock       *clock.FakeClock
	notifier    *notifierSpy
	gateway     *fakeGateway
	locker      *fakeLocker
	registry    *prometheus.Registry
	bookings    *repository.GormBookingRepository
	payouts     *repository.GormPayoutRepository
	directory   *repository.GormDirectory
	commissions *application.CommissionService
	booking     *application.BookingService
	payout      *application.PayoutService
	settlement  *application.SettlementService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := testutil.NewDB(t)
	log := zap.NewNop()

	e := &env{
		clock:     clock.NewFakeClock(periodDay.Add(30 * time.Hour)),
		notifier:  &notifierSpy{},
		gateway:   &fakeGateway{},
		locker:    newFakeLocker(),
		registry:  prometheus.NewRegistry(),
		bookings:  repository.NewGormBookingRepository(db),
		payouts:   repository.NewGormPayoutRepository(db),
		directory: repository.NewGormDirectory(db),
	}
	m := metrics.New(e.registry)

	e.commissions = application.NewCommissionService(repository.NewGormCommissionRepository(db), e.bookings, e.directory, e.clock, log)
	e.booking = application.NewBookingService(e.bookings, e.commissions, e.directory, e.gateway, e.notifier, m, e.clock, log)
	e.payout = application.NewPayoutService(e.payouts, e.bookings, e.locker, time.Minute, e.notifier, m, e.clock, log)
	e.settlement = application.NewSettlementService(e.bookings, e.payouts, e.payout, e.gateway, e.notifier, m, e.clock, 7*24*time.Hour, log)
	return e
}

// seedProfessional registers an active professional in the directory.
func (e *env) seedProfessional(t *testing.T) uuid.UUID {
	t.Helper()
	id := uuid.New()
	require.NoError(t, e.directory.UpsertUser(context.Background(), directory.User{
		ID: id, Name: "pro-" + id.String()[:4], Active: true, Roles: []auth.Role{auth.RoleProfessional},
	}, e.clock.Now()))
	return id
}

func (e *env) seedCategory(t *testing.T, name string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	require.NoError(t, e.directory.UpsertCategory(context.Background(), directory.Category{ID: id, Name: name}, e.clock.Now()))
	return id
}
