//go:build integration

package main_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaajbazar/service-booking/internal/application"
	bookingEvents "github.com/kaajbazar/service-booking/internal/events"
	"github.com/kaajbazar/service-booking/internal/platform/auth"
	"github.com/kaajbazar/service-booking/internal/platform/clock"
	"github.com/kaajbazar/service-booking/internal/repository"
	"github.com/kaajbazar/service-booking/internal/testutil"
)

var admin = application.Actor{ID: uuid.New(), Roles: []auth.Role{auth.RoleAdmin}}

// TestPaymentRefunded_AdjustsPendingPayout verifies that a refund published to
// payment.events is recorded on the booking, reduces its PENDING payout by the
// professional's share, and is announced on booking.events.
func TestPaymentRefunded_AdjustsPendingPayout(t *testing.T) {
	infra := setupContainers(t)
	defer infra.Cleanup()

	day := time.Now().UTC().Truncate(24 * time.Hour).Add(-24 * time.Hour)
	stack := setupSettlementStack(t, infra.DB, infra.KafkaBrokers, clock.RealClock{})
	defer stack.CleanupProducer()
	defer func() { _ = stack.Consumer.Close() }()

	bk := testutil.SeedCompletedBooking(t, stack.Bookings, uuid.New(), 10000, 20, day.Add(10*time.Hour),
		testutil.WithCapture("pi_integration", 10000))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	run, err := stack.PayoutService.GeneratePayoutsForPeriod(ctx, admin, day, day.Add(24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, run.Generated)
	require.Equal(t, int64(8000), run.TotalAmount)

	go func() { _ = stack.Consumer.Start(ctx) }()
	time.Sleep(3 * time.Second) // Wait for consumer group join.

	evt := application.PaymentEvent{IntentID: "pi_integration", AmountPoisha: 5000}
	publishTestEvent(t, infra.KafkaBrokers, bookingEvents.TopicPaymentEvents,
		"service-payment", string(application.PaymentRefunded), evt)
	// Redelivery of the same cumulative total is a no-op.
	publishTestEvent(t, infra.KafkaBrokers, bookingEvents.TopicPaymentEvents,
		"service-payment", string(application.PaymentRefunded), evt)

	model := waitForBooking(t, infra.DB, bk.ID(), func(m repository.BookingModel) bool {
		return m.RefundedPoisha == 5000
	}, 15*time.Second)
	assert.Equal(t, int64(10000), model.CapturedPoisha)

	p, err := stack.Payouts.FindByID(ctx, run.PayoutIDs[0])
	require.NoError(t, err)
	assert.Equal(t, int64(4000), p.AmountPoisha())
	assert.Equal(t, int64(4000), p.Meta().RefundAdjustment)

	ce := consumeOneEvent(t, infra.KafkaBrokers, bookingEvents.TopicBookingEvents,
		application.NotifyRefundIssued, 15*time.Second)

	var refund application.RefundNotification
	require.NoError(t, ce.ParseData(&refund))
	assert.Equal(t, bk.ID(), refund.BookingID)
	assert.Equal(t, int64(5000), refund.Amount)
	assert.Equal(t, "gateway", refund.Source)

	// Give the duplicate time to arrive, then confirm nothing moved.
	time.Sleep(2 * time.Second)
	stored, err := stack.Bookings.FindByID(ctx, bk.ID())
	require.NoError(t, err)
	assert.Equal(t, int64(5000), stored.RefundedPoisha())
}

// TestConcurrentPayoutRuns_SettleEachBookingOnce runs payout generation for the same
// period from several goroutines without a run lock and checks that the booking claim
// in PostgreSQL still settles each booking exactly once.
func TestConcurrentPayoutRuns_SettleEachBookingOnce(t *testing.T) {
	infra := setupContainers(t)
	defer infra.Cleanup()

	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	stack := setupSettlementStack(t, infra.DB, infra.KafkaBrokers, clock.NewFakeClock(day.Add(30*time.Hour)))
	defer stack.CleanupProducer()

	professionals := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for i, pro := range professionals {
		for j := 0; j < 4; j++ {
			testutil.SeedCompletedBooking(t, stack.Bookings, pro, int64(1000*(j+1)), 15,
				day.Add(time.Duration(i+j+1)*time.Hour))
		}
	}

	const runners = 5
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		generated int
		total     int64
	)
	for range runners {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := stack.PayoutService.GeneratePayoutsForPeriod(context.Background(), admin, day, day.Add(24*time.Hour))
			if err != nil {
				return
			}
			mu.Lock()
			generated += res.Generated
			total += res.TotalAmount
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, len(professionals), generated)
	// 3 professionals x (1000+2000+3000+4000) at 15%.
	assert.Equal(t, int64(3*8500), total)

	list, err := stack.PayoutService.GetPayouts(context.Background(), admin, application.PayoutQuery{})
	require.NoError(t, err)
	assert.Equal(t, int64(len(professionals)), list.Total)
}
