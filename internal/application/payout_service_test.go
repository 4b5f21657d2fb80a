package application_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaajbazar/service-booking/internal/application"
	bookingDomain "github.com/kaajbazar/service-booking/internal/domain/booking"
	"github.com/kaajbazar/service-booking/internal/platform/domain"
	"github.com/kaajbazar/service-booking/internal/testutil"
)

func dayRange(day time.Time) (time.Time, time.Time) {
	return day, day.Add(24 * time.Hour)
}

func TestGeneratePayouts_GroupsByProfessional(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	proA, proB := uuid.New(), uuid.New()

	testutil.SeedCompletedBooking(t, e.bookings, proA, 1000, 15, periodDay.Add(9*time.Hour))
	testutil.SeedCompletedBooking(t, e.bookings, proA, 1500, 15, periodDay.Add(13*time.Hour))
	testutil.SeedCompletedBooking(t, e.bookings, proB, 1000, 20, periodDay.Add(10*time.Hour))
	testutil.SeedCompletedBooking(t, e.bookings, proB, 1000, 10, periodDay.Add(11*time.Hour))
	// Outside the period.
	testutil.SeedCompletedBooking(t, e.bookings, proA, 9000, 15, periodDay.Add(25*time.Hour))
	// Not completed.
	testutil.SeedCompletedBooking(t, e.bookings, proA, 9000, 15, periodDay.Add(12*time.Hour),
		testutil.WithStatus(bookingDomain.StatusInProgress))

	start, end := dayRange(periodDay)
	result, err := e.payout.GeneratePayoutsForPeriod(ctx, admin, start, end)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Generated)
	assert.Zero(t, result.Failed)
	assert.Equal(t, int64(3825), result.TotalAmount)
	assert.Len(t, result.PayoutIDs, 2)

	byPro := map[uuid.UUID]application.PayoutDTO{}
	for _, id := range result.PayoutIDs {
		p, err := e.payout.GetPayoutByID(ctx, admin, id)
		require.NoError(t, err)
		byPro[p.ProfessionalID] = *p
	}

	a := byPro[proA]
	assert.Equal(t, int64(2125), a.Amount)
	assert.Equal(t, "PENDING", a.Status)
	assert.Equal(t, 2, a.Meta.BookingsCount)
	assert.Equal(t, int64(2500), a.Meta.TotalEarnings)
	assert.Equal(t, int64(375), a.Meta.CommissionAmount)
	assert.True(t, a.PeriodStart.Equal(start))
	assert.True(t, a.PeriodEnd.Equal(end))

	b := byPro[proB]
	assert.Equal(t, int64(1700), b.Amount)
	assert.Equal(t, int64(300), b.Meta.CommissionAmount)

	assert.Equal(t, 2, e.notifier.count(application.NotifyPayoutCreated))
}

func TestGeneratePayouts_CommissionChangesLeavePayoutAlone(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	category := e.seedCategory(t, "Electrical")
	categorySetting, err := e.commissions.CreateCommissionSetting(ctx, admin, application.CreateCommissionSettingRequest{CategoryID: &category, Percent: 20})
	require.NoError(t, err)
	globalSetting, err := e.commissions.CreateCommissionSetting(ctx, admin, application.CreateCommissionSettingRequest{Percent: 12})
	require.NoError(t, err)

	pro := uuid.New()
	testutil.SeedCompletedBooking(t, e.bookings, pro, 5000, 20, periodDay.Add(9*time.Hour), testutil.WithCategory(category))
	testutil.SeedCompletedBooking(t, e.bookings, pro, 3000, 12, periodDay.Add(10*time.Hour))

	start, end := dayRange(periodDay)
	run, err := e.payout.GeneratePayoutsForPeriod(ctx, admin, start, end)
	require.NoError(t, err)
	require.Equal(t, 1, run.Generated)
	before, err := e.payout.GetPayoutByID(ctx, admin, run.PayoutIDs[0])
	require.NoError(t, err)
	assert.Equal(t, int64(6640), before.Amount)
	assert.Equal(t, int64(1360), before.Meta.CommissionAmount)

	_, err = e.commissions.UpdateCommissionSetting(ctx, admin, categorySetting.ID, application.UpdateCommissionSettingRequest{Percent: 5})
	require.NoError(t, err)
	_, err = e.commissions.UpdateCommissionSetting(ctx, admin, globalSetting.ID, application.UpdateCommissionSettingRequest{Percent: 30})
	require.NoError(t, err)

	after, err := e.payout.GetPayoutByID(ctx, admin, run.PayoutIDs[0])
	require.NoError(t, err)
	assert.Equal(t, before.Amount, after.Amount)
	assert.Equal(t, before.Meta.CommissionAmount, after.Meta.CommissionAmount)
	assert.Equal(t, before.Meta.TotalEarnings, after.Meta.TotalEarnings)

	rerun, err := e.payout.GeneratePayoutsForPeriod(ctx, admin, start, end)
	require.NoError(t, err)
	assert.Zero(t, rerun.Generated)
	assert.Zero(t, rerun.TotalAmount)
}

func TestGeneratePayouts_RerunDoesNotSettleTwice(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	pro := uuid.New()
	testutil.SeedCompletedBooking(t, e.bookings, pro, 1000, 15, periodDay.Add(9*time.Hour))

	start, end := dayRange(periodDay)
	first, err := e.payout.GeneratePayoutsForPeriod(ctx, admin, start, end)
	require.NoError(t, err)
	require.Equal(t, 1, first.Generated)

	second, err := e.payout.GeneratePayoutsForPeriod(ctx, admin, start, end)
	require.NoError(t, err)
	assert.Zero(t, second.Generated)
	assert.Zero(t, second.TotalAmount)
	assert.Empty(t, second.PayoutIDs)

	// A wider window that overlaps the first still finds nothing.
	wide, err := e.payout.GeneratePayoutsForPeriod(ctx, admin, start.Add(-24*time.Hour), end.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, wide.Generated)

	list, err := e.payout.GetPayouts(ctx, admin, application.PayoutQuery{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), list.Total)
}

func TestGeneratePayouts_EmptyPeriod(t *testing.T) {
	e := newEnv(t)
	start, end := dayRange(periodDay)

	result, err := e.payout.GeneratePayoutsForPeriod(context.Background(), admin, start, end)
	require.NoError(t, err)
	assert.Zero(t, result.Generated)
	assert.Zero(t, result.TotalAmount)
	assert.Zero(t, e.notifier.count(application.NotifyPayoutCreated))
}

func TestGeneratePayouts_Rejections(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	start, end := dayRange(periodDay)

	_, err := e.payout.GeneratePayoutsForPeriod(ctx, professionalActor(uuid.New()), start, end)
	assert.Equal(t, domain.KindForbidden, domain.KindOf(err))

	_, err = e.payout.GeneratePayoutsForPeriod(ctx, admin, end, start)
	assert.Equal(t, domain.KindBadRequest, domain.KindOf(err))

	_, err = e.payout.GeneratePayoutsForPeriod(ctx, admin, start, start)
	assert.Equal(t, domain.KindBadRequest, domain.KindOf(err))
}

func TestGeneratePayouts_RunLock(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	testutil.SeedCompletedBooking(t, e.bookings, uuid.New(), 1000, 15, periodDay.Add(9*time.Hour))
	start, end := dayRange(periodDay)

	t.Run("held elsewhere", func(t *testing.T) {
		token, ok, err := e.locker.TryLock(ctx, "settlement:payout-run", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		_, err = e.payout.GeneratePayoutsForPeriod(ctx, admin, start, end)
		assert.True(t, domain.IsConflict(err))

		require.NoError(t, e.locker.Release(ctx, "settlement:payout-run", token))
	})

	t.Run("released after the run", func(t *testing.T) {
		released := e.locker.released
		result, err := e.payout.GeneratePayoutsForPeriod(ctx, admin, start, end)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Generated)
		assert.Equal(t, released+1, e.locker.released)
		assert.Empty(t, e.locker.held)
	})

	t.Run("locker failure", func(t *testing.T) {
		e.locker.err = errors.New("redis down")
		defer func() { e.locker.err = nil }()

		_, err := e.payout.GeneratePayoutsForPeriod(ctx, admin, start, end)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "redis down")
	})
}

func TestGeneratePayouts_RecordsRunMetrics(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	testutil.SeedCompletedBooking(t, e.bookings, uuid.New(), 1000, 15, periodDay.Add(9*time.Hour))
	start, end := dayRange(periodDay)

	_, err := e.payout.GeneratePayoutsForPeriod(ctx, admin, start, end)
	require.NoError(t, err)
	_, err = e.payout.GeneratePayoutsForPeriod(ctx, admin, start, end)
	require.NoError(t, err)

	expected := `
# HELP settlement_payout_runs_total Payout generation runs by outcome.
# TYPE settlement_payout_runs_total counter
settlement_payout_runs_total{outcome="empty"} 1
settlement_payout_runs_total{outcome="ok"} 1
# HELP settlement_payout_amount_poisha_total Net amount placed into payouts, in poisha.
# TYPE settlement_payout_amount_poisha_total counter
settlement_payout_amount_poisha_total 850
`
	assert.NoError(t, promtestutil.GatherAndCompare(e.registry, strings.NewReader(expected),
		"settlement_payout_runs_total", "settlement_payout_amount_poisha_total"))
}

func TestGetPayouts_Scoping(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	proA, proB := uuid.New(), uuid.New()
	testutil.SeedCompletedBooking(t, e.bookings, proA, 1000, 15, periodDay.Add(9*time.Hour))
	testutil.SeedCompletedBooking(t, e.bookings, proB, 2000, 15, periodDay.Add(9*time.Hour))

	start, end := dayRange(periodDay)
	_, err := e.payout.GeneratePayoutsForPeriod(ctx, admin, start, end)
	require.NoError(t, err)

	own, err := e.payout.GetPayouts(ctx, professionalActor(proA), application.PayoutQuery{ProfessionalID: &proB})
	require.NoError(t, err)
	require.Equal(t, int64(1), own.Total)
	assert.Equal(t, proA, own.Items[0].ProfessionalID)

	filtered, err := e.payout.GetPayouts(ctx, admin, application.PayoutQuery{ProfessionalID: &proB, Status: "pending"})
	require.NoError(t, err)
	require.Equal(t, int64(1), filtered.Total)
	assert.Equal(t, int64(1700), filtered.Items[0].Amount)

	_, err = e.payout.GetPayouts(ctx, customerActor(uuid.New()), application.PayoutQuery{})
	assert.Equal(t, domain.KindForbidden, domain.KindOf(err))

	_, err = e.payout.GetPayouts(ctx, admin, application.PayoutQuery{Status: "settled"})
	assert.Equal(t, domain.KindBadRequest, domain.KindOf(err))

	_, err = e.payout.GetPayoutByID(ctx, professionalActor(proA), filtered.Items[0].ID)
	assert.Equal(t, domain.KindForbidden, domain.KindOf(err))

	_, err = e.payout.GetPayoutByID(ctx, admin, uuid.New())
	assert.True(t, domain.IsNotFound(err))
}
