package application_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaajbazar/service-booking/internal/application"
	"github.com/kaajbazar/service-booking/internal/platform/domain"
	"github.com/kaajbazar/service-booking/internal/testutil"
)

func TestGetCommissionPercent_Resolution(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	withSetting := e.seedCategory(t, "AC Repair")
	without := e.seedCategory(t, "Laundry")

	pct, err := e.commissions.GetCommissionPercent(ctx, &without)
	require.NoError(t, err)
	assert.Equal(t, 15.0, pct, "built-in default")

	_, err = e.commissions.CreateCommissionSetting(ctx, admin, application.CreateCommissionSettingRequest{Percent: 12})
	require.NoError(t, err)
	_, err = e.commissions.CreateCommissionSetting(ctx, admin, application.CreateCommissionSettingRequest{CategoryID: &withSetting, Percent: 25})
	require.NoError(t, err)

	pct, err = e.commissions.GetCommissionPercent(ctx, &withSetting)
	require.NoError(t, err)
	assert.Equal(t, 25.0, pct)

	pct, err = e.commissions.GetCommissionPercent(ctx, &without)
	require.NoError(t, err)
	assert.Equal(t, 12.0, pct, "falls back to the global setting")

	pct, err = e.commissions.GetCommissionPercent(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 12.0, pct)
}

func TestCalculateCommission(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	category := e.seedCategory(t, "Carpentry")
	_, err := e.commissions.CreateCommissionSetting(ctx, admin, application.CreateCommissionSettingRequest{CategoryID: &category, Percent: 10})
	require.NoError(t, err)

	calc, err := e.commissions.CalculateCommission(ctx, 1005, &category)
	require.NoError(t, err)
	assert.Equal(t, int64(1005), calc.Amount)
	assert.Equal(t, int64(101), calc.CommissionAmount)
	assert.Equal(t, int64(904), calc.NetAmount)
	assert.Equal(t, "Carpentry", calc.CategoryName)

	_, err = e.commissions.CalculateCommission(ctx, -1, nil)
	assert.Equal(t, domain.KindBadRequest, domain.KindOf(err))

	missing := uuid.New()
	_, err = e.commissions.CalculateCommission(ctx, 100, &missing)
	assert.True(t, domain.IsNotFound(err))
}

func TestCalculateCommissionForBooking(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	category := e.seedCategory(t, "Pest Control")
	customer := uuid.New()
	bk := testutil.SeedCompletedBooking(t, e.bookings, uuid.New(), 2000, 15, periodDay.Add(9*time.Hour),
		testutil.WithCategory(category), testutil.WithCustomer(customer))

	calc, err := e.commissions.CalculateCommissionForBooking(ctx, customerActor(customer), bk.ID())
	require.NoError(t, err)
	assert.Equal(t, int64(300), calc.CommissionAmount)
	assert.Equal(t, int64(1700), calc.NetAmount)

	_, err = e.commissions.CalculateCommissionForBooking(ctx, customerActor(uuid.New()), bk.ID())
	assert.Equal(t, domain.KindForbidden, domain.KindOf(err))
}

func TestCommissionSettingsAdmin(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	category := e.seedCategory(t, "Beauty")

	_, err := e.commissions.CreateCommissionSetting(ctx, professionalActor(uuid.New()), application.CreateCommissionSettingRequest{Percent: 5})
	assert.Equal(t, domain.KindForbidden, domain.KindOf(err))

	unknown := uuid.New()
	_, err = e.commissions.CreateCommissionSetting(ctx, admin, application.CreateCommissionSettingRequest{CategoryID: &unknown, Percent: 5})
	assert.True(t, domain.IsNotFound(err))

	_, err = e.commissions.CreateCommissionSetting(ctx, admin, application.CreateCommissionSettingRequest{CategoryID: &category, Percent: 101})
	assert.Equal(t, domain.KindBadRequest, domain.KindOf(err))

	created, err := e.commissions.CreateCommissionSetting(ctx, admin, application.CreateCommissionSettingRequest{CategoryID: &category, Percent: 18})
	require.NoError(t, err)
	require.NotNil(t, created.CategoryID)
	assert.Equal(t, category, *created.CategoryID)

	_, err = e.commissions.CreateCommissionSetting(ctx, admin, application.CreateCommissionSettingRequest{CategoryID: &category, Percent: 20})
	assert.True(t, domain.IsConflict(err))

	updated, err := e.commissions.UpdateCommissionSetting(ctx, admin, created.ID, application.UpdateCommissionSettingRequest{Percent: 22.5})
	require.NoError(t, err)
	assert.Equal(t, 22.5, updated.Percent)

	list, err := e.commissions.ListCommissionSettings(ctx, admin)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, e.commissions.DeleteCommissionSetting(ctx, admin, created.ID))
	assert.True(t, domain.IsNotFound(e.commissions.DeleteCommissionSetting(ctx, admin, created.ID)))

	pct, err := e.commissions.GetCommissionPercent(ctx, &category)
	require.NoError(t, err)
	assert.Equal(t, 15.0, pct)
}
