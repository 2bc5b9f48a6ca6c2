package services

import (
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/reviewloop/reviewloop/pkg/models"
	"github.com/reviewloop/reviewloop/pkg/persistence/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIncentiveService(t *testing.T, now time.Time) *Incentive {
	t.Helper()

	service := NewIncentive(memory.NewPersistence(), slog.Default())
	service.now = func() time.Time { return now }

	return service
}

func TestIncentive_Create_Defaults(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	service := newIncentiveService(t, now)

	incentive, err := service.Create(t.Context(), CreateIncentiveRequest{
		Type:  models.IncentiveDiscount,
		Value: 10,
	})
	require.NoError(t, err)

	assert.Equal(t, models.IncentiveStatusActive, incentive.Status)
	assert.Equal(t, defaultMinRating, incentive.Conditions.MinRating)
	assert.Zero(t, incentive.Conditions.MaxUses)
	assert.Equal(t, now, incentive.CreatedAt)

	require.True(t, strings.HasPrefix(incentive.Code, codePrefix))
	suffix := strings.TrimPrefix(incentive.Code, codePrefix)
	require.Len(t, suffix, codeSuffixLength)

	for _, char := range suffix {
		assert.Contains(t, codeAlphabet, string(char))
	}
}

func TestIncentive_Create_Validation(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	service := newIncentiveService(t, now)

	negativeSpend := -1.0
	zeroUses := 0
	pastExpiry := now.Add(-time.Hour)

	tests := []struct {
		name string
		req  CreateIncentiveRequest
	}{
		{"zero value", CreateIncentiveRequest{Type: models.IncentiveDiscount, Value: 0}},
		{"negative min spend", CreateIncentiveRequest{
			Type: models.IncentiveDiscount, Value: 10,
			Conditions: &ConditionParams{MinSpend: &negativeSpend},
		}},
		{"zero max uses", CreateIncentiveRequest{
			Type: models.IncentiveDiscount, Value: 10,
			Conditions: &ConditionParams{MaxUses: &zeroUses},
		}},
		{"expiry in past", CreateIncentiveRequest{
			Type: models.IncentiveDiscount, Value: 10, ExpiresAt: &pastExpiry,
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.Create(t.Context(), tt.req)
			require.Error(t, err)
			assert.True(t, IsInvalidParameter(err))
		})
	}
}

func TestIncentive_Create_UniqueCodes(t *testing.T) {
	service := newIncentiveService(t, time.Now())

	seen := make(map[string]bool)

	for range 1000 {
		incentive, err := service.Create(t.Context(), CreateIncentiveRequest{
			Type:  models.IncentiveDiscount,
			Value: 10,
		})
		require.NoError(t, err)
		require.False(t, seen[incentive.Code], "duplicate code %s", incentive.Code)
		seen[incentive.Code] = true
	}
}

func TestIncentive_Send(t *testing.T) {
	service := newIncentiveService(t, time.Now())

	incentive, err := service.Create(t.Context(), CreateIncentiveRequest{
		Type:  models.IncentiveGiftCard,
		Value: 25,
	})
	require.NoError(t, err)

	sent, err := service.Send(t.Context(), incentive.ID, "c1")
	require.NoError(t, err)

	assert.Equal(t, models.IncentiveStatusSent, sent.Status)
	assert.Equal(t, "c1", sent.CustomerID)
	assert.Equal(t, 1, sent.Conditions.CurrentUses)
}

func TestIncentive_Send_NotSendable(t *testing.T) {
	service := newIncentiveService(t, time.Now())

	incentive, err := service.Create(t.Context(), CreateIncentiveRequest{
		Type:  models.IncentiveDiscount,
		Value: 10,
	})
	require.NoError(t, err)

	_, err = service.Send(t.Context(), incentive.ID, "c1")
	require.NoError(t, err)

	// Sending twice violates the status machine.
	_, err = service.Send(t.Context(), incentive.ID, "c2")
	require.Error(t, err)
	assert.True(t, IsInvalidState(err))
}

func TestIncentive_Redeem(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	service := newIncentiveService(t, now)

	incentive, err := service.Create(t.Context(), CreateIncentiveRequest{
		Type:  models.IncentiveDiscount,
		Value: 10,
	})
	require.NoError(t, err)

	_, err = service.Send(t.Context(), incentive.ID, "c1")
	require.NoError(t, err)

	redeemed, err := service.Redeem(t.Context(), incentive.Code)
	require.NoError(t, err)

	assert.Equal(t, models.IncentiveStatusRedeemed, redeemed.Status)
	require.NotNil(t, redeemed.RedeemedAt)
	assert.Equal(t, now, *redeemed.RedeemedAt)

	// A second redemption of the same code fails.
	_, err = service.Redeem(t.Context(), incentive.Code)
	require.Error(t, err)
	assert.True(t, IsInvalidCode(err))
}

func TestIncentive_Redeem_UnknownCode(t *testing.T) {
	service := newIncentiveService(t, time.Now())

	_, err := service.Redeem(t.Context(), "RWD-NOPE1234")
	require.Error(t, err)
	assert.True(t, IsInvalidCode(err))
}

func TestIncentive_Redeem_ActiveNotSent(t *testing.T) {
	service := newIncentiveService(t, time.Now())

	incentive, err := service.Create(t.Context(), CreateIncentiveRequest{
		Type:  models.IncentiveDiscount,
		Value: 10,
	})
	require.NoError(t, err)

	// Active incentives are not redeemable until sent.
	_, err = service.Redeem(t.Context(), incentive.Code)
	require.Error(t, err)
	assert.True(t, IsInvalidCode(err))
}

func TestIncentive_Redeem_LazyExpiry(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	service := newIncentiveService(t, now)

	expiresAt := now.Add(time.Hour)
	incentive, err := service.Create(t.Context(), CreateIncentiveRequest{
		Type:      models.IncentiveDiscount,
		Value:     10,
		ExpiresAt: &expiresAt,
	})
	require.NoError(t, err)

	_, err = service.Send(t.Context(), incentive.ID, "c1")
	require.NoError(t, err)

	// Redemption arrives after the expiry instant.
	service.now = func() time.Time { return now.Add(2 * time.Hour) }

	_, err = service.Redeem(t.Context(), incentive.Code)
	require.Error(t, err)
	assert.True(t, IsExpired(err))

	// The failed redemption moved the incentive to expired.
	fetched, err := service.Get(t.Context(), incentive.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IncentiveStatusExpired, fetched.Status)
}

func TestIncentive_Expire_RedeemedIsTerminal(t *testing.T) {
	service := newIncentiveService(t, time.Now())

	incentive, err := service.Create(t.Context(), CreateIncentiveRequest{
		Type:  models.IncentiveDiscount,
		Value: 10,
	})
	require.NoError(t, err)

	_, err = service.Send(t.Context(), incentive.ID, "c1")
	require.NoError(t, err)

	_, err = service.Redeem(t.Context(), incentive.Code)
	require.NoError(t, err)

	_, err = service.Expire(t.Context(), incentive.ID)
	require.Error(t, err)
	assert.True(t, IsInvalidState(err))
}

func TestIncentive_Stats_TrailingTwelveMonths(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	service := newIncentiveService(t, now)

	// One redeemed incentive created this month.
	current, err := service.Create(t.Context(), CreateIncentiveRequest{
		Type:  models.IncentiveDiscount,
		Value: 10,
	})
	require.NoError(t, err)
	_, err = service.Send(t.Context(), current.ID, "c1")
	require.NoError(t, err)
	_, err = service.Redeem(t.Context(), current.Code)
	require.NoError(t, err)

	// One sent-only incentive created five months ago.
	service.now = func() time.Time { return now.AddDate(0, -5, 0) }
	older, err := service.Create(t.Context(), CreateIncentiveRequest{
		Type:  models.IncentiveGiftCard,
		Value: 25,
	})
	require.NoError(t, err)
	_, err = service.Send(t.Context(), older.ID, "c2")
	require.NoError(t, err)

	// One never-sent incentive that must not count toward sent totals.
	service.now = func() time.Time { return now }
	_, err = service.Create(t.Context(), CreateIncentiveRequest{
		Type:  models.IncentiveDiscount,
		Value: 5,
	})
	require.NoError(t, err)

	stats, err := service.Stats(t.Context())
	require.NoError(t, err)

	assert.Equal(t, 2, stats.TotalSent)
	assert.Equal(t, 1, stats.TotalRedeemed)
	assert.Equal(t, 10.0, stats.TotalCost)
	assert.InEpsilon(t, 0.5, stats.RedemptionRate, 0.001)
	assert.Equal(t, 10.0, stats.AverageValue)
	assert.Equal(t, 2, stats.TypeBreakdown[models.IncentiveDiscount])
	assert.Equal(t, 1, stats.TypeBreakdown[models.IncentiveGiftCard])

	require.Len(t, stats.MonthlyStats, 12)
	assert.Equal(t, "2024-07", stats.MonthlyStats[0].Month)
	assert.Equal(t, "2025-06", stats.MonthlyStats[11].Month)

	assert.Equal(t, 1, stats.MonthlyStats[11].Sent)
	assert.Equal(t, 1, stats.MonthlyStats[11].Redeemed)
	assert.Equal(t, 10.0, stats.MonthlyStats[11].Cost)

	// 2025-01 is five months back from 2025-06.
	assert.Equal(t, "2025-01", stats.MonthlyStats[6].Month)
	assert.Equal(t, 1, stats.MonthlyStats[6].Sent)
	assert.Equal(t, 0, stats.MonthlyStats[6].Redeemed)
}

func TestIncentive_BulkCreate(t *testing.T) {
	service := newIncentiveService(t, time.Now())

	created, err := service.BulkCreate(t.Context(), CreateIncentiveRequest{
		Type:       models.IncentiveLoyaltyPoints,
		Value:      100,
		CampaignID: "spring",
	}, 25)
	require.NoError(t, err)
	require.Len(t, created, 25)

	codes := make(map[string]bool)
	for _, incentive := range created {
		assert.Equal(t, "spring", incentive.CampaignID)
		assert.False(t, codes[incentive.Code])
		codes[incentive.Code] = true
	}
}

func TestIncentive_BulkCreate_InvalidInput(t *testing.T) {
	service := newIncentiveService(t, time.Now())

	_, err := service.BulkCreate(t.Context(), CreateIncentiveRequest{
		Type: models.IncentiveDiscount, Value: 10,
	}, 0)
	require.Error(t, err)
	assert.True(t, IsInvalidParameter(err))

	// Invalid parameters are rejected before anything is created.
	_, err = service.BulkCreate(t.Context(), CreateIncentiveRequest{
		Type: models.IncentiveDiscount, Value: -5,
	}, 10)
	require.Error(t, err)
	assert.True(t, IsInvalidParameter(err))

	listed, err := service.List(t.Context(), IncentiveFilters{})
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestIncentive_List_Filters(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	service := newIncentiveService(t, now)

	discount, err := service.Create(t.Context(), CreateIncentiveRequest{
		Type: models.IncentiveDiscount, Value: 10, CampaignID: "spring",
	})
	require.NoError(t, err)

	_, err = service.Create(t.Context(), CreateIncentiveRequest{
		Type: models.IncentiveGiftCard, Value: 50,
	})
	require.NoError(t, err)

	discountType := models.IncentiveDiscount
	listed, err := service.List(t.Context(), IncentiveFilters{Type: &discountType})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, discount.ID, listed[0].ID)

	minValue := 20.0
	listed, err = service.List(t.Context(), IncentiveFilters{MinValue: &minValue})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, models.IncentiveGiftCard, listed[0].Type)
}
