package services

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/reviewloop/reviewloop/pkg/models"
	"github.com/reviewloop/reviewloop/pkg/persistence"
)

const (
	codePrefix       = "RWD-"
	codeSuffixLength = 8
	codeAlphabet     = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeMaxAttempts  = 5

	defaultMinRating = 5
	monthlyWindow    = 12
)

// Incentive issues, sends, and redeems reward codes.
type Incentive struct {
	persistence persistence.Persistence
	logger      *slog.Logger
	now         func() time.Time
}

// NewIncentive creates a new incentive service.
func NewIncentive(p persistence.Persistence, logger *slog.Logger) *Incentive {
	return &Incentive{
		persistence: p,
		logger:      logger.With("module", "incentive_service"),
		now:         time.Now,
	}
}

// ConditionParams sets usage conditions at creation; nil fields take the
// defaults (min rating 5, uncapped uses, no minimum spend).
type ConditionParams struct {
	MinRating *int     `json:"min_rating,omitempty"`
	MinSpend  *float64 `json:"min_spend,omitempty"`
	MaxUses   *int     `json:"max_uses,omitempty"`
}

// CreateIncentiveRequest carries incentive creation input.
type CreateIncentiveRequest struct {
	Type       models.IncentiveType `validate:"required,oneof=discount gift_card loyalty_points"`
	Value      float64              `validate:"required"`
	ExpiresAt  *time.Time
	Conditions *ConditionParams
	ReviewID   string
	CampaignID string
	Metadata   map[string]any
}

func (s *Incentive) validateCreate(req CreateIncentiveRequest) error {
	if req.Value <= 0 {
		return &ServiceError{Op: "Create", Err: ErrValueNotPositive}
	}

	if req.Conditions != nil {
		if req.Conditions.MinSpend != nil && *req.Conditions.MinSpend < 0 {
			return &ServiceError{Op: "Create", Err: ErrNegativeMinSpend}
		}

		if req.Conditions.MaxUses != nil && *req.Conditions.MaxUses < 1 {
			return &ServiceError{Op: "Create", Err: ErrInvalidMaxUses}
		}
	}

	if req.ExpiresAt != nil && !req.ExpiresAt.After(s.now()) {
		return &ServiceError{Op: "Create", Err: ErrExpiryInPast}
	}

	return nil
}

// Create validates the request and stores a new incentive with a unique
// prefixed redemption code.
func (s *Incentive) Create(ctx context.Context, req CreateIncentiveRequest) (*models.Incentive, error) {
	if err := s.validateCreate(req); err != nil {
		return nil, err
	}

	conditions := models.IncentiveConditions{MinRating: defaultMinRating}

	if req.Conditions != nil {
		if req.Conditions.MinRating != nil {
			conditions.MinRating = *req.Conditions.MinRating
		}

		if req.Conditions.MinSpend != nil {
			conditions.MinSpend = *req.Conditions.MinSpend
		}

		if req.Conditions.MaxUses != nil {
			conditions.MaxUses = *req.Conditions.MaxUses
		}
	}

	incentive := &models.Incentive{
		ID:         uuid.New().String(),
		Type:       req.Type,
		Value:      req.Value,
		ExpiresAt:  req.ExpiresAt,
		Status:     models.IncentiveStatusActive,
		ReviewID:   req.ReviewID,
		CampaignID: req.CampaignID,
		Conditions: conditions,
		Metadata:   req.Metadata,
		CreatedAt:  s.now(),
	}

	// Code collisions are vanishingly rare; retry a few times before
	// giving up.
	for attempt := 0; attempt < codeMaxAttempts; attempt++ {
		incentive.Code = generateCode()

		err := s.persistence.Incentives().Save(ctx, incentive)
		if err == nil {
			return incentive, nil
		}

		if !persistence.IsDuplicateCode(err) {
			return nil, fmt.Errorf("failed to save incentive: %w", err)
		}
	}

	return nil, fmt.Errorf("failed to generate a unique redemption code after %d attempts", codeMaxAttempts)
}

func generateCode() string {
	suffix := make([]byte, codeSuffixLength)
	random := make([]byte, codeSuffixLength)

	// crypto/rand.Read never fails on supported platforms.
	_, _ = rand.Read(random)

	for i, b := range random {
		suffix[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}

	return codePrefix + string(suffix)
}

// Send delivers an active incentive to a customer, binding the customer and
// consuming one use against the cap.
func (s *Incentive) Send(ctx context.Context, id, customerID string) (*models.Incentive, error) {
	return s.persistence.Incentives().Update(ctx, id, func(i *models.Incentive) error {
		if i.Status != models.IncentiveStatusActive {
			return &ServiceError{Op: "Send", Err: ErrNotSendable}
		}

		if i.UsageCapReached() {
			return &ServiceError{Op: "Send", Err: ErrUsageCapReached}
		}

		i.Status = models.IncentiveStatusSent
		i.CustomerID = customerID
		i.Conditions.CurrentUses++

		return nil
	})
}

// Redeem looks the code up among sent incentives. An incentive past its
// expiry is moved to expired as a side effect and the redemption fails;
// otherwise it becomes redeemed and RedeemedAt is stamped.
func (s *Incentive) Redeem(ctx context.Context, code string) (*models.Incentive, error) {
	found, err := s.persistence.Incentives().GetByCode(ctx, code)
	if err != nil {
		if persistence.IsIncentiveNotFound(err) {
			return nil, &ServiceError{Op: "Redeem", Err: ErrInvalidCode}
		}

		return nil, fmt.Errorf("failed to look up code: %w", err)
	}

	if found.Status != models.IncentiveStatusSent {
		return nil, &ServiceError{Op: "Redeem", Err: ErrInvalidCode}
	}

	now := s.now()

	if found.ExpiredAt(now) {
		_, updateErr := s.persistence.Incentives().Update(ctx, found.ID, func(i *models.Incentive) error {
			i.Status = models.IncentiveStatusExpired

			return nil
		})
		if updateErr != nil {
			return nil, fmt.Errorf("failed to expire incentive: %w", updateErr)
		}

		return nil, &ServiceError{Op: "Redeem", Err: ErrExpired}
	}

	return s.persistence.Incentives().Update(ctx, found.ID, func(i *models.Incentive) error {
		// Re-check under the write lock; a concurrent redeem or expire
		// may have advanced the status since the lookup.
		if i.Status != models.IncentiveStatusSent {
			return &ServiceError{Op: "Redeem", Err: ErrInvalidCode}
		}

		redeemedAt := now
		i.Status = models.IncentiveStatusRedeemed
		i.RedeemedAt = &redeemedAt

		return nil
	})
}

// Expire forces an incentive to expired. Redeemed incentives are terminal
// successes and cannot be invalidated.
func (s *Incentive) Expire(ctx context.Context, id string) (*models.Incentive, error) {
	return s.persistence.Incentives().Update(ctx, id, func(i *models.Incentive) error {
		if i.Status == models.IncentiveStatusRedeemed {
			return &ServiceError{Op: "Expire", Err: ErrAlreadyRedeemed}
		}

		i.Status = models.IncentiveStatusExpired

		return nil
	})
}

// Get fetches a single incentive.
func (s *Incentive) Get(ctx context.Context, id string) (*models.Incentive, error) {
	return s.persistence.Incentives().GetByID(ctx, id)
}

// IncentiveFilters narrows List results; nil fields match everything.
type IncentiveFilters struct {
	Status        *models.IncentiveStatus
	Type          *models.IncentiveType
	CustomerID    *string
	CampaignID    *string
	MinValue      *float64
	MaxValue      *float64
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}

// List returns matching incentives sorted newest-created first.
func (s *Incentive) List(ctx context.Context, filters IncentiveFilters) ([]*models.Incentive, error) {
	all, err := s.persistence.Incentives().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list incentives: %w", err)
	}

	matched := make([]*models.Incentive, 0, len(all))

	for _, i := range all {
		if filters.Status != nil && i.Status != *filters.Status {
			continue
		}

		if filters.Type != nil && i.Type != *filters.Type {
			continue
		}

		if filters.CustomerID != nil && i.CustomerID != *filters.CustomerID {
			continue
		}

		if filters.CampaignID != nil && i.CampaignID != *filters.CampaignID {
			continue
		}

		if filters.MinValue != nil && i.Value < *filters.MinValue {
			continue
		}

		if filters.MaxValue != nil && i.Value > *filters.MaxValue {
			continue
		}

		if filters.CreatedAfter != nil && i.CreatedAt.Before(*filters.CreatedAfter) {
			continue
		}

		if filters.CreatedBefore != nil && i.CreatedAt.After(*filters.CreatedBefore) {
			continue
		}

		matched = append(matched, i)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	return matched, nil
}

// Stats computes redemption analytics. The monthly series always spans the
// trailing twelve calendar months oldest-first, bucketing incentives by
// creation month.
func (s *Incentive) Stats(ctx context.Context) (*models.IncentiveStats, error) {
	all, err := s.persistence.Incentives().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list incentives: %w", err)
	}

	stats := &models.IncentiveStats{
		TypeBreakdown: make(map[models.IncentiveType]int),
	}

	now := s.now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).AddDate(0, -(monthlyWindow - 1), 0)

	buckets := make(map[string]*models.MonthlyIncentives, monthlyWindow)
	stats.MonthlyStats = make([]models.MonthlyIncentives, monthlyWindow)

	for i := range monthlyWindow {
		month := monthStart.AddDate(0, i, 0).Format("2006-01")
		stats.MonthlyStats[i] = models.MonthlyIncentives{Month: month}
		buckets[month] = &stats.MonthlyStats[i]
	}

	var redeemedValue float64

	for _, incentive := range all {
		stats.TypeBreakdown[incentive.Type]++

		sent := incentive.Status == models.IncentiveStatusSent || incentive.Status == models.IncentiveStatusRedeemed
		redeemed := incentive.Status == models.IncentiveStatusRedeemed

		if sent {
			stats.TotalSent++
		}

		if redeemed {
			stats.TotalRedeemed++
			redeemedValue += incentive.Value
		}

		if bucket, ok := buckets[incentive.CreatedAt.Format("2006-01")]; ok {
			if sent {
				bucket.Sent++
			}

			if redeemed {
				bucket.Redeemed++
				bucket.Cost += incentive.Value
			}
		}
	}

	stats.TotalCost = redeemedValue

	if stats.TotalSent > 0 {
		stats.RedemptionRate = float64(stats.TotalRedeemed) / float64(stats.TotalSent)
	}

	if stats.TotalRedeemed > 0 {
		stats.AverageValue = redeemedValue / float64(stats.TotalRedeemed)
	}

	return stats, nil
}

// BulkCreate repeats Create count times. The batch is all-or-nothing: on
// any failure the already-created incentives are removed before the error
// is returned.
func (s *Incentive) BulkCreate(ctx context.Context, req CreateIncentiveRequest, count int) ([]*models.Incentive, error) {
	if count < 1 {
		return nil, &ServiceError{Op: "BulkCreate", Err: ErrInvalidCount}
	}

	if err := s.validateCreate(req); err != nil {
		return nil, err
	}

	created := make([]*models.Incentive, 0, count)

	for range count {
		incentive, err := s.Create(ctx, req)
		if err != nil {
			for _, rollback := range created {
				if deleteErr := s.persistence.Incentives().Delete(ctx, rollback.ID); deleteErr != nil {
					s.logger.ErrorContext(ctx, "Failed to roll back partially created batch",
						"incentive_id", rollback.ID,
						"error", deleteErr,
					)
				}
			}

			return nil, fmt.Errorf("bulk create aborted after %d incentives: %w", len(created), err)
		}

		created = append(created, incentive)
	}

	return created, nil
}
