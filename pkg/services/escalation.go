package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/reviewloop/reviewloop/pkg/models"
	"github.com/reviewloop/reviewloop/pkg/persistence"
)

// Escalation manages remediation cases opened for negative feedback.
type Escalation struct {
	persistence persistence.Persistence
	logger      *slog.Logger
	now         func() time.Time
}

// NewEscalation creates a new escalation service.
func NewEscalation(p persistence.Persistence, logger *slog.Logger) *Escalation {
	return &Escalation{
		persistence: p,
		logger:      logger.With("module", "escalation_service"),
		now:         time.Now,
	}
}

// CreateEscalationRequest carries negative-feedback intake data. Priority
// and Deadline override the rating-derived defaults when set.
type CreateEscalationRequest struct {
	ReviewID   string `validate:"required"`
	CustomerID string `validate:"required"`
	Rating     int    `validate:"required,min=1,max=5"`
	Content    string
	Priority   *models.EscalationPriority
	Deadline   *time.Time
}

// Create opens an escalation. Priority and deadline derive deterministically
// from the rating at creation unless explicitly overridden.
func (s *Escalation) Create(ctx context.Context, req CreateEscalationRequest) (*models.Escalation, error) {
	if req.Rating < 1 || req.Rating > 5 {
		return nil, &ServiceError{Op: "Create", Err: ErrInvalidRating}
	}

	now := s.now()

	priority := models.PriorityForRating(req.Rating)
	if req.Priority != nil {
		priority = *req.Priority
	}

	deadline := models.DeadlineForPriority(priority, now)
	if req.Deadline != nil {
		deadline = *req.Deadline
	}

	escalation := &models.Escalation{
		ID:         uuid.New().String(),
		ReviewID:   req.ReviewID,
		CustomerID: req.CustomerID,
		Rating:     req.Rating,
		Content:    req.Content,
		Status:     models.EscalationStatusPending,
		Priority:   priority,
		Deadline:   &deadline,
		Notes:      []*models.EscalationNote{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.persistence.Escalations().Save(ctx, escalation); err != nil {
		return nil, fmt.Errorf("failed to save escalation: %w", err)
	}

	s.logger.InfoContext(ctx, "Escalation created",
		"escalation_id", escalation.ID,
		"rating", req.Rating,
		"priority", priority,
		"deadline", deadline,
	)

	return escalation, nil
}

// UpdateEscalationPatch is a partial update; nil fields are left untouched.
type UpdateEscalationPatch struct {
	Status     *models.EscalationStatus   `json:"status,omitempty"     validate:"omitempty,oneof=pending in_progress resolved closed"`
	Priority   *models.EscalationPriority `json:"priority,omitempty"   validate:"omitempty,oneof=urgent high medium low"`
	AssigneeID *string                    `json:"assignee_id,omitempty"`
	Deadline   *time.Time                 `json:"deadline,omitempty"`
	Content    *string                    `json:"content,omitempty"`
}

// Update shallow-merges patch fields and refreshes UpdatedAt. A merge that
// moves status to resolved stamps ResolvedAt exactly once, the same rule
// Resolve applies, so the two paths cannot double-stamp or skip the stamp.
func (s *Escalation) Update(ctx context.Context, id string, patch UpdateEscalationPatch) (*models.Escalation, error) {
	now := s.now()

	return s.persistence.Escalations().Update(ctx, id, func(e *models.Escalation) error {
		if patch.Priority != nil {
			e.Priority = *patch.Priority
		}

		if patch.AssigneeID != nil {
			e.AssigneeID = *patch.AssigneeID
		}

		if patch.Deadline != nil {
			deadline := *patch.Deadline
			e.Deadline = &deadline
		}

		if patch.Content != nil {
			e.Content = *patch.Content
		}

		if patch.Status != nil {
			e.ApplyStatus(*patch.Status, now)
		} else {
			e.UpdatedAt = now
		}

		return nil
	})
}

// AddNote appends a note with a fresh id and timestamp. Notes are
// append-only; ordering is creation order.
func (s *Escalation) AddNote(ctx context.Context, id, text, authorID string) (*models.Escalation, error) {
	if text == "" {
		return nil, &ServiceError{Op: "AddNote", Err: ErrEmptyNoteText}
	}

	now := s.now()

	return s.persistence.Escalations().Update(ctx, id, func(e *models.Escalation) error {
		e.Notes = append(e.Notes, &models.EscalationNote{
			ID:        uuid.New().String(),
			AuthorID:  authorID,
			Text:      text,
			CreatedAt: now,
		})
		e.UpdatedAt = now

		return nil
	})
}

// Assign sets the assignee and forces status to in_progress.
func (s *Escalation) Assign(ctx context.Context, id, userID string) (*models.Escalation, error) {
	now := s.now()

	return s.persistence.Escalations().Update(ctx, id, func(e *models.Escalation) error {
		e.AssigneeID = userID
		e.ApplyStatus(models.EscalationStatusInProgress, now)

		return nil
	})
}

// Resolve moves the escalation to resolved and attaches the resolution.
// ResolvedAt is stamped on the first resolution only.
func (s *Escalation) Resolve(ctx context.Context, id string, resolutionType models.ResolutionType, content string) (*models.Escalation, error) {
	now := s.now()

	return s.persistence.Escalations().Update(ctx, id, func(e *models.Escalation) error {
		e.Resolution = &models.EscalationResolution{
			Type:    resolutionType,
			Content: content,
		}
		e.ApplyStatus(models.EscalationStatusResolved, now)

		return nil
	})
}

// Get fetches a single escalation.
func (s *Escalation) Get(ctx context.Context, id string) (*models.Escalation, error) {
	return s.persistence.Escalations().GetByID(ctx, id)
}

// EscalationFilters narrows List results; nil fields match everything.
type EscalationFilters struct {
	Status     *models.EscalationStatus
	Priority   *models.EscalationPriority
	AssigneeID *string
	Overdue    *bool
}

// List returns escalations sorted by severity (urgent first), then by
// deadline ascending within equal priority. Escalations without a deadline
// compare equal on the secondary key.
func (s *Escalation) List(ctx context.Context, filters EscalationFilters) ([]*models.Escalation, error) {
	all, err := s.persistence.Escalations().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list escalations: %w", err)
	}

	now := s.now()
	matched := make([]*models.Escalation, 0, len(all))

	for _, e := range all {
		if filters.Status != nil && e.Status != *filters.Status {
			continue
		}

		if filters.Priority != nil && e.Priority != *filters.Priority {
			continue
		}

		if filters.AssigneeID != nil && e.AssigneeID != *filters.AssigneeID {
			continue
		}

		if filters.Overdue != nil {
			overdue := e.Deadline != nil && e.Deadline.Before(now)
			if overdue != *filters.Overdue {
				continue
			}
		}

		matched = append(matched, e)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		ri, rj := models.SeverityRank(matched[i].Priority), models.SeverityRank(matched[j].Priority)
		if ri != rj {
			return ri < rj
		}

		di, dj := matched[i].Deadline, matched[j].Deadline
		if di == nil || dj == nil {
			return false
		}

		return di.Before(*dj)
	})

	return matched, nil
}

// EscalationStats aggregates escalation counters.
type EscalationStats struct {
	Total                   int                                `json:"total"`
	ByStatus                map[models.EscalationStatus]int    `json:"by_status"`
	ByPriority              map[models.EscalationPriority]int  `json:"by_priority"`
	AverageResolutionTimeMs float64                            `json:"average_resolution_time_ms"`
	OverdueCount            int                                `json:"overdue_count"`
}

// Stats computes aggregate counters. Average resolution time is the mean of
// resolvedAt-createdAt over resolved escalations only; overdue counts
// escalations with a past deadline that are not resolved.
func (s *Escalation) Stats(ctx context.Context) (*EscalationStats, error) {
	all, err := s.persistence.Escalations().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list escalations: %w", err)
	}

	now := s.now()
	stats := &EscalationStats{
		Total:      len(all),
		ByStatus:   make(map[models.EscalationStatus]int),
		ByPriority: make(map[models.EscalationPriority]int),
	}

	var (
		resolutionTotalMs float64
		resolvedCount     int
	)

	for _, e := range all {
		stats.ByStatus[e.Status]++
		stats.ByPriority[e.Priority]++

		if e.ResolvedAt != nil {
			resolutionTotalMs += float64(e.ResolvedAt.Sub(e.CreatedAt).Milliseconds())
			resolvedCount++
		}

		if e.Deadline != nil && e.Deadline.Before(now) && e.Status != models.EscalationStatusResolved {
			stats.OverdueCount++
		}
	}

	if resolvedCount > 0 {
		stats.AverageResolutionTimeMs = resolutionTotalMs / float64(resolvedCount)
	}

	return stats, nil
}
