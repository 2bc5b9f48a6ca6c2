// Package persistence provides the data storage abstraction for flows,
// escalations, incentives, and milestones.
package persistence

import (
	"context"

	"github.com/reviewloop/reviewloop/pkg/models"
)

// Persistence groups the entity repositories behind one handle constructed
// once at process start and passed to each component.
type Persistence interface {
	Flows() FlowRepository
	Escalations() EscalationRepository
	Incentives() IncentiveRepository
	Milestones() MilestoneRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// FlowRepository stores automation flows. Update runs the mutation under a
// per-key write lock so concurrent read-modify-write calls cannot lose
// updates; reads return snapshots.
type FlowRepository interface {
	List(ctx context.Context) ([]*models.AutomationFlow, error)
	GetByID(ctx context.Context, id string) (*models.AutomationFlow, error)
	GetByChannel(ctx context.Context, channel models.Channel) (*models.AutomationFlow, error)
	Save(ctx context.Context, flow *models.AutomationFlow) error
	Update(ctx context.Context, id string, mutate func(*models.AutomationFlow) error) (*models.AutomationFlow, error)
}

// EscalationRepository stores escalations with single-writer-per-key
// mutation semantics.
type EscalationRepository interface {
	List(ctx context.Context) ([]*models.Escalation, error)
	GetByID(ctx context.Context, id string) (*models.Escalation, error)
	Save(ctx context.Context, escalation *models.Escalation) error
	Update(ctx context.Context, id string, mutate func(*models.Escalation) error) (*models.Escalation, error)
}

// IncentiveRepository stores incentives. Save enforces global code
// uniqueness with ErrDuplicateCode.
type IncentiveRepository interface {
	List(ctx context.Context) ([]*models.Incentive, error)
	GetByID(ctx context.Context, id string) (*models.Incentive, error)
	GetByCode(ctx context.Context, code string) (*models.Incentive, error)
	Save(ctx context.Context, incentive *models.Incentive) error
	Update(ctx context.Context, id string, mutate func(*models.Incentive) error) (*models.Incentive, error)
	Delete(ctx context.Context, id string) error
}

// MilestoneRepository stores derived milestones. Save upserts by ID so
// re-running detection for the same period is idempotent.
type MilestoneRepository interface {
	List(ctx context.Context) ([]*models.Milestone, error)
	GetByID(ctx context.Context, id string) (*models.Milestone, error)
	Save(ctx context.Context, milestone *models.Milestone) error
}
