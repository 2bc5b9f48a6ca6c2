package memory

import (
	"context"
	"sync"

	"github.com/reviewloop/reviewloop/pkg/models"
	"github.com/reviewloop/reviewloop/pkg/persistence"
)

// FlowRepository handles automation flow storage.
type FlowRepository struct {
	store *store[*models.AutomationFlow]
}

func NewFlowRepository() *FlowRepository {
	return &FlowRepository{store: newStore[*models.AutomationFlow](persistence.ErrFlowNotFound)}
}

func (r *FlowRepository) List(_ context.Context) ([]*models.AutomationFlow, error) {
	return r.store.list(), nil
}

func (r *FlowRepository) GetByID(_ context.Context, id string) (*models.AutomationFlow, error) {
	flow, err := r.store.get(id)
	if err != nil {
		return nil, persistence.NewEntityError("GetByID", "flow", id, err)
	}

	return flow, nil
}

// GetByChannel returns the earliest-created flow for the channel; there is
// exactly one default flow per channel in normal operation.
func (r *FlowRepository) GetByChannel(_ context.Context, channel models.Channel) (*models.AutomationFlow, error) {
	var match *models.AutomationFlow

	for _, flow := range r.store.list() {
		if flow.Channel != channel {
			continue
		}

		if match == nil || flow.CreatedAt.Before(match.CreatedAt) {
			match = flow
		}
	}

	if match == nil {
		return nil, persistence.NewEntityError("GetByChannel", "flow", string(channel), persistence.ErrFlowNotFound)
	}

	return match, nil
}

func (r *FlowRepository) Save(_ context.Context, flow *models.AutomationFlow) error {
	r.store.put(flow.ID, flow)

	return nil
}

func (r *FlowRepository) Update(_ context.Context, id string, mutate func(*models.AutomationFlow) error) (*models.AutomationFlow, error) {
	flow, err := r.store.update(id, mutate)
	if err != nil {
		return nil, persistence.NewEntityError("Update", "flow", id, err)
	}

	return flow, nil
}

// EscalationRepository handles escalation storage.
type EscalationRepository struct {
	store *store[*models.Escalation]
}

func NewEscalationRepository() *EscalationRepository {
	return &EscalationRepository{store: newStore[*models.Escalation](persistence.ErrEscalationNotFound)}
}

func (r *EscalationRepository) List(_ context.Context) ([]*models.Escalation, error) {
	return r.store.list(), nil
}

func (r *EscalationRepository) GetByID(_ context.Context, id string) (*models.Escalation, error) {
	escalation, err := r.store.get(id)
	if err != nil {
		return nil, persistence.NewEntityError("GetByID", "escalation", id, err)
	}

	return escalation, nil
}

func (r *EscalationRepository) Save(_ context.Context, escalation *models.Escalation) error {
	r.store.put(escalation.ID, escalation)

	return nil
}

func (r *EscalationRepository) Update(_ context.Context, id string, mutate func(*models.Escalation) error) (*models.Escalation, error) {
	escalation, err := r.store.update(id, mutate)
	if err != nil {
		return nil, persistence.NewEntityError("Update", "escalation", id, err)
	}

	return escalation, nil
}

// IncentiveRepository handles incentive storage and enforces global
// redemption-code uniqueness.
type IncentiveRepository struct {
	store *store[*models.Incentive]

	codesMu sync.Mutex
	codes   map[string]string // code -> incentive id
}

func NewIncentiveRepository() *IncentiveRepository {
	return &IncentiveRepository{
		store: newStore[*models.Incentive](persistence.ErrIncentiveNotFound),
		codes: make(map[string]string),
	}
}

func (r *IncentiveRepository) List(_ context.Context) ([]*models.Incentive, error) {
	return r.store.list(), nil
}

func (r *IncentiveRepository) GetByID(_ context.Context, id string) (*models.Incentive, error) {
	incentive, err := r.store.get(id)
	if err != nil {
		return nil, persistence.NewEntityError("GetByID", "incentive", id, err)
	}

	return incentive, nil
}

func (r *IncentiveRepository) GetByCode(ctx context.Context, code string) (*models.Incentive, error) {
	r.codesMu.Lock()
	id, ok := r.codes[code]
	r.codesMu.Unlock()

	if !ok {
		return nil, persistence.NewEntityError("GetByCode", "incentive", code, persistence.ErrIncentiveNotFound)
	}

	return r.GetByID(ctx, id)
}

func (r *IncentiveRepository) Save(_ context.Context, incentive *models.Incentive) error {
	r.codesMu.Lock()
	defer r.codesMu.Unlock()

	if owner, exists := r.codes[incentive.Code]; exists && owner != incentive.ID {
		return persistence.NewEntityError("Save", "incentive", incentive.ID, persistence.ErrDuplicateCode)
	}

	r.codes[incentive.Code] = incentive.ID
	r.store.put(incentive.ID, incentive)

	return nil
}

func (r *IncentiveRepository) Update(_ context.Context, id string, mutate func(*models.Incentive) error) (*models.Incentive, error) {
	incentive, err := r.store.update(id, mutate)
	if err != nil {
		return nil, persistence.NewEntityError("Update", "incentive", id, err)
	}

	return incentive, nil
}

func (r *IncentiveRepository) Delete(_ context.Context, id string) error {
	incentive, err := r.store.get(id)
	if err != nil {
		return persistence.NewEntityError("Delete", "incentive", id, err)
	}

	if err := r.store.delete(id); err != nil {
		return persistence.NewEntityError("Delete", "incentive", id, err)
	}

	r.codesMu.Lock()
	delete(r.codes, incentive.Code)
	r.codesMu.Unlock()

	return nil
}

// MilestoneRepository handles milestone storage. Save upserts by ID so
// detection re-runs stay idempotent.
type MilestoneRepository struct {
	store *store[*models.Milestone]
}

func NewMilestoneRepository() *MilestoneRepository {
	return &MilestoneRepository{store: newStore[*models.Milestone](persistence.ErrMilestoneNotFound)}
}

func (r *MilestoneRepository) List(_ context.Context) ([]*models.Milestone, error) {
	return r.store.list(), nil
}

func (r *MilestoneRepository) GetByID(_ context.Context, id string) (*models.Milestone, error) {
	milestone, err := r.store.get(id)
	if err != nil {
		return nil, persistence.NewEntityError("GetByID", "milestone", id, err)
	}

	return milestone, nil
}

func (r *MilestoneRepository) Save(_ context.Context, milestone *models.Milestone) error {
	r.store.put(milestone.ID, milestone)

	return nil
}
