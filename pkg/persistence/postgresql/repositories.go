package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/reviewloop/reviewloop/pkg/models"
	"github.com/reviewloop/reviewloop/pkg/persistence"
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error

	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// updateDocument runs a read-modify-write against a jsonb document row
// inside one transaction, holding a row lock for the duration so concurrent
// mutations of the same entity serialize instead of losing writes.
func updateDocument[T any](
	ctx context.Context,
	db *sql.DB,
	table, id string,
	notFound error,
	mutate func(*T) error,
	reindex func(*sql.Tx, *T) error,
) (*T, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var raw []byte

	query := fmt.Sprintf("SELECT data FROM %s WHERE id = $1 FOR UPDATE", table)
	if err := tx.QueryRowContext(ctx, query, id).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound
		}

		return nil, fmt.Errorf("failed to lock row: %w", err)
	}

	entity := new(T)
	if err := json.Unmarshal(raw, entity); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}

	if err := mutate(entity); err != nil {
		return nil, err
	}

	updated, err := json.Marshal(entity)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}

	query = fmt.Sprintf("UPDATE %s SET data = $2 WHERE id = $1", table)
	if _, err := tx.ExecContext(ctx, query, id, updated); err != nil {
		return nil, fmt.Errorf("failed to update document: %w", err)
	}

	if reindex != nil {
		if err := reindex(tx, entity); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	return entity, nil
}

func listDocuments[T any](ctx context.Context, db *sql.DB, query string, args ...any) ([]*T, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	items := []*T{}

	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}

		entity := new(T)
		if err := json.Unmarshal(raw, entity); err != nil {
			return nil, fmt.Errorf("failed to decode document: %w", err)
		}

		items = append(items, entity)
	}

	return items, rows.Err()
}

func getDocument[T any](ctx context.Context, db *sql.DB, notFound error, query string, args ...any) (*T, error) {
	var raw []byte

	if err := db.QueryRowContext(ctx, query, args...).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound
		}

		return nil, fmt.Errorf("failed to fetch document: %w", err)
	}

	entity := new(T)
	if err := json.Unmarshal(raw, entity); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}

	return entity, nil
}

type FlowRepository struct {
	db *sql.DB
}

func (r *FlowRepository) List(ctx context.Context) ([]*models.AutomationFlow, error) {
	return listDocuments[models.AutomationFlow](ctx, r.db,
		"SELECT data FROM flows ORDER BY created_at")
}

func (r *FlowRepository) GetByID(ctx context.Context, id string) (*models.AutomationFlow, error) {
	return getDocument[models.AutomationFlow](ctx, r.db,
		persistence.NewEntityError("GetByID", "flow", id, persistence.ErrFlowNotFound),
		"SELECT data FROM flows WHERE id = $1", id)
}

// GetByChannel returns the earliest-created flow for the channel.
func (r *FlowRepository) GetByChannel(ctx context.Context, channel models.Channel) (*models.AutomationFlow, error) {
	return getDocument[models.AutomationFlow](ctx, r.db,
		persistence.NewEntityError("GetByChannel", "flow", string(channel), persistence.ErrFlowNotFound),
		"SELECT data FROM flows WHERE channel = $1 ORDER BY created_at LIMIT 1", channel)
}

func (r *FlowRepository) Save(ctx context.Context, flow *models.AutomationFlow) error {
	raw, err := json.Marshal(flow)
	if err != nil {
		return fmt.Errorf("failed to encode flow: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO flows (id, channel, created_at, data) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET channel = $2, data = $4`,
		flow.ID, flow.Channel, flow.CreatedAt, raw)
	if err != nil {
		return fmt.Errorf("failed to save flow: %w", err)
	}

	return nil
}

func (r *FlowRepository) Update(ctx context.Context, id string, mutate func(*models.AutomationFlow) error) (*models.AutomationFlow, error) {
	return updateDocument(ctx, r.db, "flows", id,
		persistence.NewEntityError("Update", "flow", id, persistence.ErrFlowNotFound),
		mutate, nil)
}

type EscalationRepository struct {
	db *sql.DB
}

func (r *EscalationRepository) List(ctx context.Context) ([]*models.Escalation, error) {
	return listDocuments[models.Escalation](ctx, r.db, "SELECT data FROM escalations")
}

func (r *EscalationRepository) GetByID(ctx context.Context, id string) (*models.Escalation, error) {
	return getDocument[models.Escalation](ctx, r.db,
		persistence.NewEntityError("GetByID", "escalation", id, persistence.ErrEscalationNotFound),
		"SELECT data FROM escalations WHERE id = $1", id)
}

func (r *EscalationRepository) Save(ctx context.Context, escalation *models.Escalation) error {
	raw, err := json.Marshal(escalation)
	if err != nil {
		return fmt.Errorf("failed to encode escalation: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO escalations (id, data) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET data = $2`,
		escalation.ID, raw)
	if err != nil {
		return fmt.Errorf("failed to save escalation: %w", err)
	}

	return nil
}

func (r *EscalationRepository) Update(ctx context.Context, id string, mutate func(*models.Escalation) error) (*models.Escalation, error) {
	return updateDocument(ctx, r.db, "escalations", id,
		persistence.NewEntityError("Update", "escalation", id, persistence.ErrEscalationNotFound),
		mutate, nil)
}

type IncentiveRepository struct {
	db *sql.DB
}

func (r *IncentiveRepository) List(ctx context.Context) ([]*models.Incentive, error) {
	return listDocuments[models.Incentive](ctx, r.db, "SELECT data FROM incentives")
}

func (r *IncentiveRepository) GetByID(ctx context.Context, id string) (*models.Incentive, error) {
	return getDocument[models.Incentive](ctx, r.db,
		persistence.NewEntityError("GetByID", "incentive", id, persistence.ErrIncentiveNotFound),
		"SELECT data FROM incentives WHERE id = $1", id)
}

func (r *IncentiveRepository) GetByCode(ctx context.Context, code string) (*models.Incentive, error) {
	return getDocument[models.Incentive](ctx, r.db,
		persistence.NewEntityError("GetByCode", "incentive", code, persistence.ErrIncentiveNotFound),
		"SELECT data FROM incentives WHERE code = $1", code)
}

// Save inserts a new incentive. The unique index on code turns a collision
// into ErrDuplicateCode so the service can retry with a fresh code.
func (r *IncentiveRepository) Save(ctx context.Context, incentive *models.Incentive) error {
	raw, err := json.Marshal(incentive)
	if err != nil {
		return fmt.Errorf("failed to encode incentive: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		"INSERT INTO incentives (id, code, data) VALUES ($1, $2, $3)",
		incentive.ID, incentive.Code, raw)
	if err != nil {
		if isUniqueViolation(err) {
			return persistence.NewEntityError("Save", "incentive", incentive.ID, persistence.ErrDuplicateCode)
		}

		return fmt.Errorf("failed to save incentive: %w", err)
	}

	return nil
}

func (r *IncentiveRepository) Update(ctx context.Context, id string, mutate func(*models.Incentive) error) (*models.Incentive, error) {
	return updateDocument(ctx, r.db, "incentives", id,
		persistence.NewEntityError("Update", "incentive", id, persistence.ErrIncentiveNotFound),
		mutate,
		func(tx *sql.Tx, incentive *models.Incentive) error {
			_, err := tx.ExecContext(ctx,
				"UPDATE incentives SET code = $2 WHERE id = $1", id, incentive.Code)
			if err != nil {
				return fmt.Errorf("failed to reindex code: %w", err)
			}

			return nil
		})
}

func (r *IncentiveRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM incentives WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete incentive: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}

	if affected == 0 {
		return persistence.NewEntityError("Delete", "incentive", id, persistence.ErrIncentiveNotFound)
	}

	return nil
}

type MilestoneRepository struct {
	db *sql.DB
}

func (r *MilestoneRepository) List(ctx context.Context) ([]*models.Milestone, error) {
	return listDocuments[models.Milestone](ctx, r.db, "SELECT data FROM milestones")
}

func (r *MilestoneRepository) GetByID(ctx context.Context, id string) (*models.Milestone, error) {
	return getDocument[models.Milestone](ctx, r.db,
		persistence.NewEntityError("GetByID", "milestone", id, persistence.ErrMilestoneNotFound),
		"SELECT data FROM milestones WHERE id = $1", id)
}

// Save upserts by id so repeated detection runs stay idempotent.
func (r *MilestoneRepository) Save(ctx context.Context, milestone *models.Milestone) error {
	raw, err := json.Marshal(milestone)
	if err != nil {
		return fmt.Errorf("failed to encode milestone: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO milestones (id, data) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET data = $2`,
		milestone.ID, raw)
	if err != nil {
		return fmt.Errorf("failed to save milestone: %w", err)
	}

	return nil
}
