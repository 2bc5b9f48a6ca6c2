// Package postgresql provides a PostgreSQL-backed implementation of the
// persistence layer. Entities are stored as jsonb documents; the columns
// needed for lookups and uniqueness live alongside the document.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"
	"github.com/reviewloop/reviewloop/pkg/persistence"
)

type Persistence struct {
	db     *sql.DB
	logger *slog.Logger

	flows       *FlowRepository
	escalations *EscalationRepository
	incentives  *IncentiveRepository
	milestones  *MilestoneRepository
}

// NewPersistence opens the database, runs migrations, and returns the
// repository handle.
func NewPersistence(databaseURL string, logger *slog.Logger) (*Persistence, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	p := &Persistence{
		db:     db,
		logger: logger.With("module", "postgresql"),
	}

	if err := p.migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	p.flows = &FlowRepository{db: db}
	p.escalations = &EscalationRepository{db: db}
	p.incentives = &IncentiveRepository{db: db}
	p.milestones = &MilestoneRepository{db: db}

	return p, nil
}

func (p *Persistence) migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS flows (
			id         TEXT PRIMARY KEY,
			channel    TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			data       JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_flows_channel ON flows (channel, created_at)`,
		`CREATE TABLE IF NOT EXISTS escalations (
			id   TEXT PRIMARY KEY,
			data JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS incentives (
			id   TEXT PRIMARY KEY,
			code TEXT NOT NULL UNIQUE,
			data JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS milestones (
			id   TEXT PRIMARY KEY,
			data JSONB NOT NULL
		)`,
	}

	for _, statement := range statements {
		if _, err := p.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	p.logger.Info("Database migrations completed")

	return nil
}

func (p *Persistence) Flows() persistence.FlowRepository {
	return p.flows
}

func (p *Persistence) Escalations() persistence.EscalationRepository {
	return p.escalations
}

func (p *Persistence) Incentives() persistence.IncentiveRepository {
	return p.incentives
}

func (p *Persistence) Milestones() persistence.MilestoneRepository {
	return p.milestones
}

func (p *Persistence) HealthCheck(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *Persistence) Close(_ context.Context) error {
	return p.db.Close()
}
