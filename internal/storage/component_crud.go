package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/KevinKickass/OpenEnergyCore/internal/config"
)

// LoadComponentConfigs loads all stored component configurations, disabled
// ones included, ordered by creation time.
func (p *PostgresClient) LoadComponentConfigs(ctx context.Context) ([]config.ComponentConfig, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, component_id, factory, enabled, config, created_at, updated_at
		FROM component_configs
		ORDER BY created_at, component_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query components: %w", err)
	}

	records, err := pgx.CollectRows(rows, pgx.RowToStructByPos[ComponentRecord])
	if err != nil {
		return nil, fmt.Errorf("failed to scan component: %w", err)
	}

	configs := make([]config.ComponentConfig, 0, len(records))
	for _, r := range records {
		cfg, err := r.ComponentConfig()
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

// SaveComponentConfig inserts or updates the configuration of cfg.ID.
func (p *PostgresClient) SaveComponentConfig(ctx context.Context, cfg config.ComponentConfig) (uuid.UUID, error) {
	rec, err := newRecord(cfg)
	if err != nil {
		return uuid.Nil, err
	}

	var id uuid.UUID
	err = p.pool.QueryRow(ctx, `
		INSERT INTO component_configs (id, component_id, factory, enabled, config)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (component_id)
		DO UPDATE SET
			factory = EXCLUDED.factory,
			enabled = EXCLUDED.enabled,
			config = EXCLUDED.config,
			updated_at = NOW()
		RETURNING id
	`, rec.ID, rec.ComponentID, rec.Factory, rec.Enabled, rec.Config).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to upsert component: %w", err)
	}
	return id, nil
}

// DeleteComponentConfig removes a stored configuration. pgx.ErrNoRows is
// returned when none exists.
func (p *PostgresClient) DeleteComponentConfig(ctx context.Context, componentID string) error {
	result, err := p.pool.Exec(ctx, `
		DELETE FROM component_configs
		WHERE component_id = $1
	`, componentID)
	if err != nil {
		return fmt.Errorf("failed to delete component: %w", err)
	}

	if result.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
