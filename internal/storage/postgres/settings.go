package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/storefront/checkout/internal/domain/settings"
)

const (
	getSettingSQL = `SELECT value FROM settings WHERE key = $1`

	setSettingSQL = `INSERT INTO settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`
)

var _ settings.Store = (*SettingsRepository)(nil)

// SettingsRepository stores key/value settings.
type SettingsRepository struct {
	pool *pgxpool.Pool
}

// NewSettingsRepository returns a SettingsRepository that uses the given pool.
func NewSettingsRepository(pool *pgxpool.Pool) *SettingsRepository {
	return &SettingsRepository{pool: pool}
}

// Get returns the stored value of key and false when it is unset.
func (r *SettingsRepository) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := conn(ctx, r.pool).QueryRow(ctx, getSettingSQL, key).Scan(&v)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("getting setting %q: %w", key, err)
	}
	return v, true, nil
}

// Set creates or replaces the value of key.
func (r *SettingsRepository) Set(ctx context.Context, key, value string) error {
	if _, err := conn(ctx, r.pool).Exec(ctx, setSettingSQL, key, value); err != nil {
		return fmt.Errorf("setting %q: %w", key, err)
	}
	return nil
}
