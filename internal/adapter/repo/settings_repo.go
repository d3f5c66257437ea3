package repo

import (
	"context"
	"fmt"

	"mediagen/internal/domain"
	"mediagen/internal/infra"
	"mediagen/internal/sqlinline"
)

// SettingsRepository reads and writes the batch pacing row in app_settings.
type SettingsRepository struct {
	sql infra.SQLExecutor
}

func NewSettingsRepository(sql infra.SQLExecutor) *SettingsRepository {
	return &SettingsRepository{sql: sql}
}

func (r *SettingsRepository) BatchSettings(ctx context.Context) (domain.BatchSettings, error) {
	var s domain.BatchSettings
	if err := r.sql.QueryRow(ctx, sqlinline.QSelectBatchSettings).Scan(&s.JobsPerBatch, &s.InterBatchDelaySeconds); err != nil {
		if infra.IsNoRows(err) {
			return domain.BatchSettings{}, fmt.Errorf("repo: batch settings: %w", domain.ErrNotFound)
		}
		return domain.BatchSettings{}, fmt.Errorf("repo: batch settings: %w", err)
	}
	return s, nil
}

func (r *SettingsRepository) SetBatchSettings(ctx context.Context, s domain.BatchSettings) error {
	if s.JobsPerBatch <= 0 || s.InterBatchDelaySeconds < 0 {
		return fmt.Errorf("repo: invalid batch settings %+v", s)
	}
	_, err := r.sql.Exec(ctx, sqlinline.QUpsertBatchSettings, s.JobsPerBatch, s.InterBatchDelaySeconds)
	return err
}

var _ domain.SettingsSource = (*SettingsRepository)(nil)
