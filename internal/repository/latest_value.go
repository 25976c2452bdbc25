package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"
)

// LatestValueRepository 传感器最新值仓库（latest_values 表）
type LatestValueRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewLatestValueRepository 创建最新值仓库
func NewLatestValueRepository(db *sql.DB, logger *zap.Logger) *LatestValueRepository {
	return &LatestValueRepository{
		db:     db,
		logger: logger,
	}
}

// Update 无条件覆盖最新值
func (r *LatestValueRepository) Update(ctx context.Context, deviceID, sensorID string, value float64, ts time.Time) error {
	query := `
		INSERT INTO latest_values (device_id, sensor_id, value, ts)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (device_id, sensor_id)
		DO UPDATE SET value = EXCLUDED.value, ts = EXCLUDED.ts
	`

	if _, err := r.db.ExecContext(ctx, query, deviceID, sensorID, value, ts); err != nil {
		return storeError("update latest value", err)
	}
	return nil
}

// Get 获取最新值，ok=false 表示从未上报过
func (r *LatestValueRepository) Get(ctx context.Context, deviceID, sensorID string) (value float64, ok bool, err error) {
	query := `SELECT value FROM latest_values WHERE device_id = $1 AND sensor_id = $2`

	err = r.db.QueryRowContext(ctx, query, deviceID, sensorID).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, storeError("get latest value", err)
	}
	return value, true, nil
}
