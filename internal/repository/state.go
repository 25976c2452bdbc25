package repository

import (
	"context"
	"database/sql"
	"errors"

	"wisefido-threshold/internal/models"

	"go.uber.org/zap"
)

// StateRepository 规则去抖状态仓库（state 表）
type StateRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewStateRepository 创建状态仓库
func NewStateRepository(db *sql.DB, logger *zap.Logger) *StateRepository {
	return &StateRepository{
		db:     db,
		logger: logger,
	}
}

// Get 获取状态，从未评估过返回 nil
func (r *StateRepository) Get(ctx context.Context, key models.StateKey) (*models.BreachState, error) {
	query := `
		SELECT in_alarm, breach_start, last_eval, last_value
		FROM state
		WHERE rule_id = $1
		  AND device_id = $2
		  AND sensor_id = $3
		  AND secondary_device_id = $4
		  AND secondary_sensor_id = $5
	`

	var state models.BreachState
	var breachStart sql.NullTime
	err := r.db.QueryRowContext(ctx, query,
		key.RuleID, key.DeviceID, key.SensorID, key.SecondaryDeviceID, key.SecondarySensorID,
	).Scan(&state.InAlarm, &breachStart, &state.LastEval, &state.LastValue)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, storeError("get state", err)
	}

	if breachStart.Valid {
		t := breachStart.Time
		state.BreachStart = &t
	}
	return &state, nil
}

// Upsert 按五元组主键整行替换状态（单条语句，原子）
func (r *StateRepository) Upsert(ctx context.Context, key models.StateKey, state models.BreachState) error {
	query := `
		INSERT INTO state (
			rule_id, device_id, sensor_id, secondary_device_id, secondary_sensor_id,
			in_alarm, breach_start, last_eval, last_value
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (rule_id, device_id, sensor_id, secondary_device_id, secondary_sensor_id)
		DO UPDATE SET
			in_alarm = EXCLUDED.in_alarm,
			breach_start = EXCLUDED.breach_start,
			last_eval = EXCLUDED.last_eval,
			last_value = EXCLUDED.last_value
	`

	var breachStart sql.NullTime
	if state.BreachStart != nil {
		breachStart = sql.NullTime{Time: *state.BreachStart, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, query,
		key.RuleID, key.DeviceID, key.SensorID, key.SecondaryDeviceID, key.SecondarySensorID,
		state.InAlarm, breachStart, state.LastEval, state.LastValue,
	)
	if err != nil {
		return storeError("upsert state", err)
	}
	return nil
}

// Reset 清空全部状态（仅启动时可选调用）
func (r *StateRepository) Reset(ctx context.Context) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM state`)
	if err != nil {
		return storeError("reset state", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		r.logger.Info("State reset", zap.Int64("rows", n))
	}
	return nil
}
