package repository

import (
	"context"
	"database/sql"

	"wisefido-threshold/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AlarmHistoryRepository 报警历史仓库（alarm_history 表，只追加）
type AlarmHistoryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAlarmHistoryRepository 创建报警历史仓库
func NewAlarmHistoryRepository(db *sql.DB, logger *zap.Logger) *AlarmHistoryRepository {
	return &AlarmHistoryRepository{
		db:     db,
		logger: logger,
	}
}

// Record 追加一条报警记录（单条 INSERT，要么成功要么失败）
// event.EventID 为空时自动生成
func (r *AlarmHistoryRepository) Record(ctx context.Context, event *models.AlarmEvent) error {
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}

	query := `
		INSERT INTO alarm_history (
			event_id, rule_id, device_id, sensor_id, triggered_at, value, message
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.ExecContext(ctx, query,
		event.EventID,
		event.RuleID,
		event.DeviceID,
		event.SensorID,
		event.TriggeredAt,
		event.Value,
		event.Message,
	)
	if err != nil {
		return storeError("insert alarm history", err)
	}
	return nil
}

// ListRecent 按触发时间倒序获取最近的报警
func (r *AlarmHistoryRepository) ListRecent(ctx context.Context, limit int) ([]models.AlarmEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT event_id, rule_id, device_id, sensor_id, triggered_at, cleared_at, value, message
		FROM alarm_history
		ORDER BY triggered_at DESC, id DESC
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, storeError("query alarm history", err)
	}
	defer rows.Close()

	var events []models.AlarmEvent
	for rows.Next() {
		var event models.AlarmEvent
		var clearedAt sql.NullTime
		if err := rows.Scan(
			&event.EventID,
			&event.RuleID,
			&event.DeviceID,
			&event.SensorID,
			&event.TriggeredAt,
			&clearedAt,
			&event.Value,
			&event.Message,
		); err != nil {
			return nil, storeError("scan alarm history", err)
		}
		if clearedAt.Valid {
			t := clearedAt.Time
			event.ClearedAt = &t
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("iterate alarm history", err)
	}
	return events, nil
}
