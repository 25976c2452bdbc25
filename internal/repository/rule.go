package repository

import (
	"context"
	"database/sql"

	"wisefido-threshold/internal/models"

	"go.uber.org/zap"
)

// RuleRepository 规则仓库（rules 表）
type RuleRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRuleRepository 创建规则仓库
func NewRuleRepository(db *sql.DB, logger *zap.Logger) *RuleRepository {
	return &RuleRepository{
		db:     db,
		logger: logger,
	}
}

const ruleColumns = `
	id,
	device_id,
	sensor_id,
	condition_type,
	operator,
	threshold_value,
	duration_seconds,
	secondary_device_id,
	secondary_sensor_id,
	secondary_operator,
	secondary_value,
	active
`

// RulesFor 获取某个 device/sensor 上的全部启用规则（按 id 排序）
// 配置不完整的规则照常返回并记录警告，缺失的 secondary 数据不阻断主条件
func (r *RuleRepository) RulesFor(ctx context.Context, deviceID, sensorID string) ([]models.Rule, error) {
	query := `SELECT` + ruleColumns + `
		FROM rules
		WHERE device_id = $1
		  AND sensor_id = $2
		  AND active = TRUE
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, query, deviceID, sensorID)
	if err != nil {
		return nil, storeError("query rules", err)
	}
	defer rows.Close()

	var rules []models.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, storeError("scan rule", err)
		}
		if err := rule.Validate(); err != nil {
			r.logger.Warn("Rule configuration incomplete",
				zap.Int64("rule_id", rule.ID),
				zap.Error(err),
			)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("iterate rules", err)
	}

	return rules, nil
}

// Count 规则总数
func (r *RuleRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rules`).Scan(&n); err != nil {
		return 0, storeError("count rules", err)
	}
	return n, nil
}

// Create 插入规则，回填 ID
func (r *RuleRepository) Create(ctx context.Context, rule *models.Rule) error {
	query := `
		INSERT INTO rules (
			device_id, sensor_id, condition_type, operator, threshold_value, duration_seconds,
			secondary_device_id, secondary_sensor_id, secondary_operator, secondary_value, active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`

	err := r.db.QueryRowContext(ctx, query,
		rule.DeviceID,
		rule.SensorID,
		rule.ConditionType,
		rule.Operator,
		rule.ThresholdValue,
		rule.DurationSeconds,
		nullString(rule.SecondaryDeviceID),
		nullString(rule.SecondarySensorID),
		nullString(rule.SecondaryOperator),
		secondaryValueArg(rule),
		rule.Active,
	).Scan(&rule.ID)
	if err != nil {
		return storeError("insert rule", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRule(row rowScanner) (models.Rule, error) {
	var rule models.Rule
	var secDevice, secSensor, secOperator sql.NullString
	var secValue sql.NullFloat64

	err := row.Scan(
		&rule.ID,
		&rule.DeviceID,
		&rule.SensorID,
		&rule.ConditionType,
		&rule.Operator,
		&rule.ThresholdValue,
		&rule.DurationSeconds,
		&secDevice,
		&secSensor,
		&secOperator,
		&secValue,
		&rule.Active,
	)
	if err != nil {
		return rule, err
	}

	rule.SecondaryDeviceID = secDevice.String
	rule.SecondarySensorID = secSensor.String
	rule.SecondaryOperator = secOperator.String
	rule.SecondaryValue = secValue.Float64
	return rule, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func secondaryValueArg(rule *models.Rule) sql.NullFloat64 {
	return sql.NullFloat64{Float64: rule.SecondaryValue, Valid: rule.IsConditional()}
}
