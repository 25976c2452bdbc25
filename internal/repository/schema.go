package repository

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"wisefido-threshold/internal/models"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// schemaStatements 四张表的建表语句
// state 的 secondary 列用空字符串表示无值，保证五元组唯一约束生效
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS rules (
		id                  BIGSERIAL PRIMARY KEY,
		device_id           TEXT NOT NULL,
		sensor_id           TEXT NOT NULL,
		condition_type      TEXT NOT NULL,
		operator            TEXT NOT NULL,
		threshold_value     DOUBLE PRECISION NOT NULL,
		duration_seconds    INTEGER NOT NULL DEFAULT 0,
		secondary_device_id TEXT,
		secondary_sensor_id TEXT,
		secondary_operator  TEXT,
		secondary_value     DOUBLE PRECISION,
		active              BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_rules_device_sensor ON rules (device_id, sensor_id) WHERE active`,
	`CREATE TABLE IF NOT EXISTS state (
		rule_id             BIGINT NOT NULL,
		device_id           TEXT NOT NULL,
		sensor_id           TEXT NOT NULL,
		secondary_device_id TEXT NOT NULL DEFAULT '',
		secondary_sensor_id TEXT NOT NULL DEFAULT '',
		in_alarm            BOOLEAN NOT NULL DEFAULT FALSE,
		breach_start        TIMESTAMPTZ,
		last_eval           TIMESTAMPTZ NOT NULL,
		last_value          DOUBLE PRECISION NOT NULL,
		UNIQUE (rule_id, device_id, sensor_id, secondary_device_id, secondary_sensor_id)
	)`,
	`CREATE TABLE IF NOT EXISTS latest_values (
		device_id TEXT NOT NULL,
		sensor_id TEXT NOT NULL,
		value     DOUBLE PRECISION NOT NULL,
		ts        TIMESTAMPTZ NOT NULL,
		UNIQUE (device_id, sensor_id)
	)`,
	`CREATE TABLE IF NOT EXISTS alarm_history (
		id           BIGSERIAL PRIMARY KEY,
		event_id     UUID NOT NULL UNIQUE,
		rule_id      BIGINT NOT NULL,
		device_id    TEXT NOT NULL,
		sensor_id    TEXT NOT NULL,
		triggered_at TIMESTAMPTZ NOT NULL,
		cleared_at   TIMESTAMPTZ,
		value        DOUBLE PRECISION NOT NULL,
		message      TEXT NOT NULL
	)`,
}

// InitSchema 创建表结构（幂等）
func InitSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return storeError("init schema", err)
		}
	}
	return nil
}

// DefaultSeedRules 内置示例规则
func DefaultSeedRules() []models.Rule {
	return []models.Rule{
		{
			DeviceID:        "sensor1",
			SensorID:        "temperature",
			ConditionType:   models.ConditionThreshold,
			Operator:        models.OpGreater,
			ThresholdValue:  24,
			DurationSeconds: 10,
			Active:          true,
		},
		{
			DeviceID:          "sensor1",
			SensorID:          "temperature",
			ConditionType:     models.ConditionConditional,
			Operator:          models.OpGreater,
			ThresholdValue:    24,
			DurationSeconds:   5,
			SecondaryDeviceID: "sensor2",
			SecondarySensorID: "current",
			SecondaryOperator: models.OpGreater,
			SecondaryValue:    0,
			Active:            true,
		},
	}
}

// seedFile 规则种子文件格式
type seedFile struct {
	Rules []seedRule `yaml:"rules"`
}

type seedRule struct {
	models.Rule `yaml:",inline"`
	Active      *bool `yaml:"active"` // 缺省为 true
}

// LoadSeedRules 从 YAML 文件读取种子规则
func LoadSeedRules(path string) ([]models.Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var file seedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}

	rules := make([]models.Rule, 0, len(file.Rules))
	for i, sr := range file.Rules {
		rule := sr.Rule
		rule.ID = 0
		rule.Active = sr.Active == nil || *sr.Active
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("seed rule #%d: %w", i+1, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// SeedRules rules 表为空时写入种子规则，返回写入条数
func SeedRules(ctx context.Context, repo *RuleRepository, rules []models.Rule, logger *zap.Logger) (int, error) {
	n, err := repo.Count(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger.Debug("Rules already present, skipping seed", zap.Int("count", n))
		return 0, nil
	}

	for i := range rules {
		if err := repo.Create(ctx, &rules[i]); err != nil {
			return i, err
		}
		logger.Info("Seeded rule",
			zap.Int64("rule_id", rules[i].ID),
			zap.String("device_id", rules[i].DeviceID),
			zap.String("sensor_id", rules[i].SensorID),
			zap.String("condition_type", rules[i].ConditionType),
		)
	}
	return len(rules), nil
}
