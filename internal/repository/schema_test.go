package repository

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wisefido-threshold/internal/models"
)

func TestInitSchema(t *testing.T) {
	db, mock := setupMockDB(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS rules`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE INDEX IF NOT EXISTS idx_rules_device_sensor`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS state(.|\n)+UNIQUE \(rule_id, device_id, sensor_id, secondary_device_id, secondary_sensor_id\)`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS latest_values(.|\n)+UNIQUE \(device_id, sensor_id\)`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS alarm_history(.|\n)+cleared_at`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, InitSchema(context.Background(), db))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInitSchema_Failure(t *testing.T) {
	db, mock := setupMockDB(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS rules`).WillReturnError(errors.New("permission denied"))

	err := InitSchema(context.Background(), db)
	assert.True(t, errors.Is(err, ErrStoreUnavailable))
}

func TestSeedRules_EmptyTable(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewRuleRepository(db, zap.NewNop())

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM rules`).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`INSERT INTO rules`).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectQuery(`INSERT INTO rules`).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(2))

	rules := DefaultSeedRules()
	n, err := SeedRules(context.Background(), repo, rules, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, int64(1), rules[0].ID)
	assert.Equal(t, int64(2), rules[1].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSeedRules_AlreadySeeded(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewRuleRepository(db, zap.NewNop())

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM rules`).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	n, err := SeedRules(context.Background(), repo, DefaultSeedRules(), zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDefaultSeedRules(t *testing.T) {
	rules := DefaultSeedRules()
	require.Len(t, rules, 2)
	for _, r := range rules {
		assert.NoError(t, r.Validate())
		assert.True(t, r.Active)
	}
	assert.Equal(t, 10, rules[0].DurationSeconds)
	assert.Equal(t, "sensor2", rules[1].SecondaryDeviceID)
}

func TestLoadSeedRules(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	content := `
rules:
  - device_id: boiler
    sensor_id: pressure
    condition_type: threshold
    operator: ">="
    threshold_value: 3.5
    duration_seconds: 30
  - device_id: boiler
    sensor_id: temperature
    condition_type: conditional
    operator: ">"
    threshold_value: 90
    duration_seconds: 15
    secondary_device_id: pump
    secondary_sensor_id: running
    secondary_operator: "=="
    secondary_value: 1
    active: false
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	rules, err := LoadSeedRules(path)
	require.NoError(t, err)
	require.Len(t, rules, 2)

	assert.Equal(t, "boiler", rules[0].DeviceID)
	assert.Equal(t, models.OpGreaterOrEqual, rules[0].Operator)
	assert.Equal(t, 3.5, rules[0].ThresholdValue)
	assert.True(t, rules[0].Active)

	assert.True(t, rules[1].IsConditional())
	assert.Equal(t, "pump", rules[1].SecondaryDeviceID)
	assert.Equal(t, 1.0, rules[1].SecondaryValue)
	assert.False(t, rules[1].Active)
}

func TestLoadSeedRules_Invalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	content := `
rules:
  - device_id: boiler
    sensor_id: temperature
    condition_type: conditional
    operator: ">"
    threshold_value: 90
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	_, err := LoadSeedRules(path)
	assert.Error(t, err)

	_, err = LoadSeedRules(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
