package service

import (
	"context"
	"database/sql"
	"fmt"

	"wisefido-threshold/internal/config"
	"wisefido-threshold/internal/repository"

	"go.uber.org/zap"
)

// Bootstrap 初始化数据库：建表、可选清空状态、写入种子规则
// 任何一步失败都是启动致命错误
func Bootstrap(ctx context.Context, db *sql.DB, cfg *config.Config, logger *zap.Logger) error {
	// 1. 建表
	if err := repository.InitSchema(ctx, db); err != nil {
		return fmt.Errorf("failed to init schema: %w", err)
	}

	// 2. 清空状态
	if cfg.Threshold.Bootstrap.ResetState {
		if err := repository.NewStateRepository(db, logger).Reset(ctx); err != nil {
			return fmt.Errorf("failed to reset state: %w", err)
		}
	}

	// 3. 种子规则
	if !cfg.Threshold.Bootstrap.SeedRules {
		return nil
	}

	rules := repository.DefaultSeedRules()
	if cfg.Threshold.Bootstrap.SeedFile != "" {
		loaded, err := repository.LoadSeedRules(cfg.Threshold.Bootstrap.SeedFile)
		if err != nil {
			return err
		}
		rules = loaded
	}

	n, err := repository.SeedRules(ctx, repository.NewRuleRepository(db, logger), rules, logger)
	if err != nil {
		return fmt.Errorf("failed to seed rules: %w", err)
	}
	if n > 0 {
		logger.Info("Seed rules inserted", zap.Int("count", n))
	}
	return nil
}
