package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wisefido-threshold/common/logger"
	"wisefido-threshold/internal/config"
	"wisefido-threshold/internal/service"

	"go.uber.org/zap"
)

func main() {
	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// 2. 初始化日志
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "wisefido-threshold")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	// 3. 创建上下文（支持优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. 创建服务
	thresholdService, err := service.NewThresholdService(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to create threshold service", zap.Error(err))
	}

	// 5. 启动服务
	serviceErrChan, err := thresholdService.Start(ctx)
	if err != nil {
		log.Fatal("Failed to start threshold service", zap.Error(err))
	}

	// 6. 等待信号（优雅关闭）
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down",
			zap.String("signal", sig.String()),
		)
	case err := <-serviceErrChan:
		log.Error("Service error", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := thresholdService.Stop(shutdownCtx); err != nil {
		log.Error("Failed to stop threshold service", zap.Error(err))
	}
	cancel()

	log.Info("Threshold service stopped")
}
