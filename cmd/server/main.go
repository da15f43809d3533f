package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/langchou/scalegazer/internal/api/handlers"
	"github.com/langchou/scalegazer/internal/config"
	"github.com/langchou/scalegazer/internal/repository"
	"github.com/langchou/scalegazer/internal/service"
	"github.com/langchou/scalegazer/pkg/ws"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logger := initLogger(cfg.Debug)
	defer logger.Sync()

	logger.Info("Starting Scalegazer",
		zap.String("port", cfg.ServerPort),
		zap.Int("devices", len(cfg.Devices)),
		zap.String("snapshot_store", cfg.SnapshotStore))

	if len(cfg.Devices) == 0 {
		logger.Fatal("No scale configured, set DEVICES_FILE or TUYA_* variables")
	}

	// 创建 context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 快照存储
	store, closeStore, err := openSnapshotStore(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to open snapshot store", zap.Error(err))
	}
	defer closeStore()

	// 创建秤服务，每台设备一个数据源和协调器
	scaleService := service.NewScaleService(cfg, logger, store)
	for _, dev := range cfg.Devices {
		if _, err := scaleService.Setup(ctx, dev); err != nil {
			logger.Error("Failed to set up scale", zap.String("device_id", dev.DeviceID), zap.Error(err))
		}
	}

	// 创建 WebSocket Hub
	wsHub := ws.NewHub(logger)
	wsHub.SetInitDataProvider(func() *ws.InitData {
		return &ws.InitData{
			Devices:   scaleService.Devices(),
			Snapshots: scaleService.Snapshots(),
		}
	})
	go wsHub.Run()

	// 订阅快照更新并广播到 WebSocket
	updates := scaleService.Subscribe()
	go func() {
		for snap := range updates {
			wsHub.BroadcastSnapshot(snap.DeviceID, snap)
		}
	}()

	if err := scaleService.Start(ctx); err != nil {
		logger.Error("Failed to start scale service", zap.Error(err))
	}

	// 创建 HTTP 处理器
	handler := handlers.NewHandler(logger, scaleService, wsHub)

	// 设置 Gin 模式
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建路由
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	// 注册路由
	handler.RegisterRoutes(router)

	// 启动 HTTP 服务器
	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("Server started", zap.String("addr", server.Addr))

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// 先停止接收请求，再停止轮询并丢弃 token/会话
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	scaleService.Stop()
	wsHub.Close()

	logger.Info("Server exited")
}

// initLogger 初始化日志
func initLogger(debug bool) *zap.Logger {
	var config zap.Config
	if debug {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
	}

	logger, _ := config.Build()
	return logger
}

// openSnapshotStore 按配置打开快照存储
func openSnapshotStore(ctx context.Context, cfg *config.Config) (repository.SnapshotStore, func(), error) {
	switch cfg.SnapshotStore {
	case config.StorePostgres:
		db, err := repository.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect database: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("migrate database: %w", err)
		}
		return repository.NewPostgresSnapshotStore(db), db.Close, nil

	case config.StoreRedis:
		store, err := repository.NewRedisSnapshotStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, 0)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	}

	return repository.NewMemoryStore(), func() {}, nil
}

// corsMiddleware CORS 中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
