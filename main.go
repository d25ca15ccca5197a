package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/YooLeon/portainer-monitor/internal/config"
	"github.com/YooLeon/portainer-monitor/internal/entity"
	"github.com/YooLeon/portainer-monitor/internal/middleware"
	"github.com/YooLeon/portainer-monitor/internal/setup"
	"github.com/YooLeon/portainer-monitor/internal/web"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

func main() {
	// 加载配置
	cfg := config.LoadConfig()

	// 配置日志
	logger, err := newLogger(cfg.Debug)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// 替换全局logger
	zap.ReplaceGlobals(logger)

	// 加载 portainer-setup 生成的连接配置
	conn, err := config.LoadConnection(cfg.ConnectionPath)
	if err != nil {
		zap.L().Fatal("Failed to load connection", zap.String("path", cfg.ConnectionPath), zap.Error(err))
	}

	hub := web.NewHub(zap.L().Named("hub"))

	// 首次刷新失败时直接退出，不启动定时刷新
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	integration, err := setup.Setup(ctx, conn, setup.Options{
		Interval: cfg.MonitorInterval,
		Grace:    entity.DefaultGrace,
		Writer:   hub,
		Logger:   zap.L(),
	})
	cancel()
	if err != nil {
		zap.L().Fatal("Failed to set up integration",
			zap.String("title", conn.Title()),
			zap.String("reason", setup.ErrorKey(err)),
			zap.Error(err),
		)
	}

	// 创建 HTTP handler
	webHandler := web.NewHandler(integration.Monitor, func(id string) (web.Toggle, bool) {
		sw, found := integration.Switch(id)
		if !found {
			return nil, false
		}
		return sw, true
	}, hub, zap.L().Named("web"))

	// 创建路由器
	router := mux.NewRouter()

	// /health 不需要认证，其他接口由中间件保护
	if cfg.Password != "" {
		router.Use(middleware.AuthMiddleware(cfg.Password))
	}
	webHandler.Routes(router)

	// 静态文件服务
	router.PathPrefix("/").Handler(web.StaticHandler())

	// 创建 HTTP 服务器
	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ServerPort),
		Handler: router,
	}

	// 优雅关闭通道
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	// 启动服务器
	go func() {
		zap.L().Info("Server starting", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zap.L().Fatal("Server failed to start", zap.Error(err))
		}
	}()

	// 等待中断信号
	<-stop
	zap.L().Info("Shutting down server...")

	// 创建关闭上下文
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	// 优雅关闭服务器
	if err := server.Shutdown(shutdownCtx); err != nil {
		zap.L().Warn("Server forced to shutdown", zap.Error(err))
	}

	// 先停止定时刷新，再释放连接
	if err := integration.Close(); err != nil {
		zap.L().Warn("Error closing integration", zap.Error(err))
	}

	zap.L().Info("Server exited")
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
