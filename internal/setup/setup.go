package setup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/YooLeon/portainer-monitor/internal/config"
	"github.com/YooLeon/portainer-monitor/internal/docker"
	"github.com/YooLeon/portainer-monitor/internal/entity"
	"github.com/YooLeon/portainer-monitor/internal/portainer"
)

// Options 集成启动参数
type Options struct {
	Interval time.Duration
	Grace    time.Duration
	Writer   entity.StateWriter
	Logger   *zap.Logger
}

// Integration 是一个已启动的 Portainer 集成
type Integration struct {
	Connection config.Connection
	Monitor    *docker.Monitor

	sensors  []*entity.StatusSensor
	switches map[string]*entity.RunningSwitch
	entities []entity.Entity
	logger   *zap.Logger

	closeOnce sync.Once
	closeErr  error
}

// ClientOptions 由连接配置生成客户端参数
func ClientOptions(conn *config.Connection) portainer.Options {
	return portainer.Options{
		Host:       conn.Host,
		Port:       conn.Port,
		APIKey:     conn.APIKey,
		SSL:        conn.SSL,
		VerifySSL:  conn.VerifySSL,
		EndpointID: conn.EndpointID,
		Timeout:    portainer.DefaultTimeout,
	}
}

// Setup 创建客户端和监控器，完成首次刷新，为每个容器创建实体并开始定时刷新
// 首次刷新失败时返回错误，不会启动定时任务
func Setup(ctx context.Context, conn *config.Connection, opts Options) (*Integration, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("integration", conn.UniqueID()))

	client := portainer.NewClient(ClientOptions(conn), logger.Named("client"))
	monitor := docker.NewMonitor(client, conn.EndpointID, opts.Interval, logger.Named("monitor"))

	if err := monitor.FirstRefresh(ctx); err != nil {
		monitor.Close()
		return nil, err
	}

	containers, err := monitor.Containers()
	if err != nil {
		monitor.Close()
		return nil, err
	}

	entityOpts := entity.Options{
		Writer: opts.Writer,
		Logger: logger.Named("entity"),
		Grace:  opts.Grace,
	}

	in := &Integration{
		Connection: *conn,
		Monitor:    monitor,
		sensors:    entity.NewStatusSensors(monitor, containers, entityOpts),
		switches:   make(map[string]*entity.RunningSwitch, len(containers)),
		logger:     logger,
	}
	for _, s := range in.sensors {
		in.entities = append(in.entities, s)
	}
	for _, s := range entity.NewRunningSwitches(monitor, containers, entityOpts) {
		in.switches[s.ContainerID()] = s
		in.entities = append(in.entities, s)
	}
	for _, e := range in.entities {
		e.Attach()
	}

	// 定时任务的生命周期与集成一致，不随调用方的 ctx 取消
	if _, err := monitor.Start(context.Background()); err != nil {
		in.Close()
		return nil, fmt.Errorf("start refresh schedule: %w", err)
	}

	logger.Info("Integration ready",
		zap.String("title", conn.Title()),
		zap.Int("containers", len(containers)),
		zap.Int("entities", len(in.entities)),
	)
	return in, nil
}

// Entities 返回全部实体
func (in *Integration) Entities() []entity.Entity {
	return in.entities
}

// Switch 按容器 ID 查找运行开关
func (in *Integration) Switch(containerID string) (*entity.RunningSwitch, bool) {
	s, found := in.switches[containerID]
	return s, found
}

// Close 取消订阅、停止定时刷新并释放连接
func (in *Integration) Close() error {
	in.closeOnce.Do(func() {
		for _, e := range in.entities {
			e.Detach()
		}
		in.closeErr = in.Monitor.Close()
		in.logger.Info("Integration unloaded")
	})
	return in.closeErr
}
