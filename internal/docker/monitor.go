package docker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/YooLeon/portainer-monitor/internal/portainer"
)

// DefaultInterval 默认轮询间隔
const DefaultInterval = 3 * time.Second

var (
	// ErrNoSnapshot 尚未成功获取过快照
	ErrNoSnapshot = errors.New("no snapshot available")
	// ErrSetupFailed 首次刷新失败，集成无法启动
	ErrSetupFailed = errors.New("setup failed")
)

// Client 是监控器依赖的远程 API
type Client interface {
	EndpointSnapshot(ctx context.Context, endpointID int) (*portainer.Endpoint, error)
	StartContainer(ctx context.Context, endpointID int, containerID string) error
	StopContainer(ctx context.Context, endpointID int, containerID string) error
	Close() error
}

// Status 监控器运行状态
type Status struct {
	HasData     bool      `json:"has_data"`
	LastUpdate  time.Time `json:"last_update"`
	LastAttempt time.Time `json:"last_attempt"`
	LastError   string    `json:"last_error,omitempty"`
	Containers  int       `json:"containers"`
}

type listener struct {
	id uint64
	fn func()
}

// Monitor 轮询 Portainer 并维护最新快照
type Monitor struct {
	client     Client
	endpointID int
	interval   time.Duration
	logger     *zap.Logger
	now        func() time.Time

	group singleflight.Group

	mu          sync.RWMutex
	snapshot    *Snapshot
	lastAttempt time.Time
	lastErr     error

	listenersMu sync.Mutex
	listeners   []listener
	nextID      uint64

	scheduleMu sync.Mutex
	schedule   *Schedule
	closed     bool
}

// NewMonitor 创建新的监控器
func NewMonitor(client Client, endpointID int, interval time.Duration, logger *zap.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Monitor{
		client:     client,
		endpointID: endpointID,
		interval:   interval,
		logger:     logger,
		now:        time.Now,
	}
}

// EndpointID 返回监控的环境 ID
func (m *Monitor) EndpointID() int {
	return m.endpointID
}

// Interval 返回轮询间隔
func (m *Monitor) Interval() time.Duration {
	return m.interval
}

// Refresh 执行一次刷新，并发调用会加入正在进行的刷新
func (m *Monitor) Refresh(ctx context.Context) error {
	_, err, _ := m.group.Do("refresh", func() (interface{}, error) {
		return nil, m.refresh(ctx)
	})
	return err
}

// FirstRefresh 执行首次刷新，失败视为致命错误
func (m *Monitor) FirstRefresh(ctx context.Context) error {
	if err := m.Refresh(ctx); err != nil {
		return fmt.Errorf("%w: first refresh of endpoint %d: %w", ErrSetupFailed, m.endpointID, err)
	}
	return nil
}

func (m *Monitor) refresh(ctx context.Context) error {
	attempt := m.now()

	snapshot, err := m.fetch(ctx, attempt)
	if err != nil {
		m.mu.Lock()
		m.lastAttempt = attempt
		m.lastErr = err
		hasData := m.snapshot != nil
		m.mu.Unlock()

		m.logger.Warn("Refresh failed",
			zap.Int("endpoint", m.endpointID),
			zap.Bool("retaining_previous", hasData),
			zap.Bool("timeout", portainer.IsTimeout(err)),
			zap.Error(err),
		)
		return err
	}

	m.mu.Lock()
	m.snapshot = snapshot
	m.lastAttempt = attempt
	m.lastErr = nil
	m.mu.Unlock()

	m.logger.Debug("Refreshed snapshot",
		zap.Int("endpoint", m.endpointID),
		zap.Int("containers", len(snapshot.Containers)),
	)

	m.notify()
	return nil
}

func (m *Monitor) fetch(ctx context.Context, at time.Time) (*Snapshot, error) {
	ep, err := m.client.EndpointSnapshot(ctx, m.endpointID)
	if err != nil {
		return nil, err
	}
	return NewSnapshot(ep, at)
}

func (m *Monitor) notify() {
	m.listenersMu.Lock()
	listeners := make([]listener, len(m.listeners))
	copy(listeners, m.listeners)
	m.listenersMu.Unlock()

	for _, l := range listeners {
		m.call(l)
	}
}

func (m *Monitor) call(l listener) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Listener panicked", zap.Uint64("listener", l.id), zap.Any("panic", r))
		}
	}()
	l.fn()
}

// AddListener 注册更新回调，每次成功刷新后按注册顺序同步调用
// 返回的函数用于取消注册
func (m *Monitor) AddListener(fn func()) func() {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()

	m.nextID++
	id := m.nextID
	m.listeners = append(m.listeners, listener{id: id, fn: fn})

	return func() {
		m.listenersMu.Lock()
		defer m.listenersMu.Unlock()

		for i, l := range m.listeners {
			if l.id == id {
				m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
				return
			}
		}
	}
}

// Containers 返回当前快照中的全部容器
func (m *Monitor) Containers() ([]Container, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.snapshot == nil {
		return nil, ErrNoSnapshot
	}

	containers := make([]Container, len(m.snapshot.Containers))
	copy(containers, m.snapshot.Containers)
	return containers, nil
}

// Container 按 ID 查找容器，不存在时返回 false
func (m *Monitor) Container(id string) (Container, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.snapshot == nil {
		return Container{}, false
	}
	return m.snapshot.Find(id)
}

// StartContainer 启动容器，不会触发刷新
func (m *Monitor) StartContainer(ctx context.Context, id string) error {
	if err := m.client.StartContainer(ctx, m.endpointID, id); err != nil {
		return fmt.Errorf("start container %s: %w", id, err)
	}
	return nil
}

// StopContainer 停止容器，不会触发刷新
func (m *Monitor) StopContainer(ctx context.Context, id string) error {
	if err := m.client.StopContainer(ctx, m.endpointID, id); err != nil {
		return fmt.Errorf("stop container %s: %w", id, err)
	}
	return nil
}

// Status 返回监控状态
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := Status{
		HasData:     m.snapshot != nil,
		LastAttempt: m.lastAttempt,
	}
	if m.snapshot != nil {
		status.LastUpdate = m.snapshot.FetchedAt
		status.Containers = len(m.snapshot.Containers)
	}
	if m.lastErr != nil {
		status.LastError = m.lastErr.Error()
	}
	return status
}

// Close 停止定时刷新并释放客户端连接
func (m *Monitor) Close() error {
	m.scheduleMu.Lock()
	if m.closed {
		m.scheduleMu.Unlock()
		return nil
	}
	m.closed = true
	schedule := m.schedule
	m.schedule = nil
	m.scheduleMu.Unlock()

	if schedule != nil {
		schedule.Stop()
	}
	return m.client.Close()
}
