package entity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/YooLeon/portainer-monitor/internal/docker"
)

// Domain 用于构造唯一 ID
const Domain = "portainer"

const (
	StateUnknown = "unknown"
	StateOn      = "on"
	StateOff     = "off"
)

// Coordinator 是实体依赖的轮询协调器
type Coordinator interface {
	Container(id string) (docker.Container, bool)
	StartContainer(ctx context.Context, id string) error
	StopContainer(ctx context.Context, id string) error
	Refresh(ctx context.Context) error
	AddListener(fn func()) func()
}

// StateWriter 接收实体状态
type StateWriter interface {
	WriteState(State)
}

// Device 表示实体所属的容器设备
type Device struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Image     string    `json:"image,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// State 是实体对外暴露的状态
type State struct {
	UniqueID    string   `json:"unique_id"`
	Platform    string   `json:"platform"`
	Name        string   `json:"name"`
	ContainerID string   `json:"container_id"`
	Value       string   `json:"state"`
	Available   bool     `json:"available"`
	Options     []string `json:"options,omitempty"`
	Icon        string   `json:"icon,omitempty"`
	Device      Device   `json:"device"`
}

// Entity 是所有实体的公共接口
type Entity interface {
	UniqueID() string
	ContainerID() string
	State() State
	Attach()
	Detach()
}

// Options 实体构造参数
type Options struct {
	Writer StateWriter
	Logger *zap.Logger
	// Grace 开关动作后等待多久再强制刷新，为 0 时使用 DefaultGrace
	Grace time.Duration
}

func (o Options) withDefaults() Options {
	if o.Writer == nil {
		o.Writer = discardWriter{}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

type discardWriter struct{}

func (discardWriter) WriteState(State) {}

// base 绑定一个容器 ID，并在每次协调器更新时重新解析容器
type base struct {
	coordinator Coordinator
	writer      StateWriter
	logger      *zap.Logger
	containerID string
	suffix      string
	platform    string
	name        string
	icon        string

	mu        sync.RWMutex
	container docker.Container
	present   bool
	device    Device

	attachMu sync.Mutex
	remove   func()
}

func newBase(coordinator Coordinator, container docker.Container, opts Options, platform, suffix, name, icon string) base {
	opts = opts.withDefaults()
	return base{
		coordinator: coordinator,
		writer:      opts.Writer,
		logger:      opts.Logger.With(zap.String("entity", fmt.Sprintf("%s-%s-%s", Domain, container.ID, suffix))),
		containerID: container.ID,
		suffix:      suffix,
		platform:    platform,
		name:        name,
		icon:        icon,
		container:   container,
		present:     true,
		device:      deviceOf(container),
	}
}

func deviceOf(c docker.Container) Device {
	return Device{
		ID:        c.ID,
		Name:      c.DisplayName(),
		Image:     c.Image,
		CreatedAt: c.CreatedAt(),
	}
}

// UniqueID 返回实体唯一 ID
func (b *base) UniqueID() string {
	return fmt.Sprintf("%s-%s-%s", Domain, b.containerID, b.suffix)
}

// ContainerID 返回绑定的容器 ID
func (b *base) ContainerID() string {
	return b.containerID
}

func (b *base) current() (docker.Container, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.container, b.present
}

func (b *base) displayName() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.device.Name
}

// state 返回不含取值的基础状态
func (b *base) state() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return State{
		UniqueID:    b.UniqueID(),
		Platform:    b.platform,
		Name:        b.name,
		ContainerID: b.containerID,
		Value:       StateUnknown,
		Icon:        b.icon,
		Device:      b.device,
	}
}

func (b *base) handleUpdate() {
	c, found := b.coordinator.Container(b.containerID)

	b.mu.Lock()
	b.container, b.present = c, found
	if found {
		b.device = deviceOf(c)
	}
	b.mu.Unlock()

	if !found {
		b.logger.Debug("Container missing from snapshot", zap.String("container", b.containerID))
		return
	}
	b.logger.Debug("Updating device", zap.String("container", b.containerID), zap.String("name", c.DisplayName()))
}

func (b *base) attach(render func() State) {
	b.attachMu.Lock()
	defer b.attachMu.Unlock()

	if b.remove != nil {
		return
	}
	b.remove = b.coordinator.AddListener(func() {
		b.handleUpdate()
		b.writer.WriteState(render())
	})
	b.writer.WriteState(render())
}

// Detach 取消订阅协调器更新
func (b *base) Detach() {
	b.attachMu.Lock()
	defer b.attachMu.Unlock()

	if b.remove != nil {
		b.remove()
		b.remove = nil
	}
}
