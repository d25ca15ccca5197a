package docker

import (
	"fmt"
	"strings"
	"time"

	"github.com/docker/docker/api/types"

	"github.com/YooLeon/portainer-monitor/internal/portainer"
)

// ContainerState 表示容器生命周期状态
type ContainerState int

const (
	StateCreated ContainerState = iota + 1
	StateRestarting
	StateRunning
	StatePaused
	StateExited
	StateDead
	StateRemoving
)

// ContainerStates 全部合法状态，按 Docker 定义顺序
var ContainerStates = []ContainerState{
	StateCreated,
	StateRestarting,
	StateRunning,
	StatePaused,
	StateExited,
	StateDead,
	StateRemoving,
}

// ParseContainerState 解析状态字符串，未知值返回错误
func ParseContainerState(s string) (ContainerState, error) {
	switch s {
	case "created":
		return StateCreated, nil
	case "restarting":
		return StateRestarting, nil
	case "running":
		return StateRunning, nil
	case "paused":
		return StatePaused, nil
	case "exited":
		return StateExited, nil
	case "dead":
		return StateDead, nil
	case "removing":
		return StateRemoving, nil
	}
	return 0, fmt.Errorf("unknown container state %q: %w", s, portainer.ErrUnexpectedDecode)
}

func (s ContainerState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRestarting:
		return "restarting"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateExited:
		return "exited"
	case StateDead:
		return "dead"
	case StateRemoving:
		return "removing"
	}
	return fmt.Sprintf("ContainerState(%d)", int(s))
}

// IsRunning 运行中或重启中的容器视为开启
func (s ContainerState) IsRunning() bool {
	switch s {
	case StateRunning, StateRestarting:
		return true
	case StateCreated, StatePaused, StateExited, StateDead, StateRemoving:
		return false
	}
	return false
}

func (s ContainerState) MarshalText() ([]byte, error) {
	if s < StateCreated || s > StateRemoving {
		return nil, fmt.Errorf("invalid container state %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *ContainerState) UnmarshalText(text []byte) error {
	state, err := ParseContainerState(string(text))
	if err != nil {
		return err
	}
	*s = state
	return nil
}

// Container 是快照中单个容器的只读视图
type Container struct {
	ID      string         `json:"id"`
	Names   []string       `json:"names"`
	State   ContainerState `json:"state"`
	Created int64          `json:"created"`
	Image   string         `json:"image"`
}

// NewContainer 从 Docker 容器列表条目构建视图
func NewContainer(raw types.Container) (Container, error) {
	state, err := ParseContainerState(raw.State)
	if err != nil {
		return Container{}, fmt.Errorf("container %s: %w", raw.ID, err)
	}

	names := make([]string, len(raw.Names))
	copy(names, raw.Names)

	return Container{
		ID:      raw.ID,
		Names:   names,
		State:   state,
		Created: raw.Created,
		Image:   raw.Image,
	}, nil
}

// Name 返回第 i 个原始名称
func (c Container) Name(i int) (string, bool) {
	if i < 0 || i >= len(c.Names) {
		return "", false
	}
	return c.Names[i], true
}

// DisplayName 返回去掉开头 "/" 的第一个名称，没有名称时使用短 ID
func (c Container) DisplayName() string {
	name, ok := c.Name(0)
	if !ok || name == "" {
		return shortID(c.ID)
	}
	return strings.TrimPrefix(name, "/")
}

// CreatedAt 返回创建时间
func (c Container) CreatedAt() time.Time {
	return time.Unix(c.Created, 0)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// Snapshot 是协调器持有的最新一次成功拉取结果
type Snapshot struct {
	Environment portainer.Environment
	Containers  []Container
	FetchedAt   time.Time
}

// NewSnapshot 解码环境文档，任一容器解析失败则整体失败
func NewSnapshot(ep *portainer.Endpoint, fetchedAt time.Time) (*Snapshot, error) {
	raw, err := ep.Containers()
	if err != nil {
		return nil, err
	}

	containers := make([]Container, 0, len(raw))
	for _, r := range raw {
		c, err := NewContainer(r)
		if err != nil {
			return nil, err
		}
		containers = append(containers, c)
	}

	return &Snapshot{
		Environment: ep.Environment(),
		Containers:  containers,
		FetchedAt:   fetchedAt,
	}, nil
}

// Find 按 ID 查找容器
func (s *Snapshot) Find(id string) (Container, bool) {
	for _, c := range s.Containers {
		if c.ID == id {
			return c, true
		}
	}
	return Container{}, false
}
