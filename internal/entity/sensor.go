package entity

import (
	"github.com/YooLeon/portainer-monitor/internal/docker"
)

// StatusSensor 以枚举形式暴露容器生命周期状态
type StatusSensor struct {
	base
}

// NewStatusSensor 创建容器状态传感器
func NewStatusSensor(coordinator Coordinator, container docker.Container, opts Options) *StatusSensor {
	return &StatusSensor{
		base: newBase(coordinator, container, opts, "sensor", "status", "status", "mdi:train-car-container"),
	}
}

// NewStatusSensors 为每个容器创建状态传感器
func NewStatusSensors(coordinator Coordinator, containers []docker.Container, opts Options) []*StatusSensor {
	sensors := make([]*StatusSensor, 0, len(containers))
	for _, c := range containers {
		sensors = append(sensors, NewStatusSensor(coordinator, c, opts))
	}
	return sensors
}

// Value 返回当前状态，容器不存在时返回 false
func (s *StatusSensor) Value() (docker.ContainerState, bool) {
	c, found := s.current()
	if !found {
		return 0, false
	}
	return c.State, true
}

// Options 返回全部可能的状态值
func (s *StatusSensor) Options() []string {
	options := make([]string, 0, len(docker.ContainerStates))
	for _, state := range docker.ContainerStates {
		options = append(options, state.String())
	}
	return options
}

// State 返回传感器状态
func (s *StatusSensor) State() State {
	state := s.state()
	state.Options = s.Options()
	if value, found := s.Value(); found {
		state.Value = value.String()
		state.Available = true
	}
	return state
}

// Attach 订阅协调器更新并写入初始状态
func (s *StatusSensor) Attach() {
	s.attach(s.State)
}
