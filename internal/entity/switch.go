package entity

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/YooLeon/portainer-monitor/internal/docker"
)

// DefaultGrace 开关动作后到强制刷新之间的等待时间，覆盖容器启停的过渡期
const DefaultGrace = 5 * time.Second

// RunningSwitch 将容器运行状态暴露为开关
type RunningSwitch struct {
	base
	grace time.Duration
}

// NewRunningSwitch 创建容器运行开关
func NewRunningSwitch(coordinator Coordinator, container docker.Container, opts Options) *RunningSwitch {
	grace := opts.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &RunningSwitch{
		base:  newBase(coordinator, container, opts, "switch", "running-switch", "start", "mdi:toggle-switch-variant-off"),
		grace: grace,
	}
}

// NewRunningSwitches 为每个容器创建运行开关
func NewRunningSwitches(coordinator Coordinator, containers []docker.Container, opts Options) []*RunningSwitch {
	switches := make([]*RunningSwitch, 0, len(containers))
	for _, c := range containers {
		switches = append(switches, NewRunningSwitch(coordinator, c, opts))
	}
	return switches
}

// IsOn 返回开关状态，容器不存在时第二个返回值为 false
func (s *RunningSwitch) IsOn() (bool, bool) {
	c, found := s.current()
	if !found {
		return false, false
	}
	return c.State.IsRunning(), true
}

// State 返回开关状态
func (s *RunningSwitch) State() State {
	state := s.state()
	if on, found := s.IsOn(); found {
		state.Available = true
		state.Value = StateOff
		if on {
			state.Value = StateOn
		}
	}
	return state
}

// Attach 订阅协调器更新并写入初始状态
func (s *RunningSwitch) Attach() {
	s.attach(s.State)
}

// TurnOn 启动容器，等待过渡期后强制刷新
func (s *RunningSwitch) TurnOn(ctx context.Context) error {
	s.logger.Info("Turning on container", zap.String("name", s.displayName()))
	return s.toggle(ctx, s.coordinator.StartContainer)
}

// TurnOff 停止容器，等待过渡期后强制刷新
func (s *RunningSwitch) TurnOff(ctx context.Context) error {
	s.logger.Info("Turning off container", zap.String("name", s.displayName()))
	return s.toggle(ctx, s.coordinator.StopContainer)
}

func (s *RunningSwitch) toggle(ctx context.Context, action func(context.Context, string) error) error {
	if err := action(ctx, s.containerID); err != nil {
		return err
	}

	timer := time.NewTimer(s.grace)
	defer timer.Stop()

	// 动作已成功，取消只跳过强制刷新，由下一次定时刷新更新状态
	select {
	case <-ctx.Done():
		s.logger.Info("Skipping refresh after container action",
			zap.String("name", s.displayName()),
			zap.Error(ctx.Err()),
		)
		return nil
	case <-timer.C:
	}

	if err := s.coordinator.Refresh(ctx); err != nil {
		s.logger.Warn("Refresh after container action failed", zap.Error(err))
	}
	return nil
}
