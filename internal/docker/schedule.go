package docker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Schedule 是定时刷新任务的句柄
type Schedule struct {
	cron     *cron.Cron
	entry    cron.EntryID
	stopOnce sync.Once
}

// Stop 取消定时任务，等待正在执行的刷新结束
func (s *Schedule) Stop() {
	s.stopOnce.Do(func() {
		<-s.cron.Stop().Done()
	})
}

// Next 返回下一次刷新时间
func (s *Schedule) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

// Start 启动定时刷新，间隔小于 1 秒时按 1 秒执行
// 上一次刷新未完成时跳过本次触发
func (m *Monitor) Start(ctx context.Context) (*Schedule, error) {
	m.scheduleMu.Lock()
	defer m.scheduleMu.Unlock()

	if m.closed {
		return nil, errors.New("monitor closed")
	}
	if m.schedule != nil {
		return nil, errors.New("schedule already started")
	}

	logger := cronLogger{m.logger.Named("schedule").Sugar()}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	entry, err := c.AddFunc("@every "+m.interval.String(), func() {
		if ctx.Err() != nil {
			return
		}
		// 失败已在 refresh 中记录，保留旧快照等待下一次
		_ = m.Refresh(ctx)
	})
	if err != nil {
		return nil, err
	}

	c.Start()
	m.logger.Info("Started periodic refresh",
		zap.Int("endpoint", m.endpointID),
		zap.Duration("interval", m.interval),
	)

	m.schedule = &Schedule{cron: c, entry: entry}
	return m.schedule, nil
}

// cronLogger 将 cron 日志转发到 zap
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
