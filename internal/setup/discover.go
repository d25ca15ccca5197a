package setup

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/YooLeon/portainer-monitor/internal/portainer"
)

// Discovery 是连接验证的结果
type Discovery struct {
	Environments []portainer.Environment
	Version      string
	InstanceID   string
}

// Find 按 ID 查找环境
func (d *Discovery) Find(id int) (portainer.Environment, bool) {
	for _, env := range d.Environments {
		if env.ID == id {
			return env, true
		}
	}
	return portainer.Environment{}, false
}

// Discover 验证连接参数，加载可用环境并获取实例 ID
func Discover(ctx context.Context, opts portainer.Options, logger *zap.Logger) (*Discovery, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	client := portainer.NewClient(opts, logger)
	defer client.Close()

	environments, err := client.Environments(ctx)
	if err != nil {
		return nil, err
	}
	// 凭证有效但看不到任何环境时同样视为认证无效
	if len(environments) == 0 {
		return nil, fmt.Errorf("no environments visible to this API key: %w", portainer.ErrInvalidAuth)
	}

	status, err := client.SystemStatus(ctx)
	if err != nil {
		return nil, err
	}

	logger.Info("Discovered Portainer instance",
		zap.String("instance_id", status.InstanceID),
		zap.String("version", status.Version),
		zap.Int("environments", len(environments)),
	)

	return &Discovery{
		Environments: environments,
		Version:      status.Version,
		InstanceID:   status.InstanceID,
	}, nil
}

// ErrorKey 将连接错误归类为简短的错误代码
func ErrorKey(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, portainer.ErrCertificate):
		return "invalid_ssl"
	case portainer.IsTimeout(err):
		return "timeout"
	case errors.Is(err, portainer.ErrInvalidAuth):
		return "invalid_auth"
	case errors.Is(err, portainer.ErrCannotConnect):
		return "cannot_connect"
	default:
		return "unknown"
	}
}
