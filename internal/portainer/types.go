package portainer

import (
	"fmt"

	"github.com/docker/docker/api/types"
)

// Environment 表示 Portainer 管理的一个环境（endpoint）
type Environment struct {
	ID   int    `json:"id"`
	URL  string `json:"url"`
	Name string `json:"name"`
}

func (e Environment) String() string {
	return fmt.Sprintf("%s (%d)", e.Name, e.ID)
}

// Endpoint 是 /api/endpoints 返回的单个环境文档
type Endpoint struct {
	ID        int        `json:"Id"`
	URL       string     `json:"URL"`
	Name      string     `json:"Name"`
	Snapshots []Snapshot `json:"Snapshots"`
}

// Environment 返回环境标识
func (e *Endpoint) Environment() Environment {
	return Environment{ID: e.ID, URL: e.URL, Name: e.Name}
}

// Snapshot 是 Portainer 缓存的 Docker 快照
type Snapshot struct {
	Time              int64          `json:"Time"`
	DockerVersion     string         `json:"DockerVersion"`
	RunningContainers int            `json:"RunningContainerCount"`
	StoppedContainers int            `json:"StoppedContainerCount"`
	DockerSnapshotRaw DockerSnapshot `json:"DockerSnapshotRaw"`
}

// DockerSnapshot 原始 Docker 快照，容器列表与 Docker API 的 /containers/json 格式一致
type DockerSnapshot struct {
	Containers []types.Container `json:"Containers"`
}

// Containers 返回最新快照中的原始容器列表
func (e *Endpoint) Containers() ([]types.Container, error) {
	if len(e.Snapshots) == 0 {
		return nil, fmt.Errorf("endpoint %d has no snapshot: %w", e.ID, ErrUnexpectedDecode)
	}
	return e.Snapshots[0].DockerSnapshotRaw.Containers, nil
}

// SystemStatus 是 /api/system/status 的响应
type SystemStatus struct {
	Version    string `json:"Version"`
	InstanceID string `json:"InstanceID"`
}
