package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Connection 表示一个已配置的 Portainer 集成
// 由 portainer-setup 生成，运行期间不会修改
type Connection struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	APIKey     string `yaml:"api_key"`
	SSL        bool   `yaml:"ssl"`
	VerifySSL  bool   `yaml:"verify_ssl"`
	EndpointID int    `yaml:"endpoint_id"`
	InstanceID string `yaml:"instance_id"`
}

// DefaultConnection 返回带默认值的连接配置
func DefaultConnection() Connection {
	return Connection{
		Port:      9443,
		SSL:       true,
		VerifySSL: true,
	}
}

// LoadConnection 加载连接配置文件
func LoadConnection(path string) (*Connection, error) {
	// 检查文件是否存在
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("connection file not found: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading connection file: %w", err)
	}

	// 未出现的字段保留默认值
	conn := DefaultConnection()
	if err := yaml.Unmarshal(data, &conn); err != nil {
		return nil, fmt.Errorf("error parsing connection file: %w", err)
	}

	if err := conn.Validate(); err != nil {
		return nil, fmt.Errorf("invalid connection configuration: %w", err)
	}

	return &conn, nil
}

// Save 写入连接配置文件（包含 API Key，权限 0600）
func (c *Connection) Save(path string) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid connection configuration: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("error encoding connection file: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("error writing connection file: %w", err)
	}
	return nil
}

// Validate 验证配置是否有效
func (c *Connection) Validate() error {
	if c.Host == "" {
		return errors.New("host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.APIKey == "" {
		return errors.New("api_key is required")
	}
	if c.EndpointID <= 0 {
		return fmt.Errorf("endpoint_id %d is invalid", c.EndpointID)
	}
	if c.InstanceID == "" {
		return errors.New("instance_id is required")
	}
	return nil
}

// UniqueID 返回集成的唯一标识
func (c *Connection) UniqueID() string {
	return fmt.Sprintf("%s-e%d", c.InstanceID, c.EndpointID)
}

// Title 返回集成的显示名称
func (c *Connection) Title() string {
	return fmt.Sprintf("Portainer (%s:%d %d)", c.Host, c.Port, c.EndpointID)
}
