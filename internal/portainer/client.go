package portainer

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout 每个请求的固定超时时间
const DefaultTimeout = 10 * time.Second

const apiKeyHeader = "X-API-Key"

var errClientClosed = errors.New("client closed")

// Options 客户端连接参数
type Options struct {
	Host       string
	Port       int
	APIKey     string
	SSL        bool
	VerifySSL  bool
	EndpointID int
	Timeout    time.Duration
}

// Client 是 Portainer REST API 的客户端
// 底层连接在第一次请求时建立，使用完毕后必须调用 Close 释放
type Client struct {
	opts   Options
	base   *url.URL
	logger *zap.Logger

	mu     sync.Mutex
	http   *http.Client
	closed bool
}

// NewClient 创建新的 Portainer 客户端
func NewClient(opts Options, logger *zap.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	scheme := "http"
	if opts.SSL {
		scheme = "https"
	}

	return &Client{
		opts: opts,
		base: &url.URL{
			Scheme: scheme,
			Host:   net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port)),
		},
		logger: logger,
	}
}

func (c *Client) session() (*http.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, errClientClosed
	}
	if c.http == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: !c.opts.VerifySSL,
		}
		c.http = &http.Client{
			Transport: transport,
			Timeout:   c.opts.Timeout,
		}
	}
	return c.http, nil
}

// Close 释放底层连接
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.http != nil {
		c.http.CloseIdleConnections()
		c.http = nil
	}
	c.closed = true
	return nil
}

// ListEndpoints 返回当前凭证可见的全部环境文档（含快照）
func (c *Client) ListEndpoints(ctx context.Context) ([]Endpoint, error) {
	c.logger.Debug("Loading endpoints")

	var endpoints []Endpoint
	if err := c.get(ctx, "/api/endpoints", true, &endpoints); err != nil {
		return nil, err
	}
	return endpoints, nil
}

// Environments 返回全部环境的标识信息
func (c *Client) Environments(ctx context.Context) ([]Environment, error) {
	endpoints, err := c.ListEndpoints(ctx)
	if err != nil {
		return nil, err
	}

	environments := make([]Environment, 0, len(endpoints))
	for i := range endpoints {
		environments = append(environments, endpoints[i].Environment())
	}
	return environments, nil
}

// EndpointSnapshot 获取指定环境的完整文档
func (c *Client) EndpointSnapshot(ctx context.Context, endpointID int) (*Endpoint, error) {
	endpoints, err := c.ListEndpoints(ctx)
	if err != nil {
		return nil, err
	}

	for i := range endpoints {
		if endpoints[i].ID == endpointID {
			return &endpoints[i], nil
		}
	}
	return nil, fmt.Errorf("endpoint %d: %w", endpointID, ErrEndpointNotFound)
}

// SystemStatus 获取服务器版本和实例 ID（无需认证）
func (c *Client) SystemStatus(ctx context.Context) (*SystemStatus, error) {
	c.logger.Debug("Fetching system status")

	status := &SystemStatus{}
	if err := c.get(ctx, "/api/system/status", false, status); err != nil {
		return nil, err
	}
	return status, nil
}

// StartContainer 启动容器
func (c *Client) StartContainer(ctx context.Context, endpointID int, containerID string) error {
	c.logger.Debug("Issuing start request", zap.Int("endpoint", endpointID), zap.String("container", containerID))
	return c.post(ctx, containerPath(endpointID, containerID, "start"))
}

// StopContainer 停止容器
func (c *Client) StopContainer(ctx context.Context, endpointID int, containerID string) error {
	c.logger.Debug("Issuing stop request", zap.Int("endpoint", endpointID), zap.String("container", containerID))
	return c.post(ctx, containerPath(endpointID, containerID, "stop"))
}

func containerPath(endpointID int, containerID, action string) string {
	return fmt.Sprintf("/api/endpoints/%d/docker/containers/%s/%s", endpointID, url.PathEscape(containerID), action)
}

func (c *Client) get(ctx context.Context, path string, auth bool, out any) error {
	resp, err := c.do(ctx, http.MethodGet, path, auth)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			// 读取响应体期间的超时或连接中断仍属于传输错误
			if isTransportError(err) {
				return c.transportError(http.MethodGet, path, err)
			}
			return c.fail(http.MethodGet, path, resp.StatusCode, ErrUnexpectedDecode, err)
		}
		return nil
	default:
		return c.statusError(http.MethodGet, path, resp.StatusCode)
	}
}

func (c *Client) post(ctx context.Context, path string) error {
	resp, err := c.do(ctx, http.MethodPost, path, true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotModified:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	default:
		return c.statusError(http.MethodPost, path, resp.StatusCode)
	}
}

func (c *Client) do(ctx context.Context, method, path string, auth bool) (*http.Response, error) {
	session, err := c.session()
	if err != nil {
		return nil, c.fail(method, path, 0, ErrCannotConnect, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, nil)
	if err != nil {
		return nil, c.fail(method, path, 0, ErrCannotConnect, err)
	}
	if auth {
		req.Header.Set(apiKeyHeader, c.opts.APIKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := session.Do(req)
	if err != nil {
		return nil, c.transportError(method, path, err)
	}
	return resp, nil
}

func (c *Client) statusError(method, path string, status int) error {
	if status == http.StatusNotFound {
		return c.fail(method, path, status, ErrInvalidAuth, nil)
	}
	return c.fail(method, path, status, ErrCannotConnect, nil)
}

func (c *Client) transportError(method, path string, err error) error {
	if isCertificateError(err) {
		return c.fail(method, path, 0, ErrCertificate, err)
	}
	if isTimeoutError(err) {
		reqErr := c.newError(method, path, 0, ErrCannotConnect, err)
		reqErr.timeout = true
		c.logger.Error("Request timed out", zap.String("method", method), zap.String("url", reqErr.URL))
		return reqErr
	}
	return c.fail(method, path, 0, ErrCannotConnect, err)
}

func (c *Client) fail(method, path string, status int, kind, cause error) error {
	reqErr := c.newError(method, path, status, kind, cause)
	c.logger.Error("Request failed",
		zap.String("method", method),
		zap.String("url", reqErr.URL),
		zap.Int("status", status),
		zap.NamedError("kind", kind),
		zap.Error(cause),
	)
	return reqErr
}

func (c *Client) newError(method, path string, status int, kind, cause error) *RequestError {
	return &RequestError{
		Method:     method,
		URL:        c.base.String() + path,
		StatusCode: status,
		Kind:       kind,
		Err:        cause,
	}
}

func isCertificateError(err error) bool {
	var verifyErr *tls.CertificateVerificationError
	var unknownAuthority x509.UnknownAuthorityError
	var hostname x509.HostnameError
	var invalid x509.CertificateInvalidError
	return errors.As(err, &verifyErr) ||
		errors.As(err, &unknownAuthority) ||
		errors.As(err, &hostname) ||
		errors.As(err, &invalid)
}

func isTransportError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func isTimeoutError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
