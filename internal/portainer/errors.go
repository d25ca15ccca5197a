package portainer

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAuth 认证无效（Portainer 对无效 API Key 返回 404）
	ErrInvalidAuth = errors.New("invalid authentication")
	// ErrCertificate 证书校验失败
	ErrCertificate = errors.New("certificate verification failed")
	// ErrCannotConnect 无法连接（拒绝、重置、DNS、超时、非预期状态码）
	ErrCannotConnect = errors.New("cannot connect")
	// ErrUnexpectedDecode 响应内容无法解析
	ErrUnexpectedDecode = errors.New("unexpected payload")
	// ErrEndpointNotFound 指定的环境不存在
	ErrEndpointNotFound = errors.New("endpoint not found")
)

// RequestError 描述一次失败的请求
type RequestError struct {
	Method     string
	URL        string
	StatusCode int
	Kind       error
	Err        error
	timeout    bool
}

func (e *RequestError) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Kind)
	if e.timeout {
		msg += " (timeout)"
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap 同时暴露错误类别和底层原因
func (e *RequestError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Timeout 请求是否因超时失败
func (e *RequestError) Timeout() bool {
	return e.timeout
}

// IsTimeout 判断错误链中是否存在超时的请求错误
func IsTimeout(err error) bool {
	var reqErr *RequestError
	return errors.As(err, &reqErr) && reqErr.Timeout()
}
