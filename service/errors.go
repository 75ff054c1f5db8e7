package service

import "fmt"

// 错误分类：配置缺失 / 参数校验 / 网络传输 / 提供方返回非 2xx
// 调用方用 errors.As 区分后给出不同的用户提示（配置类不可重试，传输类可重试）

// ConfigError 凭证或必要配置缺失，用户修配置前重试无意义
type ConfigError struct {
	Field string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("缺少配置项: %s", e.Field)
}

// ValidationError 请求缺少必填字段，内联提示给用户
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("参数校验失败 %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("参数校验失败: %s", e.Field)
}

// TransportError 网络/超时类失败，可重试
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s 请求失败: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProviderError 提供方返回非 2xx，带原始响应体
type ProviderError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s 返回 %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Hint 按状态码给出可操作的用户提示（见 HeyGen 提交的典型失败模式）
func (e *ProviderError) Hint() string {
	switch {
	case e.StatusCode == 400:
		return "请求被拒绝，请检查参考图 key 和音频 URL 是否有效"
	case e.StatusCode == 401 || e.StatusCode == 403:
		return "鉴权失败，请检查 API Key 配置"
	case e.StatusCode >= 500:
		return "提供方服务异常，可能是服务端故障或无法拉取音频文件，请稍后重试"
	}
	return "请求失败，请稍后重试"
}

// ParseError 上游模型输出无法按任何已知形状解析
type ParseError struct {
	What string
	Raw  string
}

func (e *ParseError) Error() string {
	raw := e.Raw
	if len(raw) > 200 {
		raw = raw[:200] + "..."
	}
	return fmt.Sprintf("解析 %s 失败: %s", e.What, raw)
}
