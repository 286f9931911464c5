package worker

import "net/http"

// Source 标记响应来自哪里，代理层会写入 X-Kuryecini-Cache 头。
type Source string

const (
	SourceNetwork     Source = "network"
	SourceCache       Source = "cache"
	SourceOffline     Source = "offline"
	SourcePassthrough Source = "passthrough"
)

// Response 是 worker 产出的完整响应，正文已读入内存，可安全复制给缓存与调用方。
type Response struct {
	Status int
	Header http.Header
	Body   []byte
	Source Source

	// 以下字段由 Fetch 填写，仅用于日志与响应头。
	CacheName string
	Class     Class
	Strategy  string
}

// OK 对应 fetch 的 response.ok：2xx 状态。
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status < 300
}
