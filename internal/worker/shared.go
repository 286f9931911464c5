package worker

import (
	"net/http"
	"strings"
)

// 缓存仓库由所有客户端共享：带凭据的请求、标记 private/no-store 的响应
// 以及 Vary: * 的响应都只回给发起方，不写入仓库。
func storable(req *http.Request, resp *Response) bool {
	if !resp.OK() {
		return false
	}
	if req != nil && (carriesCredentials(req.Header) || hasDirective(req.Header, "no-store")) {
		return false
	}
	if hasDirective(resp.Header, "no-store", "private") {
		return false
	}
	for _, v := range resp.Header.Values("Vary") {
		if strings.TrimSpace(v) == "*" {
			return false
		}
	}
	return true
}

func carriesCredentials(h http.Header) bool {
	return h.Get("Authorization") != "" || h.Get("Cookie") != ""
}

// hasDirective 检查 Cache-Control 中是否出现任一指令，private="..." 这类带参数的形式同样算命中。
func hasDirective(h http.Header, directives ...string) bool {
	if h == nil {
		return false
	}
	for _, value := range h.Values("Cache-Control") {
		for _, token := range strings.Split(value, ",") {
			name := strings.ToLower(strings.TrimSpace(token))
			if i := strings.IndexByte(name, '='); i >= 0 {
				name = strings.TrimSpace(name[:i])
			}
			for _, d := range directives {
				if name == d {
					return true
				}
			}
		}
	}
	return false
}

// sharedHeader 返回写入仓库用的响应头副本，去掉只属于发起方的 Set-Cookie。
func sharedHeader(h http.Header) http.Header {
	out := h.Clone()
	if out == nil {
		return http.Header{}
	}
	out.Del("Set-Cookie")
	out.Del("Set-Cookie2")
	return out
}
