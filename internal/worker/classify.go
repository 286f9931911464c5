package worker

import (
	"context"
	"net/http"
	"path"
	"strings"
)

// Class 是请求的资源分类，决定使用哪种缓存策略。
type Class string

const (
	ClassAPI        Class = "api"
	ClassStatic     Class = "static"
	ClassNavigation Class = "navigation"
	ClassOther      Class = "other"
)

type strategyFunc func(ctx context.Context, req *http.Request, class Class) (*Response, error)

// rule 是一条 (predicate, strategy) 对，按顺序匹配，第一条命中即生效。
type rule struct {
	class    Class
	strategy string
	match    func(req *http.Request) bool
	handle   strategyFunc
}

var staticExtensions = map[string]struct{}{
	".css": {},
	".js":  {},
	".png": {},
	".jpg": {},
	".svg": {},
}

func (w *Worker) defaultRules() []rule {
	return []rule{
		{
			class:    ClassAPI,
			strategy: "network-first",
			match:    func(req *http.Request) bool { return w.isAPIRequest(req.URL.Path) },
			handle:   w.networkFirst,
		},
		{
			class:    ClassStatic,
			strategy: "cache-first",
			match:    func(req *http.Request) bool { return isStaticAsset(req.URL.Path) },
			handle:   w.cacheFirst,
		},
		{
			class:    ClassNavigation,
			strategy: "navigation",
			match:    isNavigationRequest,
			handle:   w.navigate,
		},
		{
			class:    ClassOther,
			strategy: "network-first",
			match:    func(*http.Request) bool { return true },
			handle:   w.networkFirst,
		},
	}
}

// Classify 返回请求命中的第一条规则的分类。
func (w *Worker) Classify(req *http.Request) Class {
	return w.match(req).class
}

func (w *Worker) match(req *http.Request) rule {
	for _, r := range w.rules {
		if r.match(req) {
			return r
		}
	}
	return w.rules[len(w.rules)-1]
}

// interceptable 只拦截 http(s) 的 GET 请求，其余原样交给网络。
func interceptable(req *http.Request) bool {
	if req == nil || req.URL == nil || req.Method != http.MethodGet {
		return false
	}
	scheme := strings.ToLower(req.URL.Scheme)
	return scheme == "http" || scheme == "https"
}

func (w *Worker) isAPIRequest(p string) bool {
	if strings.HasPrefix(p, "/api/") {
		return true
	}
	for _, re := range w.apiPatterns {
		if re.MatchString(p) {
			return true
		}
	}
	return false
}

func isStaticAsset(p string) bool {
	if strings.HasPrefix(p, "/static/") || strings.HasPrefix(p, "/icons/") {
		return true
	}
	_, ok := staticExtensions[strings.ToLower(path.Ext(p))]
	return ok
}

// isNavigationRequest 以 Sec-Fetch-Mode 为准；老浏览器不带该头时退回 Accept: text/html。
func isNavigationRequest(req *http.Request) bool {
	if mode := req.Header.Get("Sec-Fetch-Mode"); mode != "" {
		return strings.EqualFold(mode, "navigate")
	}
	return strings.Contains(req.Header.Get("Accept"), "text/html")
}
