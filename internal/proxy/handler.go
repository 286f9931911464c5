package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/kuryecini/kuryecini-edge/internal/logging"
	"github.com/kuryecini/kuryecini-edge/internal/server"
	"github.com/kuryecini/kuryecini-edge/internal/worker"
)

// CacheHeader 标记响应来源：network、cache、offline 或 passthrough。
const CacheHeader = "X-Kuryecini-Cache"

// Dispatcher 是 worker 注册表的最小抽象，便于测试替换。
type Dispatcher interface {
	Fetch(ctx context.Context, req *http.Request) (*worker.Response, error)
}

// Handler 把 Fiber 请求转换为上游 *http.Request 交给 worker，再把结果写回客户端。
type Handler struct {
	dispatcher Dispatcher
	origin     *url.URL
	logger     *logrus.Logger
}

// NewHandler constructs a proxy handler for the given upstream origin.
func NewHandler(dispatcher Dispatcher, origin *url.URL, logger *logrus.Logger) (*Handler, error) {
	if dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if origin == nil {
		return nil, errors.New("origin is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Handler{dispatcher: dispatcher, origin: origin, logger: logger}, nil
}

// Handle 实现 server.ProxyHandler。worker 返回错误时响应 502，并输出结构化日志。
func (h *Handler) Handle(c fiber.Ctx) error {
	started := time.Now()
	requestID := server.RequestID(c)

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	upstreamURL := resolveUpstreamURL(h.origin, c)
	req, err := h.buildUpstreamRequest(ctx, c, upstreamURL, requestID)
	if err != nil {
		h.logResult(nil, upstreamURL.String(), requestID, started, err)
		return h.writeError(c, fiber.StatusBadRequest, "invalid_request")
	}

	resp, err := h.dispatcher.Fetch(ctx, req)
	if err != nil {
		h.logResult(nil, upstreamURL.String(), requestID, started, err)
		return h.writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}

	copyResponseHeaders(c, resp.Header)
	c.Set(CacheHeader, string(resp.Source))
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	c.Status(resp.Status)
	h.logResult(resp, upstreamURL.String(), requestID, started, nil)

	if c.Method() == http.MethodHead {
		c.Response().Header.SetContentLength(len(resp.Body))
		c.Response().SkipBody = true
		return nil
	}
	return c.Send(resp.Body)
}

func (h *Handler) buildUpstreamRequest(ctx context.Context, c fiber.Ctx, upstream *url.URL, requestID string) (*http.Request, error) {
	var body []byte
	if raw := c.Body(); len(raw) > 0 {
		body = append([]byte(nil), raw...)
	}

	req, err := http.NewRequestWithContext(ctx, c.Method(), upstream.String(), bytesReader(body))
	if err != nil {
		return nil, err
	}

	server.CopyHeaders(req.Header, fiberHeadersAsHTTP(c))
	// worker 会缓存完整正文，上游统一返回未压缩内容
	req.Header.Del("Accept-Encoding")
	req.Header.Del("Content-Length")
	req.Host = upstream.Host
	req.Header.Set("Host", upstream.Host)
	req.Header.Set("X-Forwarded-Host", c.Hostname())
	if ip := c.IP(); ip != "" {
		if prior := req.Header.Get("X-Forwarded-For"); prior != "" {
			req.Header.Set("X-Forwarded-For", prior+", "+ip)
		} else {
			req.Header.Set("X-Forwarded-For", ip)
		}
	}
	req.Header.Set("X-Forwarded-Proto", c.Protocol())
	if port := c.Port(); port != "" {
		req.Header.Set("X-Forwarded-Port", port)
	}
	if requestID != "" {
		req.Header.Set("X-Request-ID", requestID)
	}
	return req, nil
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(resp *worker.Response, upstream, requestID string, started time.Time, err error) {
	var fields logrus.Fields
	status := 0
	if resp != nil {
		fields = logging.RequestFields(resp.CacheName, string(resp.Class), resp.Strategy, string(resp.Source), resp.Source == worker.SourceCache)
		status = resp.Status
	} else {
		fields = logging.RequestFields("", "", "", "", false)
	}
	fields["action"] = "proxy"
	fields["upstream"] = upstream
	fields["status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("proxy_failed")
		return
	}
	h.logger.WithFields(fields).Info("proxy_complete")
}

// resolveUpstreamURL 把请求路径与查询串拼接到上游根地址上，缓存键与此 URL 完全一致。
func resolveUpstreamURL(base *url.URL, c fiber.Ctx) *url.URL {
	uri := c.Request().URI()
	clean := string(uri.Path())
	if clean == "" {
		clean = "/"
	}
	relative := &url.URL{Path: clean}
	if q := uri.QueryString(); len(q) > 0 {
		relative.RawQuery = string(q)
	}
	return base.ResolveReference(relative)
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if server.IsHopByHopHeader(key) || http.CanonicalHeaderKey(key) == "Content-Length" {
			continue
		}
		for i, value := range values {
			if i == 0 {
				c.Set(key, value)
				continue
			}
			c.Response().Header.Add(key, value)
		}
	}
}

func bytesReader(b []byte) io.Reader {
	if len(b) == 0 {
		return http.NoBody
	}
	return bytes.NewReader(b)
}
