package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kuryecini/kuryecini-edge/internal/cache"
	"github.com/kuryecini/kuryecini-edge/internal/logging"
)

// Fetch 是 fetch 事件入口：非 GET 或非 http(s) 请求直接走网络，其余按分类规则选择策略。
// 任何 panic 都会被捕获并转换为 error，网络失败则尽量由缓存或离线响应兜底。
func (w *Worker) Fetch(ctx context.Context, req *http.Request) (resp *Response, err error) {
	defer w.guard("fetch", &err)

	started := time.Now()
	if !interceptable(req) {
		resp, err = w.passThrough(ctx, req)
		w.annotate(resp, "", "passthrough")
		w.logFetch(req, "", "passthrough", resp, started, err)
		return resp, err
	}

	r := w.match(req)
	resp, err = r.handle(ctx, req, r.class)
	w.annotate(resp, r.class, r.strategy)
	w.logFetch(req, r.class, r.strategy, resp, started, err)
	return resp, err
}

func (w *Worker) annotate(resp *Response, class Class, strategy string) {
	if resp == nil {
		return
	}
	resp.CacheName = w.opts.CacheName
	resp.Class = class
	resp.Strategy = strategy
}

// networkFirst 优先网络；网络失败时回退缓存，API 请求再回退 503 离线 JSON。
func (w *Worker) networkFirst(ctx context.Context, req *http.Request, class Class) (*Response, error) {
	resp, netErr := w.fetchNetwork(ctx, req)
	if netErr == nil {
		if storable(req, resp) {
			w.putBestEffort(ctx, w.opts.CacheName, req.URL.String(), resp)
		}
		return resp, nil
	}

	if cached, ok := w.matchCache(ctx, w.opts.CacheName, req.URL.String()); ok {
		return cached, nil
	}
	if class == ClassAPI {
		return offlineAPIResponse(), nil
	}
	return nil, netErr
}

// cacheFirst 命中即返回；未命中则回源并写缓存，彻底失败时原样返回错误。
func (w *Worker) cacheFirst(ctx context.Context, req *http.Request, _ Class) (*Response, error) {
	if cached, ok := w.matchCache(ctx, w.opts.CacheName, req.URL.String()); ok {
		return cached, nil
	}

	resp, err := w.fetchNetwork(ctx, req)
	if err != nil {
		return nil, err
	}
	if storable(req, resp) {
		w.putBestEffort(ctx, w.opts.CacheName, req.URL.String(), resp)
	}
	return resp, nil
}

// navigate 页面请求：网络优先，失败后依次尝试缓存页面、预缓存离线页、内联离线页。
func (w *Worker) navigate(ctx context.Context, req *http.Request, class Class) (*Response, error) {
	resp, err := w.networkFirst(ctx, req, class)
	if err == nil {
		return resp, nil
	}

	if offlineURL, resolveErr := w.resolve(w.opts.OfflinePage); resolveErr == nil {
		if cached, ok := w.matchCache(ctx, w.opts.CacheName, offlineURL); ok {
			cached.Source = SourceOffline
			return cached, nil
		}
	}
	return inlineOfflinePage(), nil
}

func (w *Worker) passThrough(ctx context.Context, req *http.Request) (*Response, error) {
	resp, err := w.fetchNetwork(ctx, req)
	if err != nil {
		return nil, err
	}
	resp.Source = SourcePassthrough
	return resp, nil
}

// fetchNetwork 执行一次网络请求并把正文读入内存，读取失败同样视为网络失败。
func (w *Worker) fetchNetwork(ctx context.Context, req *http.Request) (*Response, error) {
	return doNetwork(ctx, w.network, req)
}

func doNetwork(ctx context.Context, network Fetcher, req *http.Request) (*Response, error) {
	out := req.Clone(ctx)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		out.Body = body
	}
	resp, err := network.Do(out)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read network body: %w", err)
	}
	return &Response{
		Status: resp.StatusCode,
		Header: resp.Header.Clone(),
		Body:   body,
		Source: SourceNetwork,
	}, nil
}

// putBestEffort 写缓存失败只记日志，不影响已经拿到的响应。
func (w *Worker) putBestEffort(ctx context.Context, storeName, key string, resp *Response) {
	locator := cache.Locator{Store: storeName, Key: key}
	_, err := w.store.Put(ctx, locator, bytes.NewReader(resp.Body), cache.PutOptions{
		Status: resp.Status,
		Header: sharedHeader(resp.Header),
	})
	if err != nil {
		w.logger.WithError(err).WithFields(logrus.Fields{
			"action":     "cache_put",
			"cache_name": storeName,
			"url":        key,
		}).Warn("cache_put_failed")
	}
}

// matchCache 按完整 URL 精确查找；读取错误按未命中处理并记日志。
func (w *Worker) matchCache(ctx context.Context, storeName, key string) (*Response, bool) {
	result, err := w.store.Get(ctx, cache.Locator{Store: storeName, Key: key})
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			w.logger.WithError(err).WithFields(logrus.Fields{
				"action":     "cache_match",
				"cache_name": storeName,
				"url":        key,
			}).Warn("cache_get_failed")
		}
		return nil, false
	}
	defer result.Reader.Close()

	body, err := io.ReadAll(result.Reader)
	if err != nil {
		w.logger.WithError(err).WithFields(logrus.Fields{
			"action":     "cache_match",
			"cache_name": storeName,
			"url":        key,
		}).Warn("cache_read_failed")
		return nil, false
	}
	return &Response{
		Status: result.Entry.Status,
		Header: result.Entry.Header,
		Body:   body,
		Source: SourceCache,
	}, true
}

func (w *Worker) logFetch(req *http.Request, class Class, strategy string, resp *Response, started time.Time, err error) {
	source := ""
	status := 0
	if resp != nil {
		source = string(resp.Source)
		status = resp.Status
	}
	fields := logging.RequestFields(w.opts.CacheName, string(class), strategy, source, source == string(SourceCache))
	fields["action"] = "fetch"
	fields["method"] = req.Method
	fields["url"] = req.URL.String()
	fields["status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if err != nil {
		fields["error"] = err.Error()
		w.logger.WithFields(fields).Warn("fetch_failed")
		return
	}
	w.logger.WithFields(fields).Info("fetch_complete")
}
