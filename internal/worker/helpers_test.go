package worker

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/kuryecini/kuryecini-edge/internal/cache"
)

const testOrigin = "http://backend.local"

var errOffline = errors.New("network unreachable")

type stubResponse struct {
	status int
	header http.Header
	body   string
}

// fakeNetwork 模拟上游，offline 为 true 时所有请求返回网络错误。
type fakeNetwork struct {
	mu        sync.Mutex
	responses map[string]stubResponse
	hits      map[string]int
	offline   atomic.Bool
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{
		responses: make(map[string]stubResponse),
		hits:      make(map[string]int),
	}
}

func (n *fakeNetwork) set(path string, status int, contentType, body string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.responses[path] = stubResponse{
		status: status,
		header: http.Header{"Content-Type": []string{contentType}},
		body:   body,
	}
}

func (n *fakeNetwork) setWithHeader(path string, status int, header http.Header, body string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.responses[path] = stubResponse{status: status, header: header.Clone(), body: body}
}

func (n *fakeNetwork) hitCount(path string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.hits[path]
}

func (n *fakeNetwork) Do(req *http.Request) (*http.Response, error) {
	if n.offline.Load() {
		return nil, errOffline
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.hits[req.URL.Path]++
	stub, ok := n.responses[req.URL.Path]
	if !ok {
		stub = stubResponse{status: http.StatusNotFound, header: http.Header{}, body: "not found"}
	}
	return &http.Response{
		StatusCode: stub.status,
		Header:     stub.header.Clone(),
		Body:       io.NopCloser(strings.NewReader(stub.body)),
		Request:    req,
	}, nil
}

type testEnv struct {
	worker  *Worker
	store   cache.Store
	network *fakeNetwork
	hook    *logtest.Hook
	logger  *logrus.Logger
}

func newTestEnv(t *testing.T, mutate func(*Options)) *testEnv {
	t.Helper()
	store, err := cache.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	network := newFakeNetwork()
	origin, _ := url.Parse(testOrigin)

	opts := Options{
		CacheName:   "kuryecini-v1",
		Origin:      origin,
		OfflinePage: "/offline.html",
		APIPatterns: []string{`^/businesses(/|$)`, `^/products(/|$)`, `^/(health|healthz)$`},
		Store:       store,
		Network:     network,
		Logger:      logger,
	}
	if mutate != nil {
		mutate(&opts)
	}
	w, err := New(opts)
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	return &testEnv{worker: w, store: opts.Store, network: network, hook: hook, logger: logger}
}

func (e *testEnv) newWorker(t *testing.T, cacheName string, precache ...string) *Worker {
	t.Helper()
	origin, _ := url.Parse(testOrigin)
	w, err := New(Options{
		CacheName: cacheName,
		Origin:    origin,
		Precache:  precache,
		Store:     e.store,
		Network:   e.network,
		Logger:    e.logger,
	})
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	return w
}

func getRequest(t *testing.T, path string, header http.Header) *http.Request {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, testOrigin+path, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	return req
}

func navigationHeader() http.Header {
	return http.Header{"Sec-Fetch-Mode": []string{"navigate"}, "Accept": []string{"text/html"}}
}

func seedStore(t *testing.T, store cache.Store, name, path, body string) {
	t.Helper()
	locator := cache.Locator{Store: name, Key: testOrigin + path}
	if _, err := store.Put(context.Background(), locator, strings.NewReader(body), cache.PutOptions{Status: http.StatusOK}); err != nil {
		t.Fatalf("seed store %s: %v", name, err)
	}
}
