package worker

import (
	"context"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"
)

// Registration 管理 active/waiting 两个版本。新版本安装后若旧版本仍有请求租约则进入 waiting，
// 直到旧版本租约清零或收到 SKIP_WAITING 才激活并接管后续所有请求（claim）。
type Registration struct {
	network Fetcher
	logger  *logrus.Logger

	activateMu sync.Mutex

	mu      sync.Mutex
	active  *Worker
	waiting *Worker
}

// VersionStatus 是单个版本的诊断快照。
type VersionStatus struct {
	CacheName string `json:"cache_name"`
	State     State  `json:"state"`
	Clients   int64  `json:"clients"`
}

// RegistrationStatus 汇总 active/waiting 版本，供 /-/worker/status 输出。
type RegistrationStatus struct {
	Active  *VersionStatus `json:"active,omitempty"`
	Waiting *VersionStatus `json:"waiting,omitempty"`
}

// NewRegistration 创建注册表；network 用于没有可用版本时的直连回源。
func NewRegistration(network Fetcher, logger *logrus.Logger) *Registration {
	return &Registration{network: network, logger: logger}
}

// Install 安装新版本。安装失败时旧版本（如有）继续服务，请求退回直连网络。
func (r *Registration) Install(ctx context.Context, w *Worker) error {
	w.onSkipWaiting = func() {
		if err := r.promote(context.Background(), w); err != nil {
			r.logger.WithError(err).WithField("cache_name", w.CacheName()).Error("worker_activate_failed")
		}
	}

	if err := w.Install(ctx); err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"action":     "install",
			"cache_name": w.CacheName(),
		}).Error("worker_install_failed")
		return err
	}

	r.mu.Lock()
	if r.active == nil {
		r.mu.Unlock()
		return r.promote(ctx, w)
	}
	if r.waiting != nil && r.waiting != w {
		r.waiting.setState(StateRedundant)
	}
	r.waiting = w
	w.setState(StateWaiting)
	ready := w.skipRequested.Load() || r.active.Clients() == 0
	r.mu.Unlock()

	if ready {
		return r.promote(ctx, w)
	}
	r.logger.WithFields(logrus.Fields{
		"action":     "install",
		"cache_name": w.CacheName(),
		"active":     r.activeName(),
	}).Info("worker_waiting")
	return nil
}

// promote 激活 w 并让其成为控制者；w 已被更新版本取代时直接忽略。
func (r *Registration) promote(ctx context.Context, w *Worker) error {
	r.activateMu.Lock()
	defer r.activateMu.Unlock()

	r.mu.Lock()
	if r.active == w {
		r.mu.Unlock()
		return nil
	}
	if r.active != nil && r.waiting != w {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	if err := w.Activate(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	prev := r.active
	r.active = w
	if r.waiting == w {
		r.waiting = nil
	}
	r.mu.Unlock()

	if prev != nil {
		prev.setState(StateRedundant)
	}
	r.logger.WithFields(logrus.Fields{
		"action":     "claim",
		"cache_name": w.CacheName(),
	}).Info("worker_claimed_clients")
	return nil
}

// Acquire 为一次请求租用当前控制者；release 后若旧版本租约清零会激活 waiting 版本。
func (r *Registration) Acquire() (*Worker, func()) {
	r.mu.Lock()
	w := r.active
	if w != nil {
		w.clients.Add(1)
	}
	r.mu.Unlock()

	if w == nil {
		return nil, func() {}
	}
	var once sync.Once
	return w, func() {
		once.Do(func() {
			if w.clients.Add(-1) == 0 {
				r.promoteWaiting(w)
			}
		})
	}
}

func (r *Registration) promoteWaiting(released *Worker) {
	r.mu.Lock()
	next := r.waiting
	ready := next != nil && r.active == released
	r.mu.Unlock()
	if !ready {
		return
	}
	if err := r.promote(context.Background(), next); err != nil {
		r.logger.WithError(err).WithField("cache_name", next.CacheName()).Error("worker_activate_failed")
	}
}

// Fetch 由当前控制者处理请求；没有可用版本时直连网络。
func (r *Registration) Fetch(ctx context.Context, req *http.Request) (*Response, error) {
	w, release := r.Acquire()
	defer release()
	if w == nil {
		resp, err := doNetwork(ctx, r.network, req)
		if err != nil {
			return nil, err
		}
		resp.Source = SourcePassthrough
		return resp, nil
	}
	return w.Fetch(ctx, req)
}

// Active 返回当前控制者，可能为 nil。
func (r *Registration) Active() *Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Waiting 返回等待中的版本，可能为 nil。
func (r *Registration) Waiting() *Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.waiting
}

// PostMessage 投递页面消息：SKIP_WAITING 优先交给 waiting 版本，其余交给 active 版本。
func (r *Registration) PostMessage(ctx context.Context, msg Message, port Port) error {
	r.mu.Lock()
	target := r.active
	if msg.Type == MessageSkipWaiting && r.waiting != nil {
		target = r.waiting
	}
	if target == nil {
		target = r.waiting
	}
	r.mu.Unlock()

	if target == nil {
		return ErrNoWorker
	}
	return target.HandleMessage(ctx, msg, port)
}

// Status 返回 active/waiting 版本快照。
func (r *Registration) Status() RegistrationStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RegistrationStatus{
		Active:  versionStatus(r.active),
		Waiting: versionStatus(r.waiting),
	}
}

func (r *Registration) activeName() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return ""
	}
	return r.active.CacheName()
}

func versionStatus(w *Worker) *VersionStatus {
	if w == nil {
		return nil
	}
	return &VersionStatus{
		CacheName: w.CacheName(),
		State:     w.State(),
		Clients:   w.Clients(),
	}
}

// Push 把推送事件交给当前控制者。
func (r *Registration) Push(ctx context.Context, payload []byte) (Notification, error) {
	w := r.Active()
	if w == nil {
		return Notification{}, ErrNoWorker
	}
	return w.HandlePush(ctx, payload)
}

// NotificationClick 把通知点击交给当前控制者。
func (r *Registration) NotificationClick(ctx context.Context, action string) (ClickResult, error) {
	w := r.Active()
	if w == nil {
		return ClickResult{}, ErrNoWorker
	}
	return w.HandleNotificationClick(ctx, action)
}

// Sync 把后台同步事件交给当前控制者。
func (r *Registration) Sync(ctx context.Context, tag string) (bool, error) {
	w := r.Active()
	if w == nil {
		return false, ErrNoWorker
	}
	return w.HandleSync(ctx, tag)
}
