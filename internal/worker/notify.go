package worker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	defaultNotificationTitle = "Kuryecini"
	defaultNotificationBody  = "Yeni bir bildiriminiz var"
	notificationIcon         = "/icons/icon-192x192.png"
	notificationBadge        = "/icons/badge-72x72.png"

	ActionExplore = "explore"
	ActionClose   = "close"
)

// NotificationAction 是通知上的按钮。
type NotificationAction struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	Icon   string `json:"icon,omitempty"`
}

// Notification 是 push 事件展示的通知。
type Notification struct {
	Title   string                 `json:"title"`
	Body    string                 `json:"body"`
	Icon    string                 `json:"icon"`
	Badge   string                 `json:"badge"`
	Vibrate []int                  `json:"vibrate"`
	Data    map[string]interface{} `json:"data"`
	Actions []NotificationAction   `json:"actions"`
	ShownAt time.Time              `json:"shown_at"`
}

// Notifier 负责把通知展示给用户。
type Notifier interface {
	Show(ctx context.Context, n Notification) error
}

// Inbox 是内存中的通知展示器，只保留最近 limit 条。
type Inbox struct {
	mu    sync.Mutex
	limit int
	items []Notification
}

// NewInbox 创建收件箱，limit <= 0 时使用 50。
func NewInbox(limit int) *Inbox {
	if limit <= 0 {
		limit = 50
	}
	return &Inbox{limit: limit}
}

// Show 实现 Notifier。
func (i *Inbox) Show(_ context.Context, n Notification) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.items = append(i.items, n)
	if over := len(i.items) - i.limit; over > 0 {
		i.items = append([]Notification(nil), i.items[over:]...)
	}
	return nil
}

// Recent 按展示先后返回通知副本。
func (i *Inbox) Recent() []Notification {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]Notification, len(i.items))
	copy(out, i.items)
	return out
}

type pushPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// HandlePush 展示推送通知；载荷可覆盖标题和正文，解析失败时使用默认文案。
func (w *Worker) HandlePush(ctx context.Context, payload []byte) (n Notification, err error) {
	defer w.guard("push", &err)

	n = Notification{
		Title:   defaultNotificationTitle,
		Body:    defaultNotificationBody,
		Icon:    notificationIcon,
		Badge:   notificationBadge,
		Vibrate: []int{100, 50, 100},
		Data: map[string]interface{}{
			"dateOfArrival": time.Now().UnixMilli(),
			"primaryKey":    1,
		},
		Actions: []NotificationAction{
			{Action: ActionExplore, Title: "Uygulamayı Aç", Icon: "/icons/checkmark.png"},
			{Action: ActionClose, Title: "Kapat", Icon: "/icons/xmark.png"},
		},
		ShownAt: time.Now().UTC(),
	}

	if len(payload) > 0 {
		var p pushPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			w.logger.WithError(err).WithFields(logrus.Fields{
				"action":     "push",
				"cache_name": w.opts.CacheName,
			}).Warn("push_payload_invalid")
		} else {
			if p.Title != "" {
				n.Title = p.Title
			}
			if p.Body != "" {
				n.Body = p.Body
			}
		}
	}

	if err := w.notifier.Show(ctx, n); err != nil {
		return n, err
	}
	w.logger.WithFields(logrus.Fields{
		"action":     "push",
		"cache_name": w.opts.CacheName,
		"title":      n.Title,
	}).Info("notification_shown")
	return n, nil
}

// ClickResult 描述通知点击后的动作。
type ClickResult struct {
	Closed  bool   `json:"closed"`
	OpenURL string `json:"open_url,omitempty"`
}

// HandleNotificationClick 关闭通知；explore 或直接点击通知正文时打开应用首页。
func (w *Worker) HandleNotificationClick(ctx context.Context, action string) (res ClickResult, err error) {
	defer w.guard("notificationclick", &err)

	res = ClickResult{Closed: true}
	switch action {
	case ActionExplore, "":
		res.OpenURL = "/"
	case ActionClose:
	default:
		w.logger.WithFields(logrus.Fields{
			"action":     "notificationclick",
			"cache_name": w.opts.CacheName,
			"click":      action,
		}).Debug("notification_action_unknown")
	}
	return res, nil
}
