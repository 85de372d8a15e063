// Package notifier 运维通知，证书续期失败、部署失败时推送到群机器人
package notifier

import (
	"context"
	"time"
)

// NotificationLevel 通知级别
type NotificationLevel string

const (
	NotificationLevelInfo    NotificationLevel = "info"
	NotificationLevelWarning NotificationLevel = "warning"
	NotificationLevelError   NotificationLevel = "error"
)

// Notification 一条通知消息
type Notification struct {
	Title     string            `json:"title"`
	Content   string            `json:"content"`
	Level     NotificationLevel `json:"level"`
	Labels    map[string]string `json:"labels,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Notifier 通知发送接口
type Notifier interface {
	Send(ctx context.Context, notification *Notification) error
}

// NoopNotifier 未配置 webhook 时使用
type NoopNotifier struct{}

func (NoopNotifier) Send(ctx context.Context, notification *Notification) error {
	return nil
}
