package notifier

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/xsxdot/aio-pki/pkg/core/config"
	errorc "github.com/xsxdot/aio-pki/pkg/core/err"
	"github.com/xsxdot/aio-pki/pkg/core/logger"
	"github.com/xsxdot/aio-pki/pkg/core/util"
)

// WebhookNotifier 企业微信/钉钉群机器人 webhook
type WebhookNotifier struct {
	webhook string
	prefix  string
	log     *logger.Log
	err     *errorc.ErrorBuilder
}

// NewNotifier webhook 为空时返回 NoopNotifier
func NewNotifier(cfg config.NotifyConfig, log *logger.Log) Notifier {
	if cfg.Webhook == "" {
		return NoopNotifier{}
	}
	return NewWebhookNotifier(cfg.Webhook, cfg.Prefix, log)
}

func NewWebhookNotifier(webhook, prefix string, log *logger.Log) *WebhookNotifier {
	return &WebhookNotifier{
		webhook: webhook,
		prefix:  prefix,
		log:     log.WithEntryName("WebhookNotifier"),
		err:     errorc.NewErrorBuilder("WebhookNotifier"),
	}
}

type textMessage struct {
	MsgType string      `json:"msgtype"`
	Text    textContent `json:"text"`
}

type textContent struct {
	Content string `json:"content"`
}

func (n *WebhookNotifier) Send(ctx context.Context, notification *Notification) error {
	message := &textMessage{
		MsgType: "text",
		Text:    textContent{Content: n.format(notification)},
	}

	result, err := util.HttpPost(n.webhook, message)
	if err != nil {
		return n.err.New("发送通知失败", err).Third().WithTraceID(ctx)
	}

	// 企业微信与钉钉都以 errcode=0 表示成功
	if code := result.Get("errcode"); code.Exists() && code.Int() != 0 {
		return n.err.New(fmt.Sprintf("通知被拒绝: %s", result.Get("errmsg").String()), nil).Third().WithTraceID(ctx)
	}

	n.log.WithTrace(ctx).WithField("title", notification.Title).Debug("通知发送成功")
	return nil
}

func (n *WebhookNotifier) format(notification *Notification) string {
	var sb strings.Builder
	sb.WriteString(n.prefix)
	sb.WriteString(fmt.Sprintf("【%s】%s\n", notification.Level, notification.Title))
	sb.WriteString(notification.Content)

	if len(notification.Labels) > 0 {
		keys := make([]string, 0, len(notification.Labels))
		for k := range notification.Labels {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("\n%s: %s", k, notification.Labels[k]))
		}
	}

	createdAt := notification.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	sb.WriteString("\n时间: ")
	sb.WriteString(createdAt.Format("2006-01-02 15:04:05"))
	return sb.String()
}
