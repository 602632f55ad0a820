package scheduler

import (
	"log"
	"time"

	"github.com/go-resty/resty/v2"
)

// Notifier pushes task alerts to an external webhook.
type Notifier struct {
	http    *resty.Client
	webhook string
	enabled bool
}

func NewNotifier(webhook string, enabled bool) *Notifier {
	return &Notifier{
		http:    resty.New().SetTimeout(10 * time.Second),
		webhook: webhook,
		enabled: enabled && webhook != "",
	}
}

// Notify posts a JSON alert. Delivery failures are logged, never propagated:
// a broken webhook must not affect scheduled tasks.
func (n *Notifier) Notify(title, message string) {
	if !n.enabled {
		return
	}
	payload := map[string]string{
		"title":     title,
		"message":   message,
		"timestamp": time.Now().Format("2006-01-02 15:04:05"),
		"service":   "farm-market-monitor",
	}
	resp, err := n.http.R().
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(n.webhook)
	if err != nil {
		log.Printf("[通知] 发送失败: %v", err)
		return
	}
	if resp.StatusCode() >= 300 {
		log.Printf("[通知] 发送失败: HTTP %d", resp.StatusCode())
	}
}
