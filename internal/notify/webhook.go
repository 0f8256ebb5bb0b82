package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/worldstore/internal/logging"
	"github.com/cenkalti/backoff/v4"
)

// WebhookConfig исходящий webhook
type WebhookConfig struct {
	Name       string        `yaml:"name"`
	URL        string        `yaml:"url"`
	Secret     string        `yaml:"secret"`
	Events     []string      `yaml:"events"` // "*" подписывает на все события
	Timeout    time.Duration `yaml:"timeout"`
	RetryCount int           `yaml:"retry_count"`
}

// WebhookEvent тело запроса webhook'а
type WebhookEvent struct {
	EventType string      `json:"event_type"`
	Timestamp int64       `json:"timestamp"`
	NodeID    string      `json:"node_id"`
	Source    string      `json:"source"`
	Data      interface{} `json:"data"`
}

// WebhookSender отправляет события (например, итоги миграции) на внешние URL.
// События ставятся в очередь и отправляются одним воркером.
type WebhookSender struct {
	hooks      []WebhookConfig
	nodeID     string
	httpClient *http.Client
	logger     *logging.Logger

	queue  chan WebhookEvent
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup

	sentCount    int64
	failedCount  int64
	droppedCount int64
}

// NewWebhookSender создает отправителя и запускает воркер
func NewWebhookSender(hooks []WebhookConfig, nodeID string) (*WebhookSender, error) {
	for i := range hooks {
		if hooks[i].URL == "" {
			return nil, fmt.Errorf("webhook %q: url is required", hooks[i].Name)
		}
		if hooks[i].Timeout <= 0 {
			hooks[i].Timeout = 10 * time.Second
		}
		if hooks[i].RetryCount < 0 {
			hooks[i].RetryCount = 0
		}
	}

	s := &WebhookSender{
		hooks:      hooks,
		nodeID:     nodeID,
		httpClient: &http.Client{},
		logger:     logging.GetComponentLogger("webhooks"),
		queue:      make(chan WebhookEvent, 100),
	}
	s.wg.Add(1)
	go s.eventWorker()
	return s, nil
}

// SendEvent ставит событие в очередь; при переполнении событие теряется
func (s *WebhookSender) SendEvent(eventType string, data interface{}) {
	event := WebhookEvent{
		EventType: eventType,
		Timestamp: time.Now().Unix(),
		NodeID:    s.nodeID,
		Source:    "worldstore",
		Data:      data,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- event:
	default:
		atomic.AddInt64(&s.droppedCount, 1)
		s.logger.Warn("⚠️ Очередь webhook'ов переполнена, событие %s пропущено", eventType)
	}
}

// Close дожидается отправки поставленных в очередь событий
func (s *WebhookSender) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *WebhookSender) eventWorker() {
	defer s.wg.Done()
	for event := range s.queue {
		body, err := json.Marshal(event)
		if err != nil {
			s.logger.Error("❌ Ошибка маршалинга события %s: %v", event.EventType, err)
			continue
		}
		for i := range s.hooks {
			hook := &s.hooks[i]
			if !subscribed(hook, event.EventType) {
				continue
			}
			if err := s.deliver(hook, event.EventType, body); err != nil {
				atomic.AddInt64(&s.failedCount, 1)
				s.logger.Warn("⚠️ Webhook %s не принял %s: %v", hook.Name, event.EventType, err)
				continue
			}
			atomic.AddInt64(&s.sentCount, 1)
			s.logger.Debug("✅ Событие %s отправлено в webhook %s", event.EventType, hook.Name)
		}
	}
}

func subscribed(hook *WebhookConfig, eventType string) bool {
	for _, e := range hook.Events {
		if e == eventType || e == "*" {
			return true
		}
	}
	return false
}

// deliver отправляет тело с повторами; ответ 4xx повторять бессмысленно
func (s *WebhookSender) deliver(hook *WebhookConfig, eventType string, body []byte) error {
	op := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), hook.Timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "worldstore/1.0")
		req.Header.Set("X-Event-Type", eventType)
		req.Header.Set("X-Node-ID", s.nodeID)
		if hook.Secret != "" {
			req.Header.Set("X-Webhook-Signature", Sign(body, hook.Secret))
		}

		resp, err := s.httpClient.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return backoff.Permanent(fmt.Errorf("status %d", resp.StatusCode))
		default:
			return fmt.Errorf("status %d", resp.StatusCode)
		}
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	return backoff.Retry(op, backoff.WithMaxRetries(policy, uint64(hook.RetryCount)))
}

// Sign возвращает HMAC-SHA256 подпись тела в формате "sha256=<hex>"
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// GetMetrics возвращает счётчики отправки
func (s *WebhookSender) GetMetrics() map[string]int64 {
	return map[string]int64{
		"sent":    atomic.LoadInt64(&s.sentCount),
		"failed":  atomic.LoadInt64(&s.failedCount),
		"dropped": atomic.LoadInt64(&s.droppedCount),
	}
}
