package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/worldstore/internal/chunk"
	"github.com/annel0/worldstore/internal/logging"
	"github.com/nats-io/nats.go"
)

// EventType тип события жизненного цикла чанка
type EventType string

const (
	EventReady     EventType = "ready"
	EventUnloading EventType = "unloading"
)

// ChunkEvent сообщение о чанке, публикуемое в NATS
type ChunkEvent struct {
	Type      EventType `json:"type"`
	Key       string    `json:"key"`
	Dimension string    `json:"dimension"`
	X         int32     `json:"x"`
	Z         int32     `json:"z"`
	Version   uint64    `json:"version,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	NodeID    string    `json:"node_id"`
}

// EventHandler обрабатывает события других узлов
type EventHandler func(ev ChunkEvent) error

// NATSConfig конфигурация публикации событий
type NATSConfig struct {
	URL           string        `yaml:"url"`
	Subject       string        `yaml:"subject"` // Префикс, к нему добавляется тип события
	MaxReconnects int           `yaml:"max_reconnects"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
}

// publisher часть *nats.Conn, нужная для публикации
type publisher interface {
	Publish(subject string, data []byte) error
}

// NATSNotifier рассылает события готовности и выгрузки чанков через NATS,
// чтобы сущности на других узлах узнавали о жизненном цикле чанков.
// Публикация не блокирует стриминг: NATS буферизует исходящие сообщения.
type NATSNotifier struct {
	conn    *nats.Conn
	pub     publisher
	subject string
	nodeID  string

	subscription *nats.Subscription
	handler      EventHandler
	subMu        sync.Mutex

	stopCh    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	logger    *logging.Logger

	published atomic.Uint64
	received  atomic.Uint64
	failures  atomic.Uint64
}

func applyDefaults(config *NATSConfig) {
	if config.Subject == "" {
		config.Subject = "world.chunks"
	}
	if config.MaxReconnects == 0 {
		config.MaxReconnects = 10
	}
	if config.ReconnectWait == 0 {
		config.ReconnectWait = 2 * time.Second
	}
}

// NewNATSNotifier подключается к NATS и создаёт нотификатор
func NewNATSNotifier(config NATSConfig, nodeID string) (*NATSNotifier, error) {
	applyDefaults(&config)

	opts := []nats.Option{
		nats.Name("worldstore-" + nodeID),
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		// Пока соединения нет, события копятся в буфере клиента
		nats.ReconnectBufSize(8 << 20),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logging.GetComponentLogger("notify").Warn("🔌 NATS: соединение потеряно: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.GetComponentLogger("notify").Info("🔌 NATS: переподключено к %s", nc.ConnectedUrl())
		}),
	}

	conn, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS %s: %w", config.URL, err)
	}

	n := newNotifier(conn, config.Subject, nodeID)
	n.conn = conn
	n.logger.Info("📣 События чанков публикуются в NATS %s (%s.*)", config.URL, config.Subject)
	return n, nil
}

func newNotifier(pub publisher, subject, nodeID string) *NATSNotifier {
	return &NATSNotifier{
		pub:     pub,
		subject: subject,
		nodeID:  nodeID,
		stopCh:  make(chan struct{}),
		logger:  logging.GetComponentLogger("notify"),
	}
}

// Subject возвращает тему NATS для типа события
func (n *NATSNotifier) Subject(t EventType) string {
	return n.subject + "." + string(t)
}

func (n *NATSNotifier) OnChunkReady(key chunk.Key, c *chunk.Chunk) {
	ev := n.event(EventReady, key)
	if c != nil {
		ev.Version = c.Version()
	}
	n.publish(ev)
}

func (n *NATSNotifier) OnChunkUnloading(key chunk.Key) {
	n.publish(n.event(EventUnloading, key))
}

func (n *NATSNotifier) event(t EventType, key chunk.Key) ChunkEvent {
	return ChunkEvent{
		Type:      t,
		Key:       key.String(),
		Dimension: key.Dim.String(),
		X:         key.X,
		Z:         key.Z,
		Timestamp: time.Now().UTC(),
		NodeID:    n.nodeID,
	}
}

// publish ошибки только логируются: стриминг не зависит от доставки событий
func (n *NATSNotifier) publish(ev ChunkEvent) {
	data, err := json.Marshal(ev)
	if err == nil {
		err = n.pub.Publish(n.Subject(ev.Type), data)
	}
	if err != nil {
		n.failures.Add(1)
		n.logger.Warn("событие %s для %s не отправлено: %v", ev.Type, ev.Key, err)
		return
	}
	n.published.Add(1)
}

// Subscribe подписывается на события всех узлов, кроме своего
func (n *NATSNotifier) Subscribe(ctx context.Context, handler EventHandler) error {
	if n.conn == nil {
		return errors.New("notifier has no NATS connection")
	}

	n.subMu.Lock()
	defer n.subMu.Unlock()
	if n.subscription != nil {
		return errors.New("already subscribed to chunk events")
	}

	n.handler = handler
	sub, err := n.conn.Subscribe(n.subject+".*", n.handleMessage)
	if err != nil {
		return fmt.Errorf("subscribe %s.*: %w", n.subject, err)
	}
	n.subscription = sub

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		select {
		case <-ctx.Done():
		case <-n.stopCh:
		}
		n.unsubscribe()
	}()

	n.logger.Debug("подписка на события чанков других узлов: %s.*", n.subject)
	return nil
}

func (n *NATSNotifier) handleMessage(msg *nats.Msg) {
	n.handleData(msg.Data)
}

func (n *NATSNotifier) handleData(data []byte) {
	n.received.Add(1)

	var ev ChunkEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		n.failures.Add(1)
		n.logger.Warn("нечитаемое событие чанка: %v", err)
		return
	}

	// Собственные события уже обработаны локально
	if ev.NodeID == n.nodeID || n.handler == nil {
		return
	}
	if err := n.handler(ev); err != nil {
		n.failures.Add(1)
		n.logger.Error("обработчик события %s для %s: %v", ev.Type, ev.Key, err)
	}
}

func (n *NATSNotifier) unsubscribe() {
	n.subMu.Lock()
	defer n.subMu.Unlock()

	if n.subscription != nil {
		if err := n.subscription.Unsubscribe(); err != nil {
			n.logger.Warn("отписка от событий чанков: %v", err)
		}
		n.subscription = nil
	}
}

// Close отписывается, дожидается отправки буфера и закрывает соединение.
// Повторный вызов ничего не делает.
func (n *NATSNotifier) Close() error {
	var err error
	n.closeOnce.Do(func() {
		close(n.stopCh)
		n.wg.Wait()
		n.unsubscribe()
		if n.conn != nil {
			err = n.conn.FlushTimeout(2 * time.Second)
			n.conn.Close()
		}
	})
	return err
}

// GetMetrics возвращает метрики нотификатора
func (n *NATSNotifier) GetMetrics() map[string]interface{} {
	m := map[string]interface{}{
		"published_count": n.published.Load(),
		"received_count":  n.received.Load(),
		"errors_count":    n.failures.Load(),
	}
	if n.conn != nil {
		m["connected"] = n.conn.IsConnected()
		m["status"] = n.conn.Status().String()
	}
	return m
}
