package fanout

import (
	"sync"

	"go.uber.org/zap"
)

// 事件类型
const (
	EventTypeReading = "reading"
	EventTypeAlert   = "alert"
)

// Envelope 广播事件信封
type Envelope struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Subscription 订阅句柄
type Subscription struct {
	id int
	ch chan Envelope
}

// Events 订阅者消费的事件通道（Unsubscribe 时关闭）
func (s *Subscription) Events() <-chan Envelope {
	return s.ch
}

// Bus 进程内事件总线
// 投递语义：尽力而为、至少一次、无持久化——发布时不在线的订阅者错过事件
// （可接受：当前状态总能通过拉取查询重新获取）。
// 发布对摄入路径永不阻塞：订阅者缓冲满时丢弃最旧事件，而不是阻塞发布方。
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*Subscription
	nextID int
	buffer int
	logger *zap.Logger
}

// NewBus 创建事件总线
// buffer: 每个订阅者的通道缓冲大小
func NewBus(buffer int, logger *zap.Logger) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{
		subs:   make(map[int]*Subscription),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe 注册订阅者
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id: b.nextID,
		ch: make(chan Envelope, b.buffer),
	}
	b.subs[sub.id] = sub

	b.logger.Debug("Subscriber registered",
		zap.Int("subscriber_id", sub.id),
		zap.Int("subscriber_count", len(b.subs)),
	)

	return sub
}

// Unsubscribe 注销订阅者并关闭其通道
// 重复连接/断开不能泄漏注册表条目
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub.id]; !ok {
		return
	}
	delete(b.subs, sub.id)
	close(sub.ch)

	b.logger.Debug("Subscriber unregistered",
		zap.Int("subscriber_id", sub.id),
		zap.Int("subscriber_count", len(b.subs)),
	)
}

// Publish 向所有当前订阅者广播事件
// 零订阅者时是 no-op。订阅者缓冲满时丢弃其最旧事件为新事件腾位。
func (b *Bus) Publish(ev Envelope) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			// 缓冲满：丢最旧，再试一次投递最新事件
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- ev:
			default:
			}
		}
	}
}

// Len 当前订阅者数量
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
