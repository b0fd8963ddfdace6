package notify

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"islandpay/internal/infrastructure/mq"

	"github.com/google/uuid"
)

// ============================================================================
// 事件通知器
// ============================================================================
//
// 【语义】至多一次、尽力而为：
// 账本事务提交后把事件塞进有界队列就返回；队列满了直接丢弃并记日志。
// 下游总线再慢、再挂，都不允许反压回账本写路径，更不允许让账本回滚。
// 这与账本本身的至少一次保证是刻意区分的两套语义。
//
// ============================================================================

const (
	EventNewPayment = "NEW_PAYMENT"
	EventNewBalance = "NEW_BALANCE"
	EventNewMember  = "NEW_MEMBER"
)

// Event 领域事件
type Event struct {
	EventID   string                 `json:"event_id"`
	Kind      string                 `json:"kind"`
	Key       string                 `json:"key"` // 分区键，一般是用户ID
	Body      map[string]interface{} `json:"body"`
	CreatedAt string                 `json:"created_at"`
}

// SendFunc 底层发送函数，生产环境接 Kafka，测试里可替换
type SendFunc func(topic, key, value string) error

// Notifier 有界异步通知队列
type Notifier struct {
	topics  map[string]string // 事件类型 -> topic
	queue   chan *Event
	send    SendFunc
	wg      sync.WaitGroup
	dropped int64
	mu      sync.Mutex
	closed  bool
}

// NewNotifier 创建通知器并启动后台发送协程
func NewNotifier(queueSize int, topics map[string]string, send SendFunc) *Notifier {
	if send == nil {
		send = mq.SendMessage
	}
	n := &Notifier{
		topics: topics,
		queue:  make(chan *Event, queueSize),
		send:   send,
	}

	n.wg.Add(1)
	go n.run()

	return n
}

func (n *Notifier) run() {
	defer n.wg.Done()

	for event := range n.queue {
		topic, ok := n.topics[event.Kind]
		if !ok {
			log.Printf("[Notifier] 未配置 topic 的事件类型: %s", event.Kind)
			continue
		}

		payload, err := json.Marshal(event)
		if err != nil {
			log.Printf("[Notifier] 事件序列化失败: kind=%s, err=%v", event.Kind, err)
			continue
		}

		// 发送失败只记日志，事件丢弃，绝不回抛给账本调用方
		if err := n.send(topic, event.Key, string(payload)); err != nil {
			log.Printf("[Notifier] 事件发送失败已丢弃: kind=%s, key=%s, err=%v", event.Kind, event.Key, err)
		}
	}
}

// Publish 投递事件（非阻塞）
//
// 【关键点】closed 判断和入队必须在同一个临界区里：
// 分开的话 Close 可能在判断之后、入队之前关掉 channel，
// 向已关闭 channel 发送的 panic 会直接炸回账本调用方。
// select + default 入队不阻塞，持锁的时间是常数级的
func (n *Notifier) Publish(kind, key string, body map[string]interface{}) {
	event := &Event{
		EventID:   uuid.NewString(),
		Kind:      kind,
		Key:       key,
		Body:      body,
		CreatedAt: time.Now().Format(time.RFC3339),
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return
	}

	select {
	case n.queue <- event:
	default:
		n.dropped++
		log.Printf("[Notifier] 队列已满，事件丢弃: kind=%s, key=%s, 累计丢弃=%d", kind, key, n.dropped)
	}
}

// Dropped 返回累计丢弃数（观测用）
func (n *Notifier) Dropped() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dropped
}

// Close 关闭队列并等待已入队事件发完
func (n *Notifier) Close(ctx context.Context) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	close(n.queue)
	n.mu.Unlock()

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		log.Println("[Notifier] 关闭超时，放弃剩余事件")
	}
}
