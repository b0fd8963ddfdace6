package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

type capturedMessage struct {
	topic string
	key   string
	value string
}

// collectSend 收集发送的消息，可注入阻塞与失败
type collectSend struct {
	mu       sync.Mutex
	messages []capturedMessage
	block    chan struct{} // 非 nil 时发送前阻塞
	fail     bool
}

func (c *collectSend) send(topic, key, value string) error {
	if c.block != nil {
		<-c.block
	}
	if c.fail {
		return errors.New("broker unavailable")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, capturedMessage{topic, key, value})
	return nil
}

func (c *collectSend) snapshot() []capturedMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]capturedMessage(nil), c.messages...)
}

var testTopics = map[string]string{
	EventNewPayment: "t.payment",
	EventNewBalance: "t.balance",
	EventNewMember:  "t.member",
}

func TestPublishDeliversWithTopicRouting(t *testing.T) {
	sink := &collectSend{}
	n := NewNotifier(8, testTopics, sink.send)

	n.Publish(EventNewPayment, "u1", map[string]interface{}{"payment_no": "PMT1"})
	n.Publish(EventNewBalance, "u2", map[string]interface{}{"balance_in_cents": 100})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	n.Close(ctx)

	got := sink.snapshot()
	if len(got) != 2 {
		t.Fatalf("消息数错误: %d", len(got))
	}
	if got[0].topic != "t.payment" || got[0].key != "u1" {
		t.Errorf("路由错误: %+v", got[0])
	}
	if got[1].topic != "t.balance" || got[1].key != "u2" {
		t.Errorf("路由错误: %+v", got[1])
	}

	var event Event
	if err := json.Unmarshal([]byte(got[0].value), &event); err != nil {
		t.Fatalf("事件不是合法 JSON: %v", err)
	}
	if event.EventID == "" || event.Kind != EventNewPayment {
		t.Errorf("事件字段缺失: %+v", event)
	}
	if event.Body["payment_no"] != "PMT1" {
		t.Errorf("事件体丢失: %+v", event.Body)
	}
}

// 队列满时丢弃而不是阻塞调用方
func TestPublishDropsOnOverflow(t *testing.T) {
	sink := &collectSend{block: make(chan struct{})}
	n := NewNotifier(1, testTopics, sink.send)

	// 第一条进入发送协程并阻塞，第二条占满队列，之后全部丢弃
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			n.Publish(EventNewPayment, "u1", nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish 被阻塞，违背非阻塞约定")
	}

	if n.Dropped() == 0 {
		t.Error("溢出时应有丢弃计数")
	}

	close(sink.block)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	n.Close(ctx)

	// 送达 + 丢弃 = 总量，没有重复投递
	if delivered := int64(len(sink.snapshot())); delivered+n.Dropped() != 10 {
		t.Errorf("送达 %d + 丢弃 %d != 10", delivered, n.Dropped())
	}
}

// 发送失败只丢弃，不重试、不外抛
func TestSendFailureIsSwallowed(t *testing.T) {
	sink := &collectSend{fail: true}
	n := NewNotifier(8, testTopics, sink.send)

	n.Publish(EventNewPayment, "u1", nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	n.Close(ctx)

	if got := sink.snapshot(); len(got) != 0 {
		t.Errorf("失败的发送不应计为送达: %d", len(got))
	}
}

// 关闭与投递并发时不允许 panic：迟到的事件静默丢弃
func TestPublishDuringCloseDoesNotPanic(t *testing.T) {
	sink := &collectSend{}
	n := NewNotifier(4, testTopics, sink.send)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				n.Publish(EventNewPayment, "u1", nil)
			}
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	n.Close(ctx)
	wg.Wait()

	// 送达数 + 丢弃数 <= 总投递数：没有重复，也没有炸掉的调用方
	if delivered := int64(len(sink.snapshot())); delivered+n.Dropped() > 8*200 {
		t.Errorf("送达 %d + 丢弃 %d 超过总投递数", delivered, n.Dropped())
	}
}

func TestPublishAfterCloseIsNoop(t *testing.T) {
	sink := &collectSend{}
	n := NewNotifier(8, testTopics, sink.send)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	n.Close(ctx)

	// 关闭后的投递静默忽略，不 panic
	n.Publish(EventNewPayment, "u1", nil)

	if got := sink.snapshot(); len(got) != 0 {
		t.Errorf("关闭后不应再送达: %d", len(got))
	}
}
