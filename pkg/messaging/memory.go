package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nao1215/smmsb/pkg/event"
)

// MemoryBus はプロセス内で同期的にイベントを配信するPublisherとSubscriberの実装。
// テストや単一プロセスでの動作確認に使用する。
type MemoryBus struct {
	mu        sync.Mutex
	handlers  map[event.Type][]Handler
	published []*event.Event
	// Err が設定されている場合、Publishはこのエラーを返す。
	Err error
}

// NewMemoryBus は新しいMemoryBusを生成する。
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{handlers: make(map[event.Type][]Handler)}
}

// Publish はイベントを記録し、登録済みのハンドラーを呼び出し元のgoroutineで実行する。
// NATSと同じくJSONを経由させ、ハンドラーには複製を渡す。
func (b *MemoryBus) Publish(ctx context.Context, e *event.Event) error {
	b.mu.Lock()
	if b.Err != nil {
		err := b.Err
		b.mu.Unlock()
		return err
	}
	b.published = append(b.published, e)
	handlers := append([]Handler(nil), b.handlers[e.EventType]...)
	b.mu.Unlock()

	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("イベントのシリアライズに失敗: %w", err)
	}
	for _, h := range handlers {
		copied, err := event.Decode(payload)
		if err != nil {
			return err
		}
		if err := h(ctx, copied); err != nil {
			return fmt.Errorf("イベント処理に失敗: %w", err)
		}
	}
	return nil
}

// Subscribe はハンドラーを登録する。queueは無視する。
func (b *MemoryBus) Subscribe(eventType event.Type, _ string, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], h)
	return nil
}

// Published は発行されたイベントの一覧を返す。
func (b *MemoryBus) Published() []*event.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*event.Event(nil), b.published...)
}

// PublishedOf は指定した種類の発行済みイベントを返す。
func (b *MemoryBus) PublishedOf(t event.Type) []*event.Event {
	var out []*event.Event
	for _, e := range b.Published() {
		if e.EventType == t {
			out = append(out, e)
		}
	}
	return out
}
