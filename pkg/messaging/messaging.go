package messaging

import (
	"context"

	"github.com/nao1215/smmsb/pkg/event"
)

// Publisher はイベントを発行する。
type Publisher interface {
	Publish(ctx context.Context, e *event.Event) error
}

// Handler は受信したイベントを処理する。
type Handler func(ctx context.Context, e *event.Event) error

// Subscriber はイベント種類ごとにハンドラーを登録する。
type Subscriber interface {
	// Subscribe はqueueをキューグループとしてイベントを購読する。
	Subscribe(eventType event.Type, queue string, h Handler) error
}
