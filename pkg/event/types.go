package event

import (
	"encoding/json"
	"time"
)

// AggregateType はイベントの対象となるエンティティの種類を表す。
type AggregateType string

const (
	// AggregateTypeProduct は在庫商品エンティティを表す。
	AggregateTypeProduct AggregateType = "Product"
	// AggregateTypeTransaction は取引エンティティを表す。
	AggregateTypeTransaction AggregateType = "Transaction"
	// AggregateTypeNotification は通知エンティティを表す。
	AggregateTypeNotification AggregateType = "Notification"
)

// Type はイベントの種類を表す。
type Type string

const (
	// TypeStockUpdated は取引によって在庫数を減らす必要があることを表す。
	TypeStockUpdated Type = "StockUpdated"
	// TypeLowStockAlert は在庫数がしきい値以下になったことを表す。
	TypeLowStockAlert Type = "LowStockAlert"
	// TypeNotificationRequested は通知の作成が要求されたことを表す。
	TypeNotificationRequested Type = "NotificationRequested"
)

// subjectPrefix はメッセージングのサブジェクトの共通プレフィックス。
const subjectPrefix = "smmsb.events."

// Subject はイベント種類に対応するメッセージングのサブジェクトを返す。
func (t Type) Subject() string {
	return subjectPrefix + string(t)
}

// Event はサービス間で非同期に受け渡すイベントの共通エンベロープ。
type Event struct {
	// ID はイベントの一意識別子（UUID）。
	ID string `json:"id"`
	// AggregateID は対象エンティティの識別子。
	AggregateID string `json:"aggregate_id"`
	// AggregateType は対象エンティティの種類。
	AggregateType AggregateType `json:"aggregate_type"`
	// EventType はイベントの種類。
	EventType Type `json:"event_type"`
	// Source はイベントを発行したサービス名。
	Source string `json:"source"`
	// Data はイベント固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data"`
	// CreatedAt はイベントが作成された日時。
	CreatedAt time.Time `json:"created_at"`
}

// StockUpdatedData はStockUpdatedイベントのデータ。
type StockUpdatedData struct {
	// ProductID は対象商品のID。
	ProductID int64 `json:"product_id"`
	// Quantity は減らす数量。
	Quantity int `json:"quantity"`
	// TransactionID は原因となった取引のID。
	TransactionID int64 `json:"transaction_id"`
	// UserID は取引を行ったユーザーのID。
	UserID int64 `json:"user_id"`
}

// LowStockAlertData はLowStockAlertイベントのデータ。
type LowStockAlertData struct {
	// ProductID は対象商品のID。
	ProductID int64 `json:"product_id"`
	// ProductName は商品名。
	ProductName string `json:"product_name"`
	// Quantity は現在の在庫数。
	Quantity int `json:"quantity"`
	// Threshold は在庫不足と判定したしきい値。
	Threshold int `json:"threshold"`
}

// NotificationType は通知の種類。
type NotificationType string

const (
	// NotificationTypeTransaction は取引完了の通知。
	NotificationTypeTransaction NotificationType = "TRANSACTION"
	// NotificationTypeLowStock は在庫不足の通知。
	NotificationTypeLowStock NotificationType = "LOW_STOCK"
	// NotificationTypeSystem はその他のシステム通知。
	NotificationTypeSystem NotificationType = "SYSTEM"
)

// NotificationRequestedData はNotificationRequestedイベントのデータ。
type NotificationRequestedData struct {
	// UserID は通知先のユーザーID。nilの場合は管理者全員への通知。
	UserID *int64 `json:"user_id,omitempty"`
	// Message は通知メッセージ。
	Message string `json:"message"`
	// Type は通知の種類。
	Type NotificationType `json:"type"`
}
