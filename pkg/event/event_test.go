package event

import (
	"encoding/json"
	"testing"
	"time"
)

// TestNew はイベントの生成を検証する。
func TestNew(t *testing.T) {
	t.Parallel()

	before := time.Now().UTC()
	ev, err := New("transaction-service", "10", AggregateTypeTransaction, TypeStockUpdated,
		StockUpdatedData{ProductID: 3, Quantity: 2, TransactionID: 10, UserID: 7})
	if err != nil {
		t.Fatalf("New()でエラーが発生: %v", err)
	}

	if ev.ID == "" {
		t.Error("IDが空文字列")
	}
	if ev.Source != "transaction-service" || ev.AggregateID != "10" || ev.EventType != TypeStockUpdated {
		t.Errorf("Event = %+v", ev)
	}
	if ev.CreatedAt.Before(before) {
		t.Errorf("CreatedAt = %v, want after %v", ev.CreatedAt, before)
	}

	data, err := DecodeData[StockUpdatedData](ev)
	if err != nil {
		t.Fatalf("DecodeData()でエラーが発生: %v", err)
	}
	if data.ProductID != 3 || data.Quantity != 2 {
		t.Errorf("data = %+v", data)
	}

	if _, err := New("x", "1", AggregateTypeProduct, TypeLowStockAlert, make(chan int)); err == nil {
		t.Error("シリアライズできないデータはエラーになるべき")
	}
}

// TestDecode はメッセージ本文からのデシリアライズを検証する。
func TestDecode(t *testing.T) {
	t.Parallel()

	t.Run("送信したイベントを復元できること", func(t *testing.T) {
		t.Parallel()

		userID := int64(5)
		ev, err := New("inventory-service", "3", AggregateTypeProduct, TypeNotificationRequested,
			NotificationRequestedData{UserID: &userID, Message: "在庫不足", Type: NotificationTypeLowStock})
		if err != nil {
			t.Fatalf("New()でエラーが発生: %v", err)
		}
		payload, err := json.Marshal(ev)
		if err != nil {
			t.Fatalf("シリアライズに失敗: %v", err)
		}

		got, err := Decode(payload)
		if err != nil {
			t.Fatalf("Decode()でエラーが発生: %v", err)
		}
		data, err := DecodeData[NotificationRequestedData](got)
		if err != nil {
			t.Fatalf("DecodeData()でエラーが発生: %v", err)
		}
		if data.UserID == nil || *data.UserID != 5 || data.Type != NotificationTypeLowStock {
			t.Errorf("data = %+v", data)
		}
	})

	t.Run("user_idが無い場合はnilになること", func(t *testing.T) {
		t.Parallel()

		got, err := Decode([]byte(`{"id":"e1","event_type":"NotificationRequested","data":{"message":"hi","type":"SYSTEM"}}`))
		if err != nil {
			t.Fatalf("Decode()でエラーが発生: %v", err)
		}
		data, err := DecodeData[NotificationRequestedData](got)
		if err != nil {
			t.Fatalf("DecodeData()でエラーが発生: %v", err)
		}
		if data.UserID != nil {
			t.Errorf("UserID = %v, want nil", *data.UserID)
		}
	})

	errorCases := map[string]string{
		"JSONではない":  "not-json",
		"イベント種類が空": `{"id":"e1","data":{}}`,
	}
	for name, payload := range errorCases {
		t.Run(name+"の場合にエラーが返ること", func(t *testing.T) {
			t.Parallel()

			if _, err := Decode([]byte(payload)); err == nil {
				t.Fatal("Decode()がエラーを返すべきだが、nilが返った")
			}
		})
	}
}

// TestSubject はサブジェクト名を検証する。
func TestSubject(t *testing.T) {
	t.Parallel()

	if got := TypeStockUpdated.Subject(); got != "smmsb.events.StockUpdated" {
		t.Errorf("Subject() = %q", got)
	}
}
