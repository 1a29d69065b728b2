// Package notification は通知サービスの内部実装を提供する。
//
// イベント駆動で通知を保存する。取引サービスが発行するNotificationRequestedイベントからは
// 取引を行ったユーザーへの通知を、在庫サービスが発行するLowStockAlertイベントからは
// 管理者全員への通知を作成する。通知の一覧取得や既読管理も行う。
package notification
