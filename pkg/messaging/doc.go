// Package messaging はサービス間の非同期イベント配信を提供する。
//
// 本番ではNATSのキューグループで配信し、同一サービスの複数インスタンスのうち
// 1つだけがイベントを処理する。テストではMemoryBusで同期的に配信する。
package messaging
