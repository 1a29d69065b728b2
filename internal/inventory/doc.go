// Package inventory は在庫サービスの内部実装を提供する。
//
// 商品の在庫を管理し、取引サービスが発行するStockUpdatedイベントを購読して
// 在庫数を減らす。在庫数がしきい値以下になった場合はLowStockAlertイベントを発行する。
package inventory
