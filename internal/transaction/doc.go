// Package transaction は取引サービスの内部実装を提供する。
//
// 取引の作成時にはGateway経由で在庫サービスから商品情報を取得する。
// このとき呼び出し元のセッションIDをそのまま転送するため、在庫サービスへの
// 呼び出しもGatewayで認証・認可される。取引を保存した後、在庫を減らすための
// StockUpdatedイベントと、利用者への通知要求を発行する。
package transaction
