// Package gateway はAPI Gatewayサービスの内部実装を提供する。
//
// 外部からアクセス可能な唯一のサービスであり、認証情報を検証する唯一の場所である。
// X-Session-Idヘッダーからセッションストアのセッションを引き、保存されたトークンを
// 検証してユーザー名の一致とロールを確認した後、検証済みのIDヘッダーと
// 信頼マーカーを付与して内部サービスに転送する。
// クライアントが送ってきたIDヘッダーは常に削除する。
package gateway
