// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// 内部サービスはGatewayTrustで信頼マーカーを検証し、Identityで
// Gatewayが注入したIDヘッダーからPrincipalを構築する。
// リクエストログ、パニックリカバリ、CORS設定もここに置く。
package middleware
