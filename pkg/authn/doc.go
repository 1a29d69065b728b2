// Package authn はGatewayと内部サービス間の認証・信頼境界に関する共通定義を提供する。
//
// Gatewayが注入するヘッダー名、信頼マーカー、認証エラーの分類、
// パスごとのロール制御テーブル（Policy）、リクエストスコープのPrincipalを含む。
// Gatewayと各内部サービスの両方から参照され、ヘッダー契約の唯一の定義元となる。
package authn
