// Package httpclient はサービス間のHTTP通信を行うクライアントを提供する。
//
// 内部サービスから他サービスを呼び出す場合は必ずGateway経由とし、
// 呼び出し元のX-Session-Idをそのまま転送する。呼び出し先での認証と認可は
// Gatewayが改めて行う。
package httpclient
