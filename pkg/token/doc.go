// Package token はセッションに紐づくJWTの発行と検証を提供する。
//
// 署名はHS256のみを受け付ける。鍵はGatewayとユーザーサービスだけが保持し、
// 内部サービスはトークンを扱わない。
package token
