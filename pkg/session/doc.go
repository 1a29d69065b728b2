// Package session はログインセッションの保存と参照を提供する。
//
// セッションはRedisのハッシュ "AuthSession:<id>" にユーザー名・トークン・ロールを持ち、
// キーのTTLで失効する。Gatewayは参照のみを行い、作成と削除はユーザーサービスの
// Managerが担う。
package session
