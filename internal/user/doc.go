// Package user はユーザーサービスの内部実装を提供する。
//
// ユーザーの登録・参照・更新・削除と、ログイン・ログアウトを担当する。
// ログインに成功するとトークンを発行し、セッションストアにセッションを作成して
// セッションIDをクライアントに返す。以降のリクエストの検証はGatewayが行う。
package user
