// Package middleware はGinベースのgatewayで使用する共通ミドルウェアを提供する。
//
// ベアラートークンからのユーザー識別（ログ用途のみ、リクエストは拒否しない）、
// リクエストID付与、構造化リクエストログ、パニックリカバリ、
// CORS設定など、gatewayの全ルートで共通して使用する処理を含む。
package middleware
