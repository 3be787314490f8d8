// Package httpclient はgatewayからバックエンドサービスへのリクエスト転送を提供する。
//
// 宣言されたContent-Typeに基づくリクエストボディの再構築、
// 接続ごとに意味を持つヘッダー（hop-by-hopヘッダー等）の除去、
// タイムアウト付きの送信と送信失敗の単一エラーへの変換を担当する。
// 失敗したリクエストの自動リトライは行わない。
package httpclient
