// Package gateway はエッジゲートウェイのHTTPサーバーを提供する。
//
// パスの接頭辞でauth・user・taskの各バックエンドを選択し、レート制限、ボディの解釈、
// ヘッダーのフィルタリングを経て転送する。すべてのリクエストについて、レスポンスの確定後に
// テレメトリへ1件のエントリを記録する。記録したエントリの統計は /gateway/stats で返す。
//
// ゲートウェイ自身は認可判断を行わない。ベアラートークンはログに記録する表示名の取得にのみ使う。
package gateway
