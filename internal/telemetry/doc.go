// Package telemetry はゲートウェイが処理したリクエストごとのログエントリを記録し、集計する。
//
// 記録はレスポンスの経路とは非同期に行う。Sink は上限付きのキューとバックグラウンドワーカーで
// 永続ストアへ書き込み、ストアが利用できない場合もクライアントへのレスポンスには影響させない。
// 永続ストアとは別に、診断用の1行をローカルの追記ファイルへ同期的に書き出す。
//
// 永続ストアは接続文字列のスキームで選択する。
//
//   - sqlite:<path>            SQLite（modernc.org/sqlite）
//   - postgres://, postgresql:// PostgreSQL（pgx）
//   - redis://, rediss://       Redis（タイムラインのソート済みセット + IDごとのキー）
//
// Aggregator は直近のエントリを読み込み、エンドポイントグループごとの件数と平均応答時間を計算する。
package telemetry
