package telemetry

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// 統計で1つにまとめるパスの接頭辞。
var groupPrefixes = []string{"/tasks", "/auth", "/user"}

// EndpointGroup は統計用にパスを正規化する。
// /tasks, /auth, /user で始まるパスはその接頭辞にまとめ、それ以外はクエリ文字列を除いたパスを返す。
func EndpointGroup(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	for _, prefix := range groupPrefixes {
		if strings.HasPrefix(path, prefix) {
			return prefix
		}
	}
	return path
}

// EndpointStats はエンドポイントグループごとの集計値。
type EndpointStats struct {
	// Hits はリクエスト数。
	Hits int `json:"hits"`
	// AvgTime は平均応答時間（秒、小数点以下3桁）。
	AvgTime float64 `json:"avg_time"`
}

// Snapshot はログエントリから計算した統計。保存はせず問い合わせごとに計算する。
type Snapshot struct {
	// TotalRequests は総リクエスト数。
	TotalRequests int `json:"total_requests"`
	// StatusCounts はステータスコードごとの件数。キーはステータスコードの文字列。
	StatusCounts map[string]int `json:"status_counts"`
	// AvgResponseTime は全体の平均応答時間（秒、小数点以下3桁）。
	AvgResponseTime float64 `json:"avg_response_time"`
	// Endpoints はエンドポイントグループごとの集計値。
	Endpoints map[string]EndpointStats `json:"endpoints"`
}

// Summarize はエントリの統計を計算する。エントリが0件の場合の平均は0とする。
func Summarize(entries []LogEntry) Snapshot {
	snap := Snapshot{
		TotalRequests: len(entries),
		StatusCounts:  make(map[string]int),
		Endpoints:     make(map[string]EndpointStats),
	}

	type acc struct {
		hits  int
		total float64
	}
	groups := make(map[string]*acc)
	var total float64

	for _, e := range entries {
		snap.StatusCounts[strconv.Itoa(e.Status)]++
		total += e.DurationSeconds

		group := e.EndpointGroup
		if group == "" {
			group = EndpointGroup(e.Path)
		}
		a, ok := groups[group]
		if !ok {
			a = &acc{}
			groups[group] = a
		}
		a.hits++
		a.total += e.DurationSeconds
	}

	if len(entries) > 0 {
		snap.AvgResponseTime = roundTo(total/float64(len(entries)), 3)
	}
	for group, a := range groups {
		snap.Endpoints[group] = EndpointStats{
			Hits:    a.hits,
			AvgTime: roundTo(a.total/float64(a.hits), 3),
		}
	}
	return snap
}

// Aggregator はストアから直近のエントリを読み込んで統計を計算する。
type Aggregator struct {
	// store は読み込み元のストア。
	store Store
	// window はデフォルトで読み込むエントリ数。
	window int
}

// NewAggregator は新しいAggregatorを生成する。
func NewAggregator(store Store, window int) *Aggregator {
	return &Aggregator{store: store, window: window}
}

// Snapshot は直近limit件の統計を返す。limitが0以下の場合は設定済みのウィンドウを使う。
func (a *Aggregator) Snapshot(ctx context.Context, limit int) (Snapshot, error) {
	if limit <= 0 {
		limit = a.window
	}
	entries, err := a.store.Recent(ctx, limit)
	if err != nil {
		return Snapshot{}, fmt.Errorf("統計用エントリの取得に失敗: %w", err)
	}
	return Summarize(entries), nil
}
