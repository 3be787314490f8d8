package telemetry

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// LogEntry は1件のリクエストの記録。一度書き込んだ後は変更しない。
type LogEntry struct {
	// ID はエントリの一意識別子（UUIDv7のため生成順に並ぶ）。
	ID string `json:"id"`
	// Timestamp はレスポンスが確定した日時（UTC）。
	Timestamp time.Time `json:"timestamp"`
	// Method はHTTPメソッド。
	Method string `json:"method"`
	// Path はクエリ文字列を含むリクエストパス。
	Path string `json:"path"`
	// EndpointGroup は統計用に正規化したパス。
	EndpointGroup string `json:"endpoint_group"`
	// Status はクライアントへ返したステータスコード。
	Status int `json:"status"`
	// DurationSeconds は処理時間（秒、小数点以下4桁）。
	DurationSeconds float64 `json:"duration_seconds"`
	// User はベアラートークンから取り出した表示名。
	User string `json:"user"`
}

// NewEntry は完了したリクエストからLogEntryを生成する。
// fullPath はクエリ文字列を含むパス、now はレスポンスが確定した時刻。
func NewEntry(method, fullPath string, status int, duration time.Duration, user string, now time.Time) LogEntry {
	return LogEntry{
		ID:              newEntryID(),
		Timestamp:       now.UTC().Truncate(time.Microsecond),
		Method:          method,
		Path:            fullPath,
		EndpointGroup:   EndpointGroup(fullPath),
		Status:          status,
		DurationSeconds: roundTo(duration.Seconds(), 4),
		User:            user,
	}
}

// newEntryID はUUIDv7を生成する。乱数源の読み取りに失敗した場合はUUIDv4にする。
func newEntryID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// roundTo はvを小数点以下places桁に四捨五入する。
func roundTo(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
