package telemetry

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
)

// diagnosticTimeLayout は診断ログの日時形式。
const diagnosticTimeLayout = "2006-01-02 15:04:05"

// DiagnosticLog はエントリを人が読める1行としてローカルに追記する。
// 永続ストアとは独立した補助的な記録で、内容が一致することは保証しない。
type DiagnosticLog struct {
	// mu は書き込みを直列化するミューテックス。
	mu sync.Mutex
	// w は書き込み先。
	w io.Writer
	// closer はファイルを開いた場合のクローズ処理。
	closer io.Closer
}

// OpenDiagnosticLog は追記モードでファイルを開く。
func OpenDiagnosticLog(path string) (*DiagnosticLog, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("診断ログ %s のオープンに失敗: %w", path, err)
	}
	return &DiagnosticLog{w: f, closer: f}, nil
}

// NewDiagnosticLog は任意のWriterへ書き込むDiagnosticLogを生成する。
func NewDiagnosticLog(w io.Writer) *DiagnosticLog {
	return &DiagnosticLog{w: w}
}

// Write はエントリを1行書き込む。
func (d *DiagnosticLog) Write(e LogEntry) error {
	line := FormatDiagnosticLine(e)

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := io.WriteString(d.w, line+"\n"); err != nil {
		return fmt.Errorf("診断ログの書き込みに失敗: %w", err)
	}
	return nil
}

// Close はファイルを閉じる。Writerから生成した場合は何もしない。
func (d *DiagnosticLog) Close() error {
	if d.closer == nil {
		return nil
	}
	return d.closer.Close()
}

// FormatDiagnosticLine は診断ログの1行を返す。
//
//	2024-05-01 12:00:00 | INFO | GET /tasks?page=2 | Status: 200 | Time: 0.0123s | User: alice
func FormatDiagnosticLine(e LogEntry) string {
	return fmt.Sprintf("%s | INFO | %s %s | Status: %d | Time: %ss | User: %s",
		e.Timestamp.UTC().Format(diagnosticTimeLayout),
		e.Method,
		e.Path,
		e.Status,
		strconv.FormatFloat(e.DurationSeconds, 'f', -1, 64),
		e.User,
	)
}
