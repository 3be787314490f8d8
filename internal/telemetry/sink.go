package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Sink のデフォルト値。
const (
	DefaultQueueSize    = 1024
	DefaultWriteTimeout = 5 * time.Second
)

// Sink はログエントリを上限付きキューに積み、バックグラウンドワーカーで永続ストアへ書き込む。
// Record は呼び出し元をブロックせず、失敗を返さない。
type Sink struct {
	// store は書き込み先の永続ストア。
	store Store
	// diag は診断ログ。nilの場合は書き込まない。
	diag *DiagnosticLog
	// logger は書き込み失敗等のログ出力先。
	logger zerolog.Logger
	// queue は書き込み待ちのエントリ。
	queue chan LogEntry
	// writeTimeout は1件あたりの書き込みタイムアウト。
	writeTimeout time.Duration
	// dropped はキューが満杯で破棄したエントリ数。
	dropped prometheus.Counter
	// failed は永続ストアへの書き込みに失敗したエントリ数。
	failed prometheus.Counter

	// mu はqueueのクローズとRecordの送信を排他する。
	mu sync.RWMutex
	// closed はqueueをクローズ済みかどうか。
	closed bool
	// started はワーカーを起動済みかどうか。
	started bool
	// done はワーカーの終了を通知する。
	done chan struct{}
}

// SinkOption はSinkの設定を変更する関数。
type SinkOption func(*Sink)

// WithQueueSize はキューの容量を設定する。
func WithQueueSize(n int) SinkOption {
	return func(s *Sink) {
		if n > 0 {
			s.queue = make(chan LogEntry, n)
		}
	}
}

// WithWriteTimeout は1件あたりの書き込みタイムアウトを設定する。
func WithWriteTimeout(d time.Duration) SinkOption {
	return func(s *Sink) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// WithDiagnosticLog は診断ログの書き込み先を設定する。
func WithDiagnosticLog(d *DiagnosticLog) SinkOption {
	return func(s *Sink) {
		s.diag = d
	}
}

// WithCounters は破棄件数と書き込み失敗件数のカウンターを設定する。
func WithCounters(dropped, failed prometheus.Counter) SinkOption {
	return func(s *Sink) {
		s.dropped = dropped
		s.failed = failed
	}
}

// NewSink は新しいSinkを生成する。書き込みは Start を呼ぶまで開始しない。
func NewSink(store Store, logger zerolog.Logger, opts ...SinkOption) *Sink {
	s := &Sink{
		store:        store,
		logger:       logger,
		queue:        make(chan LogEntry, DefaultQueueSize),
		writeTimeout: DefaultWriteTimeout,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record はエントリを記録する。診断ログへは同期的に書き込み、永続ストアへの書き込みはキューに積む。
// キューが満杯の場合はエントリを破棄して警告を出す。停止後の呼び出しは診断ログのみ書き込む。
func (s *Sink) Record(entry LogEntry) {
	if s.diag != nil {
		if err := s.diag.Write(entry); err != nil {
			s.logger.Info().Err(err).Str("entry_id", entry.ID).Msg("診断ログの書き込みに失敗")
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.logger.Info().Str("entry_id", entry.ID).Msg("停止後のテレメトリを破棄しました")
		s.inc(s.dropped)
		return
	}

	select {
	case s.queue <- entry:
	default:
		s.logger.Info().Str("entry_id", entry.ID).Int("queue_size", cap(s.queue)).Msg("テレメトリキューが満杯のためエントリを破棄しました")
		s.inc(s.dropped)
	}
}

// Start はバックグラウンドで書き込みワーカーを開始する。二度目以降の呼び出しは何もしない。
func (s *Sink) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		s.logger.Info().Msg("テレメトリの書き込みを開始します")
		for entry := range s.queue {
			s.write(ctx, entry)
		}
		s.logger.Info().Msg("テレメトリの書き込みを停止しました")
	}()
}

// Stop は新しいエントリの受け付けを止め、キューに残ったエントリを書き込んでから戻る。
// ctxが先に終了した場合はそのエラーを返す。
func (s *Sink) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	started := s.started
	s.mu.Unlock()

	if !started {
		return nil
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending はキューに残っているエントリ数を返す。
func (s *Sink) Pending() int {
	return len(s.queue)
}

// write は1件を永続ストアへ書き込む。失敗はログに残して破棄する。
// 停止処理中も残りを書き込めるよう、親のキャンセルは引き継がない。
func (s *Sink) write(ctx context.Context, entry LogEntry) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.writeTimeout)
	defer cancel()

	if err := s.store.Append(ctx, entry); err != nil {
		s.logger.Info().Err(err).Str("entry_id", entry.ID).Str("path", entry.Path).Msg("テレメトリの書き込みに失敗")
		s.inc(s.failed)
	}
}

// inc はカウンターが設定されていれば加算する。
func (s *Sink) inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}
