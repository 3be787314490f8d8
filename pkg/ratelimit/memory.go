package ratelimit

import (
	"context"
	"sync"
	"time"
)

// memoryEntry はメモリ上で保持する1キー分のウィンドウ。
type memoryEntry struct {
	start  time.Time
	count  int
	window time.Duration
}

// MemoryStore はプロセス内のマップでウィンドウを管理するStore。
// 単一のミューテックスで加算と判定を直列化する。
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore は新しいMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*memoryEntry)}
}

// Increment はウィンドウが期限切れならリセットしてからカウンタを1加算する。
// now - start >= window のときウィンドウは期限切れとみなす。
func (s *MemoryStore) Increment(_ context.Context, key string, window time.Duration, now time.Time) (Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || now.Sub(e.start) >= window {
		e = &memoryEntry{start: now, window: window}
		s.entries[key] = e
	}
	e.count++

	return Window{Start: e.start, Count: e.count}, nil
}

// Sweep は期限切れのウィンドウを削除し、削除した件数を返す。
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, e := range s.entries {
		if now.Sub(e.start) >= e.window {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// Len は保持しているウィンドウ数を返す。
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// StartJanitor はバックグラウンドで定期的にSweepを実行する。
// ctxがキャンセルされると停止する。
func (s *MemoryStore) StartJanitor(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				s.Sweep(now)
			}
		}
	}()
}
