package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndpointGroup(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path string
		want string
	}{
		{path: "/tasks", want: "/tasks"},
		{path: "/tasks/42", want: "/tasks"},
		{path: "/tasks/?done=true", want: "/tasks"},
		{path: "/auth/login", want: "/auth"},
		{path: "/user/profile/7", want: "/user"},
		{path: "/gateway/stats?limit=10", want: "/gateway/stats"},
		{path: "/unknown/path", want: "/unknown/path"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EndpointGroup(tt.path), tt.path)
	}
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	t.Run("エントリが0件の場合は平均が0になること", func(t *testing.T) {
		t.Parallel()

		snap := Summarize(nil)
		assert.Equal(t, 0, snap.TotalRequests)
		assert.Equal(t, 0.0, snap.AvgResponseTime)
		assert.Empty(t, snap.StatusCounts)
		assert.Empty(t, snap.Endpoints)
	})

	t.Run("平均応答時間が小数点以下3桁に丸められること", func(t *testing.T) {
		t.Parallel()

		entries := []LogEntry{
			{Path: "/tasks", Status: 200, DurationSeconds: 0.1},
			{Path: "/tasks/1", Status: 200, DurationSeconds: 0.2},
			{Path: "/tasks/2", Status: 404, DurationSeconds: 0.3},
		}
		snap := Summarize(entries)
		assert.Equal(t, 3, snap.TotalRequests)
		assert.Equal(t, 0.2, snap.AvgResponseTime)
		assert.Equal(t, EndpointStats{Hits: 3, AvgTime: 0.2}, snap.Endpoints["/tasks"])
	})

	t.Run("グループとステータスごとに集計されること", func(t *testing.T) {
		t.Parallel()

		entries := []LogEntry{
			{Path: "/auth/login", EndpointGroup: "/auth", Status: 200, DurationSeconds: 0.05},
			{Path: "/auth/login", EndpointGroup: "/auth", Status: 429, DurationSeconds: 0.002},
			{Path: "/user/me", EndpointGroup: "/user", Status: 200, DurationSeconds: 0.12},
			{Path: "/tasks?page=1", EndpointGroup: "/tasks", Status: 200, DurationSeconds: 0.3},
			{Path: "/tasks/9", EndpointGroup: "/tasks", Status: 502, DurationSeconds: 10.0},
			{Path: "/nowhere", EndpointGroup: "/nowhere", Status: 404, DurationSeconds: 0.0004},
		}

		snap := Summarize(entries)

		assert.Equal(t, 6, snap.TotalRequests)
		assert.Equal(t, map[string]int{"200": 3, "429": 1, "502": 1, "404": 1}, snap.StatusCounts)
		assert.Equal(t, 2, snap.Endpoints["/auth"].Hits)
		assert.Equal(t, 0.026, snap.Endpoints["/auth"].AvgTime)
		assert.Equal(t, 1, snap.Endpoints["/user"].Hits)
		assert.Equal(t, 0.12, snap.Endpoints["/user"].AvgTime)
		assert.Equal(t, 2, snap.Endpoints["/tasks"].Hits)
		assert.Equal(t, 5.15, snap.Endpoints["/tasks"].AvgTime)
		assert.Equal(t, 1, snap.Endpoints["/nowhere"].Hits)
		// (0.05+0.002+0.12+0.3+10+0.0004)/6 = 1.7454
		assert.Equal(t, 1.745, snap.AvgResponseTime)
	})

	t.Run("EndpointGroupが空の場合はパスから求めること", func(t *testing.T) {
		t.Parallel()

		snap := Summarize([]LogEntry{{Path: "/tasks/3?x=1", Status: 200, DurationSeconds: 1}})
		assert.Equal(t, 1, snap.Endpoints["/tasks"].Hits)
	})
}

// stubStore はRecentの結果を固定で返すテスト用ストア。
type stubStore struct {
	entries   []LogEntry
	err       error
	lastLimit int
}

func (s *stubStore) Append(context.Context, LogEntry) error { return nil }
func (s *stubStore) Ping(context.Context) error             { return nil }
func (s *stubStore) Close() error                           { return nil }
func (s *stubStore) Recent(_ context.Context, limit int) ([]LogEntry, error) {
	s.lastLimit = limit
	if s.err != nil {
		return nil, s.err
	}
	if limit < len(s.entries) {
		return s.entries[:limit], nil
	}
	return s.entries, nil
}

func TestAggregatorSnapshot(t *testing.T) {
	t.Parallel()

	t.Run("limit未指定の場合は設定済みのウィンドウで読み込むこと", func(t *testing.T) {
		t.Parallel()

		store := &stubStore{entries: []LogEntry{
			NewEntry("GET", "/tasks", 200, 100*time.Millisecond, "alice", time.Now()),
			NewEntry("GET", "/tasks", 200, 300*time.Millisecond, "alice", time.Now()),
		}}
		snap, err := NewAggregator(store, 10000).Snapshot(context.Background(), 0)
		require.NoError(t, err)
		assert.Equal(t, 10000, store.lastLimit)
		assert.Equal(t, 2, snap.TotalRequests)
		assert.Equal(t, 0.2, snap.AvgResponseTime)
	})

	t.Run("limitを指定した場合はその件数で読み込むこと", func(t *testing.T) {
		t.Parallel()

		store := &stubStore{}
		_, err := NewAggregator(store, 10000).Snapshot(context.Background(), 50)
		require.NoError(t, err)
		assert.Equal(t, 50, store.lastLimit)
	})

	t.Run("ストアのエラーを返すこと", func(t *testing.T) {
		t.Parallel()

		boom := errors.New("boom")
		_, err := NewAggregator(&stubStore{err: boom}, 10).Snapshot(context.Background(), 0)
		require.ErrorIs(t, err, boom)
	})
}
