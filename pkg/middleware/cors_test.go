package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

// newCORSRouter はCORSミドルウェアを適用したテスト用ルーターを生成する。
// ハンドラが呼ばれた回数をcalledに加算する。
func newCORSRouter(t *testing.T, origins []string, called *int) *gin.Engine {
	t.Helper()

	router := gin.New()
	router.Use(CORS(origins))
	handler := func(c *gin.Context) {
		*called++
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
	router.GET("/tasks", handler)
	router.OPTIONS("/tasks", handler)
	return router
}

// TestCORS はCORSミドルウェアを検証する。
func TestCORS(t *testing.T) {
	t.Parallel()

	origins := []string{"http://localhost:4200", "https://dashboard.example.com/"}

	tests := []struct {
		name       string
		method     string
		origin     string
		preflight  bool
		wantStatus int
		wantOrigin string
		wantCalled int
	}{
		{
			name:       "許可されたオリジンの単純リクエスト",
			method:     http.MethodGet,
			origin:     "http://localhost:4200",
			wantStatus: http.StatusOK,
			wantOrigin: "http://localhost:4200",
			wantCalled: 1,
		},
		{
			name:       "末尾スラッシュ付きで設定したオリジン",
			method:     http.MethodGet,
			origin:     "https://dashboard.example.com",
			wantStatus: http.StatusOK,
			wantOrigin: "https://dashboard.example.com",
			wantCalled: 1,
		},
		{
			name:       "許可されていないオリジンはヘッダーを付けずに処理すること",
			method:     http.MethodGet,
			origin:     "https://attacker.example.net",
			wantStatus: http.StatusOK,
			wantCalled: 1,
		},
		{
			name:       "許可されたオリジンのプリフライトは204で中断すること",
			method:     http.MethodOptions,
			origin:     "http://localhost:4200",
			preflight:  true,
			wantStatus: http.StatusNoContent,
			wantOrigin: "http://localhost:4200",
		},
		{
			name:       "許可されていないオリジンのプリフライトも204で中断すること",
			method:     http.MethodOptions,
			origin:     "https://attacker.example.net",
			preflight:  true,
			wantStatus: http.StatusNoContent,
		},
		{
			name:       "プリフライトでないOPTIONSは後続に渡すこと",
			method:     http.MethodOptions,
			origin:     "http://localhost:4200",
			wantStatus: http.StatusOK,
			wantOrigin: "http://localhost:4200",
			wantCalled: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			called := 0
			router := newCORSRouter(t, origins, &called)

			req := httptest.NewRequest(tt.method, "/tasks", nil)
			req.Header.Set("Origin", tt.origin)
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("ステータスコード = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
			if got := w.Header().Get("Vary"); got != "Origin" {
				t.Errorf("Vary = %q, want %q", got, "Origin")
			}
			if called != tt.wantCalled {
				t.Errorf("ハンドラの呼び出し回数 = %d, want %d", called, tt.wantCalled)
			}
		})
	}

	t.Run("プリフライトに許可メソッドと許可ヘッダーが設定されること", func(t *testing.T) {
		t.Parallel()

		called := 0
		router := newCORSRouter(t, origins, &called)

		req := httptest.NewRequest(http.MethodOptions, "/tasks", nil)
		req.Header.Set("Origin", "http://localhost:4200")
		req.Header.Set("Access-Control-Request-Method", http.MethodPatch)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if got := w.Header().Get("Access-Control-Allow-Methods"); got != corsAllowMethods {
			t.Errorf("Access-Control-Allow-Methods = %q, want %q", got, corsAllowMethods)
		}
		if got := w.Header().Get("Access-Control-Allow-Headers"); got != "Authorization, Content-Type" {
			t.Errorf("Access-Control-Allow-Headers = %q", got)
		}
		if got := w.Header().Get("Access-Control-Max-Age"); got != "86400" {
			t.Errorf("Access-Control-Max-Age = %q, want %q", got, "86400")
		}
	})

	t.Run("ワイルドカードで任意のオリジンを許可すること", func(t *testing.T) {
		t.Parallel()

		called := 0
		router := newCORSRouter(t, []string{"*"}, &called)

		req := httptest.NewRequest(http.MethodGet, "/tasks", nil)
		req.Header.Set("Origin", "https://anywhere.example.org")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://anywhere.example.org" {
			t.Errorf("Access-Control-Allow-Origin = %q", got)
		}
		if got := w.Header().Get("Access-Control-Expose-Headers"); got != corsExposeHeaders {
			t.Errorf("Access-Control-Expose-Headers = %q, want %q", got, corsExposeHeaders)
		}
	})

	t.Run("Originヘッダーが無い場合はCORSヘッダーを付けないこと", func(t *testing.T) {
		t.Parallel()

		called := 0
		router := newCORSRouter(t, origins, &called)

		req := httptest.NewRequest(http.MethodGet, "/tasks", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Header().Get("Access-Control-Allow-Origin") != "" || w.Header().Get("Vary") != "" {
			t.Errorf("CORSヘッダーが設定された: %v", w.Header())
		}
		if called != 1 {
			t.Errorf("ハンドラの呼び出し回数 = %d, want 1", called)
		}
	})
}
