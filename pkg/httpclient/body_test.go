package httpclient

import (
	"bytes"
	"errors"
	"mime/multipart"
	"testing"
)

// TestParseBody はContent-Typeに応じたボディの選択を検証する。
func TestParseBody(t *testing.T) {
	t.Parallel()

	t.Run("application/jsonは再シリアライズされること", func(t *testing.T) {
		t.Parallel()

		body, err := ParseBody("application/json; charset=utf-8", []byte("{\n  \"title\": \"牛乳を買う\",\n  \"done\": false\n}"))
		if err != nil {
			t.Fatalf("ParseBody()でエラーが発生: %v", err)
		}
		if body.Kind != BodyJSON {
			t.Fatalf("Kind = %v, want %v", body.Kind, BodyJSON)
		}
		if got, want := string(body.JSON), `{"title":"牛乳を買う","done":false}`; got != want {
			t.Errorf("JSON = %s, want %s", got, want)
		}
	})

	t.Run("Content-Type未指定で空でないボディはJSONとして扱うこと", func(t *testing.T) {
		t.Parallel()

		body, err := ParseBody("", []byte(`[1, 2, 3]`))
		if err != nil {
			t.Fatalf("ParseBody()でエラーが発生: %v", err)
		}
		if body.Kind != BodyJSON {
			t.Errorf("Kind = %v, want %v", body.Kind, BodyJSON)
		}
	})

	t.Run("不正なJSONはInvalidBodyErrorになること", func(t *testing.T) {
		t.Parallel()

		for _, raw := range []string{`{"title":`, `not json`, `{} {}`} {
			_, err := ParseBody("application/json", []byte(raw))
			var invalid *InvalidBodyError
			if !errors.As(err, &invalid) {
				t.Errorf("ParseBody(%q) error = %v, want *InvalidBodyError", raw, err)
			}
		}
	})

	t.Run("UTF-8として不正なバイト列を含むJSONはInvalidBodyErrorになること", func(t *testing.T) {
		t.Parallel()

		_, err := ParseBody("application/json", []byte("{\"title\":\"\xff\xfe\"}"))
		var invalid *InvalidBodyError
		if !errors.As(err, &invalid) {
			t.Fatalf("error = %v, want *InvalidBodyError", err)
		}
		if invalid.MediaType != "application/json" {
			t.Errorf("MediaType = %q, want %q", invalid.MediaType, "application/json")
		}
	})

	t.Run("application/*+jsonはJSONとして扱いメディアタイプを保持すること", func(t *testing.T) {
		t.Parallel()

		body, err := ParseBody("application/merge-patch+json", []byte(`{ "done": true }`))
		if err != nil {
			t.Fatalf("ParseBody()でエラーが発生: %v", err)
		}
		if body.Kind != BodyJSON {
			t.Fatalf("Kind = %v, want %v", body.Kind, BodyJSON)
		}
		payload, contentType := body.encode()
		if string(payload) != `{"done":true}` {
			t.Errorf("payload = %s, want %s", payload, `{"done":true}`)
		}
		if contentType != "application/merge-patch+json" {
			t.Errorf("Content-Type = %q, want %q", contentType, "application/merge-patch+json")
		}

		for _, ct := range []string{"application/+json", "text/x+json"} {
			if _, err := ParseBody(ct, []byte(`{}`)); !errors.Is(err, ErrUnsupportedMediaType) {
				t.Errorf("ParseBody(%q) error = %v, want ErrUnsupportedMediaType", ct, err)
			}
		}
	})

	t.Run("Content-Type未指定で不正なJSONもInvalidBodyErrorになること", func(t *testing.T) {
		t.Parallel()

		_, err := ParseBody("", []byte("title=abc"))
		var invalid *InvalidBodyError
		if !errors.As(err, &invalid) {
			t.Errorf("error = %v, want *InvalidBodyError", err)
		}
	})

	t.Run("urlencodedフォームは値がすべて保持されること", func(t *testing.T) {
		t.Parallel()

		body, err := ParseBody("application/x-www-form-urlencoded", []byte("tag=a&tag=b&title=x"))
		if err != nil {
			t.Fatalf("ParseBody()でエラーが発生: %v", err)
		}
		if body.Kind != BodyForm {
			t.Fatalf("Kind = %v, want %v", body.Kind, BodyForm)
		}
		if got := body.Form["tag"]; len(got) != 2 {
			t.Errorf("tag = %v, want [a b]", got)
		}
		if got := body.Form.Get("title"); got != "x" {
			t.Errorf("title = %q, want %q", got, "x")
		}
	})

	t.Run("multipartフォームはテキスト値のみが取り出されること", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		if err := mw.WriteField("username", "alice"); err != nil {
			t.Fatalf("フィールドの書き込みに失敗: %v", err)
		}
		fw, err := mw.CreateFormFile("avatar", "a.png")
		if err != nil {
			t.Fatalf("ファイルパートの作成に失敗: %v", err)
		}
		_, _ = fw.Write([]byte{0x89, 0x50})
		if err := mw.Close(); err != nil {
			t.Fatalf("multipartのクローズに失敗: %v", err)
		}

		body, err := ParseBody(mw.FormDataContentType(), buf.Bytes())
		if err != nil {
			t.Fatalf("ParseBody()でエラーが発生: %v", err)
		}
		if body.Kind != BodyForm {
			t.Fatalf("Kind = %v, want %v", body.Kind, BodyForm)
		}
		if got := body.Form.Get("username"); got != "alice" {
			t.Errorf("username = %q, want %q", got, "alice")
		}
		if _, ok := body.Form["avatar"]; ok {
			t.Error("ファイルパートが含まれている")
		}
	})

	t.Run("boundaryの無いmultipartはInvalidBodyErrorになること", func(t *testing.T) {
		t.Parallel()

		_, err := ParseBody("multipart/form-data", []byte("--x\r\n"))
		var invalid *InvalidBodyError
		if !errors.As(err, &invalid) {
			t.Errorf("error = %v, want *InvalidBodyError", err)
		}
	})

	t.Run("サポート外のContent-TypeはErrUnsupportedMediaTypeになること", func(t *testing.T) {
		t.Parallel()

		for _, ct := range []string{"text/plain", "application/xml", "image/png", ";;;"} {
			_, err := ParseBody(ct, []byte("data"))
			if !errors.Is(err, ErrUnsupportedMediaType) {
				t.Errorf("ParseBody(%q) error = %v, want ErrUnsupportedMediaType", ct, err)
			}
		}
	})

	t.Run("空のボディはBodyNoneになること", func(t *testing.T) {
		t.Parallel()

		for _, ct := range []string{"", "application/json", "application/x-www-form-urlencoded"} {
			body, err := ParseBody(ct, nil)
			if err != nil {
				t.Errorf("ParseBody(%q)でエラーが発生: %v", ct, err)
				continue
			}
			if body.Kind != BodyNone {
				t.Errorf("ParseBody(%q).Kind = %v, want %v", ct, body.Kind, BodyNone)
			}
		}
	})
}
