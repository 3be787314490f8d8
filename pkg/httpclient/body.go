package httpclient

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net/url"
	"strings"
	"unicode/utf8"
)

// maxMultipartMemory はmultipartフォームの解析でメモリに保持する上限。
const maxMultipartMemory = 10 << 20

// BodyKind は転送するリクエストボディの種類。
type BodyKind int

const (
	// BodyNone はボディを送信しないことを表す。
	BodyNone BodyKind = iota
	// BodyJSON は構造化JSONとして送信することを表す。
	BodyJSON
	// BodyForm はフォームエンコードされたキーと値として送信することを表す。
	BodyForm
)

// Body は宣言されたContent-Typeから選択された転送用ボディ。
type Body struct {
	// Kind はボディの種類。
	Kind BodyKind
	// JSON は再シリアライズ済みのJSON。Kindが BodyJSON の場合のみ使用する。
	JSON []byte
	// MediaType はJSONのメディアタイプ（application/merge-patch+json等）。空の場合は application/json。
	MediaType string
	// Form はフォームの値。Kindが BodyForm の場合のみ使用する。
	Form url.Values
}

// ErrUnsupportedMediaType はサポートしていないContent-Typeが宣言されたことを表す。
var ErrUnsupportedMediaType = errors.New("サポートされていないContent-Typeです")

// InvalidBodyError は宣言されたContent-Typeとしてボディを解釈できなかったことを表す。
type InvalidBodyError struct {
	// MediaType は宣言されたメディアタイプ。
	MediaType string
	// Err は解析時のエラー。
	Err error
}

func (e *InvalidBodyError) Error() string {
	return fmt.Sprintf("%sとしてリクエストボディを解析できません: %v", e.MediaType, e.Err)
}

func (e *InvalidBodyError) Unwrap() error {
	return e.Err
}

// ParseBody はContent-Typeと生のボディから転送用ボディを組み立てる。
//
//   - application/json と application/*+json、またはContent-Type未指定で空でないボディは
//     JSONとして検証し再シリアライズする
//   - multipart/form-data と application/x-www-form-urlencoded はフォームの値として転送する
//   - それ以外のContent-Typeは ErrUnsupportedMediaType を返す
//
// 空のボディは、Content-Typeがサポート対象であれば BodyNone になる。
func ParseBody(contentType string, raw []byte) (Body, error) {
	if strings.TrimSpace(contentType) == "" {
		if len(raw) == 0 {
			return Body{Kind: BodyNone}, nil
		}
		return parseJSON("application/json", raw)
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return Body{}, fmt.Errorf("%w: %s", ErrUnsupportedMediaType, contentType)
	}

	switch {
	case isJSONMediaType(mediaType):
		if len(raw) == 0 {
			return Body{Kind: BodyNone}, nil
		}
		return parseJSON(mediaType, raw)
	case mediaType == "application/x-www-form-urlencoded":
		if len(raw) == 0 {
			return Body{Kind: BodyNone}, nil
		}
		values, err := url.ParseQuery(string(raw))
		if err != nil {
			return Body{}, &InvalidBodyError{MediaType: mediaType, Err: err}
		}
		return Body{Kind: BodyForm, Form: values}, nil
	case mediaType == "multipart/form-data":
		if len(raw) == 0 {
			return Body{Kind: BodyNone}, nil
		}
		return parseMultipart(mediaType, params["boundary"], raw)
	default:
		return Body{}, fmt.Errorf("%w: %s", ErrUnsupportedMediaType, mediaType)
	}
}

// isJSONMediaType は application/json または application/*+json（merge-patch+json等）かどうかを返す。
func isJSONMediaType(mediaType string) bool {
	if mediaType == "application/json" {
		return true
	}
	sub, ok := strings.CutPrefix(mediaType, "application/")
	return ok && strings.HasSuffix(sub, "+json") && len(sub) > len("+json")
}

// parseJSON はJSONの構文とUTF-8としての妥当性を検証し、空白を除いた形に再シリアライズする。
// キーの順序は保持する。
func parseJSON(mediaType string, raw []byte) (Body, error) {
	if !utf8.Valid(raw) {
		return Body{}, &InvalidBodyError{MediaType: mediaType, Err: errors.New("UTF-8として不正なバイト列が含まれています")}
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return Body{}, &InvalidBodyError{MediaType: mediaType, Err: err}
	}
	return Body{Kind: BodyJSON, JSON: buf.Bytes(), MediaType: mediaType}, nil
}

// parseMultipart はmultipartフォームのテキスト値のみを取り出す。ファイルパートは転送しない。
func parseMultipart(mediaType, boundary string, raw []byte) (Body, error) {
	if boundary == "" {
		return Body{}, &InvalidBodyError{MediaType: mediaType, Err: errors.New("boundaryが指定されていません")}
	}

	form, err := multipart.NewReader(bytes.NewReader(raw), boundary).ReadForm(maxMultipartMemory)
	if err != nil {
		return Body{}, &InvalidBodyError{MediaType: mediaType, Err: err}
	}
	defer func() { _ = form.RemoveAll() }()

	values := make(url.Values, len(form.Value))
	for key, vs := range form.Value {
		values[key] = append(values[key], vs...)
	}
	return Body{Kind: BodyForm, Form: values}, nil
}

// encode は送信用のボディとContent-Typeを返す。
func (b Body) encode() ([]byte, string) {
	switch b.Kind {
	case BodyJSON:
		if b.MediaType != "" {
			return b.JSON, b.MediaType
		}
		return b.JSON, "application/json"
	case BodyForm:
		return []byte(b.Form.Encode()), "application/x-www-form-urlencoded"
	default:
		return nil, ""
	}
}
