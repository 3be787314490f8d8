package middleware

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTClaims はauthサービスが発行するJWTトークンのクレーム（ペイロード）を表す。
// gatewayはこのうち表示名に使える "username" と "user_id" のみを参照する。
type JWTClaims struct {
	jwt.RegisteredClaims
	// UserID は認証済みユーザーの一意識別子。
	UserID string `json:"user_id,omitempty"`
	// Username はユーザー名。
	Username string `json:"username,omitempty"`
}

// GenerateJWT はユーザー情報からHS256で署名したJWTトークンを生成する。
// ttlに負の値を指定すると有効期限切れのトークンになる。ローカル開発とテストで使用する。
func GenerateJWT(secret, userID, username string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "edgegate",
		},
		UserID:   userID,
		Username: username,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// IdentityKind はベアラートークンのデコード結果の種類を表す。
type IdentityKind int

const (
	// IdentityAbsent は認証ヘッダーが存在しないことを表す。
	IdentityAbsent IdentityKind = iota
	// IdentityValid は署名と有効期限の検証に成功したことを表す。
	IdentityValid
	// IdentityInvalid はトークンの形式不正・署名不一致・期限切れのいずれかを表す。
	IdentityInvalid
)

// 表示名として記録する固定値。
const (
	DisplayAnonymous    = "anonymous"
	DisplayInvalidToken = "invalid_token"
	DisplayUnknown      = "unknown"
)

// Identity はログ記録用に抽出したユーザー識別情報。
// 認可判断には使用しない。
type Identity struct {
	// Kind はデコード結果の種類。
	Kind IdentityKind
	// Name はクレームから取り出した表示名。Kindが IdentityValid の場合のみ意味を持つ。
	Name string
}

// DisplayName はテレメトリに記録する表示名を返す。
func (i Identity) DisplayName() string {
	switch i.Kind {
	case IdentityValid:
		if i.Name == "" {
			return DisplayUnknown
		}
		return i.Name
	case IdentityInvalid:
		return DisplayInvalidToken
	default:
		return DisplayAnonymous
	}
}

// IdentityExtractor はベアラートークンを共有シークレットで検証し、表示名を取り出す。
// I/Oを伴わない純粋な計算のみを行い、どのような入力でもパニックを外に漏らさない。
type IdentityExtractor struct {
	// secret はHS256の共有シークレット。
	secret []byte
	// parser はHS256のみを受け付けるJWTパーサー。
	parser *jwt.Parser
}

// NewIdentityExtractor は新しいIdentityExtractorを生成する。
func NewIdentityExtractor(secret string) *IdentityExtractor {
	return &IdentityExtractor{
		secret: []byte(secret),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}
}

// Extract はAuthorizationヘッダーの値から識別情報を取り出す。
// "Bearer " 接頭辞は省略可能。ヘッダーが空の場合は IdentityAbsent を返す。
func (e *IdentityExtractor) Extract(authHeader string) (id Identity) {
	if authHeader == "" {
		return Identity{Kind: IdentityAbsent}
	}

	defer func() {
		if r := recover(); r != nil {
			id = Identity{Kind: IdentityInvalid}
		}
	}()

	tokenString := strings.TrimPrefix(authHeader, "Bearer ")
	claims := jwt.MapClaims{}
	token, err := e.parser.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return e.secret, nil
	})
	if err != nil || !token.Valid {
		return Identity{Kind: IdentityInvalid}
	}

	name := claimString(claims, "username")
	if name == "" {
		name = claimString(claims, "user_id")
	}
	return Identity{Kind: IdentityValid, Name: name}
}

// claimString はクレームの値を表示用の文字列に変換する。
// 数値のuser_idを発行するauthサービスがあるため数値も受け付ける。
func claimString(claims jwt.MapClaims, key string) string {
	switch v := claims[key].(type) {
	case string:
		return v
	case float64:
		if v == 0 {
			return ""
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}
