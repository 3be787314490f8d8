// 開発用のJWTを発行するコマンド。
// ゲートウェイと同じ GATEWAY_JWT_SECRET（.env を含む）で署名するため、ローカルで表示名の記録を確認できる。
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/nao1215/edgegate/internal/config"
	"github.com/nao1215/edgegate/pkg/middleware"
)

func main() {
	_ = godotenv.Load()

	secret := os.Getenv(config.EnvPrefix + "JWT_SECRET")
	if secret == "" {
		secret = config.DefaultJWTSecret
	}

	username := flag.String("username", "dev", "usernameクレーム")
	userID := flag.String("user-id", "", "user_idクレーム")
	ttl := flag.Duration("ttl", time.Hour, "有効期間（負の値で期限切れのトークン）")
	flag.StringVar(&secret, "secret", secret, "署名に使う共有シークレット")
	flag.Parse()

	token, err := middleware.GenerateJWT(secret, *userID, *username, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
