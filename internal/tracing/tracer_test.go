package tracing

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
)

// TestInit はスパンが書き出されることを検証する。グローバルなプロバイダーを変更するため並列実行しない。
func TestInit(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := Init("edgegate-test", &buf, zerolog.Nop())
	if err != nil {
		t.Fatalf("Init()でエラーが発生: %v", err)
	}

	_, span := otel.Tracer("test").Start(context.Background(), "forward")
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown()でエラーが発生: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, `"Name":"forward"`) {
		t.Errorf("スパンが出力されていない: %s", out)
	}
	if !strings.Contains(out, "edgegate-test") {
		t.Errorf("サービス名が出力されていない: %s", out)
	}
}
