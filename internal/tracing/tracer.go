// Package tracing はOpenTelemetryのトレーサープロバイダーを初期化する。
package tracing

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// ShutdownFunc はトレーサープロバイダーを停止し、未送信のスパンを書き出す。
type ShutdownFunc func(context.Context) error

// Init は標準出力（またはw）へスパンを書き出すトレーサープロバイダーをグローバルに設定する。
// バックエンドへの転送はこのプロバイダーでスパンとして記録され、traceparentヘッダーが付与される。
func Init(serviceName string, w io.Writer, logger zerolog.Logger) (ShutdownFunc, error) {
	opts := []stdouttrace.Option{}
	if w != nil {
		opts = append(opts, stdouttrace.WithWriter(w))
	}
	exporter, err := stdouttrace.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("トレースエクスポーターの作成に失敗: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(attribute.String("service.name", serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("トレースリソースの作成に失敗: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	logger.Info().Str("service", serviceName).Msg("OpenTelemetryを初期化しました")

	return tp.Shutdown, nil
}
