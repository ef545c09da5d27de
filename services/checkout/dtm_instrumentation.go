package main

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// CreateDTMMsgSpan cria um span para operações de mensagem do DTM
func CreateDTMMsgSpan(ctx context.Context, operationName string, gid string) (context.Context, trace.Span) {
	tracer := otel.Tracer("dtm-msg")
	ctx, span := tracer.Start(ctx, "dtm."+operationName)

	span.SetAttributes(
		attribute.String("dtm.gid", gid),
		attribute.String("dtm.operation", operationName),
		attribute.String("component", "dtm-coordinator"),
	)

	return ctx, span
}

// startSpanFromPayload reconstrói o trace que veio no payload do DTM e abre um span filho
func startSpanFromPayload(ctx context.Context, operationName string, req ShipmentActionRequest) (context.Context, trace.Span) {
	if req.TraceID != "" && req.SpanID != "" {
		traceID, errTrace := trace.TraceIDFromHex(req.TraceID)
		spanID, errSpan := trace.SpanIDFromHex(req.SpanID)
		if errTrace == nil && errSpan == nil {
			spanContext := trace.NewSpanContext(trace.SpanContextConfig{
				TraceID:    traceID,
				SpanID:     spanID,
				TraceFlags: trace.FlagsSampled,
				Remote:     true,
			})
			ctx = trace.ContextWithSpanContext(ctx, spanContext)
		}
	}

	return otel.Tracer(instrumentationName).Start(ctx, operationName)
}
