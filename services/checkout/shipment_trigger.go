package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/dtm-labs/client/dtmcli"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ShipmentTrigger decide o que acontece depois que um pedido é pago
type ShipmentTrigger interface {
	OrderPaid(ctx context.Context, orderID string) error
}

// ShipmentBooker é a parte do orquestrador usada pelos triggers
type ShipmentBooker interface {
	BookShipment(ctx context.Context, orderID string) (*Shipment, error)
}

// ShipmentActionRequest é o payload que o DTM entrega em /api/shipments/dtm
type ShipmentActionRequest struct {
	OrderID string `json:"order_id" binding:"required"`
	// DTM não propaga headers W3C, então o contexto de trace viaja no payload
	TraceID string `json:"trace_id,omitempty"`
	SpanID  string `json:"span_id,omitempty"`
}

// NewShipmentTrigger escolhe o trigger a partir de SHIPMENT_TRIGGER
func NewShipmentTrigger(cfg TriggerConfig, booker ShipmentBooker, logger *zap.Logger) (ShipmentTrigger, error) {
	switch cfg.Mode {
	case "", "none":
		return noopShipmentTrigger{}, nil
	case "sync":
		return &syncShipmentTrigger{booker: booker, logger: orNop(logger)}, nil
	case "dtm":
		return NewDTMShipmentTrigger(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown shipment trigger %q", cfg.Mode)
	}
}

// noopShipmentTrigger deixa o agendamento para o cliente via POST /api/shipments
type noopShipmentTrigger struct{}

func (noopShipmentTrigger) OrderPaid(context.Context, string) error { return nil }

// syncShipmentTrigger agenda o envio na mesma requisição da confirmação
type syncShipmentTrigger struct {
	booker ShipmentBooker
	logger *zap.Logger
}

func (t *syncShipmentTrigger) OrderPaid(ctx context.Context, orderID string) error {
	shipment, err := t.booker.BookShipment(ctx, orderID)
	if err != nil {
		return fmt.Errorf("failed to book shipment: %w", err)
	}
	t.logger.Info("🚚 [SHIPMENT TRIGGER] booked synchronously",
		zap.String("order_id", orderID), zap.String("awb_code", shipment.AWBCode))
	return nil
}

// DTMShipmentTrigger registra uma mensagem confiável no DTM; o servidor chama
// /api/shipments/dtm com retries até o agendamento dar certo
type DTMShipmentTrigger struct {
	server        string
	serviceURL    string
	retryInterval int64
	logger        *zap.Logger
}

func NewDTMShipmentTrigger(cfg TriggerConfig, logger *zap.Logger) *DTMShipmentTrigger {
	return &DTMShipmentTrigger{
		server:        cfg.DTMServer,
		serviceURL:    strings.TrimRight(cfg.ServiceURL, "/"),
		retryInterval: cfg.RetryInterval,
		logger:        orNop(logger),
	}
}

// OrderPaid submete a mensagem; o gid é derivado do pedido para que o DTM rejeite duplicatas
func (t *DTMShipmentTrigger) OrderPaid(ctx context.Context, orderID string) error {
	gid := "shipment-" + orderID

	ctx, span := CreateDTMMsgSpan(ctx, "submit_shipment_msg", gid)
	defer span.End()

	payload := ShipmentActionRequest{OrderID: orderID}
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		payload.TraceID = sc.TraceID().String()
		payload.SpanID = sc.SpanID().String()
	}

	msg := dtmcli.NewMsg(t.server, gid).
		Add(t.serviceURL+"/api/shipments/dtm", &payload)
	if t.retryInterval > 0 {
		msg.RetryInterval = t.retryInterval
	}

	if err := msg.Submit(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to submit dtm msg %s: %w", gid, err)
	}

	t.logger.Info("🚀 [SHIPMENT TRIGGER] dtm msg submitted",
		zap.String("order_id", orderID), zap.String("gid", gid), zap.String("trace_id", payload.TraceID))
	return nil
}
