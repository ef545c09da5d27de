package main

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "checkout-service"

// checkoutMetrics agrupa os contadores de negócio do serviço
type checkoutMetrics struct {
	ordersCreated      metric.Int64Counter
	paymentsVerified   metric.Int64Counter
	signatureFailures  metric.Int64Counter
	shipmentsBooked    metric.Int64Counter
	shipmentStepErrors metric.Int64Counter
}

// newCheckoutMetrics usa o MeterProvider global; sem provider configurado os contadores são no-op
func newCheckoutMetrics() *checkoutMetrics {
	meter := otel.Meter(instrumentationName)

	// erros só acontecem com nomes inválidos; o contador devolvido continua utilizável
	ordersCreated, _ := meter.Int64Counter("checkout.orders.created",
		metric.WithDescription("Orders created with a remote payment order"))
	paymentsVerified, _ := meter.Int64Counter("checkout.payments.verified",
		metric.WithDescription("Payment confirmations that moved an order to paid"))
	signatureFailures, _ := meter.Int64Counter("checkout.payments.signature_failures",
		metric.WithDescription("Payment confirmations rejected by signature verification"))
	shipmentsBooked, _ := meter.Int64Counter("checkout.shipments.booked",
		metric.WithDescription("Shipments that reached pickup_scheduled"))
	shipmentStepErrors, _ := meter.Int64Counter("checkout.shipments.step_failures",
		metric.WithDescription("Courier step failures by step"))

	return &checkoutMetrics{
		ordersCreated:      ordersCreated,
		paymentsVerified:   paymentsVerified,
		signatureFailures:  signatureFailures,
		shipmentsBooked:    shipmentsBooked,
		shipmentStepErrors: shipmentStepErrors,
	}
}
