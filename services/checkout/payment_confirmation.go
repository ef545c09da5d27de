package main

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// ConfirmPaymentRequest é o retorno do checkout do provedor repassado pelo cliente
type ConfirmPaymentRequest struct {
	OrderID           string `json:"order_id" binding:"required"`
	ProviderOrderID   string `json:"provider_order_id" binding:"required"`
	ProviderPaymentID string `json:"provider_payment_id" binding:"required"`
	ProviderSignature string `json:"provider_signature" binding:"required"`
}

// ConfirmPaymentResult indica se esta chamada fez a transição pending -> paid
type ConfirmPaymentResult struct {
	OK          bool        `json:"ok"`
	OrderStatus OrderStatus `json:"order_status"`
	// Transitioned é false em repetições idempotentes
	Transitioned bool `json:"-"`
}

// PaymentUseCase contém a lógica de confirmação de pagamentos
type PaymentUseCase struct {
	repository Repository
	gateway    PaymentGateway
	trigger    ShipmentTrigger
	logger     *zap.Logger
	metrics    *checkoutMetrics
}

// NewPaymentUseCase cria uma nova instância de PaymentUseCase
func NewPaymentUseCase(
	repository Repository,
	gateway PaymentGateway,
	trigger ShipmentTrigger,
	logger *zap.Logger,
) *PaymentUseCase {
	if trigger == nil {
		trigger = noopShipmentTrigger{}
	}
	return &PaymentUseCase{
		repository: repository,
		gateway:    gateway,
		trigger:    trigger,
		logger:     orNop(logger),
		metrics:    newCheckoutMetrics(),
	}
}

// ConfirmPayment verifica a assinatura e move o pedido para paid; repetições devolvem o mesmo sucesso
func (uc *PaymentUseCase) ConfirmPayment(ctx context.Context, req ConfirmPaymentRequest) (*ConfirmPaymentResult, error) {
	log := uc.logger.With(
		zap.String("order_id", req.OrderID),
		zap.String("provider_order_id", req.ProviderOrderID),
	)
	log.Info("➡️ [CONFIRM PAYMENT] received")

	// 1. Pedido precisa existir
	order, err := uc.repository.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}

	// 2. O pedido remoto precisa pertencer a este pedido
	attempt, err := uc.repository.GetPaymentAttempt(ctx, order.ID, req.ProviderOrderID)
	if err != nil {
		if errors.Is(err, ErrProviderOrderMismatch) {
			log.Warn("⚠️ [CONFIRM PAYMENT] provider order does not belong to order")
		}
		return nil, err
	}

	// 3. Idempotência: pedido já pago não é reverificado
	if order.Status.IsPaid() {
		log.Info("ℹ️ [IDEMPOTENCY] order already paid", zap.String("status", order.Status.String()))
		// ainda sem envio: o trigger da primeira confirmação pode ter falhado, dispara de novo
		if order.Status == OrderStatusPaid {
			uc.fireTrigger(ctx, log, order.ID)
		}
		return &ConfirmPaymentResult{OK: true, OrderStatus: order.Status}, nil
	}

	// 4. Assinatura
	if err := uc.gateway.VerifyConfirmation(req.ProviderOrderID, req.ProviderPaymentID, req.ProviderSignature); err != nil {
		if errors.Is(err, ErrSigningUnavailable) {
			log.Error("❌ [CONFIRM PAYMENT] cannot verify signature", zap.Error(err))
			return nil, err
		}
		uc.metrics.signatureFailures.Add(ctx, 1)
		if markErr := uc.repository.MarkPaymentAttemptFailed(ctx, attempt.ID,
			req.ProviderPaymentID, req.ProviderSignature, err.Error()); markErr != nil {
			log.Error("❌ [CONFIRM PAYMENT] failed to record failed attempt", zap.Error(markErr))
		}
		log.Warn("❌ [CONFIRM PAYMENT] signature rejected", zap.Error(err))
		if errors.Is(err, ErrInvalidSignature) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}

	// 5. Transição com lock pessimista
	transitioned, err := uc.repository.MarkOrderPaid(ctx, order.ID, attempt.ID, req.ProviderPaymentID, req.ProviderSignature)
	if err != nil {
		log.Error("❌ [CONFIRM PAYMENT] failed to mark order paid", zap.Error(err))
		return nil, persistenceError("failed to mark order paid", err)
	}

	if !transitioned {
		log.Info("ℹ️ [IDEMPOTENCY] concurrent confirmation already paid the order")
		return &ConfirmPaymentResult{OK: true, OrderStatus: OrderStatusPaid}, nil
	}

	uc.metrics.paymentsVerified.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", attempt.Provider)))
	log.Info("✅ [CONFIRM PAYMENT] order paid", zap.String("payment_id", req.ProviderPaymentID))

	// 6. Pós-pagamento: falha aqui não desfaz o pagamento
	uc.fireTrigger(ctx, log, order.ID)

	return &ConfirmPaymentResult{OK: true, OrderStatus: OrderStatusPaid, Transitioned: true}, nil
}

// fireTrigger só registra a falha; agendar o envio é idempotente e a próxima confirmação tenta de novo
func (uc *PaymentUseCase) fireTrigger(ctx context.Context, log *zap.Logger, orderID string) {
	if err := uc.trigger.OrderPaid(ctx, orderID); err != nil {
		log.Error("⚠️ [CONFIRM PAYMENT] shipment trigger failed", zap.Error(err))
	}
}
