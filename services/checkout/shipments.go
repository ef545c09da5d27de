package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// ShipmentOrchestrator executa a saga create -> awb -> pickup na transportadora.
// A linha em shipments é criada antes de qualquer chamada externa e cada etapa
// grava seus identificadores, então uma nova chamada retoma de onde parou.
type ShipmentOrchestrator struct {
	repository Repository
	courier    Courier
	lease      time.Duration
	logger     *zap.Logger
	metrics    *checkoutMetrics
	now        func() time.Time
}

// NewShipmentOrchestrator cria uma nova instância de ShipmentOrchestrator
func NewShipmentOrchestrator(repository Repository, courier Courier, lease time.Duration, logger *zap.Logger) *ShipmentOrchestrator {
	if lease <= 0 {
		lease = 2 * time.Minute
	}
	return &ShipmentOrchestrator{
		repository: repository,
		courier:    courier,
		lease:      lease,
		logger:     orNop(logger),
		metrics:    newCheckoutMetrics(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// BookShipment agenda o envio de um pedido pago; chamadas repetidas devolvem o mesmo shipment
func (o *ShipmentOrchestrator) BookShipment(ctx context.Context, orderID string) (*Shipment, error) {
	log := o.logger.With(zap.String("order_id", orderID))

	order, err := o.repository.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.Status.IsPaid() {
		return nil, fmt.Errorf("%w: order is %s", ErrInvalidState, order.Status)
	}
	verified, err := o.repository.HasVerifiedPayment(ctx, orderID)
	if err != nil {
		return nil, persistenceError("failed to check payment", err)
	}
	if !verified {
		return nil, fmt.Errorf("%w: order has no verified payment", ErrInvalidState)
	}

	// 1. Âncora: uma única linha por pedido, antes de qualquer chamada externa
	shipment, err := o.repository.AnchorShipment(ctx, orderID, o.courier.Name())
	if err != nil {
		return nil, persistenceError("failed to anchor shipment", err)
	}
	if shipment.IsComplete() {
		log.Info("ℹ️ [IDEMPOTENCY] shipment already scheduled", zap.String("awb_code", shipment.AWBCode))
		return shipment, nil
	}

	// 2. Lease: só um chamador executa a saga por vez
	shipment, claimed, err := o.repository.ClaimShipment(ctx, orderID, o.lease)
	if err != nil {
		return nil, persistenceError("failed to claim shipment", err)
	}
	if !claimed {
		if shipment.IsComplete() {
			return shipment, nil
		}
		log.Info("⏳ [BOOK SHIPMENT] another caller holds the lease")
		return shipment, ErrShipmentInProgress
	}
	defer func() {
		if err := o.repository.ReleaseShipment(context.WithoutCancel(ctx), shipment); err != nil {
			log.Error("❌ [BOOK SHIPMENT] failed to release lease", zap.Error(err))
		}
	}()

	log.Info("➡️ [BOOK SHIPMENT] running saga",
		zap.String("next_step", shipment.NextStep()), zap.Int("attempt", shipment.Attempts))

	for step := shipment.NextStep(); step != ""; step = shipment.NextStep() {
		// renova o lease e limita a chamada externa a ele: a etapa nunca sobrevive ao próprio lease
		if err := o.repository.RenewShipment(ctx, shipment, o.lease); err != nil {
			if errors.Is(err, ErrShipmentLeaseLost) {
				log.Warn("⚠️ [BOOK SHIPMENT] lease taken over by another caller", zap.String("step", step))
				return shipment, err
			}
			return shipment, persistenceError("failed to renew shipment lease", err)
		}
		remote, cancel := context.WithTimeout(ctx, o.stepBudget())

		var err error
		switch step {
		case StepCreateShipment:
			err = o.createShipment(ctx, remote, order, shipment)
		case StepAssignAWB:
			err = o.assignAWB(ctx, remote, shipment)
		case StepSchedulePickup:
			err = o.schedulePickup(ctx, remote, shipment)
		}
		cancel()
		if err != nil {
			return shipment, err
		}
	}

	// 3. Pickup agendado: shipment e pedido mudam na mesma transação
	entry := shipment.Diagnostics[StepSchedulePickup]
	if err := o.repository.CompleteShipment(ctx, shipment, entry); err != nil {
		if errors.Is(err, ErrShipmentLeaseLost) {
			return shipment, err
		}
		log.Error("❌ [BOOK SHIPMENT] failed to complete shipment", zap.Error(err))
		return shipment, persistenceError("failed to complete shipment", err)
	}

	o.metrics.shipmentsBooked.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", shipment.Provider)))
	log.Info("✅ [BOOK SHIPMENT] pickup scheduled",
		zap.String("awb_code", shipment.AWBCode), zap.String("courier", shipment.CourierName))
	return shipment, nil
}

// stepBudget deixa uma folga antes do fim do lease para gravar o resultado da etapa
func (o *ShipmentOrchestrator) stepBudget() time.Duration {
	return o.lease - o.lease/10
}

func (o *ShipmentOrchestrator) createShipment(ctx, remote context.Context, order *Order, shipment *Shipment) error {
	items, err := o.repository.GetOrderItems(ctx, order.ID)
	if err != nil {
		return persistenceError("failed to load order items", err)
	}

	res, err := o.courier.CreateShipment(remote, ShipmentRequest{
		Reference:   order.ID,
		OrderDate:   order.CreatedAt,
		Customer:    order.Customer,
		Address:     order.Address,
		Items:       items,
		TotalAmount: order.TotalAmount,
		Currency:    order.Currency,
	})
	if err == nil && res.ProviderShipmentID == "" {
		err = &ProviderError{Provider: o.courier.Name(), Step: StepCreateShipment, StatusCode: res.StatusCode, Body: res.Raw,
			Err: errors.New("response without shipment id")}
	}
	if err != nil {
		// sem ID remoto não há o que retomar: a próxima chamada cria de novo, deduplicado pela referência
		shipment.Status = ShipmentStatusFailed
		return o.stepFailed(ctx, shipment, StepCreateShipment, err)
	}

	shipment.ProviderOrderID = res.ProviderOrderID
	shipment.ProviderShipmentID = res.ProviderShipmentID
	shipment.Status = ShipmentStatusCreated
	return o.stepSucceeded(ctx, shipment, StepCreateShipment, res.StatusCode, res.Raw)
}

func (o *ShipmentOrchestrator) assignAWB(ctx, remote context.Context, shipment *Shipment) error {
	res, err := o.courier.AssignAWB(remote, shipment.ProviderShipmentID)
	if err == nil && res.AWBCode == "" {
		err = &ProviderError{Provider: o.courier.Name(), Step: StepAssignAWB, StatusCode: res.StatusCode, Body: res.Raw,
			Err: errors.New("response without awb code")}
	}
	if err != nil {
		shipment.Status = ShipmentStatusCreated
		return o.stepFailed(ctx, shipment, StepAssignAWB, err)
	}

	shipment.AWBCode = res.AWBCode
	shipment.CourierName = res.CourierName
	shipment.Status = ShipmentStatusAWBAssigned
	return o.stepSucceeded(ctx, shipment, StepAssignAWB, res.StatusCode, res.Raw)
}

func (o *ShipmentOrchestrator) schedulePickup(ctx, remote context.Context, shipment *Shipment) error {
	res, err := o.courier.SchedulePickup(remote, shipment.ProviderShipmentID)
	if err != nil {
		shipment.Status = ShipmentStatusAWBAssigned
		return o.stepFailed(ctx, shipment, StepSchedulePickup, err)
	}

	scheduledAt := res.ScheduledAt
	shipment.PickupToken = res.PickupToken
	shipment.PickupScheduledAt = &scheduledAt
	// status só vira pickup_scheduled junto com o pedido, em CompleteShipment
	return o.stepSucceeded(ctx, shipment, StepSchedulePickup, res.StatusCode, res.Raw)
}

func (o *ShipmentOrchestrator) stepSucceeded(ctx context.Context, shipment *Shipment, step string, statusCode int, raw json.RawMessage) error {
	shipment.LastError = ""
	entry := DiagnosticEntry{OK: true, At: o.now(), StatusCode: statusCode, Response: validJSON(raw)}
	if err := o.repository.UpdateShipment(ctx, shipment, step, entry); err != nil {
		if errors.Is(err, ErrShipmentLeaseLost) {
			o.logger.Warn("⚠️ [BOOK SHIPMENT] lease lost before persisting step",
				zap.String("order_id", shipment.OrderID), zap.String("step", step))
			return err
		}
		o.logger.Error("❌ [BOOK SHIPMENT] failed to persist step",
			zap.String("order_id", shipment.OrderID), zap.String("step", step), zap.Error(err))
		return persistenceError("failed to persist "+step, err)
	}
	return nil
}

func (o *ShipmentOrchestrator) stepFailed(ctx context.Context, shipment *Shipment, step string, cause error) error {
	o.metrics.shipmentStepErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("step", step)))

	shipment.LastError = truncate(cause.Error(), 1024)
	entry := diagnosticFromError(cause, o.now())
	if err := o.repository.UpdateShipment(ctx, shipment, step, entry); err != nil {
		o.logger.Error("❌ [BOOK SHIPMENT] failed to persist step failure",
			zap.String("order_id", shipment.OrderID), zap.String("step", step), zap.Error(err))
	}

	o.logger.Warn("❌ [BOOK SHIPMENT] courier step failed",
		zap.String("order_id", shipment.OrderID), zap.String("step", step), zap.Error(cause))

	if errors.Is(cause, ErrProviderFailure) {
		return fmt.Errorf("%s: %w", step, cause)
	}
	return fmt.Errorf("%w: %s: %w", ErrProviderFailure, step, cause)
}

// diagnosticFromError guarda a resposta bruta do provedor quando o erro a carrega
func diagnosticFromError(err error, at time.Time) DiagnosticEntry {
	entry := DiagnosticEntry{OK: false, At: at, Error: err.Error()}
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		entry.StatusCode = providerErr.StatusCode
		entry.Response = validJSON(providerErr.Body)
	}
	return entry
}

// validJSON devolve o corpo como JSON; corpos que não são JSON viram string
func validJSON(raw []byte) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	if json.Valid(raw) {
		return json.RawMessage(raw)
	}
	encoded, _ := json.Marshal(string(raw))
	return encoded
}
