package main

import (
	"encoding/json"
	"time"
)

// OrderStatus representa o ciclo de vida de um pedido
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusPaid            OrderStatus = "paid"
	OrderStatusShippingPending OrderStatus = "shipping_pending"
)

var orderStatusRank = map[OrderStatus]int{
	OrderStatusPending:         0,
	OrderStatusPaid:            1,
	OrderStatusShippingPending: 2,
}

// CanTransitionTo reports whether next is the single step after s.
// The lifecycle is forward-only and never skips a state.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	from, ok := orderStatusRank[s]
	if !ok {
		return false
	}
	to, ok := orderStatusRank[next]
	if !ok {
		return false
	}
	return to == from+1
}

// IsPaid is true once the payment was verified, including later states.
func (s OrderStatus) IsPaid() bool {
	rank, ok := orderStatusRank[s]
	return ok && rank >= orderStatusRank[OrderStatusPaid]
}

func (s OrderStatus) String() string {
	return string(s)
}

// Customer contém os dados de contato do comprador
type Customer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// Address é o endereço de entrega
type Address struct {
	Line1   string `json:"line1"`
	Line2   string `json:"line2,omitempty"`
	City    string `json:"city"`
	State   string `json:"state"`
	Pincode string `json:"pincode"`
	Country string `json:"country"`
}

// Product é o registro de catálogo usado como fonte de preço
type Product struct {
	ID         string `json:"id" db:"id"`
	Name       string `json:"name" db:"name"`
	SKU        string `json:"sku" db:"sku"`
	PriceMinor int64  `json:"price_minor" db:"price_minor"`
	Active     bool   `json:"active" db:"active"`
}

// Order representa uma tentativa de checkout com preço já definido
type Order struct {
	ID          string      `json:"id" db:"id"`
	Status      OrderStatus `json:"status" db:"status"`
	Currency    string      `json:"currency" db:"currency"`
	TotalAmount int64       `json:"total_amount_minor_units" db:"total_amount"`
	Customer    Customer    `json:"customer"`
	Address     Address     `json:"shipping_address"`
	PaymentID   string      `json:"payment_id,omitempty" db:"payment_id"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at" db:"updated_at"`
}

// NewOrder cria um pedido pendente com os itens precificados
func NewOrder(id, currency string, customer Customer, address Address, items []OrderItem) *Order {
	now := time.Now().UTC()
	return &Order{
		ID:          id,
		Status:      OrderStatusPending,
		Currency:    currency,
		TotalAmount: OrderTotal(items),
		Customer:    customer,
		Address:     address,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// OrderItem é uma linha do pedido com o preço congelado no momento da criação
type OrderItem struct {
	ID           int64  `json:"-" db:"id"`
	OrderID      string `json:"order_id" db:"order_id"`
	ProductID    string `json:"product_id" db:"product_id"`
	ProductName  string `json:"product_name" db:"product_name"`
	SKU          string `json:"sku,omitempty" db:"sku"`
	Quantity     int    `json:"quantity" db:"quantity"`
	SizeSelector string `json:"size_selector,omitempty" db:"size_selector"`
	UnitPrice    int64  `json:"unit_price_minor_units" db:"unit_price"`
}

// Subtotal is unit price times quantity.
func (i OrderItem) Subtotal() int64 {
	return i.UnitPrice * int64(i.Quantity)
}

// OrderTotal soma os subtotais das linhas
func OrderTotal(items []OrderItem) int64 {
	var total int64
	for _, item := range items {
		total += item.Subtotal()
	}
	return total
}

// PaymentAttemptStatus representa os estados de uma tentativa de pagamento
type PaymentAttemptStatus string

const (
	PaymentAttemptCreated  PaymentAttemptStatus = "created"
	PaymentAttemptVerified PaymentAttemptStatus = "verified"
	PaymentAttemptFailed   PaymentAttemptStatus = "failed"
)

// PaymentAttempt liga um pedido a um pedido remoto no provedor de pagamento
type PaymentAttempt struct {
	ID                string               `json:"id" db:"id"`
	OrderID           string               `json:"order_id" db:"order_id"`
	Provider          string               `json:"provider" db:"provider"`
	ProviderOrderID   string               `json:"provider_order_id" db:"provider_order_id"`
	Amount            int64                `json:"amount_minor_units" db:"amount"`
	ProviderPaymentID string               `json:"provider_payment_id,omitempty" db:"provider_payment_id"`
	ProviderSignature string               `json:"-" db:"provider_signature"`
	Status            PaymentAttemptStatus `json:"status" db:"status"`
	FailureReason     string               `json:"failure_reason,omitempty" db:"failure_reason"`
	CreatedAt         time.Time            `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time            `json:"updated_at" db:"updated_at"`
}

// ShipmentStatus representa as etapas do agendamento com a transportadora
type ShipmentStatus string

const (
	ShipmentStatusCreated         ShipmentStatus = "created"
	ShipmentStatusAWBAssigned     ShipmentStatus = "awb_assigned"
	ShipmentStatusPickupScheduled ShipmentStatus = "pickup_scheduled"
	ShipmentStatusFailed          ShipmentStatus = "failed"
)

// Shipment steps, also used as keys of the diagnostics document.
const (
	StepCreateShipment = "create_shipment"
	StepAssignAWB      = "assign_awb"
	StepSchedulePickup = "schedule_pickup"
)

// Shipment é o agendamento na transportadora; order_id é único e serve de âncora de idempotência
type Shipment struct {
	ID                 string                     `json:"id" db:"id"`
	OrderID            string                     `json:"order_id" db:"order_id"`
	Provider           string                     `json:"provider" db:"provider"`
	ProviderOrderID    string                     `json:"provider_order_id,omitempty" db:"provider_order_id"`
	ProviderShipmentID string                     `json:"provider_shipment_id,omitempty" db:"provider_shipment_id"`
	AWBCode            string                     `json:"awb_code,omitempty" db:"awb_code"`
	CourierName        string                     `json:"courier_name,omitempty" db:"courier_name"`
	PickupToken        string                     `json:"pickup_token,omitempty" db:"pickup_token"`
	PickupScheduledAt  *time.Time                 `json:"pickup_scheduled_at,omitempty" db:"pickup_scheduled_at"`
	Status             ShipmentStatus             `json:"status" db:"status"`
	Diagnostics        map[string]DiagnosticEntry `json:"diagnostics,omitempty" db:"diagnostics"`
	LastError          string                     `json:"last_error,omitempty" db:"last_error"`
	Attempts           int                        `json:"attempts" db:"attempts"`
	LockedUntil        *time.Time                 `json:"-" db:"locked_until"`
	LeaseID            string                     `json:"-" db:"lease_id"`
	CreatedAt          time.Time                  `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time                  `json:"updated_at" db:"updated_at"`
}

// IsComplete is true once pickup has been scheduled.
func (s *Shipment) IsComplete() bool {
	return s.Status == ShipmentStatusPickupScheduled
}

// NextStep returns the first saga step whose output is still missing.
func (s *Shipment) NextStep() string {
	switch {
	case s.ProviderShipmentID == "":
		return StepCreateShipment
	case s.AWBCode == "":
		return StepAssignAWB
	case s.PickupScheduledAt == nil:
		return StepSchedulePickup
	default:
		return ""
	}
}

// DiagnosticEntry guarda a última resposta (ou erro) do provedor para uma etapa
type DiagnosticEntry struct {
	OK         bool            `json:"ok"`
	At         time.Time       `json:"at"`
	StatusCode int             `json:"status_code,omitempty"`
	Error      string          `json:"error,omitempty"`
	Response   json.RawMessage `json:"response,omitempty"`
}

// Outbox event types.
const (
	EventOrderCreated         = "order.created"
	EventOrderPaid            = "order.paid"
	EventOrderShippingPending = "order.shipping_pending"
)

// OutboxEvent é um evento de ciclo de vida gravado na mesma transação da mudança de estado
type OutboxEvent struct {
	ID          string          `json:"id" db:"id"`
	AggregateID string          `json:"aggregate_id" db:"aggregate_id"`
	EventType   string          `json:"event_type" db:"event_type"`
	Payload     json.RawMessage `json:"payload" db:"payload"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty" db:"processed_at"`
}
