package main

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const maxItemQuantity = 50

var (
	pincodePattern = regexp.MustCompile(`^[1-9][0-9]{5}$`)
	phonePattern   = regexp.MustCompile(`^[0-9]{10}$`)
)

// CreateOrderRequest é o carrinho enviado pelo cliente; preços do cliente nunca são lidos
type CreateOrderRequest struct {
	Customer CustomerInput    `json:"customer" binding:"required"`
	Address  AddressInput     `json:"shipping_address" binding:"required"`
	Items    []OrderItemInput `json:"items" binding:"required,min=1,dive"`
}

type CustomerInput struct {
	Name  string `json:"name" binding:"required,max=120"`
	Email string `json:"email" binding:"required,email"`
	Phone string `json:"phone" binding:"required,phone10"`
}

type AddressInput struct {
	Line1   string `json:"line1" binding:"required,max=200"`
	Line2   string `json:"line2" binding:"max=200"`
	City    string `json:"city" binding:"required,max=80"`
	State   string `json:"state" binding:"required,max=80"`
	Pincode string `json:"pincode" binding:"required,pincode"`
}

type OrderItemInput struct {
	ProductID    string `json:"product_id" binding:"required"`
	Quantity     int    `json:"qty" binding:"required,min=1,max=50"`
	SizeSelector string `json:"size_selector" binding:"max=40"`
}

// CreateOrderResult é o que o cliente precisa para abrir o checkout do provedor
type CreateOrderResult struct {
	OrderID         string `json:"order_id"`
	ProviderOrderID string `json:"provider_order_id"`
	Amount          int64  `json:"amount_minor_units"`
	Currency        string `json:"currency"`
	ProviderKeyID   string `json:"provider_key_id"`
}

// OrderDetails é a visão completa de um pedido
type OrderDetails struct {
	Order    *Order      `json:"order"`
	Items    []OrderItem `json:"items"`
	Shipment *Shipment   `json:"shipment,omitempty"`
}

// OrderUseCase contém a lógica de criação e consulta de pedidos
type OrderUseCase struct {
	repository Repository
	gateway    PaymentGateway
	currency   string
	logger     *zap.Logger
	metrics    *checkoutMetrics
}

// NewOrderUseCase cria uma nova instância de OrderUseCase
func NewOrderUseCase(
	repository Repository,
	gateway PaymentGateway,
	currency string,
	logger *zap.Logger,
) *OrderUseCase {
	return &OrderUseCase{
		repository: repository,
		gateway:    gateway,
		currency:   currency,
		logger:     orNop(logger),
		metrics:    newCheckoutMetrics(),
	}
}

// CreateOrder precifica o carrinho pelo catálogo, cria o pedido remoto e persiste tudo numa transação
func (uc *OrderUseCase) CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResult, error) {
	if err := validateCreateOrder(req); err != nil {
		return nil, err
	}

	items, err := uc.priceItems(ctx, req.Items)
	if err != nil {
		return nil, err
	}

	orderID := uuid.New().String()
	order := NewOrder(orderID, uc.currency,
		Customer{
			Name:  strings.TrimSpace(req.Customer.Name),
			Email: strings.TrimSpace(req.Customer.Email),
			Phone: strings.TrimSpace(req.Customer.Phone),
		},
		Address{
			Line1:   strings.TrimSpace(req.Address.Line1),
			Line2:   strings.TrimSpace(req.Address.Line2),
			City:    strings.TrimSpace(req.Address.City),
			State:   strings.TrimSpace(req.Address.State),
			Pincode: strings.TrimSpace(req.Address.Pincode),
			Country: "India",
		},
		items,
	)
	for i := range items {
		items[i].OrderID = orderID
	}

	log := uc.logger.With(zap.String("order_id", orderID))
	log.Info("➡️ [CREATE ORDER] priced cart", zap.Int64("total", order.TotalAmount), zap.Int("items", len(items)))

	remote, err := uc.gateway.CreateRemoteOrder(ctx, order.TotalAmount, order.Currency, orderID)
	if err != nil {
		log.Error("❌ [CREATE ORDER] remote payment order failed", zap.Error(err))
		return nil, fmt.Errorf("failed to create remote payment order: %w", err)
	}

	attempt := newPaymentAttempt(orderID, uc.gateway.Name(), remote.ID, order.TotalAmount)
	if err := uc.repository.CreateOrder(ctx, order, items, attempt); err != nil {
		log.Error("❌ [CREATE ORDER] persistence failed", zap.Error(err))
		return nil, persistenceError("failed to persist order", err)
	}

	uc.metrics.ordersCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", uc.gateway.Name())))
	log.Info("✅ [CREATE ORDER] order created", zap.String("provider_order_id", remote.ID))

	return &CreateOrderResult{
		OrderID:         orderID,
		ProviderOrderID: remote.ID,
		Amount:          order.TotalAmount,
		Currency:        order.Currency,
		ProviderKeyID:   uc.gateway.KeyID(),
	}, nil
}

// RetryPayment cria um novo pedido remoto e uma nova tentativa para um pedido ainda pendente
func (uc *OrderUseCase) RetryPayment(ctx context.Context, orderID string) (*CreateOrderResult, error) {
	order, err := uc.repository.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != OrderStatusPending {
		return nil, fmt.Errorf("%w: order is %s", ErrInvalidState, order.Status)
	}

	// o ID da nova tentativa vira o receipt, para que o provedor não devolva o pedido remoto anterior
	attempt := newPaymentAttempt(order.ID, uc.gateway.Name(), "", order.TotalAmount)
	remote, err := uc.gateway.CreateRemoteOrder(ctx, order.TotalAmount, order.Currency, attempt.ID)
	if err != nil {
		uc.logger.Error("❌ [RETRY PAYMENT] remote payment order failed", zap.String("order_id", orderID), zap.Error(err))
		return nil, fmt.Errorf("failed to create remote payment order: %w", err)
	}

	attempt.ProviderOrderID = remote.ID
	if err := uc.repository.CreatePaymentAttempt(ctx, attempt); err != nil {
		return nil, persistenceError("failed to persist payment attempt", err)
	}

	uc.logger.Info("🔁 [RETRY PAYMENT] new attempt created",
		zap.String("order_id", orderID), zap.String("provider_order_id", remote.ID))

	return &CreateOrderResult{
		OrderID:         order.ID,
		ProviderOrderID: remote.ID,
		Amount:          order.TotalAmount,
		Currency:        order.Currency,
		ProviderKeyID:   uc.gateway.KeyID(),
	}, nil
}

// GetOrderDetails devolve pedido, itens e shipment (quando existir)
func (uc *OrderUseCase) GetOrderDetails(ctx context.Context, orderID string) (*OrderDetails, error) {
	order, err := uc.repository.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	items, err := uc.repository.GetOrderItems(ctx, orderID)
	if err != nil {
		return nil, persistenceError("failed to load order items", err)
	}

	details := &OrderDetails{Order: order, Items: items}
	shipment, err := uc.repository.GetShipment(ctx, orderID)
	switch {
	case err == nil:
		details.Shipment = shipment
	case !errors.Is(err, ErrShipmentNotFound):
		return nil, persistenceError("failed to load shipment", err)
	}
	return details, nil
}

// priceItems resolve o preço unitário de cada linha a partir do catálogo
func (uc *OrderUseCase) priceItems(ctx context.Context, input []OrderItemInput) ([]OrderItem, error) {
	ids := make([]string, 0, len(input))
	seen := make(map[string]bool, len(input))
	for _, item := range input {
		if !seen[item.ProductID] {
			seen[item.ProductID] = true
			ids = append(ids, item.ProductID)
		}
	}

	products, err := uc.repository.GetProducts(ctx, ids)
	if err != nil {
		return nil, persistenceError("failed to load products", err)
	}

	items := make([]OrderItem, 0, len(input))
	for _, in := range input {
		product, ok := products[in.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrProductNotFound, in.ProductID)
		}
		if !product.Active {
			return nil, fmt.Errorf("%w: %s", ErrProductInactive, in.ProductID)
		}
		items = append(items, OrderItem{
			ProductID:    product.ID,
			ProductName:  product.Name,
			SKU:          product.SKU,
			Quantity:     in.Quantity,
			SizeSelector: strings.TrimSpace(in.SizeSelector),
			UnitPrice:    product.PriceMinor,
		})
	}
	return items, nil
}

func newPaymentAttempt(orderID, provider, providerOrderID string, amount int64) *PaymentAttempt {
	now := time.Now().UTC()
	return &PaymentAttempt{
		ID:              uuid.New().String(),
		OrderID:         orderID,
		Provider:        provider,
		ProviderOrderID: providerOrderID,
		Amount:          amount,
		Status:          PaymentAttemptCreated,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// validateCreateOrder repete as regras do binding para chamadores que não passam pelo HTTP
func validateCreateOrder(req CreateOrderRequest) error {
	if strings.TrimSpace(req.Customer.Name) == "" {
		return invalidInput("customer name is required")
	}
	// só o endereço puro; "Nome <a@b.com>" é recusado como no binding HTTP
	email := strings.TrimSpace(req.Customer.Email)
	if parsed, err := mail.ParseAddress(email); err != nil || parsed.Address != email {
		return invalidInput("customer email is invalid")
	}
	if !phonePattern.MatchString(strings.TrimSpace(req.Customer.Phone)) {
		return invalidInput("phone must have 10 digits")
	}
	if strings.TrimSpace(req.Address.Line1) == "" ||
		strings.TrimSpace(req.Address.City) == "" ||
		strings.TrimSpace(req.Address.State) == "" {
		return invalidInput("shipping address is incomplete")
	}
	if !pincodePattern.MatchString(strings.TrimSpace(req.Address.Pincode)) {
		return invalidInput("pincode %q is invalid", req.Address.Pincode)
	}
	if len(req.Items) == 0 {
		return invalidInput("at least one item is required")
	}
	for i, item := range req.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return invalidInput("items[%d].product_id is required", i)
		}
		if item.Quantity < 1 || item.Quantity > maxItemQuantity {
			return invalidInput("items[%d].qty must be between 1 and %d", i, maxItemQuantity)
		}
	}
	return nil
}

// persistenceError preserva sentinelas de domínio e marca o resto como falha de persistência
func persistenceError(msg string, err error) error {
	for _, sentinel := range []error{ErrInvalidState, ErrOrderNotFound, ErrShipmentNotFound, ErrShipmentInProgress, ErrProviderOrderMismatch} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	return fmt.Errorf("%w: %s: %w", ErrPersistence, msg, err)
}
