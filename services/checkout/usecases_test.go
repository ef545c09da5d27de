package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestCreateOrder_PricesFromCatalog(t *testing.T) {
	// Arrange
	repo := newMemoryRepository(productTee, productCap)
	gateway := new(MockPaymentGateway)
	gateway.On("CreateRemoteOrder", mock.Anything, int64(2500), "INR", mock.AnythingOfType("string")).
		Return(RemoteOrder{ID: "order_remote_1"}, nil).Once()
	uc := NewOrderUseCase(repo, gateway, "INR", nil)

	// Act
	result, err := uc.CreateOrder(context.Background(), validOrderRequest())

	// Assert
	require.NoError(t, err)
	assert.Equal(t, int64(2500), result.Amount)
	assert.Equal(t, "INR", result.Currency)
	assert.Equal(t, "order_remote_1", result.ProviderOrderID)
	assert.Equal(t, "key_test", result.ProviderKeyID)
	gateway.AssertExpectations(t)

	// receipt é o próprio ID do pedido
	receipt := gateway.Calls[0].Arguments.String(3)
	assert.Equal(t, result.OrderID, receipt)

	order := repo.order(result.OrderID)
	assert.Equal(t, OrderStatusPending, order.Status)
	assert.Equal(t, int64(2500), order.TotalAmount)

	items, err := repo.GetOrderItems(context.Background(), result.OrderID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, order.TotalAmount, OrderTotal(items))
	assert.Equal(t, int64(1000), items[0].UnitPrice)
	assert.Equal(t, "Logo Tee", items[0].ProductName)
	assert.Equal(t, "M", items[0].SizeSelector)

	attempts := repo.attemptsFor(result.OrderID)
	require.Len(t, attempts, 1)
	assert.Equal(t, PaymentAttemptCreated, attempts[0].Status)
	assert.Equal(t, "order_remote_1", attempts[0].ProviderOrderID)
	assert.Equal(t, int64(2500), attempts[0].Amount)

	assert.Equal(t, []string{EventOrderCreated}, repo.eventTypes(result.OrderID))
}

func TestCreateOrder_ValidationRejectsBeforeAnyWrite(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CreateOrderRequest)
	}{
		{"pincode starting with zero", func(r *CreateOrderRequest) { r.Address.Pincode = "012345" }},
		{"pincode too short", func(r *CreateOrderRequest) { r.Address.Pincode = "56001" }},
		{"pincode with letters", func(r *CreateOrderRequest) { r.Address.Pincode = "56000A" }},
		{"phone with nine digits", func(r *CreateOrderRequest) { r.Customer.Phone = "987654321" }},
		{"phone with symbols", func(r *CreateOrderRequest) { r.Customer.Phone = "+919876543" }},
		{"missing name", func(r *CreateOrderRequest) { r.Customer.Name = "  " }},
		{"invalid email", func(r *CreateOrderRequest) { r.Customer.Email = "not-an-email" }},
		{"email with display name", func(r *CreateOrderRequest) { r.Customer.Email = "Asha <asha@example.com>" }},
		{"missing city", func(r *CreateOrderRequest) { r.Address.City = "" }},
		{"empty items", func(r *CreateOrderRequest) { r.Items = nil }},
		{"zero quantity", func(r *CreateOrderRequest) { r.Items[0].Quantity = 0 }},
		{"quantity above limit", func(r *CreateOrderRequest) { r.Items[0].Quantity = 51 }},
		{"missing product id", func(r *CreateOrderRequest) { r.Items[1].ProductID = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMemoryRepository(productTee, productCap)
			gateway := new(MockPaymentGateway)
			uc := NewOrderUseCase(repo, gateway, "INR", nil)

			req := validOrderRequest()
			tt.mutate(&req)

			_, err := uc.CreateOrder(context.Background(), req)

			assert.ErrorIs(t, err, ErrInvalidInput)
			gateway.AssertNotCalled(t, "CreateRemoteOrder", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			assert.Zero(t, repo.orderCount())
		})
	}
}

func TestCreateOrder_QuantityBoundsAccepted(t *testing.T) {
	repo := newMemoryRepository(productTee)
	uc := NewOrderUseCase(repo, NewMockGateway(testMockSecret), "INR", nil)

	req := validOrderRequest()
	req.Items = []OrderItemInput{{ProductID: productTee.ID, Quantity: 50}}

	result, err := uc.CreateOrder(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, int64(50000), result.Amount)
}

func TestCreateOrder_UnknownAndInactiveProducts(t *testing.T) {
	repo := newMemoryRepository(productTee, productOld)
	gateway := new(MockPaymentGateway)
	uc := NewOrderUseCase(repo, gateway, "INR", nil)

	req := validOrderRequest()
	req.Items = []OrderItemInput{{ProductID: "prod-missing", Quantity: 1}}
	_, err := uc.CreateOrder(context.Background(), req)
	assert.ErrorIs(t, err, ErrProductNotFound)

	req.Items = []OrderItemInput{{ProductID: productTee.ID, Quantity: 1}, {ProductID: productOld.ID, Quantity: 1}}
	_, err = uc.CreateOrder(context.Background(), req)
	assert.ErrorIs(t, err, ErrProductInactive)

	gateway.AssertNotCalled(t, "CreateRemoteOrder", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Zero(t, repo.orderCount())
}

func TestCreateOrder_ProviderFailureLeavesNoRows(t *testing.T) {
	repo := newMemoryRepository(productTee, productCap)
	gateway := new(MockPaymentGateway)
	gateway.On("CreateRemoteOrder", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(RemoteOrder{}, &ProviderError{Provider: "mockpay", Step: "create_order", StatusCode: 502})
	uc := NewOrderUseCase(repo, gateway, "INR", nil)

	_, err := uc.CreateOrder(context.Background(), validOrderRequest())

	assert.ErrorIs(t, err, ErrProviderFailure)
	assert.Zero(t, repo.orderCount())
}

func TestCreateOrder_PersistenceFailure(t *testing.T) {
	repo := newMemoryRepository(productTee, productCap)
	repo.createOrderErr = errors.New("connection reset")
	uc := NewOrderUseCase(repo, NewMockGateway(testMockSecret), "INR", nil)

	_, err := uc.CreateOrder(context.Background(), validOrderRequest())

	assert.ErrorIs(t, err, ErrPersistence)
	assert.Zero(t, repo.orderCount())
}

func TestRetryPayment_CreatesNewAttemptForPendingOrder(t *testing.T) {
	repo := newMemoryRepository(productTee, productCap)
	created := createOrder(t, repo)
	uc := NewOrderUseCase(repo, NewMockGateway(testMockSecret), "INR", nil)

	retry, err := uc.RetryPayment(context.Background(), created.OrderID)

	require.NoError(t, err)
	assert.Equal(t, created.OrderID, retry.OrderID)
	assert.Equal(t, created.Amount, retry.Amount)
	assert.NotEqual(t, created.ProviderOrderID, retry.ProviderOrderID)

	attempts := repo.attemptsFor(created.OrderID)
	require.Len(t, attempts, 2)
	assert.Equal(t, PaymentAttemptCreated, attempts[1].Status)
	assert.Equal(t, OrderStatusPending, repo.order(created.OrderID).Status)
}

func TestRetryPayment_RejectsPaidOrder(t *testing.T) {
	repo := newMemoryRepository(productTee, productCap)
	orderID := createPaidOrder(t, repo)
	uc := NewOrderUseCase(repo, NewMockGateway(testMockSecret), "INR", nil)

	_, err := uc.RetryPayment(context.Background(), orderID)

	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Len(t, repo.attemptsFor(orderID), 1)
}

func TestRetryPayment_UnknownOrder(t *testing.T) {
	uc := NewOrderUseCase(newMemoryRepository(), NewMockGateway(testMockSecret), "INR", nil)

	_, err := uc.RetryPayment(context.Background(), "9d1f6a4e-0000-4000-8000-000000000000")

	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestGetOrderDetails(t *testing.T) {
	repo := newMemoryRepository(productTee, productCap)
	created := createOrder(t, repo)
	uc := NewOrderUseCase(repo, NewMockGateway(testMockSecret), "INR", nil)

	details, err := uc.GetOrderDetails(context.Background(), created.OrderID)

	require.NoError(t, err)
	assert.Equal(t, created.OrderID, details.Order.ID)
	assert.Len(t, details.Items, 2)
	assert.Nil(t, details.Shipment)

	_, err = uc.GetOrderDetails(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestCreateOrder_TotalFromStorePrices(t *testing.T) {
	p1 := Product{ID: "P1", Name: "Socks", SKU: "SOCK", PriceMinor: 500, Active: true}
	p2 := Product{ID: "P2", Name: "Belt", SKU: "BELT", PriceMinor: 1500, Active: true}
	repo := newMemoryRepository(p1, p2)
	uc := NewOrderUseCase(repo, NewMockGateway(testMockSecret), "INR", nil)

	req := validOrderRequest()
	req.Items = []OrderItemInput{{ProductID: "P1", Quantity: 2}, {ProductID: "P2", Quantity: 1}}

	result, err := uc.CreateOrder(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, int64(2500), result.Amount)
	assert.Equal(t, int64(2500), repo.order(result.OrderID).TotalAmount)
}
