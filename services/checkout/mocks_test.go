package main

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testMockSecret = "test_mock_secret"

var (
	productTee = Product{ID: "prod-tee", Name: "Logo Tee", SKU: "TEE-001", PriceMinor: 1000, Active: true}
	productCap = Product{ID: "prod-cap", Name: "Cap", SKU: "CAP-001", PriceMinor: 500, Active: true}
	productOld = Product{ID: "prod-old", Name: "Retired Hoodie", SKU: "HOOD-001", PriceMinor: 4000, Active: false}
)

func validOrderRequest() CreateOrderRequest {
	return CreateOrderRequest{
		Customer: CustomerInput{Name: "Asha Rao", Email: "asha@example.com", Phone: "9876543210"},
		Address: AddressInput{
			Line1:   "12 MG Road",
			City:    "Bengaluru",
			State:   "Karnataka",
			Pincode: "560001",
		},
		Items: []OrderItemInput{
			{ProductID: productTee.ID, Quantity: 2, SizeSelector: "M"},
			{ProductID: productCap.ID, Quantity: 1},
		},
	}
}

// MockPaymentGateway simula o provedor de pagamento
type MockPaymentGateway struct {
	mock.Mock
}

func (m *MockPaymentGateway) Name() string  { return "mockpay" }
func (m *MockPaymentGateway) KeyID() string { return "key_test" }

func (m *MockPaymentGateway) CreateRemoteOrder(ctx context.Context, amount int64, currency, receipt string) (RemoteOrder, error) {
	args := m.Called(ctx, amount, currency, receipt)
	return args.Get(0).(RemoteOrder), args.Error(1)
}

func (m *MockPaymentGateway) VerifyConfirmation(providerOrderID, providerPaymentID, signature string) error {
	args := m.Called(providerOrderID, providerPaymentID, signature)
	return args.Error(0)
}

// MockCourierClient simula a transportadora
type MockCourierClient struct {
	mock.Mock
}

func (m *MockCourierClient) Name() string { return "mockship" }

func (m *MockCourierClient) CreateShipment(ctx context.Context, req ShipmentRequest) (CreateShipmentResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(CreateShipmentResult), args.Error(1)
}

func (m *MockCourierClient) AssignAWB(ctx context.Context, providerShipmentID string) (AssignAWBResult, error) {
	args := m.Called(ctx, providerShipmentID)
	return args.Get(0).(AssignAWBResult), args.Error(1)
}

func (m *MockCourierClient) SchedulePickup(ctx context.Context, providerShipmentID string) (SchedulePickupResult, error) {
	args := m.Called(ctx, providerShipmentID)
	return args.Get(0).(SchedulePickupResult), args.Error(1)
}

// MockShipmentTrigger registra quantas vezes o trigger foi disparado
type MockShipmentTrigger struct {
	mock.Mock
}

func (m *MockShipmentTrigger) OrderPaid(ctx context.Context, orderID string) error {
	args := m.Called(ctx, orderID)
	return args.Error(0)
}

// countingCourier conta as chamadas externas de um Courier real
type countingCourier struct {
	Courier
	creates atomic.Int32
	awbs    atomic.Int32
	pickups atomic.Int32
}

func (c *countingCourier) CreateShipment(ctx context.Context, req ShipmentRequest) (CreateShipmentResult, error) {
	c.creates.Add(1)
	return c.Courier.CreateShipment(ctx, req)
}

func (c *countingCourier) AssignAWB(ctx context.Context, id string) (AssignAWBResult, error) {
	c.awbs.Add(1)
	return c.Courier.AssignAWB(ctx, id)
}

func (c *countingCourier) SchedulePickup(ctx context.Context, id string) (SchedulePickupResult, error) {
	c.pickups.Add(1)
	return c.Courier.SchedulePickup(ctx, id)
}

// slowCourier demora delay no create, respeitando o contexto, e mede chamadas simultâneas
type slowCourier struct {
	Courier
	delay       time.Duration
	creates     atomic.Int32
	inflight    atomic.Int32
	maxInflight atomic.Int32
}

func (c *slowCourier) CreateShipment(ctx context.Context, req ShipmentRequest) (CreateShipmentResult, error) {
	c.creates.Add(1)
	n := c.inflight.Add(1)
	defer c.inflight.Add(-1)
	for {
		m := c.maxInflight.Load()
		if n <= m || c.maxInflight.CompareAndSwap(m, n) {
			break
		}
	}

	select {
	case <-time.After(c.delay):
		return c.Courier.CreateShipment(ctx, req)
	case <-ctx.Done():
		return CreateShipmentResult{}, ctx.Err()
	}
}

// createOrder cria um pedido pendente usando o gateway mock determinístico
func createOrder(t *testing.T, repo *memoryRepository) *CreateOrderResult {
	t.Helper()
	uc := NewOrderUseCase(repo, NewMockGateway(testMockSecret), "INR", nil)
	result, err := uc.CreateOrder(context.Background(), validOrderRequest())
	require.NoError(t, err)
	return result
}

// createPaidOrder cria e confirma um pedido, deixando-o em paid
func createPaidOrder(t *testing.T, repo *memoryRepository) string {
	t.Helper()
	created := createOrder(t, repo)
	uc := NewPaymentUseCase(repo, NewMockGateway(testMockSecret), nil, nil)
	_, err := uc.ConfirmPayment(context.Background(), ConfirmPaymentRequest{
		OrderID:           created.OrderID,
		ProviderOrderID:   created.ProviderOrderID,
		ProviderPaymentID: "pay_" + created.OrderID[:8],
		ProviderSignature: SignConfirmation(testMockSecret, created.ProviderOrderID, "pay_"+created.OrderID[:8]),
	})
	require.NoError(t, err)
	return created.OrderID
}
