package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// ShipmentRequest é o payload enviado à transportadora na criação do envio
type ShipmentRequest struct {
	// Reference é o ID local do pedido; a transportadora deduplica por ele
	Reference   string
	OrderDate   time.Time
	Customer    Customer
	Address     Address
	Items       []OrderItem
	TotalAmount int64
	Currency    string
}

type CreateShipmentResult struct {
	ProviderOrderID    string
	ProviderShipmentID string
	StatusCode         int
	Raw                json.RawMessage
}

type AssignAWBResult struct {
	AWBCode     string
	CourierName string
	StatusCode  int
	Raw         json.RawMessage
}

type SchedulePickupResult struct {
	PickupToken string
	ScheduledAt time.Time
	StatusCode  int
	Raw         json.RawMessage
}

// Courier abstrai o provedor de logística usado pela saga de envio
type Courier interface {
	Name() string
	CreateShipment(ctx context.Context, req ShipmentRequest) (CreateShipmentResult, error)
	AssignAWB(ctx context.Context, providerShipmentID string) (AssignAWBResult, error)
	SchedulePickup(ctx context.Context, providerShipmentID string) (SchedulePickupResult, error)
}

// NewCourier escolhe a implementação a partir de SHIPPING_PROVIDER
func NewCourier(cfg ShippingConfig, tokens TokenStore) (Courier, error) {
	switch cfg.Provider {
	case "shiprocket":
		return NewShiprocketCourier(cfg, tokens), nil
	case "mock":
		return NewMockCourier(), nil
	default:
		return nil, fmt.Errorf("unknown shipping provider %q", cfg.Provider)
	}
}

// MockCourier devolve identificadores determinísticos por referência, sem rede
type MockCourier struct{}

func NewMockCourier() *MockCourier {
	return &MockCourier{}
}

func (c *MockCourier) Name() string { return "mock" }

func (c *MockCourier) CreateShipment(_ context.Context, req ShipmentRequest) (CreateShipmentResult, error) {
	if req.Reference == "" {
		return CreateShipmentResult{}, &ProviderError{Provider: c.Name(), Step: StepCreateShipment, Err: fmt.Errorf("empty reference")}
	}
	ref := mockID(req.Reference)
	shipmentID := "ship_mock_" + ref

	raw, _ := json.Marshal(map[string]any{
		"order_id":    "mock_order_" + ref,
		"shipment_id": shipmentID,
		"status":      "NEW",
	})
	return CreateShipmentResult{
		ProviderOrderID:    "mock_order_" + ref,
		ProviderShipmentID: shipmentID,
		StatusCode:         200,
		Raw:                raw,
	}, nil
}

func (c *MockCourier) AssignAWB(_ context.Context, providerShipmentID string) (AssignAWBResult, error) {
	if err := c.known(providerShipmentID, StepAssignAWB); err != nil {
		return AssignAWBResult{}, err
	}
	awb := "AWB" + mockID(providerShipmentID)
	raw, _ := json.Marshal(map[string]any{
		"awb_assign_status": 1,
		"response": map[string]any{"data": map[string]any{
			"awb_code":     awb,
			"courier_name": "Mock Express",
			"shipment_id":  providerShipmentID,
		}},
	})
	return AssignAWBResult{AWBCode: awb, CourierName: "Mock Express", StatusCode: 200, Raw: raw}, nil
}

func (c *MockCourier) SchedulePickup(_ context.Context, providerShipmentID string) (SchedulePickupResult, error) {
	if err := c.known(providerShipmentID, StepSchedulePickup); err != nil {
		return SchedulePickupResult{}, err
	}
	scheduled := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Hour)
	token := "PICKUP" + mockID(providerShipmentID)
	raw, _ := json.Marshal(map[string]any{
		"pickup_status": 1,
		"response": map[string]any{
			"pickup_token_number":  token,
			"pickup_scheduled_date": scheduled.Format(time.RFC3339),
		},
	})
	return SchedulePickupResult{PickupToken: token, ScheduledAt: scheduled, StatusCode: 200, Raw: raw}, nil
}

func (c *MockCourier) known(providerShipmentID, step string) error {
	if providerShipmentID == "" {
		return &ProviderError{Provider: c.Name(), Step: step, StatusCode: 404, Body: []byte(`{"message":"shipment not found"}`)}
	}
	return nil
}

func mockID(reference string) string {
	sum := sha256.Sum256([]byte(reference))
	return hex.EncodeToString(sum[:])[:12]
}
