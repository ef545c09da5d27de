package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// RemoteOrder é o pedido criado no provedor de pagamento
type RemoteOrder struct {
	ID  string
	Raw json.RawMessage
}

// PaymentGateway abstrai o provedor de pagamento; é o único lugar com detalhes do protocolo
type PaymentGateway interface {
	// Name identifies the provider in persisted payment attempts.
	Name() string
	// KeyID is the public key the client needs to open the provider checkout.
	KeyID() string
	CreateRemoteOrder(ctx context.Context, amount int64, currency, receipt string) (RemoteOrder, error)
	VerifyConfirmation(providerOrderID, providerPaymentID, signature string) error
}

// NewPaymentGateway escolhe a implementação uma única vez, na inicialização
func NewPaymentGateway(cfg PaymentConfig) (PaymentGateway, error) {
	switch cfg.Provider {
	case "razorpay":
		return NewRazorpayGateway(cfg), nil
	case "mock":
		return NewMockGateway(cfg.MockSecret), nil
	default:
		return nil, fmt.Errorf("unknown payment provider %q", cfg.Provider)
	}
}

// SignConfirmation calcula HMAC-SHA256(secret, providerOrderID|providerPaymentID) em hex
func SignConfirmation(secret, providerOrderID, providerPaymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(providerOrderID + "|" + providerPaymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// verifySignature compares the supplied signature with the expected one.
func verifySignature(secret, providerOrderID, providerPaymentID, signature string) error {
	if secret == "" {
		return ErrSigningUnavailable
	}
	if providerOrderID == "" || providerPaymentID == "" || signature == "" {
		return fmt.Errorf("%w: missing confirmation fields", ErrInvalidSignature)
	}
	expected := SignConfirmation(secret, providerOrderID, providerPaymentID)
	if !hmac.Equal([]byte(expected), []byte(strings.TrimSpace(signature))) {
		return ErrInvalidSignature
	}
	return nil
}

// MockGateway é um provedor determinístico para testes e modo offline
type MockGateway struct {
	secret string
}

func NewMockGateway(secret string) *MockGateway {
	return &MockGateway{secret: secret}
}

func (g *MockGateway) Name() string  { return "mock" }
func (g *MockGateway) KeyID() string { return "mock_key" }

// CreateRemoteOrder retorna um identificador sintético derivado do receipt, sem rede
func (g *MockGateway) CreateRemoteOrder(_ context.Context, amount int64, currency, receipt string) (RemoteOrder, error) {
	if amount <= 0 {
		return RemoteOrder{}, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	sum := sha256.Sum256([]byte(receipt))
	id := "order_mock_" + hex.EncodeToString(sum[:])[:14]
	raw, _ := json.Marshal(map[string]any{
		"id":       id,
		"entity":   "order",
		"amount":   amount,
		"currency": currency,
		"receipt":  receipt,
		"status":   "created",
	})
	return RemoteOrder{ID: id, Raw: raw}, nil
}

func (g *MockGateway) VerifyConfirmation(providerOrderID, providerPaymentID, signature string) error {
	return verifySignature(g.secret, providerOrderID, providerPaymentID, signature)
}
