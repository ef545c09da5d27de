package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
)

const razorpayProvider = "razorpay"

type razorpayOrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type razorpayOrderResponse struct {
	ID       string `json:"id"`
	Entity   string `json:"entity"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

// RazorpayGateway implementa PaymentGateway usando a API de orders do Razorpay
type RazorpayGateway struct {
	client    *resty.Client
	keyID     string
	keySecret string
}

// NewRazorpayGateway cria o client HTTP autenticado com key id / key secret
func NewRazorpayGateway(cfg PaymentConfig) *RazorpayGateway {
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetBasicAuth(cfg.KeyID, cfg.KeySecret).
		SetHeader("Content-Type", "application/json")

	return &RazorpayGateway{
		client:    client,
		keyID:     cfg.KeyID,
		keySecret: cfg.KeySecret,
	}
}

func (g *RazorpayGateway) Name() string  { return razorpayProvider }
func (g *RazorpayGateway) KeyID() string { return g.keyID }

// CreateRemoteOrder cria o pedido remoto que o cliente vai pagar no checkout do provedor
func (g *RazorpayGateway) CreateRemoteOrder(ctx context.Context, amount int64, currency, receipt string) (RemoteOrder, error) {
	var out razorpayOrderResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(razorpayOrderRequest{
			Amount:   amount,
			Currency: currency,
			Receipt:  receipt,
			Notes:    map[string]string{"receipt": receipt},
		}).
		SetResult(&out).
		Post("/v1/orders")
	if err != nil {
		return RemoteOrder{}, &ProviderError{Provider: razorpayProvider, Step: "create_order", Err: err}
	}
	if resp.IsError() {
		return RemoteOrder{}, &ProviderError{
			Provider:   razorpayProvider,
			Step:       "create_order",
			StatusCode: resp.StatusCode(),
			Body:       resp.Body(),
		}
	}
	if out.ID == "" {
		return RemoteOrder{}, &ProviderError{
			Provider:   razorpayProvider,
			Step:       "create_order",
			StatusCode: resp.StatusCode(),
			Body:       resp.Body(),
			Err:        fmt.Errorf("response without order id"),
		}
	}

	return RemoteOrder{ID: out.ID, Raw: json.RawMessage(resp.Body())}, nil
}

// VerifyConfirmation valida a assinatura do checkout: HMAC-SHA256(key_secret, order_id|payment_id)
func (g *RazorpayGateway) VerifyConfirmation(providerOrderID, providerPaymentID, signature string) error {
	return verifySignature(g.keySecret, providerOrderID, providerPaymentID, signature)
}
