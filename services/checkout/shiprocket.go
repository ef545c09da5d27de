package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

const shiprocketProvider = "shiprocket"

const (
	shiprocketLoginPath  = "/v1/external/auth/login"
	shiprocketCreatePath = "/v1/external/orders/create/adhoc"
	shiprocketAWBPath    = "/v1/external/courier/assign/awb"
	shiprocketPickupPath = "/v1/external/courier/generate/pickup"
)

// flexID aceita identificadores que o provedor às vezes envia como número e às vezes como string
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

type shiprocketOrderItem struct {
	Name         string      `json:"name"`
	SKU          string      `json:"sku"`
	Units        int         `json:"units"`
	SellingPrice json.Number `json:"selling_price"`
}

type shiprocketCreateRequest struct {
	OrderID             string                `json:"order_id"`
	OrderDate           string                `json:"order_date"`
	PickupLocation      string                `json:"pickup_location"`
	BillingCustomerName string                `json:"billing_customer_name"`
	BillingLastName     string                `json:"billing_last_name"`
	BillingAddress      string                `json:"billing_address"`
	BillingAddress2     string                `json:"billing_address_2,omitempty"`
	BillingCity         string                `json:"billing_city"`
	BillingPincode      string                `json:"billing_pincode"`
	BillingState        string                `json:"billing_state"`
	BillingCountry      string                `json:"billing_country"`
	BillingEmail        string                `json:"billing_email"`
	BillingPhone        string                `json:"billing_phone"`
	ShippingIsBilling   bool                  `json:"shipping_is_billing"`
	OrderItems          []shiprocketOrderItem `json:"order_items"`
	PaymentMethod       string                `json:"payment_method"`
	SubTotal            json.Number           `json:"sub_total"`
	Length              json.Number           `json:"length"`
	Breadth             json.Number           `json:"breadth"`
	Height              json.Number           `json:"height"`
	Weight              json.Number           `json:"weight"`
}

type shiprocketCreateResponse struct {
	OrderID    flexID `json:"order_id"`
	ShipmentID flexID `json:"shipment_id"`
	Status     string `json:"status"`
}

type shiprocketAWBResponse struct {
	AWBAssignStatus int `json:"awb_assign_status"`
	Response        struct {
		Data struct {
			AWBCode     string `json:"awb_code"`
			CourierName string `json:"courier_name"`
		} `json:"data"`
	} `json:"response"`
}

type shiprocketPickupResponse struct {
	PickupStatus int `json:"pickup_status"`
	Response     struct {
		PickupTokenNumber   flexID `json:"pickup_token_number"`
		PickupScheduledDate string `json:"pickup_scheduled_date"`
	} `json:"response"`
}

// ShiprocketCourier implementa Courier usando a API externa da Shiprocket
type ShiprocketCourier struct {
	client *resty.Client
	cfg    ShippingConfig
	tokens *TokenCache
}

// NewShiprocketCourier cria o client; o token de login fica em store (memória quando nil)
func NewShiprocketCourier(cfg ShippingConfig, store TokenStore) *ShiprocketCourier {
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")

	c := &ShiprocketCourier{client: client, cfg: cfg}
	c.tokens = NewTokenCache(store, c.Login, cfg.TokenTTL, cfg.TokenMargin)
	return c
}

func (c *ShiprocketCourier) Name() string { return shiprocketProvider }

// Login autentica com email/senha e devolve o bearer token
func (c *ShiprocketCourier) Login(ctx context.Context) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"email": c.cfg.Email, "password": c.cfg.Password}).
		SetResult(&out).
		Post(shiprocketLoginPath)
	if err != nil {
		return "", &ProviderError{Provider: shiprocketProvider, Step: "auth", Err: err}
	}
	if resp.IsError() || out.Token == "" {
		return "", &ProviderError{Provider: shiprocketProvider, Step: "auth", StatusCode: resp.StatusCode(), Body: resp.Body()}
	}
	return out.Token, nil
}

func (c *ShiprocketCourier) CreateShipment(ctx context.Context, req ShipmentRequest) (CreateShipmentResult, error) {
	body := c.createRequest(req)

	var out shiprocketCreateResponse
	resp, err := c.post(ctx, StepCreateShipment, shiprocketCreatePath, body, &out)
	if err != nil {
		return CreateShipmentResult{}, err
	}
	if out.ShipmentID == "" {
		return CreateShipmentResult{}, &ProviderError{
			Provider: shiprocketProvider, Step: StepCreateShipment,
			StatusCode: resp.StatusCode(), Body: resp.Body(),
			Err: fmt.Errorf("response without shipment_id"),
		}
	}
	return CreateShipmentResult{
		ProviderOrderID:    string(out.OrderID),
		ProviderShipmentID: string(out.ShipmentID),
		StatusCode:         resp.StatusCode(),
		Raw:                json.RawMessage(resp.Body()),
	}, nil
}

func (c *ShiprocketCourier) AssignAWB(ctx context.Context, providerShipmentID string) (AssignAWBResult, error) {
	var out shiprocketAWBResponse
	resp, err := c.post(ctx, StepAssignAWB, shiprocketAWBPath, map[string]any{
		"shipment_id": shipmentIDValue(providerShipmentID),
	}, &out)
	if err != nil {
		return AssignAWBResult{}, err
	}
	if out.AWBAssignStatus != 1 || out.Response.Data.AWBCode == "" {
		return AssignAWBResult{}, &ProviderError{
			Provider: shiprocketProvider, Step: StepAssignAWB,
			StatusCode: resp.StatusCode(), Body: resp.Body(),
			Err: fmt.Errorf("awb not assigned"),
		}
	}
	return AssignAWBResult{
		AWBCode:     out.Response.Data.AWBCode,
		CourierName: out.Response.Data.CourierName,
		StatusCode:  resp.StatusCode(),
		Raw:         json.RawMessage(resp.Body()),
	}, nil
}

func (c *ShiprocketCourier) SchedulePickup(ctx context.Context, providerShipmentID string) (SchedulePickupResult, error) {
	var out shiprocketPickupResponse
	resp, err := c.post(ctx, StepSchedulePickup, shiprocketPickupPath, map[string]any{
		"shipment_id": []any{shipmentIDValue(providerShipmentID)},
	}, &out)
	if err != nil {
		return SchedulePickupResult{}, err
	}
	if out.PickupStatus != 1 {
		return SchedulePickupResult{}, &ProviderError{
			Provider: shiprocketProvider, Step: StepSchedulePickup,
			StatusCode: resp.StatusCode(), Body: resp.Body(),
			Err: fmt.Errorf("pickup not scheduled"),
		}
	}
	scheduledAt, err := parsePickupDate(out.Response.PickupScheduledDate)
	if err != nil {
		return SchedulePickupResult{}, &ProviderError{
			Provider: shiprocketProvider, Step: StepSchedulePickup,
			StatusCode: resp.StatusCode(), Body: resp.Body(),
			Err: err,
		}
	}
	return SchedulePickupResult{
		PickupToken: string(out.Response.PickupTokenNumber),
		ScheduledAt: scheduledAt,
		StatusCode:  resp.StatusCode(),
		Raw:         json.RawMessage(resp.Body()),
	}, nil
}

// post envia a requisição autenticada; em 401 invalida o token e tenta de novo uma única vez
func (c *ShiprocketCourier) post(ctx context.Context, step, path string, body, out any) (*resty.Response, error) {
	var resp *resty.Response
	for attempt := 0; attempt < 2; attempt++ {
		token, err := c.tokens.GetValidToken(ctx)
		if err != nil {
			return nil, &ProviderError{Provider: shiprocketProvider, Step: step, Err: err}
		}

		resp, err = c.client.R().
			SetContext(ctx).
			SetAuthToken(token).
			SetBody(body).
			SetResult(out).
			Post(path)
		if err != nil {
			return nil, &ProviderError{Provider: shiprocketProvider, Step: step, Err: err}
		}

		if resp.StatusCode() == http.StatusUnauthorized && attempt == 0 {
			if err := c.tokens.Invalidate(ctx, token); err != nil {
				return nil, &ProviderError{Provider: shiprocketProvider, Step: step, Err: err}
			}
			continue
		}
		break
	}

	if resp.IsError() {
		return nil, &ProviderError{
			Provider:   shiprocketProvider,
			Step:       step,
			StatusCode: resp.StatusCode(),
			Body:       resp.Body(),
		}
	}
	return resp, nil
}

func (c *ShiprocketCourier) createRequest(req ShipmentRequest) shiprocketCreateRequest {
	firstName, lastName := splitName(req.Customer.Name)

	items := make([]shiprocketOrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		sku := item.SKU
		if sku == "" {
			sku = item.ProductID
		}
		items = append(items, shiprocketOrderItem{
			Name:         item.ProductName,
			SKU:          sku,
			Units:        item.Quantity,
			SellingPrice: majorUnits(item.UnitPrice),
		})
	}

	country := req.Address.Country
	if country == "" {
		country = "India"
	}

	return shiprocketCreateRequest{
		OrderID:             req.Reference,
		OrderDate:           req.OrderDate.Format("2006-01-02 15:04"),
		PickupLocation:      c.cfg.PickupLocation,
		BillingCustomerName: firstName,
		BillingLastName:     lastName,
		BillingAddress:      req.Address.Line1,
		BillingAddress2:     req.Address.Line2,
		BillingCity:         req.Address.City,
		BillingPincode:      req.Address.Pincode,
		BillingState:        req.Address.State,
		BillingCountry:      country,
		BillingEmail:        req.Customer.Email,
		BillingPhone:        req.Customer.Phone,
		ShippingIsBilling:   true,
		OrderItems:          items,
		PaymentMethod:       "Prepaid",
		SubTotal:            majorUnits(req.TotalAmount),
		Length:              json.Number(c.cfg.PackageLengthCm),
		Breadth:             json.Number(c.cfg.PackageBreadth),
		Height:              json.Number(c.cfg.PackageHeightCm),
		Weight:              json.Number(c.cfg.PackageWeightKg),
	}
}

// majorUnits converte centavos/paise para o valor decimal que o provedor espera
func majorUnits(minor int64) json.Number {
	return json.Number(decimal.New(minor, -2).StringFixed(2))
}

// shipmentIDValue envia IDs numéricos como número, como a API espera
func shipmentIDValue(id string) any {
	if _, err := strconv.ParseInt(id, 10, 64); err == nil {
		return json.Number(id)
	}
	return id
}

func splitName(name string) (string, string) {
	name = strings.TrimSpace(name)
	first, last, found := strings.Cut(name, " ")
	if !found {
		return name, ""
	}
	return first, strings.TrimSpace(last)
}

func parsePickupDate(value string) (time.Time, error) {
	layouts := []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, strings.TrimSpace(value)); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable pickup_scheduled_date %q", value)
}
