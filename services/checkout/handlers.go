package main

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/dtm-labs/client/dtmcli"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// OrderUseCaseInterface define a interface do use case de pedidos
type OrderUseCaseInterface interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResult, error)
	RetryPayment(ctx context.Context, orderID string) (*CreateOrderResult, error)
	GetOrderDetails(ctx context.Context, orderID string) (*OrderDetails, error)
}

// PaymentUseCaseInterface define a interface do use case de pagamentos
type PaymentUseCaseInterface interface {
	ConfirmPayment(ctx context.Context, req ConfirmPaymentRequest) (*ConfirmPaymentResult, error)
}

// BookShipmentRequest é o corpo de POST /api/shipments
type BookShipmentRequest struct {
	OrderID string `json:"order_id" binding:"required"`
}

// CheckoutHandler contém os handlers HTTP
type CheckoutHandler struct {
	orders    OrderUseCaseInterface
	payments  PaymentUseCaseInterface
	shipments ShipmentBooker
	tracer    trace.Tracer
}

// NewCheckoutHandler cria uma nova instância de CheckoutHandler
func NewCheckoutHandler(
	orders OrderUseCaseInterface,
	payments PaymentUseCaseInterface,
	shipments ShipmentBooker,
	tracer trace.Tracer,
) *CheckoutHandler {
	return &CheckoutHandler{
		orders:    orders,
		payments:  payments,
		shipments: shipments,
		tracer:    tracer,
	}
}

// NewRouter registra as rotas; o middleware otelgin só entra com telemetria habilitada
func NewRouter(h *CheckoutHandler, serviceName string, telemetry bool) *gin.Engine {
	registerValidators()

	r := gin.New()
	r.Use(gin.Recovery())
	if telemetry {
		r.Use(otelgin.Middleware(serviceName))
	}

	r.GET("/health", h.HealthCheck)

	api := r.Group("/api")
	api.POST("/orders", h.CreateOrder)
	api.GET("/orders/:id", h.GetOrder)
	api.POST("/orders/:id/payments", h.RetryPayment)
	api.POST("/payments/confirm", h.ConfirmPayment)
	api.POST("/shipments", h.BookShipment)

	// endpoint chamado pelo servidor DTM no modo SHIPMENT_TRIGGER=dtm
	api.POST("/shipments/dtm", h.BookShipmentDTM)

	return r
}

var registerOnce sync.Once

// registerValidators adiciona as tags pincode e phone10 ao validator do gin
func registerValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = v.RegisterValidation("pincode", func(fl validator.FieldLevel) bool {
			return pincodePattern.MatchString(fl.Field().String())
		})
		_ = v.RegisterValidation("phone10", func(fl validator.FieldLevel) bool {
			return phonePattern.MatchString(fl.Field().String())
		})
	})
}

// CreateOrder cria um pedido pendente a partir do carrinho
func (h *CheckoutHandler) CreateOrder(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "create_order")
	defer span.End()

	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		respondError(c, invalidInput("%s", err.Error()), nil)
		return
	}
	span.SetAttributes(attribute.Int("items", len(req.Items)))

	result, err := h.orders.CreateOrder(ctx, req)
	if err != nil {
		span.RecordError(err)
		respondError(c, err, nil)
		return
	}

	span.SetAttributes(
		attribute.String("order_id", result.OrderID),
		attribute.String("provider_order_id", result.ProviderOrderID),
		attribute.Int64("amount", result.Amount),
	)
	c.JSON(http.StatusCreated, result)
}

// GetOrder devolve o pedido com itens e shipment
func (h *CheckoutHandler) GetOrder(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "get_order")
	defer span.End()

	orderID := c.Param("id")
	span.SetAttributes(attribute.String("order_id", orderID))

	details, err := h.orders.GetOrderDetails(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, details)
}

// RetryPayment cria uma nova tentativa de pagamento para um pedido pendente
func (h *CheckoutHandler) RetryPayment(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "retry_payment")
	defer span.End()

	orderID := c.Param("id")
	span.SetAttributes(attribute.String("order_id", orderID))

	result, err := h.orders.RetryPayment(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// ConfirmPayment recebe o retorno do checkout do provedor
func (h *CheckoutHandler) ConfirmPayment(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "confirm_payment")
	defer span.End()

	var req ConfirmPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		respondError(c, invalidInput("%s", err.Error()), nil)
		return
	}
	span.SetAttributes(
		attribute.String("order_id", req.OrderID),
		attribute.String("provider_order_id", req.ProviderOrderID),
	)

	result, err := h.payments.ConfirmPayment(ctx, req)
	if err != nil {
		span.RecordError(err)
		respondError(c, err, nil)
		return
	}

	span.SetAttributes(attribute.Bool("transitioned", result.Transitioned))
	c.JSON(http.StatusOK, result)
}

// BookShipment agenda o envio de um pedido pago
func (h *CheckoutHandler) BookShipment(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "book_shipment")
	defer span.End()

	var req BookShipmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		respondError(c, invalidInput("%s", err.Error()), nil)
		return
	}
	span.SetAttributes(attribute.String("order_id", req.OrderID))

	shipment, err := h.shipments.BookShipment(ctx, req.OrderID)
	if err != nil {
		span.RecordError(err)
		respondError(c, err, shipment)
		return
	}

	span.SetAttributes(
		attribute.String("awb_code", shipment.AWBCode),
		attribute.String("shipment_status", string(shipment.Status)),
	)
	c.JSON(http.StatusOK, shipment)
}

// BookShipmentDTM é a ação da mensagem DTM; 409 FAILURE interrompe os retries do servidor
func (h *CheckoutHandler) BookShipmentDTM(c *gin.Context) {
	var req ShipmentActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusConflict, gin.H{"dtm_result": dtmcli.ResultFailure, "message": err.Error()})
		return
	}

	ctx, span := startSpanFromPayload(c.Request.Context(), "book_shipment_dtm", req)
	defer span.End()
	span.SetAttributes(
		attribute.String("order_id", req.OrderID),
		attribute.String("trace_id", req.TraceID),
	)

	_, err := h.shipments.BookShipment(ctx, req.OrderID)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"dtm_result": dtmcli.ResultSuccess})
	case errors.Is(err, ErrOrderNotFound), errors.Is(err, ErrInvalidState):
		span.RecordError(err)
		c.JSON(http.StatusConflict, gin.H{"dtm_result": dtmcli.ResultFailure, "message": err.Error()})
	default:
		// provider, persistência e lease ocupado: o DTM tenta de novo
		span.RecordError(err)
		status, code := errorCode(err)
		if status < http.StatusInternalServerError {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
	}
}

// HealthCheck verifica a saúde do serviço
func (h *CheckoutHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "checkout-service",
	})
}

// respondError escreve o envelope {"error", "message"}; shipment vai junto quando houver diagnóstico
func respondError(c *gin.Context, err error, shipment *Shipment) {
	status, code := errorCode(err)
	body := gin.H{"error": code, "message": err.Error()}
	if status == http.StatusInternalServerError && code == "internal_error" {
		body["message"] = "internal error"
	}
	if shipment != nil {
		body["shipment"] = shipment
	}
	c.JSON(status, body)
}
