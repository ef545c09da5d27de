package main

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalidInput          = errors.New("checkout: invalid input")
	ErrProductNotFound       = errors.New("checkout: product not found")
	ErrProductInactive       = errors.New("checkout: product inactive")
	ErrOrderNotFound         = errors.New("checkout: order not found")
	ErrProviderOrderMismatch = errors.New("checkout: provider order mismatch")
	ErrInvalidSignature      = errors.New("checkout: invalid payment signature")
	ErrInvalidState          = errors.New("checkout: invalid order state")
	ErrShipmentNotFound      = errors.New("checkout: shipment not found")
	ErrShipmentInProgress    = errors.New("checkout: shipment booking in progress")
	ErrSigningUnavailable    = errors.New("checkout: payment signing secret not configured")
	ErrProviderFailure       = errors.New("checkout: provider failure")
	ErrPersistence           = errors.New("checkout: persistence failure")

	// ErrShipmentLeaseLost: outro chamador assumiu a saga depois que o lease expirou
	ErrShipmentLeaseLost = fmt.Errorf("%w: lease lost", ErrShipmentInProgress)
)

// ProviderError carrega a resposta bruta do provedor externo para diagnóstico
type ProviderError struct {
	Provider   string
	Step       string
	StatusCode int
	Body       []byte
	Err        error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Provider, e.Step, e.Err)
	}
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Provider, e.Step, e.StatusCode, truncate(string(e.Body), 256))
}

func (e *ProviderError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrProviderFailure, e.Err}
	}
	return []error{ErrProviderFailure}
}

// invalidInput wraps ErrInvalidInput with a field-specific reason.
func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// errorCode traduz um erro de domínio para código HTTP e código de erro da API
func errorCode(err error) (int, string) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, ErrProductNotFound):
		return http.StatusBadRequest, "product_not_found"
	case errors.Is(err, ErrProductInactive):
		return http.StatusBadRequest, "product_inactive"
	case errors.Is(err, ErrProviderOrderMismatch):
		return http.StatusBadRequest, "provider_order_mismatch"
	case errors.Is(err, ErrInvalidSignature):
		return http.StatusBadRequest, "invalid_signature"
	case errors.Is(err, ErrInvalidState):
		return http.StatusBadRequest, "invalid_state"
	case errors.Is(err, ErrOrderNotFound):
		return http.StatusNotFound, "order_not_found"
	case errors.Is(err, ErrShipmentNotFound):
		return http.StatusNotFound, "shipment_not_found"
	case errors.Is(err, ErrShipmentInProgress):
		return http.StatusConflict, "shipment_in_progress"
	case errors.Is(err, ErrSigningUnavailable):
		return http.StatusInternalServerError, "signing_unavailable"
	case errors.Is(err, ErrProviderFailure):
		return http.StatusInternalServerError, "provider_failure"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
