package handlers

import (
	"errors"
	"io"
	"log"
	"net/http"

	"newsroomledger/internal/services"

	"github.com/labstack/echo/v4"
)

// WebhookHandlers handles HTTP requests for payment provider webhooks
type WebhookHandlers struct {
	processor services.WebhookProcessor
}

// NewWebhookHandlers creates a new webhook handlers instance
func NewWebhookHandlers(processor services.WebhookProcessor) *WebhookHandlers {
	return &WebhookHandlers{processor: processor}
}

// PaymentProviderWebhook handles POST /webhooks/payment-provider
func (h *WebhookHandlers) PaymentProviderWebhook(c echo.Context) error {
	// Read the raw body; the signature is computed over the exact bytes
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Failed to read request body")
	}

	signature := c.Request().Header.Get("Provider-Signature")

	result, err := h.processor.Process(c.Request().Context(), body, signature)
	if err != nil {
		switch {
		// Signature failures are client errors; the provider does not
		// retry 4xx responses
		case errors.Is(err, services.ErrInvalidSignature):
			return echo.NewHTTPError(http.StatusBadRequest, "Invalid webhook signature")
		case errors.Is(err, services.ErrMalformedEvent):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		default:
			// Transient failure: a non-2xx response makes the provider redeliver
			log.Printf("webhook processing failed: %v", err)
			return echo.NewHTTPError(http.StatusInternalServerError, "Webhook processing failed")
		}
	}

	return c.JSON(http.StatusOK, map[string]string{
		"status":  "success",
		"event":   result.EventType,
		"outcome": string(result.Outcome),
	})
}
