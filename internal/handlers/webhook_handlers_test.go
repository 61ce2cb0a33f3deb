package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"newsroomledger/internal/services"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockWebhookProcessor struct {
	mock.Mock
}

func (m *MockWebhookProcessor) Process(ctx context.Context, payload []byte, signature string) (*services.ProcessResult, error) {
	args := m.Called(ctx, payload, signature)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.ProcessResult), args.Error(1)
}

func newWebhookRequest(body, signature string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payment-provider", bytes.NewBufferString(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if signature != "" {
		req.Header.Set("Provider-Signature", signature)
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestPaymentProviderWebhook_Success(t *testing.T) {
	processor := &MockWebhookProcessor{}
	handler := NewWebhookHandlers(processor)

	payload := `{"id":"evt_1","type":"checkout.session.completed"}`
	processor.On("Process", mock.Anything, []byte(payload), "sig123").
		Return(&services.ProcessResult{
			EventID:   "evt_1",
			EventType: "checkout.session.completed",
			Outcome:   services.OutcomeApplied,
		}, nil)

	c, rec := newWebhookRequest(payload, "sig123")
	err := handler.PaymentProviderWebhook(c)

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp["status"])
	assert.Equal(t, "checkout.session.completed", resp["event"])
	assert.Equal(t, services.OutcomeApplied, resp["outcome"])
	processor.AssertExpectations(t)
}

func TestPaymentProviderWebhook_DuplicateIsStillOK(t *testing.T) {
	processor := &MockWebhookProcessor{}
	handler := NewWebhookHandlers(processor)

	processor.On("Process", mock.Anything, mock.Anything, mock.Anything).
		Return(&services.ProcessResult{
			EventID:   "evt_1",
			EventType: "invoice.payment_succeeded",
			Outcome:   services.OutcomeDuplicate,
		}, nil)

	c, rec := newWebhookRequest(`{"id":"evt_1"}`, "sig123")
	err := handler.PaymentProviderWebhook(c)

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), services.OutcomeDuplicate)
}

func TestPaymentProviderWebhook_InvalidSignature(t *testing.T) {
	processor := &MockWebhookProcessor{}
	handler := NewWebhookHandlers(processor)

	processor.On("Process", mock.Anything, mock.Anything, "bad-sig").
		Return(nil, services.ErrInvalidSignature)

	c, _ := newWebhookRequest(`{"id":"evt_1"}`, "bad-sig")
	err := handler.PaymentProviderWebhook(c)

	// Rejected as a client error so the provider drops the delivery
	httpErr, ok := err.(*echo.HTTPError)
	assert.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, httpErr.Code)
}

func TestPaymentProviderWebhook_MalformedEvent(t *testing.T) {
	processor := &MockWebhookProcessor{}
	handler := NewWebhookHandlers(processor)

	processor.On("Process", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, services.ErrMalformedEvent)

	c, _ := newWebhookRequest(`not json`, "sig123")
	err := handler.PaymentProviderWebhook(c)

	httpErr, ok := err.(*echo.HTTPError)
	assert.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, httpErr.Code)
}

func TestPaymentProviderWebhook_TransientFailureTriggersRedelivery(t *testing.T) {
	processor := &MockWebhookProcessor{}
	handler := NewWebhookHandlers(processor)

	processor.On("Process", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("database unavailable"))

	c, _ := newWebhookRequest(`{"id":"evt_1"}`, "sig123")
	err := handler.PaymentProviderWebhook(c)

	httpErr, ok := err.(*echo.HTTPError)
	assert.True(t, ok)
	assert.Equal(t, http.StatusInternalServerError, httpErr.Code)
}
