package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/angelmondragon/subsync/api/responses"
	stripewebhook "github.com/angelmondragon/subsync/internal/webhooks/stripe"
	pkgerrors "github.com/angelmondragon/subsync/pkg/errors"
)

type fakeStripeWebhookService struct {
	calls     int
	payload   []byte
	signature string
	outcome   stripewebhook.Outcome
	err       error
}

func (f *fakeStripeWebhookService) Handle(ctx context.Context, payload []byte, signature string) (stripewebhook.Outcome, error) {
	f.calls++
	f.payload = payload
	f.signature = signature
	return f.outcome, f.err
}

func TestStripeWebhookAcknowledgesHandledDelivery(t *testing.T) {
	svc := &fakeStripeWebhookService{outcome: stripewebhook.OutcomeDispatched}
	handler := StripeWebhook(svc, 0, nil)

	body := []byte(`{"id":"evt_1"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(body))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if !bytes.Equal(svc.payload, body) {
		t.Fatalf("raw body must reach the service untouched, got %s", svc.payload)
	}
	if svc.signature != "t=1,v1=abc" {
		t.Fatalf("unexpected signature %q", svc.signature)
	}

	var env struct {
		Data stripeWebhookResponse `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !env.Data.Received || env.Data.Outcome != string(stripewebhook.OutcomeDispatched) {
		t.Fatalf("unexpected response %+v", env.Data)
	}
}

func TestStripeWebhookIgnoredAndMalformedStillAcknowledged(t *testing.T) {
	for _, outcome := range []stripewebhook.Outcome{stripewebhook.OutcomeIgnored, stripewebhook.OutcomeMalformed, stripewebhook.OutcomeDispatchFailed} {
		svc := &fakeStripeWebhookService{outcome: outcome}
		rec := httptest.NewRecorder()
		StripeWebhook(svc, 0, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{}")))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", outcome, rec.Code)
		}
	}
}

func TestStripeWebhookInvalidSignature(t *testing.T) {
	svc := &fakeStripeWebhookService{
		err: pkgerrors.Wrap(pkgerrors.CodeValidation, stripewebhook.ErrInvalidSignature, "invalid webhook signature"),
	}
	rec := httptest.NewRecorder()
	StripeWebhook(svc, 0, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{}")))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid signature, got %d", rec.Code)
	}
	var env responses.ErrorEnvelope
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Error.Code != string(pkgerrors.CodeValidation) {
		t.Fatalf("unexpected code %s", env.Error.Code)
	}
}

func TestStripeWebhookDefaultLimitAcceptsLargeInvoices(t *testing.T) {
	svc := &fakeStripeWebhookService{outcome: stripewebhook.OutcomeDispatched}
	body := `{"id":"evt_big","lines":"` + strings.Repeat("x", 200<<10) + `"}`
	rec := httptest.NewRecorder()
	StripeWebhook(svc, 0, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if len(svc.payload) != len(body) {
		t.Fatalf("expected full body to reach the service, got %d bytes", len(svc.payload))
	}
}

func TestStripeWebhookRejectsOversizedBody(t *testing.T) {
	svc := &fakeStripeWebhookService{}
	rec := httptest.NewRecorder()
	StripeWebhook(svc, 8, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"id":"evt_too_long"}`)))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if svc.calls != 0 {
		t.Fatal("oversized bodies must not reach the service")
	}
}

func TestStripeWebhookUnreadableBody(t *testing.T) {
	svc := &fakeStripeWebhookService{}
	req := httptest.NewRequest(http.MethodPost, "/", errReader{})
	rec := httptest.NewRecorder()
	StripeWebhook(svc, 0, nil).ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }
