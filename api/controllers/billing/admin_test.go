package billing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	billingsvc "github.com/angelmondragon/subsync/internal/billing"
)

type stubAdminService struct {
	calls      int
	userID     *uuid.UUID
	customerID string
}

func (s *stubAdminService) AdminResync(ctx context.Context, userID *uuid.UUID, customerID string) (*billingsvc.ResyncView, error) {
	s.calls++
	s.userID = userID
	s.customerID = customerID
	return &billingsvc.ResyncView{Subscription: &billingsvc.SubscriptionView{}}, nil
}

func TestAdminResyncByUser(t *testing.T) {
	svc := &stubAdminService{}
	userID := uuid.New()

	resp := httptest.NewRecorder()
	AdminResync(svc, nil)(resp, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"user_id":"`+userID.String()+`"}`)))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", resp.Code, resp.Body.String())
	}
	if svc.userID == nil || *svc.userID != userID {
		t.Fatalf("expected user %s", userID)
	}
}

func TestAdminResyncByCustomer(t *testing.T) {
	svc := &stubAdminService{}

	resp := httptest.NewRecorder()
	AdminResync(svc, nil)(resp, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"customer_id":"cus_123"}`)))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if svc.userID != nil || svc.customerID != "cus_123" {
		t.Fatalf("unexpected args %v %q", svc.userID, svc.customerID)
	}
}

func TestAdminResyncValidation(t *testing.T) {
	cases := map[string]string{
		"empty":     `{}`,
		"both":      `{"user_id":"` + uuid.NewString() + `","customer_id":"cus_1"}`,
		"bad uuid":  `{"user_id":"abc"}`,
		"bad cus":   `{"customer_id":"sub_1"}`,
		"malformed": `{`,
	}
	for name, body := range cases {
		svc := &stubAdminService{}
		resp := httptest.NewRecorder()
		AdminResync(svc, nil)(resp, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", name, resp.Code)
		}
		if svc.calls != 0 {
			t.Fatalf("%s: service must not be called", name)
		}
	}
}
