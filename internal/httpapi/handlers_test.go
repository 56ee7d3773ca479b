package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"paivamoda/backend/internal/domain"
	"paivamoda/backend/internal/service"
	"paivamoda/backend/internal/store/memory"
)

func newTestAPI(t *testing.T) *API {
	t.Helper()
	t.Setenv("SEED_ADMIN_PASSWORD", "admin123")
	t.Setenv("SEED_EMPLOYEE_PASSWORD", "vendas123")

	svc, err := service.New(memory.NewSeeded(), service.Options{
		RecoveryPassphrase: "paiva-recupera",
		Logger:             zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	auth := NewAuthManager("test-secret-with-enough-length-0001", time.Hour, svc)
	return New(svc, auth, "http://localhost:5173", zap.NewNop())
}

func doJSON(t *testing.T, h http.Handler, method string, path string, token string, payload any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Reader
	if payload == nil {
		body = bytes.NewReader(nil)
	} else {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func loginAs(t *testing.T, h http.Handler, username string, password string) string {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: username, Password: password})
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s failed: %d %s", username, rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.AccessToken
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	rec := doJSON(t, api.Handler(), http.MethodGet, "/healthz", "", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok=true, got %v", body)
	}
}

func TestHandleLogin_Success(t *testing.T) {
	api := newTestAPI(t)
	rec := doJSON(t, api.Handler(), http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "admin", Password: "admin123"})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if resp.AccessToken == "" || resp.Role != domain.RoleAdmin {
		t.Fatalf("unexpected login response: %+v", resp)
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)
	rec := doJSON(t, api.Handler(), http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "admin", Password: "wrongpassword"})

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleLogin_UnknownFieldRejected(t *testing.T) {
	api := newTestAPI(t)
	rec := doJSON(t, api.Handler(), http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": "admin",
		"password": "admin123",
		"pin":      "123456",
	})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleProducts_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)
	rec := doJSON(t, api.Handler(), http.MethodGet, "/api/v1/products", "", nil)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleProducts_SearchAndLookup(t *testing.T) {
	api := newTestAPI(t)
	h := api.Handler()
	token := loginAs(t, h, "vendas", "vendas123")

	rec := doJSON(t, h, http.MethodGet, "/api/v1/products?q=jeans", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var list struct {
		Products []domain.Product `json:"products"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(list.Products) != 1 || list.Products[0].InternalCode != "CJ-002" {
		t.Fatalf("expected the jeans only, got %+v", list.Products)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/products/lookup?code=7890000000011", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on barcode lookup, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/products/lookup?code=0000", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on unknown code, got %d", rec.Code)
	}
}

func TestSaleLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	h := api.Handler()
	token := loginAs(t, h, "vendas", "vendas123")

	checkout := domain.CheckoutRequest{
		Items:   []domain.CheckoutItem{{ProductID: 1, Quantity: 1}},
		Payment: domain.PaymentInput{Method: domain.PaymentMoney, CashReceived: "100,00"},
	}
	rec := doJSON(t, h, http.MethodPost, "/api/v1/sales", token, checkout)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var created struct {
		Sale domain.Sale `json:"sale"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode sale: %v", err)
	}
	sale := created.Sale
	if !sale.Total.Equal(decimal.RequireFromString("79.90")) || !sale.Change.Equal(decimal.RequireFromString("20.10")) {
		t.Fatalf("unexpected totals: total=%s change=%s", sale.Total, sale.Change)
	}
	if sale.Operator != "vendas" || sale.Sequence != 1 {
		t.Fatalf("unexpected sale header: %+v", sale)
	}

	salePath := fmt.Sprintf("/api/v1/sales/%d", sale.ID)
	rec = doJSON(t, h, http.MethodGet, salePath+"/receipt", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected receipt 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "000001") {
		t.Fatalf("receipt does not carry the sale number: %s", rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, salePath+"/cancel", token, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without confirmation, got %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodPost, salePath+"/cancel", token, nil, confirmHeader, "wrong-pass")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 on wrong confirmation, got %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodPost, salePath+"/cancel", token, nil, confirmHeader, "vendas123")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on cancel, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, h, http.MethodPost, salePath+"/cancel", token, nil, confirmHeader, "vendas123")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on second cancel, got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/products/1", token, nil)
	var got struct {
		Product domain.Product `json:"product"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode product: %v", err)
	}
	if got.Product.Stock != 12 {
		t.Fatalf("expected stock restored to 12, got %d", got.Product.Stock)
	}
}

func TestSaleRejectionsMapToStatusCodes(t *testing.T) {
	api := newTestAPI(t)
	h := api.Handler()
	token := loginAs(t, h, "vendas", "vendas123")

	cases := []struct {
		name string
		req  domain.CheckoutRequest
		want int
	}{
		{
			name: "empty cart",
			req:  domain.CheckoutRequest{Payment: domain.PaymentInput{Method: domain.PaymentPix}},
			want: http.StatusBadRequest,
		},
		{
			name: "over stock",
			req: domain.CheckoutRequest{
				Items:   []domain.CheckoutItem{{ProductID: 3, Quantity: 99}},
				Payment: domain.PaymentInput{Method: domain.PaymentPix},
			},
			want: http.StatusUnprocessableEntity,
		},
		{
			name: "short cash",
			req: domain.CheckoutRequest{
				Items:   []domain.CheckoutItem{{ProductID: 1, Quantity: 1}},
				Payment: domain.PaymentInput{Method: domain.PaymentMoney, CashReceived: "50"},
			},
			want: http.StatusUnprocessableEntity,
		},
		{
			name: "store credit without customer",
			req: domain.CheckoutRequest{
				Items:   []domain.CheckoutItem{{ProductID: 1, Quantity: 1}},
				Payment: domain.PaymentInput{Method: domain.PaymentStoreCredit, Installments: 2},
			},
			want: http.StatusUnprocessableEntity,
		},
		{
			name: "unknown product",
			req: domain.CheckoutRequest{
				Items:   []domain.CheckoutItem{{ProductID: 404, Quantity: 1}},
				Payment: domain.PaymentInput{Method: domain.PaymentPix},
			},
			want: http.StatusNotFound,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, h, http.MethodPost, "/api/v1/sales", token, tc.req)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d (body: %s)", tc.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestSaleQuoteReportsBlockingReason(t *testing.T) {
	api := newTestAPI(t)
	h := api.Handler()
	token := loginAs(t, h, "vendas", "vendas123")

	rec := doJSON(t, h, http.MethodPost, "/api/v1/sales/quote", token, domain.CheckoutRequest{
		Items:   []domain.CheckoutItem{{ProductID: 1, Quantity: 1}},
		Payment: domain.PaymentInput{Method: domain.PaymentStoreCredit, Installments: 2},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var body struct {
		Quote domain.SaleQuote `json:"quote"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode quote: %v", err)
	}
	if !strings.Contains(body.Quote.Blocking, "customer") {
		t.Fatalf("expected customer blocking reason, got %q", body.Quote.Blocking)
	}
	if len(body.Quote.Schedule) != 2 {
		t.Fatalf("expected 2 installments in schedule, got %d", len(body.Quote.Schedule))
	}
}

func TestUsersRequireAdminRole(t *testing.T) {
	api := newTestAPI(t)
	h := api.Handler()

	employee := loginAs(t, h, "vendas", "vendas123")
	rec := doJSON(t, h, http.MethodGet, "/api/v1/users", employee, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for employee, got %d", rec.Code)
	}

	admin := loginAs(t, h, "admin", "admin123")
	rec = doJSON(t, h, http.MethodPost, "/api/v1/users", admin, domain.UserCreateRequest{Username: "caixa2", Password: "caixa-2026", Role: domain.RoleEmployee})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "caixa-2026") || strings.Contains(rec.Body.String(), "$2a$") {
		t.Fatalf("user response leaks the password: %s", rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodDelete, "/api/v1/users/caixa2", admin, nil, confirmHeader, "admin123")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, h, http.MethodDelete, "/api/v1/users/admin", admin, nil, confirmHeader, "admin123")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on self delete, got %d", rec.Code)
	}
}

func TestPasswordRecovery(t *testing.T) {
	api := newTestAPI(t)
	h := api.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/v1/auth/recover", "", domain.RecoveryRequest{Passphrase: "guess", Username: "admin", NewPassword: "nova-senha"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 on wrong passphrase, got %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodPost, "/api/v1/auth/recover", "", domain.RecoveryRequest{Passphrase: "paiva-recupera", Username: "admin", NewPassword: "nova-senha"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	loginAs(t, h, "admin", "nova-senha")
}

func TestBackupExportRequiresAdmin(t *testing.T) {
	api := newTestAPI(t)
	h := api.Handler()

	employee := loginAs(t, h, "vendas", "vendas123")
	if rec := doJSON(t, h, http.MethodGet, "/api/v1/backup", employee, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for employee, got %d", rec.Code)
	}

	admin := loginAs(t, h, "admin", "admin123")
	rec := doJSON(t, h, http.MethodGet, "/api/v1/backup", admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Disposition"); !strings.Contains(got, "backup-paivamoda-") {
		t.Fatalf("unexpected Content-Disposition %q", got)
	}
	var snap domain.Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.Version != domain.SnapshotVersion || len(snap.Products) != 5 {
		t.Fatalf("unexpected snapshot: version=%q products=%d", snap.Version, len(snap.Products))
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrap: %w", domain.ErrNotFound), http.StatusNotFound},
		{domain.Invalid("name", "required"), http.StatusBadRequest},
		{domain.InvalidAmount("discount", "not a number"), http.StatusBadRequest},
		{domain.ErrDueDateRequired, http.StatusBadRequest},
		{domain.ErrForbidden, http.StatusForbidden},
		{service.ErrInvalidCredentials, http.StatusUnauthorized},
		{domain.ErrAlreadyCancelled, http.StatusConflict},
		{domain.ErrInvalidTransaction, http.StatusConflict},
		{domain.ErrInsufficientStock, http.StatusUnprocessableEntity},
		{domain.ErrInsufficientFunds, http.StatusUnprocessableEntity},
		{domain.ErrCreditLimitExceeded, http.StatusUnprocessableEntity},
		{domain.ErrCustomerRequired, http.StatusUnprocessableEntity},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Errorf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
