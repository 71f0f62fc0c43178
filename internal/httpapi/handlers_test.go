package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bodegapos/backend/internal/cache"
	"bodegapos/backend/internal/domain"
	"bodegapos/backend/internal/service"
	"bodegapos/backend/internal/store/memory"
	"bodegapos/backend/internal/txn"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	runner := txn.NewRunner(repo, 5, time.Millisecond)
	svc := service.New(repo, runner, cache.NoopStockCache{}, time.Second, false)
	auth := NewAuthManager("test-secret-key", time.Hour, "123456", repo)

	return New(svc, auth, "*")
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_Success(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{
		"username": "admin",
		"password": "admin123",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["access_token"] == "" || body["access_token"] == nil {
		t.Fatalf("expected access_token in response, got %v", body)
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{
		"username": "admin",
		"password": "wrongpassword",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleBatches_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/batches", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleBatches_SellerCannotReceive(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, api, "seller", "seller123")

	payload, _ := json.Marshal(map[string]any{
		"product_id":     "prod-queso",
		"product_name":   "Queso Fresco",
		"unit":           "weight",
		"quantity":       "10",
		"purchase_price": "62.50",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/batches", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for seller, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleStock_WithValidToken(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, api, "seller", "seller123")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stock?product_id=prod-queso", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	// Seeded queso batches hold 40 + 25 units.
	if body["total"] != "65" {
		t.Fatalf("expected total 65, got %v", body["total"])
	}
}

func TestHandleSales_RecordThenDelete(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	sellerToken := loginAs(t, api, "seller", "seller123")

	payload, _ := json.Marshal(map[string]any{
		"product_id": "prod-queso",
		"price":      "85",
		"quantity":   "12",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sales", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+sellerToken)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var created struct {
		Sale domain.Sale `json:"sale"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode sale: %v", err)
	}
	if created.Sale.ID == "" || len(created.Sale.Allocations) == 0 {
		t.Fatalf("expected sale with allocations, got %+v", created.Sale)
	}

	// Deleting without the manager PIN is refused.
	delReq := httptest.NewRequest(http.MethodDelete, "/api/v1/sales/"+created.Sale.ID, nil)
	delReq.Header.Set("Authorization", "Bearer "+sellerToken)
	delRec := httptest.NewRecorder()
	handler.ServeHTTP(delRec, delReq)
	if delRec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without manager pin, got %d", delRec.Code)
	}

	delReq = httptest.NewRequest(http.MethodDelete, "/api/v1/sales/"+created.Sale.ID, nil)
	delReq.Header.Set("Authorization", "Bearer "+sellerToken)
	delReq.Header.Set("X-Manager-Pin", "123456")
	delRec = httptest.NewRecorder()
	handler.ServeHTTP(delRec, delReq)

	if delRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", delRec.Code, delRec.Body.String())
	}

	var result domain.ReversalResult
	if err := json.NewDecoder(delRec.Body).Decode(&result); err != nil {
		t.Fatalf("decode reversal result: %v", err)
	}
	if result.RestoredQty.String() != "12" {
		t.Fatalf("expected 12 restored, got %s", result.RestoredQty)
	}
}

func TestHandleSales_InsufficientStockIsConflict(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, api, "seller", "seller123")

	payload, _ := json.Marshal(map[string]any{
		"product_id": "prod-pollo",
		"price":      "65",
		"quantity":   "500",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sales", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for insufficient stock, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleAuditLogs_AdminOnly(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	sellerToken := loginAs(t, api, "seller", "seller123")
	req := httptest.NewRequest(http.MethodGet, "/api/v1/audit-logs", nil)
	req.Header.Set("Authorization", "Bearer "+sellerToken)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for seller, got %d", rec.Code)
	}

	adminToken := loginAs(t, api, "admin", "admin123")
	req = httptest.NewRequest(http.MethodGet, "/api/v1/audit-logs", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleSellers_CreateAndList(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	adminToken := loginAs(t, api, "admin", "admin123")

	payload, _ := json.Marshal(map[string]string{
		"username": "vendedora",
		"password": "pass1234",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/sellers", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+adminToken)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/users/sellers", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body struct {
		Sellers []domain.SellerUser `json:"sellers"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	found := false
	for _, s := range body.Sellers {
		if s.Username == "vendedora" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected created seller in list, got %+v", body.Sellers)
	}
}

func loginAs(t *testing.T, api *API, username string, password string) string {
	t.Helper()

	body, _ := json.Marshal(domain.LoginRequest{Username: username, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	api.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login as %s failed, status %d (body: %s)", username, rec.Code, rec.Body.String())
	}

	var payload domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode login response failed: %v", err)
	}
	if payload.AccessToken == "" {
		t.Fatalf("expected access token in login response")
	}
	return payload.AccessToken
}
