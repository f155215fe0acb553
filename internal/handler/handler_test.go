package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"payndeliver-cart/internal/model"
	"payndeliver-cart/internal/repository"
	"payndeliver-cart/internal/service"
	"payndeliver-cart/pkg/apierror"
	"payndeliver-cart/pkg/response"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *repository.SQLiteCartRepository {
	t.Helper()
	repo, err := repository.NewSQLiteCartRepository(filepath.Join(t.TempDir(), "carts.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func newCartRouter(t *testing.T) (*chi.Mux, *repository.SQLiteCartRepository) {
	t.Helper()
	repo := newTestRepo(t)
	h := NewCartHandler(service.NewCartService(repo, nil), nil)

	r := chi.NewRouter()
	r.Post("/api/cart", h.UpsertCart)
	r.Get("/api/cart/{userId}", h.GetCart)
	r.Delete("/api/cart/{userId}", h.DeleteCart)
	return r, repo
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeCart(t *testing.T, rec *httptest.ResponseRecorder) *model.Cart {
	t.Helper()
	var env response.Envelope[*model.Cart]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.True(t, env.Success)
	return env.Data
}

func TestUpsertCart(t *testing.T) {
	r, repo := newCartRouter(t)

	rec := do(t, r, http.MethodPost, "/api/cart", `{
		"userId": "u1",
		"products": [
			{"id": "p1", "name": "Jollof", "price": 12.5, "quantity": 2, "image": "j.png"},
			{"id": "p2", "name": "Suya", "price": 3, "quantity": 1}
		],
		"total": 999
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	cart := decodeCart(t, rec)
	assert.Equal(t, "u1", cart.UserID)
	assert.Len(t, cart.Products, 2)
	assert.True(t, cart.Total.Equal(decimal.RequireFromString("28")), cart.Total.String())

	stored, err := repo.GetCart(context.Background(), "u1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.Total.Equal(decimal.RequireFromString("28")))
}

func TestUpsertCartEmptyProducts(t *testing.T) {
	r, _ := newCartRouter(t)

	rec := do(t, r, http.MethodPost, "/api/cart", `{"userId": "u1", "products": []}`)
	require.Equal(t, http.StatusOK, rec.Code)

	cart := decodeCart(t, rec)
	assert.Empty(t, cart.Products)
	assert.True(t, cart.Total.IsZero())
}

func TestUpsertCartValidation(t *testing.T) {
	r, _ := newCartRouter(t)

	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"missing user", `{"products": []}`, "userId"},
		{"missing products", `{"userId": "u1"}`, "products"},
		{"negative price", `{"userId": "u1", "products": [{"id": "p1", "price": -1, "quantity": 1}]}`, "products[0].price"},
		{"zero quantity", `{"userId": "u1", "products": [{"id": "p1", "price": 1, "quantity": 0}]}`, "products[0].quantity"},
		{"missing id", `{"userId": "u1", "products": [{"price": 1, "quantity": 1}]}`, "products[0].id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, r, http.MethodPost, "/api/cart", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)

			apiErr := apierror.Parse(rec.Code, rec.Body.Bytes())
			require.NotNil(t, apiErr)
			assert.Equal(t, "VALIDATION_ERROR", apiErr.Code)
			require.NotEmpty(t, apiErr.Details)
			assert.Equal(t, tt.field, apiErr.Details[0].Field)
		})
	}
}

func TestUpsertCartInvalidJSON(t *testing.T) {
	r, _ := newCartRouter(t)

	rec := do(t, r, http.MethodPost, "/api/cart", `{"userId": `)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, r, http.MethodPost, "/api/cart", `{"userId": "u1", "products": [{"id": "p1", "price": "abc", "quantity": 1}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetCart(t *testing.T) {
	r, _ := newCartRouter(t)

	rec := do(t, r, http.MethodGet, "/api/cart/u1", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	apiErr := apierror.Parse(rec.Code, rec.Body.Bytes())
	require.NotNil(t, apiErr)
	assert.Equal(t, "NOT_FOUND", apiErr.Code)

	rec = do(t, r, http.MethodPost, "/api/cart", `{"userId": "u1", "products": [{"id": "p1", "name": "Rice", "price": 4, "quantity": 3}]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, r, http.MethodGet, "/api/cart/u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	cart := decodeCart(t, rec)
	require.Len(t, cart.Products, 1)
	assert.Equal(t, "Rice", cart.Products[0].Name)
	assert.True(t, cart.Total.Equal(decimal.NewFromInt(12)))
}

func TestDeleteCart(t *testing.T) {
	r, _ := newCartRouter(t)

	rec := do(t, r, http.MethodDelete, "/api/cart/u1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	do(t, r, http.MethodPost, "/api/cart", `{"userId": "u1", "products": []}`)

	rec = do(t, r, http.MethodDelete, "/api/cart/u1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, r, http.MethodGet, "/api/cart/u1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCartHandlerRepositoryFailure(t *testing.T) {
	r, repo := newCartRouter(t)
	require.NoError(t, repo.Close())

	rec := do(t, r, http.MethodGet, "/api/cart/u1", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	apiErr := apierror.Parse(rec.Code, rec.Body.Bytes())
	require.NotNil(t, apiErr)
	assert.Equal(t, "INTERNAL_ERROR", apiErr.Code)
}

func TestHealth(t *testing.T) {
	h := New("payndeliver-cart", "1.2.3")
	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var env response.Envelope[HealthResponse]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "healthy", env.Data.Status)
	assert.Equal(t, "1.2.3", env.Data.Version)
}

func TestReady(t *testing.T) {
	healthy := NamedCheck{Name: "database", Check: func(ctx context.Context) error { return nil }}
	broken := NamedCheck{Name: "redis", Check: func(ctx context.Context) error { return errors.New("connection refused") }}

	rec := httptest.NewRecorder()
	New("svc", "1", healthy).Ready(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	New("svc", "1", healthy, broken).Ready(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var env response.Envelope[ReadyResponse]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.False(t, env.Data.Ready)
	require.Len(t, env.Data.Checks, 3)
	assert.Equal(t, "error", env.Data.Checks[2].Status)
	assert.Equal(t, "connection refused", env.Data.Checks[2].Error)
}

func TestStatus(t *testing.T) {
	broken := NamedCheck{Name: "database", Check: func(ctx context.Context) error { return errors.New("down") }}

	rec := httptest.NewRecorder()
	New("payndeliver-cart", "1", broken).Status(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store, no-cache, must-revalidate", rec.Header().Get("Cache-Control"))
	var env response.Envelope[StatusResponse]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "payndeliver-cart", env.Data.Service)
	assert.Equal(t, "degraded", env.Data.Status)
	assert.Equal(t, "error", env.Data.Checks.Database)
}

func TestAdminStats(t *testing.T) {
	repo := newTestRepo(t)
	require.NoError(t, repo.UpsertCart(context.Background(), model.NewCart("u1", nil)))

	rec := httptest.NewRecorder()
	NewAdminHandler(nil, repo, "sqlite").GetStats(rec, httptest.NewRequest(http.MethodGet, "/api/v1/admin/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var env response.Envelope[map[string]interface{}]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "sqlite", env.Data["db_type"])

	buffer, ok := env.Data["redis_buffer"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "not_configured", buffer["status"])

	db, ok := env.Data["database"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "connected", db["status"])
	assert.EqualValues(t, 1, db["total_carts"])
}

func TestCartHandlerWithoutService(t *testing.T) {
	h := NewCartHandler(nil, nil)
	rec := httptest.NewRecorder()
	h.UpsertCart(rec, httptest.NewRequest(http.MethodPost, "/api/cart", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
