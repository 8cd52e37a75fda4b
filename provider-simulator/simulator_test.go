package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"topup-fulfillment/pkg/httpclient"
	"topup-fulfillment/pkg/provider"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memRepo struct {
	mu     sync.Mutex
	orders []*simOrder
}

func (r *memRepo) FindByRemark(ctx context.Context, kind, remark string) (*simOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.Kind == kind && o.Remark == remark {
			c := *o
			return &c, nil
		}
	}
	return nil, nil
}

func (r *memRepo) Insert(ctx context.Context, o *simOrder) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *o
	c.ID = int64(len(r.orders) + 1000)
	r.orders = append(r.orders, &c)
	return c.ID, nil
}

func (r *memRepo) Get(ctx context.Context, id int64) (*simOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.ID == id {
			c := *o
			return &c, nil
		}
	}
	return nil, errOrderNotFound
}

func (r *memRepo) UpdateStatus(ctx context.Context, id int64, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.ID == id {
			o.Status = status
		}
	}
	return nil
}

const testKey = "sim-key"

func setupSimulator(cfg simulatorConfig) (*simulator, *memRepo, *gin.Engine) {
	gin.SetMode(gin.TestMode)
	cfg.APIKey = testKey
	repo := &memRepo{}
	sim := newSimulator(cfg, repo, httpclient.NewClient(0), zap.NewNop())
	r := gin.New()
	sim.routes(r)
	return sim, repo, r
}

func call(t *testing.T, r *gin.Engine, method, path string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", testKey)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return w.Code, out
}

func TestSimulator_RejectsMissingAPIKey(t *testing.T) {
	_, _, r := setupSimulator(simulatorConfig{})
	req := httptest.NewRequest(http.MethodGet, "/v1/catalog", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSimulator_RechargeRemarkIsIdempotent(t *testing.T) {
	sim, repo, r := setupSimulator(simulatorConfig{IdempotencyCheck: true})
	body := orderRequest{GameCode: "mlbb", CatalogName: "86 Diamonds", UserID: "123456789", ZoneID: "2345", Remark: "ord-1"}

	_, first := call(t, r, http.MethodPost, "/v1/order", body)
	_, second := call(t, r, http.MethodPost, "/v1/order", body)
	sim.wg.Wait()

	assert.Equal(t, true, first["success"])
	assert.Equal(t, first["data"].(map[string]interface{})["order_id"], second["data"].(map[string]interface{})["order_id"])
	assert.Len(t, repo.orders, 1)
}

func TestSimulator_RechargeWithoutIdempotencyDuplicates(t *testing.T) {
	sim, repo, r := setupSimulator(simulatorConfig{})
	body := orderRequest{GameCode: "ff", CatalogName: "140 Diamonds", UserID: "123456789", Remark: "ord-1"}

	call(t, r, http.MethodPost, "/v1/order", body)
	call(t, r, http.MethodPost, "/v1/order", body)
	sim.wg.Wait()

	assert.Len(t, repo.orders, 2)
}

func TestSimulator_RechargeValidation(t *testing.T) {
	_, repo, r := setupSimulator(simulatorConfig{})

	_, out := call(t, r, http.MethodPost, "/v1/order", orderRequest{GameCode: "mlbb", CatalogName: "86 Diamonds", UserID: "1", Remark: "ord-1"})
	assert.Equal(t, false, out["success"])
	assert.Contains(t, out["message"], "zone_id")

	_, out = call(t, r, http.MethodPost, "/v1/order", orderRequest{GameCode: "mlbb", CatalogName: "9999 Diamonds", UserID: "1", ZoneID: "2", Remark: "ord-1"})
	assert.Equal(t, false, out["success"])
	assert.Empty(t, repo.orders)
}

func TestSimulator_SettleSendsSignedCallback(t *testing.T) {
	const secret = "cb-secret"
	received := make(chan provider.Callback, 1)
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		if !provider.VerifySignature(secret, raw, r.Header.Get(provider.SignatureHeader)) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		cb, err := provider.ParseCallback(raw)
		if assert.NoError(t, err) {
			received <- cb
		}
	}))
	defer receiver.Close()

	sim, repo, r := setupSimulator(simulatorConfig{CallbackSecret: secret})
	_, out := call(t, r, http.MethodPost, "/v1/order", orderRequest{
		GameCode: "mlbb", CatalogName: "86 Diamonds", UserID: "123456789", ZoneID: "2345",
		Remark: "ord-1", CallbackURL: receiver.URL,
	})
	require.Equal(t, true, out["success"])
	sim.wg.Wait()

	require.Len(t, received, 1)
	cb := <-received
	assert.Equal(t, provider.FlexString("1000"), cb.OrderID)
	assert.Equal(t, statusCompleted, cb.Status)
	assert.Equal(t, statusCompleted, repo.orders[0].Status)
}

func TestSimulator_VoucherDeliversCards(t *testing.T) {
	_, _, r := setupSimulator(simulatorConfig{})

	_, out := call(t, r, http.MethodPost, "/v1/card/purchase", purchaseRequest{SkuID: "3301", Quantity: 2, Remark: "ord-2"})
	require.Equal(t, true, out["success"])
	cards := out["data"].(map[string]interface{})["cards"].([]interface{})
	assert.Len(t, cards, 2)

	_, out = call(t, r, http.MethodPost, "/v1/card/purchase", purchaseRequest{SkuID: "7777", Quantity: 1, Remark: "ord-3"})
	require.Equal(t, true, out["success"])
	assert.Empty(t, out["data"].(map[string]interface{})["cards"])

	_, out = call(t, r, http.MethodPost, "/v1/card/purchase", purchaseRequest{SkuID: "0000", Remark: "ord-4"})
	assert.Equal(t, false, out["success"])
}

func TestSimulator_StatusAndCatalog(t *testing.T) {
	sim, _, r := setupSimulator(simulatorConfig{})
	call(t, r, http.MethodPost, "/v1/order", orderRequest{GameCode: "ff", CatalogName: "140 Diamonds", UserID: "1", Remark: "ord-1"})
	sim.wg.Wait()

	_, out := call(t, r, http.MethodGet, "/v1/order/status?game_code=ff&order_id=1000", nil)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, statusCompleted, out["data"].(map[string]interface{})["status"])

	_, out = call(t, r, http.MethodGet, "/v1/order/status?game_code=ff&order_id=42", nil)
	assert.Equal(t, false, out["success"])

	_, out = call(t, r, http.MethodGet, "/v1/catalog", nil)
	assert.Len(t, out["data"], len(defaultCatalog))
}
