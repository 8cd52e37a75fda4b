package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"topup-fulfillment/pkg/httpclient"
	"topup-fulfillment/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, httpclient.NewClient(2*time.Second), nil)
}

func TestPlaceRechargeOrder_Accepted(t *testing.T) {
	var got rechargeBody
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/order", r.URL.Path)
		assert.Equal(t, "secret-key", r.Header.Get("X-API-Key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"success":true,"message":"ok","data":{"order_id":99001,"status":"COMPLETED"}}`))
	})

	res, err := c.PlaceRechargeOrder(context.Background(), "secret-key", RechargeRequest{
		GameCode: "mlbb", CatalogName: "86 Diamonds", PlayerID: "123456789", ServerID: "1234",
		IdempotencyToken: "order-1", CallbackURL: "http://cb/provider/callback",
	})
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, "99001", res.ExternalOrderRef)
	assert.Equal(t, "COMPLETED", res.ProviderStatus)

	assert.Equal(t, "order-1", got.Remark)
	assert.Equal(t, "1234", got.ZoneID)
	assert.Equal(t, "123456789", got.UserID)
	assert.Equal(t, "http://cb/provider/callback", got.CallbackURL)
}

func TestPlaceRechargeOrder_AcceptedWithoutOrderIDIsTransport(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"data":{"status":"PENDING"}}`))
	})

	res, err := c.PlaceRechargeOrder(context.Background(), "k", RechargeRequest{GameCode: "mlbb"})
	assert.ErrorIs(t, err, ErrTransport)
	assert.False(t, res.Accepted)
}

func TestPurchaseVoucher_ItemsAndExpiredAt(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body voucherBody
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, 1, body.Quantity)
		assert.Equal(t, "order-2", body.Remark)
		w.Write([]byte(`{"success":true,"data":{"order_id":"V-77","items":[{"code":"XXXX-YYYY","serial":"SN9","expired_at":"2027-12-31"}]}}`))
	})

	res, err := c.PurchaseVoucher(context.Background(), "k", VoucherRequest{SkuID: "3301", IdempotencyToken: "order-2"})
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, "V-77", res.ExternalOrderRef)
	require.Len(t, res.DeliveredItems, 1)
	assert.Equal(t, models.CardCode{Code: "XXXX-YYYY", Serial: "SN9", Expire: "2027-12-31"}, res.DeliveredItems[0])
}

func TestPurchaseVoucher_Rejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"success":false,"message":"Saldo tidak mencukupi"}`))
	})

	res, err := c.PurchaseVoucher(context.Background(), "k", VoucherRequest{SkuID: "3301"})
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, "Saldo tidak mencukupi", res.ErrorMessage)
	assert.Equal(t, http.StatusBadRequest, res.HTTPStatus)
}

func TestCall_TransportFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error html", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte("<html>bad gateway</html>"))
		}},
		{"not json", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		}},
		{"bad data", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"success":true,"data":{"order_id":{"nested":true}}}`))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.handler)
			res, err := c.PurchaseVoucher(context.Background(), "k", VoucherRequest{SkuID: "1"})
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrTransport))
			assert.False(t, res.Accepted)
			assert.NotEmpty(t, res.ErrorMessage)
		})
	}
}

func TestCall_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()
	c := NewClient(srv.URL, httpclient.NewClient(50*time.Millisecond), nil)

	_, err := c.PlaceRechargeOrder(context.Background(), "k", RechargeRequest{GameCode: "mlbb"})
	assert.ErrorIs(t, err, ErrTransport)
}

func TestCheckOrderStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/order/status", r.URL.Path)
		assert.Equal(t, "mlbb", r.URL.Query().Get("game_code"))
		assert.Equal(t, "99001", r.URL.Query().Get("order_id"))
		w.Write([]byte(`{"success":true,"data":{"status":"PROCESSING"}}`))
	})

	res, err := c.CheckOrderStatus(context.Background(), "k", "mlbb", "99001")
	require.NoError(t, err)
	assert.Equal(t, "PROCESSING", res.ProviderStatus)
	assert.Equal(t, "99001", res.ExternalOrderRef)
}

func TestListCatalog(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"data":[
			{"type":"recharge","game_code":"mlbb","name":"86 Diamonds","sku_id":"42","price":20500},
			{"type":"voucher","name":"Steam IDR 60.000","sku_id":"3301","price":60000}
		]}`))
	})

	items, err := c.ListCatalog(context.Background(), "k")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "recharge_mlbb_42", items[0].Ref())
	assert.Equal(t, "voucher_3301", items[1].Ref())

	p := items[0].ToProduct()
	assert.Equal(t, "mlbb", p.ProviderGameCode)
	assert.Empty(t, p.ProviderSkuID)
	assert.Equal(t, "3301", items[1].ToProduct().ProviderSkuID)
}

func TestFlexString(t *testing.T) {
	var d orderData
	require.NoError(t, json.Unmarshal([]byte(`{"order_id":"ABC"}`), &d))
	assert.Equal(t, FlexString("ABC"), d.OrderID)
	require.NoError(t, json.Unmarshal([]byte(`{"order_id":12345678901}`), &d))
	assert.Equal(t, FlexString("12345678901"), d.OrderID)
	require.NoError(t, json.Unmarshal([]byte(`{"order_id":null}`), &d))
	assert.Equal(t, FlexString(""), d.OrderID)
}
