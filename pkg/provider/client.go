package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"topup-fulfillment/pkg/httpclient"
	"topup-fulfillment/pkg/metrics"
	"topup-fulfillment/pkg/models"
)

const apiKeyHeader = "X-API-Key"

type Client struct {
	baseURL string
	http    *httpclient.Client
	metrics *metrics.Metrics
}

func NewClient(baseURL string, hc *httpclient.Client, m *metrics.Metrics) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    hc,
		metrics: m,
	}
}

// ---- wire types ----

type rechargeBody struct {
	GameCode    string `json:"game_code"`
	CatalogName string `json:"catalog_name"`
	UserID      string `json:"user_id"`
	ZoneID      string `json:"zone_id,omitempty"`
	Remark      string `json:"remark"`
	CallbackURL string `json:"callback_url,omitempty"`
}

type voucherBody struct {
	SkuID    string `json:"sku_id"`
	Quantity int    `json:"quantity"`
	Remark   string `json:"remark"`
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type orderData struct {
	OrderID FlexString `json:"order_id"`
	Status  string     `json:"status"`
	Cards   []cardData `json:"cards"`
	Items   []cardData `json:"items"`
}

type cardData struct {
	Code      string `json:"code"`
	Serial    string `json:"serial"`
	Expire    string `json:"expire"`
	ExpiredAt string `json:"expired_at"`
}

// FlexString accepts a JSON string or number. Providers are inconsistent
// about how they encode order ids.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("order_id is neither string nor number: %s", b)
	}
	*f = FlexString(n.String())
	return nil
}

// ---- Adapter implementation ----

func (c *Client) PlaceRechargeOrder(ctx context.Context, apiKey string, req RechargeRequest) (Result, error) {
	body := rechargeBody{
		GameCode:    req.GameCode,
		CatalogName: req.CatalogName,
		UserID:      req.PlayerID,
		ZoneID:      req.ServerID,
		Remark:      req.IdempotencyToken,
		CallbackURL: req.CallbackURL,
	}

	res, data, err := c.call(ctx, "recharge", http.MethodPost, "/v1/order", apiKey, body)
	if err != nil || !res.Accepted {
		return res, err
	}
	if data.OrderID == "" {
		res.Accepted = false
		res.ErrorMessage = "provider accepted recharge without an order_id"
		return res, fmt.Errorf("%w: %s", ErrTransport, res.ErrorMessage)
	}
	return res, nil
}

func (c *Client) PurchaseVoucher(ctx context.Context, apiKey string, req VoucherRequest) (Result, error) {
	qty := req.Quantity
	if qty <= 0 {
		qty = 1
	}
	body := voucherBody{SkuID: req.SkuID, Quantity: qty, Remark: req.IdempotencyToken}

	res, _, err := c.call(ctx, "voucher", http.MethodPost, "/v1/card/purchase", apiKey, body)
	return res, err
}

func (c *Client) CheckOrderStatus(ctx context.Context, apiKey, gameCode, externalOrderRef string) (Result, error) {
	q := url.Values{}
	q.Set("game_code", gameCode)
	q.Set("order_id", externalOrderRef)

	res, _, err := c.call(ctx, "status", http.MethodGet, "/v1/order/status?"+q.Encode(), apiKey, nil)
	if err == nil && res.ExternalOrderRef == "" {
		res.ExternalOrderRef = externalOrderRef
	}
	return res, err
}

func (c *Client) ListCatalog(ctx context.Context, apiKey string) ([]CatalogItem, error) {
	start := time.Now()
	env, status, err := c.do(ctx, http.MethodGet, "/v1/catalog", apiKey, nil)
	if err != nil {
		c.metrics.ProviderRequest("catalog", "transport_error", time.Since(start))
		return nil, err
	}
	if !env.Success {
		c.metrics.ProviderRequest("catalog", "rejected", time.Since(start))
		return nil, fmt.Errorf("provider catalog rejected (HTTP %d): %s", status, env.Message)
	}

	var items []CatalogItem
	if err := json.Unmarshal(env.Data, &items); err != nil {
		c.metrics.ProviderRequest("catalog", "transport_error", time.Since(start))
		return nil, fmt.Errorf("%w: malformed catalog: %v", ErrTransport, err)
	}
	c.metrics.ProviderRequest("catalog", "accepted", time.Since(start))
	return items, nil
}

// call runs one order-shaped operation and normalizes the response.
func (c *Client) call(ctx context.Context, op, method, path, apiKey string, payload interface{}) (Result, orderData, error) {
	start := time.Now()
	var data orderData

	env, status, err := c.do(ctx, method, path, apiKey, payload)
	if err != nil {
		c.metrics.ProviderRequest(op, "transport_error", time.Since(start))
		return Result{ErrorMessage: err.Error(), HTTPStatus: status}, data, err
	}

	if !env.Success {
		c.metrics.ProviderRequest(op, "rejected", time.Since(start))
		msg := env.Message
		if msg == "" {
			msg = fmt.Sprintf("provider rejected request (HTTP %d)", status)
		}
		return Result{ErrorMessage: msg, HTTPStatus: status}, data, nil
	}

	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			c.metrics.ProviderRequest(op, "transport_error", time.Since(start))
			msg := fmt.Sprintf("malformed %s response: %v", op, err)
			return Result{ErrorMessage: msg, HTTPStatus: status}, data, fmt.Errorf("%w: %s", ErrTransport, msg)
		}
	}

	c.metrics.ProviderRequest(op, "accepted", time.Since(start))
	return Result{
		Accepted:         true,
		ExternalOrderRef: string(data.OrderID),
		DeliveredItems:   deliveredItems(data),
		ProviderStatus:   data.Status,
		HTTPStatus:       status,
	}, data, nil
}

// do sends the request and decodes the envelope. Network failures, 5xx
// responses and bodies that are not an envelope all wrap ErrTransport.
func (c *Client) do(ctx context.Context, method, path, apiKey string, payload interface{}) (envelope, int, error) {
	var env envelope
	headers := map[string]string{apiKeyHeader: apiKey}

	resp, err := c.http.Do(ctx, method, c.baseURL+path, headers, payload)
	if err != nil {
		if httpclient.IsTimeoutError(err) {
			return env, 0, fmt.Errorf("%w: timeout calling %s: %v", ErrTransport, path, err)
		}
		return env, 0, fmt.Errorf("%w: %s %s: %v", ErrTransport, method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return env, resp.StatusCode, fmt.Errorf("%w: reading %s response: %v", ErrTransport, path, err)
	}

	if resp.StatusCode >= 500 {
		return env, resp.StatusCode, fmt.Errorf("%w: HTTP %d from %s: %s", ErrTransport, resp.StatusCode, path, snippet(raw))
	}

	if err := json.NewDecoder(bytes.NewReader(raw)).Decode(&env); err != nil {
		return env, resp.StatusCode, fmt.Errorf("%w: malformed response (HTTP %d) from %s: %s", ErrTransport, resp.StatusCode, path, snippet(raw))
	}
	return env, resp.StatusCode, nil
}

func deliveredItems(d orderData) []models.CardCode {
	src := d.Cards
	if len(src) == 0 {
		src = d.Items
	}
	if len(src) == 0 {
		return nil
	}
	items := make([]models.CardCode, 0, len(src))
	for _, c := range src {
		expire := c.Expire
		if expire == "" {
			expire = c.ExpiredAt
		}
		items = append(items, models.CardCode{Code: c.Code, Serial: c.Serial, Expire: expire})
	}
	return items
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	if s == "" {
		return "empty body"
	}
	return strconv.Quote(s)
}
