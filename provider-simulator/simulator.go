package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"topup-fulfillment/pkg/httpclient"
	"topup-fulfillment/pkg/models"
	"topup-fulfillment/pkg/provider"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	kindRecharge = "recharge"
	kindVoucher  = "voucher"

	statusProcessing = "PROCESSING"
	statusCompleted  = "COMPLETED"
	statusFailed     = "FAILED"
)

type catalogEntry struct {
	provider.CatalogItem
	// Stock of 0 sells successfully but delivers no cards.
	Stock int
}

var defaultCatalog = []catalogEntry{
	{CatalogItem: provider.CatalogItem{Type: models.ProductTypeRecharge, GameCode: "mlbb", Name: "86 Diamonds", SkuID: "42", Price: 20000}, Stock: -1},
	{CatalogItem: provider.CatalogItem{Type: models.ProductTypeRecharge, GameCode: "mlbb", Name: "172 Diamonds", SkuID: "43", Price: 40000}, Stock: -1},
	{CatalogItem: provider.CatalogItem{Type: models.ProductTypeRecharge, GameCode: "ff", Name: "140 Diamonds", SkuID: "7", Price: 18000}, Stock: -1},
	{CatalogItem: provider.CatalogItem{Type: models.ProductTypeRecharge, GameCode: "genshin", Name: "Welkin Moon", SkuID: "88", Price: 75000}, Stock: -1},
	{CatalogItem: provider.CatalogItem{Type: models.ProductTypeVoucher, Name: "Steam Wallet IDR 60.000", SkuID: "3301", Price: 62000}, Stock: -1},
	{CatalogItem: provider.CatalogItem{Type: models.ProductTypeVoucher, Name: "Google Play IDR 50.000", SkuID: "5050", Price: 50000}, Stock: -1},
	{CatalogItem: provider.CatalogItem{Type: models.ProductTypeVoucher, Name: "Garena Shells 33", SkuID: "7777", Price: 10000}, Stock: 0},
}

// zoneRequired lists game codes whose accounts live on a server.
var zoneRequired = map[string]bool{"mlbb": true, "genshin": true}

type simulatorConfig struct {
	APIKey           string
	CallbackSecret   string
	IdempotencyCheck bool
	// FailRate is the percentage of orders rejected at random.
	FailRate    int
	SettleAfter time.Duration
}

type simulator struct {
	cfg     simulatorConfig
	repo    orderRepo
	catalog []catalogEntry
	http    *httpclient.Client
	log     *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand
	wg  sync.WaitGroup
}

func newSimulator(cfg simulatorConfig, repo orderRepo, hc *httpclient.Client, log *zap.Logger) *simulator {
	return &simulator{
		cfg:     cfg,
		repo:    repo,
		catalog: defaultCatalog,
		http:    hc,
		log:     log,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *simulator) routes(r gin.IRouter) {
	r.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "OK") })

	v1 := r.Group("/v1", s.requireAPIKey)
	v1.POST("/order", s.placeOrder)
	v1.POST("/card/purchase", s.purchaseCard)
	v1.GET("/order/status", s.orderStatus)
	v1.GET("/catalog", s.listCatalog)
}

func (s *simulator) requireAPIKey(c *gin.Context) {
	got := c.GetHeader("X-API-Key")
	if s.cfg.APIKey == "" || subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.APIKey)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Invalid API key"})
		return
	}
	c.Next()
}

func (s *simulator) chance() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Intn(100)
}

func reject(c *gin.Context, code int, msg string) {
	c.JSON(code, gin.H{"success": false, "message": msg})
}

func accept(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "OK", "data": data})
}

type orderRequest struct {
	GameCode    string `json:"game_code"`
	CatalogName string `json:"catalog_name"`
	UserID      string `json:"user_id"`
	ZoneID      string `json:"zone_id"`
	Remark      string `json:"remark"`
	CallbackURL string `json:"callback_url"`
}

func (s *simulator) placeOrder(c *gin.Context) {
	var req orderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		reject(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	log := s.log.With(zap.String("remark", req.Remark), zap.String("game_code", req.GameCode))

	if req.Remark == "" || req.UserID == "" {
		reject(c, http.StatusBadRequest, "remark and user_id are required")
		return
	}
	if _, ok := s.findRecharge(req.GameCode, req.CatalogName); !ok {
		reject(c, http.StatusOK, fmt.Sprintf("Catalog %q not found for game %s", req.CatalogName, req.GameCode))
		return
	}
	if zoneRequired[req.GameCode] && req.ZoneID == "" {
		reject(c, http.StatusOK, "zone_id is required for "+req.GameCode)
		return
	}

	if s.cfg.IdempotencyCheck {
		existing, err := s.repo.FindByRemark(c.Request.Context(), kindRecharge, req.Remark)
		if err != nil {
			log.Error("remark_lookup_failed", zap.Error(err))
			reject(c, http.StatusInternalServerError, "Internal server error")
			return
		}
		if existing != nil {
			log.Info("duplicate_remark", zap.Int64("order_id", existing.ID), zap.String("status", existing.Status))
			accept(c, gin.H{"order_id": existing.ID, "status": existing.Status})
			return
		}
	} else {
		log.Warn("idempotency_check_disabled")
	}

	if s.chance() < s.cfg.FailRate {
		log.Info("random_rejection")
		reject(c, http.StatusOK, "Random error occurred")
		return
	}

	o := &simOrder{
		Remark:      req.Remark,
		Kind:        kindRecharge,
		GameCode:    req.GameCode,
		CatalogName: req.CatalogName,
		UserID:      req.UserID,
		ZoneID:      req.ZoneID,
		CallbackURL: req.CallbackURL,
		Status:      statusProcessing,
		ProcessedAt: time.Now(),
	}
	id, err := s.repo.Insert(c.Request.Context(), o)
	if err != nil {
		log.Error("insert_failed", zap.Error(err))
		reject(c, http.StatusInternalServerError, "Internal server error")
		return
	}
	o.ID = id

	log.Info("recharge_accepted", zap.Int64("order_id", id))
	s.wg.Add(1)
	go s.settle(o)

	accept(c, gin.H{"order_id": id, "status": statusProcessing})
}

// settle finishes a recharge after SettleAfter and tells the caller.
func (s *simulator) settle(o *simOrder) {
	defer s.wg.Done()
	time.Sleep(s.cfg.SettleAfter)

	status, message := statusCompleted, "Top up delivered"
	if s.chance() < s.cfg.FailRate {
		status, message = statusFailed, "Game server rejected the top up"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	log := s.log.With(zap.Int64("order_id", o.ID), zap.String("status", status))
	if err := s.repo.UpdateStatus(ctx, o.ID, status); err != nil {
		log.Error("settle_update_failed", zap.Error(err))
		return
	}
	if o.CallbackURL == "" {
		return
	}

	body, err := json.Marshal(provider.Callback{
		OrderID: provider.FlexString(strconv.FormatInt(o.ID, 10)),
		Status:  status,
		Message: message,
	})
	if err != nil {
		log.Error("callback_encode_failed", zap.Error(err))
		return
	}
	headers := map[string]string{provider.SignatureHeader: provider.Sign(s.cfg.CallbackSecret, body)}

	resp, err := s.http.PostJSON(ctx, o.CallbackURL, headers, json.RawMessage(body))
	if err != nil {
		log.Warn("callback_failed", zap.Error(err))
		return
	}
	resp.Body.Close()
	log.Info("callback_sent", zap.Int("http_status", resp.StatusCode))
}

type purchaseRequest struct {
	SkuID    string `json:"sku_id"`
	Quantity int    `json:"quantity"`
	Remark   string `json:"remark"`
}

func (s *simulator) purchaseCard(c *gin.Context) {
	var req purchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		reject(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	log := s.log.With(zap.String("remark", req.Remark), zap.String("sku_id", req.SkuID))

	item, ok := s.findVoucher(req.SkuID)
	if !ok {
		reject(c, http.StatusOK, "SKU "+req.SkuID+" not found")
		return
	}
	if req.Quantity <= 0 {
		req.Quantity = 1
	}

	if s.cfg.IdempotencyCheck && req.Remark != "" {
		existing, err := s.repo.FindByRemark(c.Request.Context(), kindVoucher, req.Remark)
		if err != nil {
			log.Error("remark_lookup_failed", zap.Error(err))
			reject(c, http.StatusInternalServerError, "Internal server error")
			return
		}
		if existing != nil {
			log.Info("duplicate_remark", zap.Int64("order_id", existing.ID))
			accept(c, voucherData(existing))
			return
		}
	}

	if s.chance() < s.cfg.FailRate {
		log.Info("random_rejection")
		reject(c, http.StatusOK, "Insufficient balance")
		return
	}

	o := &simOrder{
		Remark:      req.Remark,
		Kind:        kindVoucher,
		SkuID:       req.SkuID,
		CatalogName: item.Name,
		Status:      statusCompleted,
		Cards:       []simCard{},
		ProcessedAt: time.Now(),
	}
	if item.Stock != 0 {
		for i := 0; i < req.Quantity; i++ {
			o.Cards = append(o.Cards, newCard())
		}
	}

	id, err := s.repo.Insert(c.Request.Context(), o)
	if err != nil {
		log.Error("insert_failed", zap.Error(err))
		reject(c, http.StatusInternalServerError, "Internal server error")
		return
	}
	o.ID = id

	log.Info("voucher_sold", zap.Int64("order_id", id), zap.Int("cards", len(o.Cards)))
	accept(c, voucherData(o))
}

func voucherData(o *simOrder) gin.H {
	return gin.H{"order_id": strconv.FormatInt(o.ID, 10), "status": o.Status, "cards": o.Cards}
}

func newCard() simCard {
	code := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return simCard{
		Code:   code[:4] + "-" + code[4:8] + "-" + code[8:12] + "-" + code[12:16],
		Serial: code[16:28],
		Expire: time.Now().AddDate(1, 0, 0).Format("2006-01-02"),
	}
}

func (s *simulator) orderStatus(c *gin.Context) {
	id, err := strconv.ParseInt(c.Query("order_id"), 10, 64)
	if err != nil {
		reject(c, http.StatusBadRequest, "order_id must be numeric")
		return
	}

	o, err := s.repo.Get(c.Request.Context(), id)
	if errors.Is(err, errOrderNotFound) {
		reject(c, http.StatusOK, "Order not found")
		return
	}
	if err != nil {
		s.log.Error("status_lookup_failed", zap.Int64("order_id", id), zap.Error(err))
		reject(c, http.StatusInternalServerError, "Internal server error")
		return
	}
	if gc := c.Query("game_code"); gc != "" && o.GameCode != "" && gc != o.GameCode {
		reject(c, http.StatusOK, "Order not found")
		return
	}

	accept(c, gin.H{"order_id": o.ID, "status": o.Status})
}

func (s *simulator) listCatalog(c *gin.Context) {
	items := make([]provider.CatalogItem, 0, len(s.catalog))
	for _, e := range s.catalog {
		items = append(items, e.CatalogItem)
	}
	accept(c, items)
}

func (s *simulator) findRecharge(gameCode, name string) (catalogEntry, bool) {
	for _, e := range s.catalog {
		if e.Type == models.ProductTypeRecharge && e.GameCode == gameCode && strings.EqualFold(e.Name, name) {
			return e, true
		}
	}
	return catalogEntry{}, false
}

func (s *simulator) findVoucher(skuID string) (catalogEntry, bool) {
	for _, e := range s.catalog {
		if e.Type == models.ProductTypeVoucher && e.SkuID == skuID {
			return e, true
		}
	}
	return catalogEntry{}, false
}
