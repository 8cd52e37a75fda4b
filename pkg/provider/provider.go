package provider

import (
	"context"
	"errors"

	"topup-fulfillment/pkg/models"
)

// ErrTransport marks calls whose outcome is unknown: the request may or may
// not have reached the provider.
var ErrTransport = errors.New("provider transport failure")

// Result is the normalized outcome of every provider operation.
type Result struct {
	Accepted         bool
	ExternalOrderRef string
	DeliveredItems   []models.CardCode
	ProviderStatus   string
	ErrorMessage     string
	HTTPStatus       int
}

type RechargeRequest struct {
	GameCode    string
	CatalogName string
	PlayerID    string
	ServerID    string
	// IdempotencyToken travels in the provider's remark field.
	IdempotencyToken string
	CallbackURL      string
}

type VoucherRequest struct {
	SkuID            string
	Quantity         int
	IdempotencyToken string
}

type CatalogItem struct {
	Type     models.ProductType `json:"type"`
	GameCode string             `json:"game_code"`
	Name     string             `json:"name"`
	SkuID    string             `json:"sku_id"`
	Price    int64              `json:"price"`
}

// Ref is the storefront reference this item is synced under.
func (i CatalogItem) Ref() string {
	if i.Type == models.ProductTypeVoucher {
		return "voucher_" + i.SkuID
	}
	return "recharge_" + i.GameCode + "_" + i.SkuID
}

func (i CatalogItem) ToProduct() models.ProviderProduct {
	p := models.ProviderProduct{
		Ref:                 i.Ref(),
		ProductType:         i.Type,
		ProviderCatalogName: i.Name,
		Price:               i.Price,
	}
	if i.Type == models.ProductTypeVoucher {
		p.ProviderSkuID = i.SkuID
	} else {
		p.ProviderGameCode = i.GameCode
	}
	return p
}

// Adapter is the provider's API surface. It reports outcomes and never
// decides whether a failure should be retried.
type Adapter interface {
	PlaceRechargeOrder(ctx context.Context, apiKey string, req RechargeRequest) (Result, error)
	PurchaseVoucher(ctx context.Context, apiKey string, req VoucherRequest) (Result, error)
	CheckOrderStatus(ctx context.Context, apiKey, gameCode, externalOrderRef string) (Result, error)
	ListCatalog(ctx context.Context, apiKey string) ([]CatalogItem, error)
}
