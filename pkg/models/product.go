package models

type ProductType string

const (
	ProductTypeRecharge ProductType = "recharge"
	ProductTypeVoucher  ProductType = "voucher"
)

// ProductMapping is the provider linkage of a purchasable item. It is either
// a RechargeMapping or a VoucherMapping.
type ProductMapping interface {
	Type() ProductType
	Catalog() string
}

type RechargeMapping struct {
	GameCode    string
	CatalogName string
}

func (RechargeMapping) Type() ProductType  { return ProductTypeRecharge }
func (m RechargeMapping) Catalog() string { return m.CatalogName }

type VoucherMapping struct {
	SkuID       string
	CatalogName string
}

func (VoucherMapping) Type() ProductType  { return ProductTypeVoucher }
func (m VoucherMapping) Catalog() string { return m.CatalogName }

// ProviderProduct is a catalog row synced from the provider, keyed by the
// storefront's external product reference.
type ProviderProduct struct {
	Ref                 string      `json:"ref"`
	ProductType         ProductType `json:"product_type"`
	ProviderGameCode    string      `json:"provider_game_code"`
	ProviderCatalogName string      `json:"provider_catalog_name"`
	ProviderSkuID       string      `json:"provider_sku_id"`
	Price               int64       `json:"price"`
}

type GamePackage struct {
	ID          int    `json:"id"`
	GameName    string `json:"game_name"`
	PackageName string `json:"package_name"`
	ProviderRef string `json:"provider_ref"`
}

type ProviderCredential struct {
	Provider string `json:"provider"`
	APIKey   string `json:"-"`
	Enabled  bool   `json:"enabled"`
}
