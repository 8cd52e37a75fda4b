package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"topup-fulfillment/pkg/models"
)

var ErrNotFound = errors.New("catalog entry not found")

// MySQLCatalog reads the provider products synced by the catalog tool and
// the admin-managed game packages.
type MySQLCatalog struct {
	db *sql.DB
}

func NewMySQLCatalog(db *sql.DB) *MySQLCatalog {
	return &MySQLCatalog{db: db}
}

func (c *MySQLCatalog) FindProviderProduct(ctx context.Context, ref string) (*models.ProviderProduct, error) {
	query := `SELECT ref, product_type, COALESCE(provider_game_code, ''), provider_catalog_name,
		COALESCE(provider_sku_id, ''), price
		FROM provider_products WHERE ref = ?`

	var p models.ProviderProduct
	err := c.db.QueryRowContext(ctx, query, ref).Scan(&p.Ref, &p.ProductType, &p.ProviderGameCode,
		&p.ProviderCatalogName, &p.ProviderSkuID, &p.Price)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up provider product %q: %w", ref, err)
	}
	return &p, nil
}

// FindProviderRef returns the provider reference stored for a game package.
// A package row without a reference counts as not found.
func (c *MySQLCatalog) FindProviderRef(ctx context.Context, gameName, packageName string) (string, error) {
	query := `SELECT COALESCE(provider_ref, '') FROM game_packages WHERE game_name = ? AND package_name = ?`

	var ref string
	err := c.db.QueryRowContext(ctx, query, gameName, packageName).Scan(&ref)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && ref == "") {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up package %q/%q: %w", gameName, packageName, err)
	}
	return ref, nil
}

func (c *MySQLCatalog) UpsertProviderProduct(ctx context.Context, p models.ProviderProduct) error {
	query := `INSERT INTO provider_products (ref, product_type, provider_game_code, provider_catalog_name, provider_sku_id, price)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE product_type = VALUES(product_type), provider_game_code = VALUES(provider_game_code),
		provider_catalog_name = VALUES(provider_catalog_name), provider_sku_id = VALUES(provider_sku_id),
		price = VALUES(price), synced_at = CURRENT_TIMESTAMP`

	_, err := c.db.ExecContext(ctx, query, p.Ref, p.ProductType, nullable(p.ProviderGameCode),
		p.ProviderCatalogName, nullable(p.ProviderSkuID), p.Price)
	if err != nil {
		return fmt.Errorf("failed to upsert provider product %q: %w", p.Ref, err)
	}
	return nil
}

func (c *MySQLCatalog) UpsertGamePackage(ctx context.Context, gp models.GamePackage) error {
	query := `INSERT INTO game_packages (game_name, package_name, provider_ref) VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE provider_ref = VALUES(provider_ref)`

	if _, err := c.db.ExecContext(ctx, query, gp.GameName, gp.PackageName, nullable(gp.ProviderRef)); err != nil {
		return fmt.Errorf("failed to upsert package %q/%q: %w", gp.GameName, gp.PackageName, err)
	}
	return nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
