package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"topup-fulfillment/pkg/catalog"
	"topup-fulfillment/pkg/models"

	"go.uber.org/zap"
)

var ErrMissingMapping = errors.New("missing product mapping")

// ResolutionError names what could not be resolved so an operator can fix
// the catalog link. It unwraps to ErrMissingMapping.
type ResolutionError struct {
	Ref         string
	GameName    string
	PackageName string
}

func (e *ResolutionError) Error() string {
	if e.Ref != "" {
		return fmt.Sprintf("no provider mapping for product ref %q (%s / %s)", e.Ref, e.GameName, e.PackageName)
	}
	return fmt.Sprintf("no provider mapping for %s / %s: link the package to a provider product", e.GameName, e.PackageName)
}

func (e *ResolutionError) Unwrap() error { return ErrMissingMapping }

type Catalog interface {
	FindProviderProduct(ctx context.Context, ref string) (*models.ProviderProduct, error)
	FindProviderRef(ctx context.Context, gameName, packageName string) (string, error)
}

type MappingCache interface {
	Get(ctx context.Context, key string) (models.ProductMapping, bool, error)
	Set(ctx context.Context, key string, m models.ProductMapping) error
}

type Resolver struct {
	catalog Catalog
	cache   MappingCache
	log     *zap.Logger
}

// New builds a Resolver. cache may be nil.
func New(c Catalog, cache MappingCache, log *zap.Logger) *Resolver {
	return &Resolver{catalog: c, cache: cache, log: log}
}

// Resolve returns the provider mapping for an order. Catalog outages are
// returned as plain errors, distinct from ErrMissingMapping.
func (r *Resolver) Resolve(ctx context.Context, o *models.Order) (models.ProductMapping, error) {
	key := cacheKey(o)
	if m := r.cached(ctx, key); m != nil {
		return m, nil
	}

	m, err := r.resolve(ctx, o)
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, key, m); err != nil {
			r.log.Warn("mapping_cache_set_failed", zap.String("key", key), zap.Error(err))
		}
	}
	return m, nil
}

func (r *Resolver) resolve(ctx context.Context, o *models.Order) (models.ProductMapping, error) {
	if o.ExternalProductRef != "" {
		m, err := r.fromRef(ctx, o.ExternalProductRef, o.PackageName)
		if err != nil || m != nil {
			return m, err
		}
	}

	ref, err := r.catalog.FindProviderRef(ctx, o.GameName, o.PackageName)
	switch {
	case errors.Is(err, catalog.ErrNotFound):
	case err != nil:
		return nil, err
	default:
		m, err := r.fromRef(ctx, ref, o.PackageName)
		if err != nil || m != nil {
			return m, err
		}
	}

	return nil, &ResolutionError{Ref: o.ExternalProductRef, GameName: o.GameName, PackageName: o.PackageName}
}

// fromRef tries the synced provider product first, then the prefix
// encoded in the reference itself. A nil mapping with a nil error means
// neither path produced a complete mapping.
func (r *Resolver) fromRef(ctx context.Context, ref, packageName string) (models.ProductMapping, error) {
	p, err := r.catalog.FindProviderProduct(ctx, ref)
	switch {
	case errors.Is(err, catalog.ErrNotFound):
	case err != nil:
		return nil, err
	default:
		if m := fromProduct(p, packageName); m != nil {
			return m, nil
		}
		r.log.Warn("provider_product_incomplete", zap.String("ref", ref))
	}

	if m := ParseRef(ref, packageName); m != nil {
		return m, nil
	}
	return nil, nil
}

func fromProduct(p *models.ProviderProduct, packageName string) models.ProductMapping {
	catalogName := p.ProviderCatalogName
	if catalogName == "" {
		catalogName = packageName
	}
	switch p.ProductType {
	case models.ProductTypeRecharge:
		if p.ProviderGameCode != "" && catalogName != "" {
			return models.RechargeMapping{GameCode: p.ProviderGameCode, CatalogName: catalogName}
		}
	case models.ProductTypeVoucher:
		if p.ProviderSkuID != "" {
			return models.VoucherMapping{SkuID: p.ProviderSkuID, CatalogName: catalogName}
		}
	}
	return nil
}

// ParseRef decodes recharge_<gameCode>_<id> and voucher_<id>, plus the
// older game_ and card_ spellings. The catalog name comes from the package.
func ParseRef(ref, packageName string) models.ProductMapping {
	for _, prefix := range []string{"recharge_", "game_"} {
		if rest, ok := strings.CutPrefix(ref, prefix); ok {
			i := strings.LastIndex(rest, "_")
			if i <= 0 || i == len(rest)-1 || packageName == "" {
				return nil
			}
			return models.RechargeMapping{GameCode: rest[:i], CatalogName: packageName}
		}
	}
	for _, prefix := range []string{"voucher_", "card_"} {
		if id, ok := strings.CutPrefix(ref, prefix); ok {
			if id == "" {
				return nil
			}
			return models.VoucherMapping{SkuID: id, CatalogName: packageName}
		}
	}
	return nil
}

func (r *Resolver) cached(ctx context.Context, key string) models.ProductMapping {
	if r.cache == nil {
		return nil
	}
	m, ok, err := r.cache.Get(ctx, key)
	if err != nil {
		r.log.Warn("mapping_cache_get_failed", zap.String("key", key), zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}
	return m
}

func cacheKey(o *models.Order) string {
	if o.ExternalProductRef != "" {
		return "ref:" + o.ExternalProductRef + "|" + o.PackageName
	}
	return "pkg:" + o.GameName + "|" + o.PackageName
}
