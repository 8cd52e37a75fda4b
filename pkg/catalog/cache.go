package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"topup-fulfillment/pkg/models"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "topup:mapping:"

type cachedMapping struct {
	Type        models.ProductType `json:"type"`
	GameCode    string             `json:"game_code,omitempty"`
	SkuID       string             `json:"sku_id,omitempty"`
	CatalogName string             `json:"catalog_name"`
}

// RedisMappingCache stores resolved product mappings so repeat purchases of
// the same package skip the catalog tables.
type RedisMappingCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisMappingCache(client *redis.Client, ttl time.Duration) *RedisMappingCache {
	return &RedisMappingCache{client: client, ttl: ttl}
}

// NewRedisClient connects and pings. The caller decides whether a failure is fatal.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return client, nil
}

func (c *RedisMappingCache) Get(ctx context.Context, key string) (models.ProductMapping, bool, error) {
	raw, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	m, err := decodeMapping(raw)
	if err != nil {
		return nil, false, err
	}
	return m, true, nil
}

func (c *RedisMappingCache) Set(ctx context.Context, key string, m models.ProductMapping) error {
	raw, err := encodeMapping(m)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, keyPrefix+key, raw, c.ttl).Err()
}

func encodeMapping(m models.ProductMapping) ([]byte, error) {
	switch v := m.(type) {
	case models.RechargeMapping:
		return json.Marshal(cachedMapping{Type: models.ProductTypeRecharge, GameCode: v.GameCode, CatalogName: v.CatalogName})
	case models.VoucherMapping:
		return json.Marshal(cachedMapping{Type: models.ProductTypeVoucher, SkuID: v.SkuID, CatalogName: v.CatalogName})
	}
	return nil, fmt.Errorf("unsupported mapping %T", m)
}

func decodeMapping(raw []byte) (models.ProductMapping, error) {
	var cm cachedMapping
	if err := json.Unmarshal(raw, &cm); err != nil {
		return nil, fmt.Errorf("failed to decode cached mapping: %w", err)
	}
	switch cm.Type {
	case models.ProductTypeRecharge:
		return models.RechargeMapping{GameCode: cm.GameCode, CatalogName: cm.CatalogName}, nil
	case models.ProductTypeVoucher:
		return models.VoucherMapping{SkuID: cm.SkuID, CatalogName: cm.CatalogName}, nil
	}
	return nil, fmt.Errorf("unknown cached mapping type %q", cm.Type)
}
