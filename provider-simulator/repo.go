package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type simCard struct {
	Code   string `json:"code"`
	Serial string `json:"serial"`
	Expire string `json:"expire"`
}

type simOrder struct {
	ID          int64
	Remark      string
	Kind        string
	GameCode    string
	CatalogName string
	SkuID       string
	UserID      string
	ZoneID      string
	CallbackURL string
	Status      string
	Cards       []simCard
	ProcessedAt time.Time
}

type orderRepo interface {
	// FindByRemark returns nil, nil when no accepted order carries remark.
	FindByRemark(ctx context.Context, kind, remark string) (*simOrder, error)
	Insert(ctx context.Context, o *simOrder) (int64, error)
	Get(ctx context.Context, id int64) (*simOrder, error)
	UpdateStatus(ctx context.Context, id int64, status string) error
}

var errOrderNotFound = errors.New("order not found")

type mysqlRepo struct {
	db *sql.DB
}

const simColumns = `id, remark, kind, COALESCE(game_code, ''), COALESCE(catalog_name, ''), COALESCE(sku_id, ''),
	COALESCE(user_id, ''), COALESCE(zone_id, ''), COALESCE(callback_url, ''), status, cards, processed_at`

func (r *mysqlRepo) FindByRemark(ctx context.Context, kind, remark string) (*simOrder, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+simColumns+` FROM sim_orders WHERE kind = ? AND remark = ? ORDER BY id ASC LIMIT 1`, kind, remark)
	o, err := scanSimOrder(row)
	if errors.Is(err, errOrderNotFound) {
		return nil, nil
	}
	return o, err
}

func (r *mysqlRepo) Insert(ctx context.Context, o *simOrder) (int64, error) {
	var cards interface{}
	if o.Cards != nil {
		b, err := json.Marshal(o.Cards)
		if err != nil {
			return 0, err
		}
		cards = string(b)
	}

	query := `INSERT INTO sim_orders (remark, kind, game_code, catalog_name, sku_id, user_id, zone_id, callback_url, status, cards, processed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, o.Remark, o.Kind, o.GameCode, o.CatalogName, o.SkuID, o.UserID, o.ZoneID,
		o.CallbackURL, o.Status, cards, o.ProcessedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert sim order: %w", err)
	}
	return res.LastInsertId()
}

func (r *mysqlRepo) Get(ctx context.Context, id int64) (*simOrder, error) {
	return scanSimOrder(r.db.QueryRowContext(ctx, `SELECT `+simColumns+` FROM sim_orders WHERE id = ?`, id))
}

func (r *mysqlRepo) UpdateStatus(ctx context.Context, id int64, status string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE sim_orders SET status = ? WHERE id = ?`, status, id)
	return err
}

func scanSimOrder(row *sql.Row) (*simOrder, error) {
	var (
		o     simOrder
		cards []byte
	)
	err := row.Scan(&o.ID, &o.Remark, &o.Kind, &o.GameCode, &o.CatalogName, &o.SkuID, &o.UserID, &o.ZoneID,
		&o.CallbackURL, &o.Status, &cards, &o.ProcessedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan sim order: %w", err)
	}
	if len(cards) > 0 {
		if err := json.Unmarshal(cards, &o.Cards); err != nil {
			return nil, fmt.Errorf("failed to decode cards: %w", err)
		}
	}
	return &o, nil
}
