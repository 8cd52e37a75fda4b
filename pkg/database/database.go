package database

import (
	"database/sql"
	"fmt"
	"net/url"
	"time"

	"topup-fulfillment/pkg/config"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
)

func Open(cfg config.Database) (*sql.DB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true&clientFoundRows=true&loc=%s",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Name,
		url.QueryEscape(cfg.TimeZone))

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

var tables = []string{
	`CREATE TABLE IF NOT EXISTS orders (
		id VARCHAR(36) PRIMARY KEY,
		game_name VARCHAR(255) NOT NULL,
		package_name VARCHAR(255) NOT NULL,
		player_id VARCHAR(64) NOT NULL,
		server_id VARCHAR(64) NULL,
		player_name VARCHAR(255) NULL,
		amount BIGINT NOT NULL,
		currency VARCHAR(8) NOT NULL DEFAULT 'IDR',
		payment_method VARCHAR(64) NOT NULL DEFAULT 'qris',
		external_product_ref VARCHAR(255) NULL,
		external_order_ref VARCHAR(255) NULL,
		idempotency_token VARCHAR(64) NULL,
		card_codes JSON NULL,
		status VARCHAR(20) NOT NULL,
		status_message TEXT NULL,
		created_at TIMESTAMP(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
		updated_at TIMESTAMP(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
		UNIQUE KEY unique_external_order_ref (external_order_ref),
		KEY idx_status_updated (status, updated_at)
	)`,
	`CREATE TABLE IF NOT EXISTS provider_products (
		ref VARCHAR(255) PRIMARY KEY,
		product_type VARCHAR(16) NOT NULL,
		provider_game_code VARCHAR(64) NULL,
		provider_catalog_name VARCHAR(255) NOT NULL,
		provider_sku_id VARCHAR(64) NULL,
		price BIGINT NOT NULL DEFAULT 0,
		synced_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS game_packages (
		id INT AUTO_INCREMENT PRIMARY KEY,
		game_name VARCHAR(255) NOT NULL,
		package_name VARCHAR(255) NOT NULL,
		provider_ref VARCHAR(255) NULL,
		UNIQUE KEY unique_game_package (game_name, package_name)
	)`,
	`CREATE TABLE IF NOT EXISTS provider_credentials (
		provider VARCHAR(64) PRIMARY KEY,
		api_key VARCHAR(255) NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS fulfillment_attempts (
		id INT AUTO_INCREMENT PRIMARY KEY,
		order_id VARCHAR(36) NOT NULL,
		attempt_number INT NOT NULL DEFAULT 1,
		operation VARCHAR(16) NOT NULL,
		payload JSON,
		attempted_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		KEY idx_attempt_order (order_id)
	)`,
	`CREATE TABLE IF NOT EXISTS sim_orders (
		id INT AUTO_INCREMENT PRIMARY KEY,
		remark VARCHAR(255) NOT NULL,
		kind VARCHAR(16) NOT NULL,
		game_code VARCHAR(64) NULL,
		catalog_name VARCHAR(255) NULL,
		sku_id VARCHAR(64) NULL,
		user_id VARCHAR(64) NULL,
		zone_id VARCHAR(64) NULL,
		callback_url VARCHAR(512) NULL,
		status VARCHAR(20) NOT NULL,
		cards JSON NULL,
		processed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		KEY idx_sim_remark (remark)
	)`,
}

func CreateTables(db *sql.DB) error {
	for _, query := range tables {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

func ResetTables(db *sql.DB, log *zap.Logger) error {
	names := []string{"fulfillment_attempts", "sim_orders", "provider_credentials", "game_packages", "provider_products", "orders"}

	for _, table := range names {
		query := fmt.Sprintf("DROP TABLE IF EXISTS %s", table)
		if _, err := db.Exec(query); err != nil {
			log.Error("Failed to drop table", zap.String("table", table), zap.Error(err))
		} else {
			log.Info("Table dropped", zap.String("table", table))
		}
	}

	if err := CreateTables(db); err != nil {
		return fmt.Errorf("failed to recreate tables: %w", err)
	}

	log.Info("All tables dropped and recreated successfully")
	return nil
}
