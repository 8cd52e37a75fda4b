package credential

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"topup-fulfillment/pkg/models"
)

var ErrCredentialNotFound = errors.New("provider credential not found")

type Store interface {
	GetCredential(ctx context.Context, provider string) (*models.ProviderCredential, error)
}

type MySQLStore struct {
	db *sql.DB
}

func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

func (s *MySQLStore) GetCredential(ctx context.Context, provider string) (*models.ProviderCredential, error) {
	query := `SELECT provider, api_key, enabled FROM provider_credentials WHERE provider = ?`

	var c models.ProviderCredential
	err := s.db.QueryRowContext(ctx, query, provider).Scan(&c.Provider, &c.APIKey, &c.Enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCredentialNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load credential for %s: %w", provider, err)
	}
	return &c, nil
}

// Seed stores the API key for a provider. A new row starts enabled; an
// existing row keeps its enabled flag, so an operator's disable survives
// restarts and reseeding.
func (s *MySQLStore) Seed(ctx context.Context, provider, apiKey string) error {
	query := `INSERT INTO provider_credentials (provider, api_key, enabled) VALUES (?, ?, TRUE)
		ON DUPLICATE KEY UPDATE api_key = VALUES(api_key)`

	if _, err := s.db.ExecContext(ctx, query, provider, apiKey); err != nil {
		return fmt.Errorf("failed to seed credential for %s: %w", provider, err)
	}
	return nil
}

func (s *MySQLStore) SetEnabled(ctx context.Context, provider string, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE provider_credentials SET enabled = ? WHERE provider = ?`, enabled, provider)
	if err != nil {
		return fmt.Errorf("failed to update credential for %s: %w", provider, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected for %s: %w", provider, err)
	}
	if n == 0 {
		return ErrCredentialNotFound
	}
	return nil
}

// StaticStore serves credentials from memory, e.g. from PROVIDER_API_KEY.
type StaticStore struct {
	mu    sync.RWMutex
	creds map[string]models.ProviderCredential
}

func NewStaticStore(creds ...models.ProviderCredential) *StaticStore {
	s := &StaticStore{creds: make(map[string]models.ProviderCredential)}
	for _, c := range creds {
		s.creds[c.Provider] = c
	}
	return s
}

func (s *StaticStore) Set(c models.ProviderCredential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[c.Provider] = c
}

func (s *StaticStore) GetCredential(ctx context.Context, provider string) (*models.ProviderCredential, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.creds[provider]
	if !ok {
		return nil, ErrCredentialNotFound
	}
	return &c, nil
}
