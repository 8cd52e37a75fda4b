package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"topup-fulfillment/pkg/models"
)

// MemoryOrderStore mirrors MySQLOrderStore's conditional-write semantics.
type MemoryOrderStore struct {
	mu       sync.Mutex
	orders   map[string]*models.Order
	attempts []models.FulfillmentAttempt
	now      func() time.Time
}

func NewMemoryOrderStore() *MemoryOrderStore {
	return &MemoryOrderStore{
		orders: make(map[string]*models.Order),
		now:    time.Now,
	}
}

func (s *MemoryOrderStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Put stores o as-is, keeping its timestamps.
func (s *MemoryOrderStore) Put(o *models.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = o.Clone()
}

func (s *MemoryOrderStore) Insert(ctx context.Context, o *models.Order) error {
	_ = ctx
	if o == nil || o.ID == "" {
		return fmt.Errorf("order store: id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[o.ID]; exists {
		return fmt.Errorf("order store: order %s already exists", o.ID)
	}
	c := o.Clone()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	c.UpdatedAt = c.CreatedAt
	s.orders[o.ID] = c
	return nil
}

func (s *MemoryOrderStore) Get(ctx context.Context, id string) (*models.Order, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return o.Clone(), nil
}

func (s *MemoryOrderStore) GetByExternalRef(ctx context.Context, ref string) (*models.Order, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range s.orders {
		if ref != "" && o.ExternalOrderRef == ref {
			return o.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryOrderStore) Transition(ctx context.Context, id string, t models.Transition) (bool, error) {
	_ = ctx
	if len(t.From) == 0 && t.StaleBefore == nil {
		return false, fmt.Errorf("transition to %s for order %s has no precondition", t.To, id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok || !t.Allows(o) {
		return false, nil
	}

	o.Status = t.To
	o.StatusMessage = t.Message
	if t.ResetDispatch {
		o.ExternalOrderRef = ""
		o.CardCodes = nil
	}
	if t.ExternalOrderRef != "" {
		o.ExternalOrderRef = t.ExternalOrderRef
	}
	if t.CardCodes != nil {
		o.CardCodes = append([]models.CardCode(nil), t.CardCodes...)
	}
	if t.IdempotencyToken != "" {
		o.IdempotencyToken = t.IdempotencyToken
	}
	o.UpdatedAt = s.now()
	return true, nil
}

func (s *MemoryOrderStore) ListStuck(ctx context.Context, before time.Time, limit int) ([]*models.Order, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	var stuck []*models.Order
	for _, o := range s.orders {
		if o.Status == models.StatusProcessing && o.UpdatedAt.Before(before) {
			stuck = append(stuck, o.Clone())
		}
	}
	sort.Slice(stuck, func(i, j int) bool { return stuck[i].UpdatedAt.Before(stuck[j].UpdatedAt) })
	if limit > 0 && len(stuck) > limit {
		stuck = stuck[:limit]
	}
	return stuck, nil
}

func (s *MemoryOrderStore) RecordAttempt(ctx context.Context, orderID, operation string, payload []byte) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 1
	for _, a := range s.attempts {
		if a.OrderID == orderID {
			n++
		}
	}
	s.attempts = append(s.attempts, models.FulfillmentAttempt{
		ID:            len(s.attempts) + 1,
		OrderID:       orderID,
		AttemptNumber: n,
		Operation:     operation,
		Payload:       string(payload),
		AttemptedAt:   s.now(),
	})
	return n, nil
}

func (s *MemoryOrderStore) Attempts(orderID string) []models.FulfillmentAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.FulfillmentAttempt
	for _, a := range s.attempts {
		if a.OrderID == orderID {
			out = append(out, a)
		}
	}
	return out
}
