package utils

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestGenerateCorrelationID(t *testing.T) {
	id := GenerateCorrelationID()
	assert.Len(t, id, 6)
	for _, c := range id {
		assert.Contains(t, correlationCharset, string(c))
	}
}

func TestCorrelationIDFromContext(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "ABC123")
	assert.Equal(t, "ABC123", CorrelationID(ctx))
	assert.Len(t, CorrelationID(context.Background()), 6)
}

func TestGenerateRandomOrder(t *testing.T) {
	o := GenerateRandomOrder()

	parsed, err := uuid.Parse(o.ID)
	assert.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
	assert.NotEmpty(t, o.GameName)
	assert.NotEmpty(t, o.PackageName)
	assert.Len(t, o.PlayerID, 9)
	assert.Equal(t, "pending", string(o.Status))
	assert.Positive(t, o.Amount)
}

func TestDeterminePublishCount(t *testing.T) {
	for i := 0; i < 50; i++ {
		n := DeterminePublishCount()
		assert.GreaterOrEqual(t, n, 1)
		assert.LessOrEqual(t, n, 3)
	}
}
