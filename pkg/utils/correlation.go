package utils

import (
	"context"
	"crypto/rand"
	"math/big"
)

const correlationCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

type correlationKey struct{}

// GenerateCorrelationID returns a short id that is easy to grep across the
// orchestrator, the simulator and the payment publisher logs.
func GenerateCorrelationID() string {
	result := make([]byte, 6)
	max := big.NewInt(int64(len(correlationCharset)))

	for i := range result {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			idx = big.NewInt(int64(i * 17 % len(correlationCharset)))
		}
		result[i] = correlationCharset[idx.Int64()]
	}

	return string(result)
}

func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the id carried by ctx, or a fresh one.
func CorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationKey{}).(string); ok && id != "" {
		return id
	}
	return GenerateCorrelationID()
}
