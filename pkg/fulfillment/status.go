package fulfillment

import (
	"strings"

	"topup-fulfillment/pkg/models"
)

// MapStatus translates the provider's status vocabulary. Anything it does
// not recognize as final keeps the order in processing.
func MapStatus(providerStatus string) models.Status {
	switch strings.ToUpper(strings.TrimSpace(providerStatus)) {
	case "COMPLETED", "COMPLETE", "SUCCESS", "SUCCEEDED", "DONE":
		return models.StatusCompleted
	case "FAILED", "FAIL", "CANCELLED", "CANCELED", "REFUNDED", "REJECTED":
		return models.StatusFailed
	}
	return models.StatusProcessing
}
