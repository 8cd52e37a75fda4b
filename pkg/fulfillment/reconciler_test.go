package fulfillment

import (
	"context"
	"errors"
	"testing"
	"time"

	"topup-fulfillment/pkg/models"
	"topup-fulfillment/pkg/provider"
	"topup-fulfillment/pkg/resolver"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func processingOrder(id, ref string) *models.Order {
	o := mlbbOrder(id)
	o.Status = models.StatusProcessing
	o.ExternalOrderRef = ref
	o.UpdatedAt = time.Now().Add(-time.Hour)
	return o
}

func TestHandleCallback_CompletesProcessingOrder(t *testing.T) {
	h := newHarness(Config{})
	h.orders.Put(processingOrder("ml-20", "99020"))

	out, err := h.recon.HandleCallback(context.Background(), CallbackUpdate{ExternalOrderRef: "99020", ProviderStatus: "COMPLETED"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, out.Status)
	assert.Equal(t, models.StatusCompleted, h.get("ml-20").Status)
	assert.Equal(t, 1, h.notifier.count())
}

func TestHandleCallback_FailedKeepsProviderMessage(t *testing.T) {
	h := newHarness(Config{})
	h.orders.Put(processingOrder("ml-21", "99021"))

	out, err := h.recon.HandleCallback(context.Background(), CallbackUpdate{
		ExternalOrderRef: "99021", ProviderStatus: "FAILED", Message: "User ID not found",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, out.Status)
	assert.Equal(t, "User ID not found", h.get("ml-21").StatusMessage)
}

func TestHandleCallback_NeverLeavesTerminalState(t *testing.T) {
	tests := []struct {
		name     string
		current  models.Status
		reported string
		kind     Kind
	}{
		{"completed then failed", models.StatusCompleted, "FAILED", KindReconciliationConflict},
		{"failed then completed", models.StatusFailed, "COMPLETED", KindReconciliationConflict},
		{"completed then processing", models.StatusCompleted, "PROCESSING", ""},
		{"duplicate completed", models.StatusCompleted, "COMPLETED", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(Config{})
			o := processingOrder("ml-22", "99022")
			o.Status = tt.current
			o.StatusMessage = "original"
			h.orders.Put(o)

			out, err := h.recon.HandleCallback(context.Background(), CallbackUpdate{ExternalOrderRef: "99022", ProviderStatus: tt.reported})
			require.NoError(t, err)
			assert.Equal(t, tt.kind, out.Kind)

			stored := h.get("ml-22")
			assert.Equal(t, tt.current, stored.Status)
			assert.Equal(t, "original", stored.StatusMessage)
			assert.Equal(t, 0, h.notifier.count())
		})
	}
}

func TestHandleCallback_UnknownReference(t *testing.T) {
	h := newHarness(Config{})

	_, err := h.recon.HandleCallback(context.Background(), CallbackUpdate{ExternalOrderRef: "nope", ProviderStatus: "COMPLETED"})
	assert.True(t, errors.Is(err, ErrUnknownExternalRef))

	entries := h.logs.FilterMessage("reconcile_ref_not_yet_known").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "nope", entries[0].ContextMap()["external_order_ref"])
	assert.Equal(t, "COMPLETED", entries[0].ContextMap()["provider_status"])
}

func TestCheckStatus_PollsProcessingRecharge(t *testing.T) {
	h := newHarness(Config{})
	h.orders.Put(processingOrder("ml-23", "99023"))
	h.adapter.statusResult = provider.Result{Accepted: true, ExternalOrderRef: "99023", ProviderStatus: "SUCCESS"}

	out, err := h.recon.CheckStatus(context.Background(), "ml-23")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, out.Status)
	assert.Equal(t, []string{"mlbb/99023"}, h.adapter.checks)
}

func TestCheckStatus_NoSideEffectsOutsideProcessing(t *testing.T) {
	h := newHarness(Config{})
	o := processingOrder("ml-24", "99024")
	o.Status = models.StatusFailed
	h.orders.Put(o)

	out, err := h.recon.CheckStatus(context.Background(), "ml-24")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, out.Status)
	assert.Empty(t, h.adapter.checks)
}

func TestCheckStatus_TransportErrorLeavesOrder(t *testing.T) {
	h := newHarness(Config{})
	h.orders.Put(processingOrder("ml-25", "99025"))
	h.adapter.statusErr = provider.ErrTransport

	out, err := h.recon.CheckStatus(context.Background(), "ml-25")
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, out.Status)
	assert.Equal(t, KindTransport, out.Kind)
}

func TestCheckStatus_MappingUnavailableIsLoggedWithReferences(t *testing.T) {
	h := newHarness(Config{})
	h.recon.deps.Resolver = resolver.New(emptyCatalog{err: errors.New("db down")}, nil, zap.NewNop())
	h.orders.Put(processingOrder("ml-30", "99030"))

	out, err := h.recon.CheckStatus(context.Background(), "ml-30")
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, out.Status)
	assert.Empty(t, h.adapter.checks)

	entries := h.logs.FilterMessage("reconcile_mapping_unavailable").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	fields := entries[0].ContextMap()
	assert.Equal(t, "ml-30", fields["order_id"])
	assert.Equal(t, "99030", fields["external_order_ref"])
	assert.Equal(t, "recharge_mlbb_42", fields["external_product_ref"])
}

func TestCallbackAndPollConverge(t *testing.T) {
	h := newHarness(Config{})
	h.orders.Put(processingOrder("ml-26", "99026"))
	h.adapter.statusResult = provider.Result{Accepted: true, ProviderStatus: "COMPLETED"}

	_, err := h.recon.HandleCallback(context.Background(), CallbackUpdate{ExternalOrderRef: "99026", ProviderStatus: "COMPLETED"})
	require.NoError(t, err)
	out, err := h.recon.CheckStatus(context.Background(), "ml-26")
	require.NoError(t, err)

	assert.Equal(t, models.StatusCompleted, out.Status)
	assert.Empty(t, h.adapter.checks)
	assert.Equal(t, 1, h.notifier.count())
}

func TestSweep(t *testing.T) {
	h := newHarness(Config{StuckAfter: 5 * time.Minute})
	h.orders.Put(processingOrder("ml-27", "99027"))
	h.orders.Put(processingOrder("ml-28", ""))
	fresh := processingOrder("ml-29", "99029")
	fresh.UpdatedAt = time.Now()
	h.orders.Put(fresh)
	h.adapter.statusResult = provider.Result{Accepted: true, ProviderStatus: "COMPLETED"}

	report, err := h.recon.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepReport{Checked: 2, Resolved: 1, Unreferenced: 1}, report)
	assert.Equal(t, models.StatusCompleted, h.get("ml-27").Status)
	assert.Equal(t, models.StatusProcessing, h.get("ml-28").Status)
	assert.Equal(t, models.StatusProcessing, h.get("ml-29").Status)
}

func TestRunSweeps_DisabledReturnsImmediately(t *testing.T) {
	h := newHarness(Config{})
	done := make(chan struct{})
	go func() {
		h.recon.RunSweeps(context.Background(), 0)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunSweeps with zero interval did not return")
	}
}
