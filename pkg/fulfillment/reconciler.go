package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"topup-fulfillment/pkg/credential"
	"topup-fulfillment/pkg/models"
	"topup-fulfillment/pkg/notify"
	"topup-fulfillment/pkg/store"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	ChannelCallback = "callback"
	ChannelPoll     = "poll"
	ChannelSweep    = "sweep"
)

// CallbackUpdate is a provider push, already authenticated by the caller.
type CallbackUpdate struct {
	ExternalOrderRef string
	ProviderStatus   string
	Message          string
}

// Reconciler corrects processing orders from provider callbacks and status
// polls. Its writes only ever leave processing, so a terminal order stays
// where it is no matter how late or duplicated the update.
type Reconciler struct {
	deps Deps
	cfg  Config
	now  func() time.Time
}

func NewReconciler(deps Deps, cfg Config) *Reconciler {
	deps.defaults()
	cfg.defaults()
	return &Reconciler{deps: deps, cfg: cfg, now: time.Now}
}

func (r *Reconciler) HandleCallback(ctx context.Context, u CallbackUpdate) (Outcome, error) {
	ctx, span := r.deps.Tracer.Start(ctx, "reconcile.callback", trace.WithAttributes(
		attribute.String("order.external_ref", u.ExternalOrderRef),
		attribute.String("provider.status", u.ProviderStatus),
	))
	defer span.End()

	order, err := r.deps.Orders.GetByExternalRef(ctx, u.ExternalOrderRef)
	if errors.Is(err, store.ErrNotFound) {
		// The callback can beat the write that stores the reference. Callers
		// answer 404 so the provider redelivers; the sweep covers it otherwise.
		r.deps.Logger.Warn("reconcile_ref_not_yet_known",
			zap.String("external_order_ref", u.ExternalOrderRef),
			zap.String("provider_status", u.ProviderStatus),
		)
		r.deps.Metrics.Reconcile(ChannelCallback, "unknown_ref")
		return Outcome{}, fmt.Errorf("%w: %s", ErrUnknownExternalRef, u.ExternalOrderRef)
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("load order by external ref %s: %w", u.ExternalOrderRef, err)
	}

	return r.apply(ctx, order, u.ProviderStatus, u.Message, ChannelCallback)
}

// CheckStatus polls the provider for a processing order. Orders in any
// other state, and orders that cannot be polled, come back unchanged.
func (r *Reconciler) CheckStatus(ctx context.Context, orderID string) (Outcome, error) {
	ctx, span := r.deps.Tracer.Start(ctx, "reconcile.poll", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	order, err := r.deps.Orders.Get(ctx, orderID)
	if err != nil {
		return Outcome{OrderID: orderID}, fmt.Errorf("load order %s: %w", orderID, err)
	}
	return r.poll(ctx, order, ChannelPoll)
}

func (r *Reconciler) poll(ctx context.Context, order *models.Order, channel string) (Outcome, error) {
	log := r.deps.Logger.With(zap.String("order_id", order.ID), zap.String("channel", channel))

	if order.Status != models.StatusProcessing {
		return outcomeOf(order), nil
	}
	if order.ExternalOrderRef == "" {
		log.Warn("reconcile_unreferenced_order", zap.Time("updated_at", order.UpdatedAt))
		r.deps.Metrics.Reconcile(channel, "unreferenced")
		out := outcomeOf(order)
		out.Kind = KindTransport
		return out, nil
	}

	mapping, err := r.deps.Resolver.Resolve(ctx, order)
	if err != nil {
		log.Warn("reconcile_mapping_unavailable",
			zap.String("external_order_ref", order.ExternalOrderRef),
			zap.String("external_product_ref", order.ExternalProductRef),
			zap.Error(err),
		)
		r.deps.Metrics.Reconcile(channel, "error")
		return outcomeOf(order), nil
	}
	rm, ok := mapping.(models.RechargeMapping)
	if !ok {
		// Vouchers settle synchronously, there is nothing to poll.
		return outcomeOf(order), nil
	}

	cred, err := r.deps.Credentials.GetCredential(ctx, r.cfg.ProviderName)
	if err != nil || !cred.Enabled {
		if err != nil && !errors.Is(err, credential.ErrCredentialNotFound) {
			return outcomeOf(order), fmt.Errorf("load provider credential: %w", err)
		}
		log.Warn("reconcile_provider_not_configured")
		r.deps.Metrics.Reconcile(channel, "not_configured")
		out := outcomeOf(order)
		out.Kind = KindConfiguration
		return out, nil
	}

	pctx, cancel := context.WithTimeout(ctx, r.cfg.ProviderTimeout)
	defer cancel()
	res, err := r.deps.Adapter.CheckOrderStatus(pctx, cred.APIKey, rm.GameCode, order.ExternalOrderRef)
	if err != nil {
		log.Warn("reconcile_poll_failed", zap.Error(err))
		r.deps.Metrics.Reconcile(channel, "transport_error")
		out := outcomeOf(order)
		out.Kind = KindTransport
		out.ProviderMessage = res.ErrorMessage
		return out, nil
	}
	if !res.Accepted {
		log.Warn("reconcile_poll_rejected", zap.String("provider_message", res.ErrorMessage))
		r.deps.Metrics.Reconcile(channel, "rejected")
		out := outcomeOf(order)
		out.ProviderMessage = res.ErrorMessage
		return out, nil
	}

	return r.apply(ctx, order, res.ProviderStatus, res.ErrorMessage, channel)
}

// apply writes a provider status with an "only if processing" condition.
func (r *Reconciler) apply(ctx context.Context, order *models.Order, providerStatus, message, channel string) (Outcome, error) {
	log := r.deps.Logger.With(
		zap.String("order_id", order.ID),
		zap.String("external_order_ref", order.ExternalOrderRef),
		zap.String("channel", channel),
		zap.String("provider_status", providerStatus),
	)
	target := MapStatus(providerStatus)

	if order.Status != models.StatusProcessing {
		return r.stale(log, order, target, channel), nil
	}
	if target == models.StatusProcessing {
		r.deps.Metrics.Reconcile(channel, "unchanged")
		return outcomeOf(order), nil
	}

	msg := fmt.Sprintf("provider reported %s via %s", providerStatus, channel)
	if target == models.StatusFailed && message != "" {
		msg = message
	}

	ok, err := r.deps.Orders.Transition(ctx, order.ID, models.Transition{
		From:    fromProcessing,
		To:      target,
		Message: msg,
	})
	if err != nil {
		return outcomeOf(order), fmt.Errorf("reconcile order %s: %w", order.ID, err)
	}

	current, err := r.deps.Orders.Get(ctx, order.ID)
	if err != nil {
		return Outcome{OrderID: order.ID, Status: target}, fmt.Errorf("reload order %s: %w", order.ID, err)
	}
	if !ok {
		return r.stale(log, current, target, channel), nil
	}

	log.Info("reconcile_applied", zap.String("status", string(target)))
	r.deps.Metrics.Reconcile(channel, "applied")
	r.deps.Notifier.Notify(ctx, notify.EventFromOrder(current, channel))

	out := outcomeOf(current)
	if target == models.StatusFailed {
		out.Kind = KindProviderRejection
		out.ProviderMessage = message
	}
	return out, nil
}

// stale handles an update for an order that is no longer processing. A
// disagreeing terminal status is an anomaly and is never written.
func (r *Reconciler) stale(log *zap.Logger, current *models.Order, target models.Status, channel string) Outcome {
	out := outcomeOf(current)
	if current.Status.Terminal() && target.Terminal() && current.Status != target {
		log.Error("reconcile_conflict",
			zap.String("current_status", string(current.Status)),
			zap.String("reported_status", string(target)),
		)
		r.deps.Metrics.Reconcile(channel, "conflict")
		out.Kind = KindReconciliationConflict
		return out
	}
	log.Info("reconcile_ignored", zap.String("current_status", string(current.Status)))
	r.deps.Metrics.Reconcile(channel, "ignored")
	return out
}

type SweepReport struct {
	Checked      int
	Resolved     int
	StillPending int
	Unreferenced int
	Failed       int
}

// Sweep polls one batch of orders stuck in processing past StuckAfter.
func (r *Reconciler) Sweep(ctx context.Context) (SweepReport, error) {
	ctx, span := r.deps.Tracer.Start(ctx, "reconcile.sweep")
	defer span.End()

	var report SweepReport
	before := r.now().Add(-r.cfg.StuckAfter)
	orders, err := r.deps.Orders.ListStuck(ctx, before, r.cfg.SweepBatchSize)
	if err != nil {
		return report, fmt.Errorf("list stuck orders: %w", err)
	}

	for _, order := range orders {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Checked++
		if order.ExternalOrderRef == "" {
			report.Unreferenced++
		}

		out, err := r.poll(ctx, order, ChannelSweep)
		switch {
		case err != nil:
			report.Failed++
			r.deps.Logger.Error("sweep_order_failed", zap.String("order_id", order.ID), zap.Error(err))
		case out.Status.Terminal():
			report.Resolved++
		case order.ExternalOrderRef != "":
			report.StillPending++
		}
	}

	r.deps.Logger.Info("sweep_done",
		zap.Int("checked", report.Checked),
		zap.Int("resolved", report.Resolved),
		zap.Int("still_pending", report.StillPending),
		zap.Int("unreferenced", report.Unreferenced),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

// RunSweeps sweeps every interval until ctx is done. A non-positive
// interval disables the loop.
func (r *Reconciler) RunSweeps(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				r.deps.Logger.Error("sweep_failed", zap.Error(err))
			}
		}
	}
}
