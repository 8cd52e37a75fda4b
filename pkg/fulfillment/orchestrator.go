package fulfillment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"topup-fulfillment/pkg/credential"
	"topup-fulfillment/pkg/metrics"
	"topup-fulfillment/pkg/models"
	"topup-fulfillment/pkg/notify"
	"topup-fulfillment/pkg/provider"
	"topup-fulfillment/pkg/resolver"
	"topup-fulfillment/pkg/store"
	"topup-fulfillment/pkg/utils"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	TriggerPayment  = "payment"
	TriggerOperator = "operator"

	EmptyVoucherComplete = "complete"
	EmptyVoucherManual   = "manual"

	tracerName = "topup-fulfillment/fulfillment"
)

type MappingResolver interface {
	Resolve(ctx context.Context, o *models.Order) (models.ProductMapping, error)
}

// Deps are shared by the Orchestrator and the Reconciler.
type Deps struct {
	Orders      store.OrderStore
	Credentials credential.Store
	Resolver    MappingResolver
	Adapter     provider.Adapter
	Notifier    notify.Notifier
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
	Tracer      trace.Tracer
}

type Config struct {
	ProviderName         string
	CallbackURL          string
	EmptyVoucherPolicy   string
	StaleProcessingAfter time.Duration
	ProviderTimeout      time.Duration
	StuckAfter           time.Duration
	SweepBatchSize       int
}

func (d *Deps) defaults() {
	if d.Notifier == nil {
		d.Notifier = notify.Nop{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Tracer == nil {
		d.Tracer = otel.Tracer(tracerName)
	}
}

func (c *Config) defaults() {
	if c.EmptyVoucherPolicy == "" {
		c.EmptyVoucherPolicy = EmptyVoucherComplete
	}
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = 15 * time.Second
	}
	if c.StaleProcessingAfter <= 0 {
		c.StaleProcessingAfter = 10 * time.Minute
	}
	if c.StuckAfter <= 0 {
		c.StuckAfter = 5 * time.Minute
	}
	if c.SweepBatchSize <= 0 {
		c.SweepBatchSize = 50
	}
}

// Orchestrator drives paid orders to a terminal state. Every provider call
// happens under a lease: the conditional write that moves the order into
// processing. Whoever loses that write does nothing.
type Orchestrator struct {
	deps Deps
	cfg  Config
	now  func() time.Time
}

func New(deps Deps, cfg Config) *Orchestrator {
	deps.defaults()
	cfg.defaults()
	return &Orchestrator{deps: deps, cfg: cfg, now: time.Now}
}

// Fulfill is the payment trigger. It only acts on paid orders; any other
// state is returned unchanged, so redelivered events are harmless.
func (o *Orchestrator) Fulfill(ctx context.Context, orderID string) (Outcome, error) {
	return o.run(ctx, orderID, TriggerPayment)
}

// Retry is the operator trigger. Besides paid orders it accepts failed and
// pending_manual ones, and processing orders that never got a provider
// reference and have been idle for StaleProcessingAfter. Outcomes that end
// on an error kind are returned as *Error.
func (o *Orchestrator) Retry(ctx context.Context, orderID string) (Outcome, error) {
	out, err := o.run(ctx, orderID, TriggerOperator)
	if err != nil {
		return out, err
	}
	return out, out.asError()
}

type lease struct {
	from        []models.Status
	staleBefore *time.Time
	token       string
	reset       bool
}

func (l lease) transition(to models.Status, msg string) models.Transition {
	return models.Transition{From: l.from, StaleBefore: l.staleBefore, To: to, Message: msg}
}

// acquire moves the order into processing and stores the token the provider
// is about to see.
func (l lease) acquire(msg string) models.Transition {
	t := l.transition(models.StatusProcessing, msg)
	t.IdempotencyToken = l.token
	t.ResetDispatch = l.reset
	return t
}

// leaseFor builds the lease from the status that was read. A first dispatch
// and a stale processing order reuse the stored token, so the provider
// dedupes a call that may already have landed. Leaving failed or
// pending_manual drops the old provider reference and starts a new provider
// order under a new token.
func (o *Orchestrator) leaseFor(order *models.Order, trigger string) lease {
	token := order.IdempotencyToken
	if token == "" {
		token = order.ID
	}
	if trigger == TriggerPayment || order.Status == models.StatusPaid {
		return lease{from: []models.Status{models.StatusPaid}, token: token}
	}
	switch order.Status {
	case models.StatusFailed, models.StatusPendingManual:
		return lease{from: []models.Status{order.Status}, token: nextToken(order), reset: true}
	}
	stale := o.now().Add(-o.cfg.StaleProcessingAfter)
	return lease{staleBefore: &stale, token: token}
}

// nextToken derives <order id>-<n> from the stored token, starting at 2.
func nextToken(order *models.Order) string {
	gen := 1
	if rest, ok := strings.CutPrefix(order.IdempotencyToken, order.ID+"-"); ok {
		if n, err := strconv.Atoi(rest); err == nil && n > gen {
			gen = n
		}
	}
	return order.ID + "-" + strconv.Itoa(gen+1)
}

func (o *Orchestrator) run(ctx context.Context, orderID, trigger string) (out Outcome, err error) {
	ctx, span := o.deps.Tracer.Start(ctx, "fulfillment."+trigger, trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.String("trigger", trigger),
	))
	log := o.deps.Logger.With(
		zap.String("order_id", orderID),
		zap.String("trigger", trigger),
		zap.String("correlation_id", utils.CorrelationID(ctx)),
	)
	start := time.Now()

	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			o.deps.Metrics.Outcome(trigger, "error")
		} else {
			span.SetAttributes(attribute.String("order.status", string(out.Status)), attribute.Bool("dispatched", out.Dispatched))
			o.deps.Metrics.Outcome(trigger, string(out.Status))
		}
		span.End()
		log.Info("fulfillment_run_done",
			zap.String("status", string(out.Status)),
			zap.String("kind", string(out.Kind)),
			zap.Bool("dispatched", out.Dispatched),
			zap.Duration("took", time.Since(start)),
			zap.Error(err),
		)
	}()

	order, err := o.deps.Orders.Get(ctx, orderID)
	if err != nil {
		return Outcome{OrderID: orderID}, fmt.Errorf("load order %s: %w", orderID, err)
	}

	l := o.leaseFor(order, trigger)
	if !l.transition("", "").Allows(order) {
		log.Info("fulfillment_not_eligible", zap.String("status", string(order.Status)))
		out = outcomeOf(order)
		if trigger == TriggerOperator {
			out.Kind = KindNotEligible
		}
		return out, nil
	}

	cred, err := o.deps.Credentials.GetCredential(ctx, o.cfg.ProviderName)
	switch {
	case errors.Is(err, credential.ErrCredentialNotFound):
		return o.escalate(ctx, log, order, l, trigger, "provider not configured")
	case err != nil:
		return outcomeOf(order), fmt.Errorf("load provider credential: %w", err)
	case !cred.Enabled:
		return o.escalate(ctx, log, order, l, trigger, "provider not configured")
	}

	mapping, err := o.deps.Resolver.Resolve(ctx, order)
	switch {
	case errors.Is(err, resolver.ErrMissingMapping):
		return o.escalate(ctx, log, order, l, trigger, err.Error())
	case err != nil:
		return outcomeOf(order), fmt.Errorf("resolve product mapping: %w", err)
	}

	if _, ok := mapping.(models.RechargeMapping); ok && order.PlayerID == "" {
		return o.escalate(ctx, log, order, l, trigger, "recharge order has no player id")
	}

	acquired, err := o.deps.Orders.Transition(ctx, order.ID,
		l.acquire(fmt.Sprintf("dispatching %s to provider", mapping.Type())))
	if err != nil {
		return outcomeOf(order), fmt.Errorf("acquire fulfillment lease: %w", err)
	}
	if !acquired {
		return o.lost(ctx, log, order, trigger)
	}

	return o.dispatch(ctx, log.With(zap.String("idempotency_token", l.token)), order, mapping, cred.APIKey, l.token, trigger)
}

// escalate parks the order in pending_manual without calling the provider.
func (o *Orchestrator) escalate(ctx context.Context, log *zap.Logger, order *models.Order, l lease, trigger, msg string) (Outcome, error) {
	ok, err := o.deps.Orders.Transition(ctx, order.ID, l.transition(models.StatusPendingManual, msg))
	if err != nil {
		return outcomeOf(order), fmt.Errorf("escalate order %s: %w", order.ID, err)
	}
	if !ok {
		return o.lost(ctx, log, order, trigger)
	}

	log.Warn("fulfillment_escalated", zap.String("reason", msg))
	order.Status = models.StatusPendingManual
	order.StatusMessage = msg
	o.deps.Notifier.Notify(ctx, notify.EventFromOrder(order, trigger))

	out := outcomeOf(order)
	out.Kind = KindConfiguration
	return out, nil
}

// lost handles a conditional write that matched nothing: someone else moved
// the order first.
func (o *Orchestrator) lost(ctx context.Context, log *zap.Logger, order *models.Order, trigger string) (Outcome, error) {
	current, err := o.deps.Orders.Get(ctx, order.ID)
	if err != nil {
		return outcomeOf(order), fmt.Errorf("reload order %s: %w", order.ID, err)
	}
	log.Info("fulfillment_lease_not_acquired", zap.String("status", string(current.Status)))

	out := outcomeOf(current)
	if trigger == TriggerOperator {
		out.Kind = KindNotEligible
	}
	return out, nil
}

type attemptPayload struct {
	Operation        models.ProductType `json:"operation"`
	GameCode         string             `json:"game_code,omitempty"`
	SkuID            string             `json:"sku_id,omitempty"`
	CatalogName      string             `json:"catalog_name"`
	PlayerID         string             `json:"player_id,omitempty"`
	ServerID         string             `json:"server_id,omitempty"`
	IdempotencyToken string             `json:"idempotency_token"`
	Trigger          string             `json:"trigger"`
}

func (o *Orchestrator) dispatch(ctx context.Context, log *zap.Logger, order *models.Order, mapping models.ProductMapping, apiKey, token, trigger string) (Outcome, error) {
	payload := attemptPayload{
		Operation:        mapping.Type(),
		CatalogName:      mapping.Catalog(),
		IdempotencyToken: token,
		Trigger:          trigger,
	}
	switch m := mapping.(type) {
	case models.RechargeMapping:
		payload.GameCode, payload.PlayerID, payload.ServerID = m.GameCode, order.PlayerID, order.ServerID
	case models.VoucherMapping:
		payload.SkuID = m.SkuID
	}
	raw, _ := json.Marshal(payload)
	attempt, err := o.deps.Orders.RecordAttempt(ctx, order.ID, string(mapping.Type()), raw)
	if err != nil {
		log.Error("fulfillment_attempt_not_recorded", zap.Error(err))
	}
	log = log.With(zap.Int("attempt", attempt), zap.String("operation", string(mapping.Type())))

	// A sent call cannot be taken back, so it must outlive the caller.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.ProviderTimeout)
	defer cancel()

	var (
		res  provider.Result
		t    models.Transition
		kind Kind
	)
	switch m := mapping.(type) {
	case models.RechargeMapping:
		res, err = o.deps.Adapter.PlaceRechargeOrder(pctx, apiKey, provider.RechargeRequest{
			GameCode:         m.GameCode,
			CatalogName:      m.CatalogName,
			PlayerID:         order.PlayerID,
			ServerID:         order.ServerID,
			IdempotencyToken: token,
			CallbackURL:      o.cfg.CallbackURL,
		})
		t, kind = o.rechargeTransition(res, err)
	case models.VoucherMapping:
		res, err = o.deps.Adapter.PurchaseVoucher(pctx, apiKey, provider.VoucherRequest{
			SkuID:            m.SkuID,
			Quantity:         1,
			IdempotencyToken: token,
		})
		t, kind = o.voucherTransition(res, err)
	default:
		return outcomeOf(order), fmt.Errorf("unsupported product mapping %T", mapping)
	}

	if err != nil {
		log.Warn("provider_call_failed", zap.Error(err))
	} else {
		log.Info("provider_call_done",
			zap.Bool("accepted", res.Accepted),
			zap.String("external_order_ref", res.ExternalOrderRef),
			zap.String("provider_status", res.ProviderStatus),
			zap.Int("delivered_items", len(res.DeliveredItems)),
		)
	}

	// The result must be written even if the caller has gone away.
	wctx := context.WithoutCancel(ctx)
	applied, werr := o.deps.Orders.Transition(wctx, order.ID, t)
	if werr != nil {
		log.Error("fulfillment_result_not_saved",
			zap.String("wanted_status", string(t.To)),
			zap.String("external_order_ref", t.ExternalOrderRef),
			zap.Error(werr),
		)
		out := Outcome{OrderID: order.ID, Status: models.StatusProcessing, Dispatched: true}
		return out, fmt.Errorf("save fulfillment result: %w", werr)
	}

	current, gerr := o.deps.Orders.Get(wctx, order.ID)
	if gerr != nil {
		return Outcome{OrderID: order.ID, Status: t.To, Dispatched: true}, fmt.Errorf("reload order %s: %w", order.ID, gerr)
	}
	if !applied {
		log.Error("fulfillment_result_conflict",
			zap.String("wanted_status", string(t.To)),
			zap.String("current_status", string(current.Status)),
		)
		o.deps.Metrics.Reconcile("dispatch", "conflict")
		out := outcomeOf(current)
		out.Dispatched = true
		out.Kind = KindReconciliationConflict
		return out, nil
	}

	o.deps.Notifier.Notify(ctx, notify.EventFromOrder(current, trigger))

	out := outcomeOf(current)
	out.Dispatched = true
	out.Kind = kind
	out.ProviderMessage = res.ErrorMessage
	return out, nil
}

var fromProcessing = []models.Status{models.StatusProcessing}

func transportTransition(res provider.Result, err error) (models.Transition, Kind) {
	msg := res.ErrorMessage
	if msg == "" {
		msg = err.Error()
	}
	return models.Transition{
		From:    fromProcessing,
		To:      models.StatusProcessing,
		Message: "provider outcome unknown, check before retrying: " + msg,
	}, KindTransport
}

func rejectionTransition(res provider.Result) (models.Transition, Kind) {
	if res.HTTPStatus == http.StatusUnauthorized || res.HTTPStatus == http.StatusForbidden {
		return models.Transition{
			From:    fromProcessing,
			To:      models.StatusPendingManual,
			Message: "provider rejected credentials: " + res.ErrorMessage,
		}, KindConfiguration
	}
	return models.Transition{From: fromProcessing, To: models.StatusFailed, Message: res.ErrorMessage}, KindProviderRejection
}

func (o *Orchestrator) rechargeTransition(res provider.Result, err error) (models.Transition, Kind) {
	if err != nil {
		return transportTransition(res, err)
	}
	if !res.Accepted {
		return rejectionTransition(res)
	}

	t := models.Transition{From: fromProcessing, ExternalOrderRef: res.ExternalOrderRef}
	switch MapStatus(res.ProviderStatus) {
	case models.StatusCompleted:
		t.To = models.StatusCompleted
		t.Message = fmt.Sprintf("provider completed order %s", res.ExternalOrderRef)
		return t, ""
	case models.StatusFailed:
		t.To = models.StatusFailed
		t.Message = fmt.Sprintf("provider reported %s", res.ProviderStatus)
		if res.ErrorMessage != "" {
			t.Message += ": " + res.ErrorMessage
		}
		return t, KindProviderRejection
	}
	t.To = models.StatusProcessing
	t.Message = fmt.Sprintf("provider accepted order %s, status %s", res.ExternalOrderRef, res.ProviderStatus)
	return t, ""
}

func (o *Orchestrator) voucherTransition(res provider.Result, err error) (models.Transition, Kind) {
	if err != nil {
		return transportTransition(res, err)
	}
	if !res.Accepted {
		return rejectionTransition(res)
	}

	t := models.Transition{From: fromProcessing, ExternalOrderRef: res.ExternalOrderRef}
	if len(res.DeliveredItems) > 0 {
		t.To = models.StatusCompleted
		t.CardCodes = res.DeliveredItems
		t.Message = fmt.Sprintf("delivered %d code(s)", len(res.DeliveredItems))
		return t, ""
	}

	const empty = "empty delivery: provider accepted the purchase but returned no codes"
	if o.cfg.EmptyVoucherPolicy == EmptyVoucherManual {
		t.To = models.StatusPendingManual
		t.Message = empty
		return t, ""
	}
	t.To = models.StatusCompleted
	t.Message = empty
	return t, ""
}
