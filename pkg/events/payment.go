package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"topup-fulfillment/pkg/fulfillment"
	"topup-fulfillment/pkg/models"
	"topup-fulfillment/pkg/store"
	"topup-fulfillment/pkg/utils"

	natsgo "github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const SubjectPaymentPaid = "payment.paid"

type Fulfiller interface {
	Fulfill(ctx context.Context, orderID string) (fulfillment.Outcome, error)
}

// PaymentSubscriber turns payment.paid messages into fulfillment runs.
// Messages may arrive more than once; the pending to paid write and the
// fulfillment lease both make repeats harmless.
type PaymentSubscriber struct {
	orders    store.OrderStore
	fulfiller Fulfiller
	log       *zap.Logger
	wg        sync.WaitGroup
}

func NewPaymentSubscriber(orders store.OrderStore, f Fulfiller, log *zap.Logger) *PaymentSubscriber {
	return &PaymentSubscriber{orders: orders, fulfiller: f, log: log.With(zap.String("component", "payment_subscriber"))}
}

// HandleMsg is the nats.MsgHandler entry point.
func (s *PaymentSubscriber) HandleMsg(msg *natsgo.Msg) {
	if err := s.Handle(context.Background(), msg.Data); err != nil {
		s.log.Error("payment_message_failed", zap.Error(err))
	}
}

// Handle marks the order paid and starts fulfillment in the background.
func (s *PaymentSubscriber) Handle(ctx context.Context, data []byte) error {
	var paymentMsg models.PaymentPaidMessage
	if err := json.Unmarshal(data, &paymentMsg); err != nil {
		return fmt.Errorf("unmarshal payment message: %w", err)
	}
	if paymentMsg.OrderID == "" {
		return errors.New("payment message without order_id")
	}

	correlationID := paymentMsg.CorrelationID
	if correlationID == "" {
		correlationID = utils.GenerateCorrelationID()
	}
	log := s.log.With(zap.String("correlation_id", correlationID), zap.String("order_id", paymentMsg.OrderID))
	log.Info("payment_paid_received", zap.Int64("paid_amount", paymentMsg.PaidAmount))

	order, err := s.orders.Get(ctx, paymentMsg.OrderID)
	if err != nil {
		return fmt.Errorf("load order %s: %w", paymentMsg.OrderID, err)
	}
	if paymentMsg.PaidAmount > 0 && paymentMsg.PaidAmount < order.Amount {
		log.Warn("payment_amount_short", zap.Int64("order_amount", order.Amount), zap.Int64("paid_amount", paymentMsg.PaidAmount))
		return nil
	}

	marked, err := s.orders.Transition(ctx, order.ID, models.Transition{
		From:    []models.Status{models.StatusPending},
		To:      models.StatusPaid,
		Message: "payment confirmed",
	})
	if err != nil {
		return fmt.Errorf("mark order %s paid: %w", order.ID, err)
	}
	if marked {
		log.Info("order_marked_paid")
	} else {
		log.Info("order_already_past_pending", zap.String("status", string(order.Status)))
	}

	fctx := utils.WithCorrelationID(context.WithoutCancel(ctx), correlationID)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		out, err := s.fulfiller.Fulfill(fctx, order.ID)
		if err != nil {
			log.Error("fulfillment_failed", zap.Error(err))
			return
		}
		log.Info("fulfillment_finished",
			zap.String("status", string(out.Status)),
			zap.Bool("dispatched", out.Dispatched),
		)
	}()
	return nil
}

// Wait blocks until in-flight fulfillments finish.
func (s *PaymentSubscriber) Wait() {
	s.wg.Wait()
}
