package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/pulsegrid/notify-delivery-service/internal/adapter/coordinator"
	"github.com/pulsegrid/notify-delivery-service/internal/domain/model"
)

// fanoutLoop receives envelopes forwarded by peer instances for users whose
// sessions live here.
func (e *Engine) fanoutLoop(ctx context.Context) error {
	return e.subscribeLoop(ctx, coordinator.InstanceChannel(e.instanceID), e.handleFanout)
}

// ingressLoop accepts loosely structured envelopes from external producers
// on the well-known channel.
func (e *Engine) ingressLoop(ctx context.Context) error {
	return e.subscribeLoop(ctx, coordinator.IngressChannel, e.handleIngress)
}

// subscribeLoop is the shared subscribe/receive/reconnect skeleton for both
// pub/sub consumers. The subscription handle is always closed before a
// reconnect attempt.
func (e *Engine) subscribeLoop(ctx context.Context, channel string, handle func(ctx context.Context, payload string)) error {
	policy := e.newReconnectPolicy()
	for {
		if ctx.Err() != nil {
			return nil
		}

		err := e.consumeChannel(ctx, channel, handle)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			policy.Reset()
			continue
		}

		e.logger.Warn("subscription lost", "channel", channel, "err", err)
		if !policy.Wait(ctx) {
			e.logger.Error("subscriber giving up after max reconnect attempts", "channel", channel)
			return nil
		}
	}
}

func (e *Engine) consumeChannel(ctx context.Context, channel string, handle func(ctx context.Context, payload string)) error {
	sub := e.bus.Subscribe(ctx, channel)
	defer sub.Close()

	// Wait for the subscription confirmation before trusting the channel.
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	e.logger.Debug("subscribed", "channel", channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("subscription channel closed")
			}
			handle(ctx, msg.Payload)
		}
	}
}

// handleFanout delivers a forwarded envelope locally. A local miss means the
// user moved or left between the sender's registry read and now: the sender
// already reported success, so the frame is logged and dropped rather than
// enqueued twice.
func (e *Engine) handleFanout(ctx context.Context, payload string) {
	defer e.recoverPanic("fanout_subscriber")

	var f model.Fanout
	if err := json.Unmarshal([]byte(payload), &f); err != nil || f.UserID == "" {
		e.logger.Warn("dropping malformed fanout frame", "err", err)
		return
	}

	e.metrics.fanoutReceived.Add(ctx, 1, e.metrics.attrs)
	if !e.SendLocal(f.UserID, f.Message) {
		e.logger.Warn("fanout target not connected locally",
			"user_id", f.UserID,
			"source_instance", f.SourceInstance,
		)
	}
}

// ingressEnvelope is the loose producer payload accepted on the external
// channel.
type ingressEnvelope struct {
	UserID  string `json:"user_id"`
	Type    string `json:"type"`
	Message any    `json:"message"`
}

// handleIngress wraps an external payload into a proper envelope and routes
// it. Malformed payloads are logged and dropped.
func (e *Engine) handleIngress(ctx context.Context, payload string) {
	defer e.recoverPanic("ingress_subscriber")

	var in ingressEnvelope
	if err := json.Unmarshal([]byte(payload), &in); err != nil {
		e.logger.Warn("dropping malformed ingress payload", "err", err)
		return
	}

	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		e.logger.Warn("dropping ingress payload without user_id")
		return
	}

	n := model.NewNotification(userID, model.NormalizeMessage(in.Message), in.Type, "")
	delivered, method := e.SendDistributed(ctx, n)
	e.logger.Debug("ingress payload processed",
		"user_id", userID,
		"delivered", delivered,
		"method", method,
	)
}
