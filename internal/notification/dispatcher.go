// internal/notification/dispatcher.go

package notification

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ispoon/ispoon-backend/internal/common/logger"
)

const errNoDeliveryToken = "No delivery token"

// Dispatcher sends a ledger row to the user's device and records the outcome
type Dispatcher struct {
	prefs  PreferenceStore
	ledger LedgerStore
	push   PushProvider
	now    func() time.Time
	log    *zap.Logger
}

// DispatcherOption customises the Dispatcher
type DispatcherOption func(*Dispatcher)

// WithDispatcherClock overrides the clock used for sent_at
func WithDispatcherClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// WithDispatcherLogger replaces the module logger
func WithDispatcherLogger(l *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = l
		}
	}
}

func NewDispatcher(prefs PreferenceStore, ledger LedgerStore, push PushProvider, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		prefs:  prefs,
		ledger: ledger,
		push:   push,
		now:    time.Now,
		log:    logger.WithModule("notification.dispatcher"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Deliver attempts to push n and writes the resulting status to the ledger
// and onto n itself. It never returns an error: every failure ends as a
// failed row plus a log line. An invalid token is also cleared from the
// user's preferences.
func (d *Dispatcher) Deliver(ctx context.Context, n *Notification) {
	log := d.log.With(
		zap.Int64("notification_id", n.ID),
		zap.Int64("user_id", n.UserID),
		zap.String("type", n.Type),
	)

	pref, err := d.prefs.GetPreference(ctx, n.UserID)
	if err != nil {
		log.Warn("failed to load push token", zap.Error(err))
		d.fail(ctx, log, n, "Failed to load delivery token: "+err.Error())
		deliveriesTotal.WithLabelValues(resultFailed).Inc()
		return
	}
	if !pref.HasPushToken() {
		d.fail(ctx, log, n, errNoDeliveryToken)
		deliveriesTotal.WithLabelValues(resultNoToken).Inc()
		return
	}
	token := *pref.PushToken

	start := time.Now()
	messageID, err := d.push.Send(ctx, d.buildMessage(n, token))
	deliveryDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		d.fail(ctx, log, n, err.Error())

		if errors.Is(err, ErrInvalidPushToken) {
			deliveriesTotal.WithLabelValues(resultInvalidToken).Inc()
			cleared, clearErr := d.prefs.ClearPushToken(ctx, n.UserID, token)
			if clearErr != nil {
				log.Error("failed to clear invalid push token", zap.Error(clearErr))
			} else {
				log.Info("push token rejected by provider", zap.Bool("cleared", cleared))
			}
			return
		}

		deliveriesTotal.WithLabelValues(resultFailed).Inc()
		log.Warn("push delivery failed", zap.Error(err))
		return
	}

	sentAt := d.now()
	if err := d.ledger.UpdateStatus(ctx, n.ID, StatusSent, nil, sentAt); err != nil {
		log.Error("failed to record sent status", zap.Error(err))
	}
	n.DeliveryStatus = StatusSent
	n.SentAt = &sentAt
	n.ErrorMessage = nil
	deliveriesTotal.WithLabelValues(resultSent).Inc()
	log.Debug("push delivered", zap.String("message_id", messageID))
}

func (d *Dispatcher) fail(ctx context.Context, log *zap.Logger, n *Notification, reason string) {
	if err := d.ledger.UpdateStatus(ctx, n.ID, StatusFailed, &reason, d.now()); err != nil {
		log.Error("failed to record failed status", zap.Error(err))
	}
	n.DeliveryStatus = StatusFailed
	n.ErrorMessage = &reason
}

func (d *Dispatcher) buildMessage(n *Notification, token string) *PushMessage {
	actionData := "{}"
	if len(n.ActionData) > 0 {
		if raw, err := json.Marshal(n.ActionData); err == nil {
			actionData = string(raw)
		}
	}

	return &PushMessage{
		Token: token,
		Title: n.Title,
		Body:  n.Body,
		Data: map[string]string{
			"notification_id": strconv.FormatInt(n.ID, 10),
			"type":            n.Type,
			"priority":        string(n.Priority),
			"action_type":     n.ActionType,
			"action_data":     actionData,
		},
		Priority:  n.Priority,
		ChannelID: channelFor(n.Type),
	}
}
