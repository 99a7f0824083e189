// internal/notification/push.go

package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// ErrInvalidPushToken marks a provider rejection that will never succeed for
// this token (unregistered, malformed, wrong project)
var ErrInvalidPushToken = errors.New("invalid push token")

// PushMessage is the provider-neutral payload built by the dispatcher
type PushMessage struct {
	Token     string
	Title     string
	Body      string
	Data      map[string]string
	Priority  Priority
	ChannelID string
}

// PushProvider sends one message to one device
type PushProvider interface {
	// Send returns the provider message id. Errors wrapping
	// ErrInvalidPushToken mean the token should be discarded.
	Send(ctx context.Context, msg *PushMessage) (string, error)
}

// fcmClient is the subset of *messaging.Client the provider needs
type fcmClient interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCMPushProvider delivers through Firebase Cloud Messaging
type FCMPushProvider struct {
	client fcmClient
}

// NewFCMPushProvider initialises Firebase from a credentials file, or from
// inline JSON when no path is given
func NewFCMPushProvider(ctx context.Context, credentialsPath, credentialsJSON string) (*FCMPushProvider, error) {
	var opt option.ClientOption
	switch {
	case credentialsPath != "":
		opt = option.WithCredentialsFile(credentialsPath)
	case credentialsJSON != "":
		opt = option.WithCredentialsJSON([]byte(credentialsJSON))
	default:
		return nil, errors.New("FIREBASE_CREDENTIALS_PATH or FIREBASE_CREDENTIALS_JSON must be set")
	}

	return newFCMPushProvider(ctx, nil, opt)
}

func newFCMPushProvider(ctx context.Context, conf *firebase.Config, opts ...option.ClientOption) (*FCMPushProvider, error) {
	app, err := firebase.NewApp(ctx, conf, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get messaging client: %w", err)
	}

	return &FCMPushProvider{client: client}, nil
}

// Send delivers msg and classifies token errors
func (p *FCMPushProvider) Send(ctx context.Context, msg *PushMessage) (string, error) {
	id, err := p.client.Send(ctx, buildFCMMessage(msg))
	if err != nil {
		if isInvalidTokenError(err) {
			return "", fmt.Errorf("%w: %v", ErrInvalidPushToken, err)
		}
		return "", err
	}
	return id, nil
}

// isInvalidTokenError reports errors that condemn the token itself.
// INVALID_ARGUMENT also covers payload problems, so it only counts when
// FCM names the registration token.
func isInvalidTokenError(err error) bool {
	if messaging.IsUnregistered(err) || messaging.IsSenderIDMismatch(err) {
		return true
	}
	return messaging.IsInvalidArgument(err) &&
		strings.Contains(strings.ToLower(err.Error()), "registration token")
}

func buildFCMMessage(msg *PushMessage) *messaging.Message {
	critical := msg.Priority == PriorityCritical

	android := &messaging.AndroidConfig{
		Priority: androidPriority(msg.Priority),
		Notification: &messaging.AndroidNotification{
			ChannelID: msg.ChannelID,
		},
	}

	badge := 1
	aps := &messaging.Aps{
		Alert: &messaging.ApsAlert{
			Title: msg.Title,
			Body:  msg.Body,
		},
		Badge:            &badge,
		ContentAvailable: true,
	}

	if critical {
		android.Notification.Sound = "default"
		aps.Sound = "default"
	}

	return &messaging.Message{
		Token: msg.Token,
		Notification: &messaging.Notification{
			Title: msg.Title,
			Body:  msg.Body,
		},
		Data:    msg.Data,
		Android: android,
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{
				"apns-priority": apnsPriority(msg.Priority),
			},
			Payload: &messaging.APNSPayload{Aps: aps},
		},
	}
}

// androidPriority maps CRITICAL/HIGH to high delivery, everything else to normal
func androidPriority(p Priority) string {
	if p.Rank() >= PriorityHigh.Rank() {
		return "high"
	}
	return "normal"
}

func apnsPriority(p Priority) string {
	if p.Rank() >= PriorityHigh.Rank() {
		return "10"
	}
	return "5"
}

// channelFor picks the Android notification channel for a type
func channelFor(notificationType string) string {
	t := strings.ToLower(notificationType)
	switch {
	case containsAny(t, "alert", "spike", "temperature"):
		return "health_alerts"
	case containsAny(t, "goal", "streak", "best"):
		return "achievements"
	case containsAny(t, "reminder", "insight", "inactive", "summary"):
		return "engagement"
	case containsAny(t, "battery", "sync", "firmware"):
		return "system_alerts"
	default:
		return "default"
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// DisabledPushProvider is used when push delivery is switched off
type DisabledPushProvider struct{}

func (DisabledPushProvider) Send(ctx context.Context, msg *PushMessage) (string, error) {
	return "", ErrPushDisabled
}

// MockPushProvider records messages instead of sending them. Errors can be
// scripted per token.
type MockPushProvider struct {
	mu     sync.Mutex
	Sent   []*PushMessage
	Errors map[string]error
}

func NewMockPushProvider() *MockPushProvider {
	return &MockPushProvider{Errors: make(map[string]error)}
}

// FailToken makes every send to token return err
func (m *MockPushProvider) FailToken(token string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Errors[token] = err
}

func (m *MockPushProvider) Send(ctx context.Context, msg *PushMessage) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err, ok := m.Errors[msg.Token]; ok {
		return "", err
	}
	m.Sent = append(m.Sent, msg)
	return fmt.Sprintf("mock-%d", len(m.Sent)), nil
}

// Messages returns a copy of what was sent so far
func (m *MockPushProvider) Messages() []*PushMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*PushMessage(nil), m.Sent...)
}
